package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jacentio/docmux/store"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <path>...",
	Short: "Show the document key and owning mount of paths",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runResolve,
}

func runResolve(_ *cobra.Command, args []string) error {
	_, provider, err := loadConfig()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tKEY\tMOUNT\tMODE")
	for _, path := range args {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("%q is not an absolute path", path)
		}
		m := provider.MountByPath(path)
		mode := store.ModeReadWrite
		if m.IsReadOnly() {
			mode = store.ModeReadOnly
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", path, store.KeyFromPath(path), m.Name(), mode)
	}
	return w.Flush()
}
