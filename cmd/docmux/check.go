package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jacentio/docmux/check"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that mounts do not share unique index values",
	Long: "Compare the unique index entries of every pair of mounts and report values " +
		"indexed in more than one mount. Exits non-zero when collisions are found.",
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := newLogger()

	router, err := loadRouter(ctx, logger)
	if err != nil {
		return err
	}
	defer func() { _ = router.Dispose() }()

	holder := &check.ErrorHolder{}
	if err := check.NewUniqueIndexChecker(logger).CheckAll(ctx, router, holder); err != nil {
		return fmt.Errorf("check failed: %w", err)
	}

	if err := holder.End(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return fmt.Errorf("%d collisions", holder.Len())
	}
	fmt.Printf("No collisions in %d mounts\n", len(router.MountedStores()))
	return nil
}
