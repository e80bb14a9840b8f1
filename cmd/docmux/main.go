// Command docmux administers a set of DynamoDB tables combined by a mount
// table into one document store.
//
// Usage: docmux <command> --config mounts.yaml [options]
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
