package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "reportgen %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		pdf := "unavailable (no headless chrome)"
		if bin, ok := newPrinter().LookupBrowser(); ok {
			pdf = bin
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pdf: %s\n", pdf)
		return nil
	},
}
