package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionShort bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if versionShort {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "contentbridge %s (commit %s, built %s, %s %s/%s)\n",
			version, gitCommit, buildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show version number only")
}
