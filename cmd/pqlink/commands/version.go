package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	pkgversion "github.com/pzverkov/pqlink/pkg/version"
)

var (
	buildVersion = ""
	buildTime    = "unknown"
	gitCommit    = "unknown"
)

// SetBuildInfo records values injected by the linker into package main.
func SetBuildInfo(version, built, commit string) {
	buildVersion, buildTime, gitCommit = version, built, commit
}

func getVersion() string {
	if buildVersion != "" {
		return buildVersion
	}
	return pkgversion.String()
}

func versionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(opts.out, "pqlink version %s\n", getVersion())
			fmt.Fprintf(opts.out, "Protocol: %s\n", pkgversion.Protocol)
			if buildTime != "unknown" {
				fmt.Fprintf(opts.out, "Built: %s\n", buildTime)
			}
			if gitCommit != "unknown" {
				fmt.Fprintf(opts.out, "Commit: %s\n", gitCommit)
			}
		},
	}
}
