package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version, BuildTime, and GitCommit are set at build time via -ldflags,
// following the convention in services/router/cmd/mcp-router/main.go.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("mcpbridge")
			fmt.Printf("Version:    %s\n", Version)
			fmt.Printf("Build Time: %s\n", BuildTime)
			fmt.Printf("Git Commit: %s\n", GitCommit)
		},
	}
}
