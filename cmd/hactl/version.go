package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ajpantuso/hactl/internal/config"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print the version, build time, and git commit of hactl",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hactl version %s (built %s, commit %s)\n",
				config.Version,
				config.BuildTime,
				config.GitCommit,
			)
		},
	}
}
