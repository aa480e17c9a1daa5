package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Ajpantuso/hactl/internal/driver"
)

func newListCommand(v *viper.Viper) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the cluster scopes under the namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}

			conn, err := dial(cmd.Context(), v, nil)
			if err != nil {
				return err
			}
			defer conn.Close()

			scopes, err := driver.ListScopes(cmd.Context(), conn.session, conn.cfg.Namespace)
			if err != nil {
				return err
			}
			return printScopes(cmd.OutOrStdout(), format, scopes)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatPretty, "Output format (pretty, json)")

	return cmd
}
