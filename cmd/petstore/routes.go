package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRoutesCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the route manifest as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			app, err := newApp(cfg, zap.NewNop())
			if err != nil {
				return err
			}
			return app.Routes().WriteManifest(cmd.OutOrStdout())
		},
	}
}
