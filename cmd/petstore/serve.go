package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bjaus/lessweb/config"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(cfg.Logger)
			if err != nil {
				return err
			}
			//nolint:errcheck // sync fails on some terminals
			defer logger.Sync()

			app, err := newApp(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return app.ListenAndServe(ctx, cfg.Addr())
		},
	}
}
