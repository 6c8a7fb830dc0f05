package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thecyberginehost/moonforge/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and settlement engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		log.Info("Starting moonforge",
			zap.String("storage", cfg.Storage.Driver),
			zap.String("mode", string(cfg.Engine.Mode)),
			zap.String("addr", cfg.HTTP.Addr))

		a, err := app.New(ctx, cfg, log)
		if err != nil {
			return err
		}

		runErr := a.Run(ctx)
		if runErr == nil {
			log.Info("Shutdown signal received")
		}

		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		closeErr := a.Close(sctx)

		if runErr != nil {
			return runErr
		}
		return closeErr
	},
}
