package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/example/go-taco-tts/internal/server"
	"github.com/example/go-taco-tts/internal/tts"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the synthesis HTTP server",
		RunE: func(_ *cobra.Command, _ []string) error {
			svc, err := tts.NewService(activeCfg, slog.Default())
			if err != nil {
				return err
			}
			defer svc.Close()

			handler := server.NewHandler(svc,
				server.WithWorkers(activeCfg.Server.Concurrency),
				server.WithLogger(slog.Default()),
			)

			srv := server.New(activeCfg.Server.ListenAddr, handler, slog.Default())

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Start(ctx)
		},
	}

	return cmd
}
