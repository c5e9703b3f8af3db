package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/23026475/trackit/internal/api"
	"github.com/23026475/trackit/internal/store"
)

func newServeCmd(g *globalFlags, version string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ListenAddr = addr
			}
			setupLogging(cfg)
			api.Version = version

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				slog.Error("open database", "err", err)
				return err
			}
			defer st.Close()

			srv, err := api.NewServer(cfg, st)
			if err != nil {
				slog.Error("create server", "err", err)
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			slog.Info("server starting", "addr", cfg.ListenAddr, "version", version, "db", cfg.DBPath)
			if err := srv.Run(ctx); err != nil {
				slog.Error("server stopped", "err", err)
				return err
			}
			slog.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides TRACKIT_LISTEN_ADDR)")
	return cmd
}
