package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/CrMo2001/intelli-vis/api"
	"github.com/spf13/cobra"
)

type ServeCmd struct{}

func NewServeCmd() *ServeCmd {
	return &ServeCmd{}
}

func (c *ServeCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			listenAddr, err := cmd.Flags().GetString("listen")
			if err != nil {
				return fmt.Errorf("failed to get listen flag: %w", err)
			}

			log, cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.HTTPListenAddr = listenAddr
			}
			a, err := newApp(log, cfg)
			if err != nil {
				log.Error("Failed to initialize", "error", err)
				return err
			}

			server, err := api.NewServer(
				api.WithProcessor(a.orchestrator),
				api.WithCatalog(a.catalog),
				api.WithDataset(a.dataset),
				api.WithLogger(log),
				api.WithListenAddr(cfg.HTTPListenAddr),
				api.WithAllowedOrigins(cfg.CORSAllowedOrigins),
				api.WithDownloadTTL(cfg.DownloadTTL),
				api.WithShutdownTimeout(cfg.ShutdownTimeout),
			)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if err := server.Run(ctx); err != nil {
				log.Error("Server error", "error", err)
				return err
			}
			log.Info("Server stopped gracefully")
			return nil
		},
	}

	cmd.Flags().String("listen", "", "Address to listen on (overrides HTTP_LISTEN_ADDR)")

	return cmd
}
