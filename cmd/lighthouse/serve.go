package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	httpadapter "github.com/melih/lighthouse-ci/internal/adapters/http"
)

const shutdownTimeout = 30 * time.Second

func (c *cli) serveCommand() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the build API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := c.cfg
			if cmd.Flags().Changed("port") {
				cfg.HTTP.Port = port
			}

			eng, err := newEngine(cfg, c.logger)
			if err != nil {
				return err
			}

			removed, err := eng.lifecycle.Sweep(ctx)
			if err != nil {
				c.logger.Warn("failed to sweep leftover containers", "error", err)
			} else if removed > 0 {
				c.logger.Info("removed leftover containers", "count", removed)
			}

			handler := httpadapter.NewBuildHandler(
				eng.builds,
				eng.instructions,
				eng.preparers,
				eng.lifecycle,
				httpadapter.NewNotifier(httpadapter.DefaultCallbackTimeout, c.logger),
				c.logger,
			)
			app := httpadapter.NewApp(httpadapter.AppConfig{
				ClientID:     cfg.HTTP.ClientID,
				ClientSecret: cfg.HTTP.ClientSecret,
			}, handler, c.logger)

			serveErr := make(chan error, 1)
			go func() {
				addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
				c.logger.Info("server starting", "addr", addr, "max_containers", cfg.Docker.MaxContainers)
				serveErr <- app.Listen(addr)
			}()

			select {
			case err = <-serveErr:
				err = fmt.Errorf("server failed: %w", err)
			case <-ctx.Done():
				c.logger.Info("shutting down")
			}

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if shutdownErr := app.ShutdownWithContext(shutdownCtx); shutdownErr != nil {
				c.logger.Warn("HTTP shutdown incomplete", "error", shutdownErr)
			}
			if closeErr := eng.close(shutdownCtx); closeErr != nil {
				c.logger.Warn("build shutdown incomplete", "error", closeErr)
			}
			return err
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Override the HTTP port from the configuration")
	return cmd
}
