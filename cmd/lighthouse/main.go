package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/melih/lighthouse-ci/internal/config"
	"github.com/melih/lighthouse-ci/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli{}
	app.levelVar.Set(slog.LevelInfo)
	app.logger = logging.New(&app.levelVar, "text", os.Stderr)

	if err := app.rootCommand().ExecuteContext(ctx); err != nil {
		var exit exitError
		switch {
		case errors.As(err, &exit):
			os.Exit(exit.code)
		case errors.Is(err, context.Canceled):
			app.logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		app.logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// exitError ends the process with code without logging an error.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

type cli struct {
	configPath string
	logLevel   string

	levelVar slog.LevelVar
	cfg      *config.Config
	logger   *slog.Logger
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "lighthouse",
		Short:         "Run CI builds in isolated containers",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "Path to the YAML configuration file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "Override log verbosity (debug, info, warning, error)")
	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(c.configPath)
		if err != nil {
			return err
		}

		levelName := cfg.Log.Level
		if c.logLevel != "" {
			levelName = c.logLevel
		}
		level, err := logging.ParseLevel(levelName)
		if err != nil {
			return err
		}
		c.levelVar.Set(level)

		c.cfg = cfg
		c.logger = logging.New(&c.levelVar, cfg.Log.Format, os.Stderr)
		slog.SetDefault(c.logger)
		return nil
	}

	root.AddCommand(
		c.serveCommand(),
		c.runCommand(),
		c.buildImageCommand(),
		c.containersCommand(),
	)
	return root
}
