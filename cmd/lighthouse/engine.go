package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/melih/lighthouse-ci/internal/adapters/archivesource"
	"github.com/melih/lighthouse-ci/internal/adapters/docker"
	"github.com/melih/lighthouse-ci/internal/adapters/gitsource"
	"github.com/melih/lighthouse-ci/internal/config"
	"github.com/melih/lighthouse-ci/internal/core/build"
	"github.com/melih/lighthouse-ci/internal/core/instructions"
	"github.com/melih/lighthouse-ci/internal/core/lifecycle"
	"github.com/melih/lighthouse-ci/internal/core/preparers"
)

// engine is the build pipeline wired against the Docker engine.
type engine struct {
	docker       *docker.Adapter
	lifecycle    *lifecycle.Manager
	instructions *instructions.Registry
	preparers    *preparers.Registry
	builds       *build.Manager
}

func newEngine(cfg *config.Config, logger *slog.Logger) (*engine, error) {
	rt, err := docker.NewAdapter(docker.Options{
		Host:        cfg.Docker.Host,
		CertDir:     cfg.Docker.CertDirectory,
		StopTimeout: cfg.Docker.StopTimeout,
		TTY:         cfg.Docker.UseTTY(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Docker adapter: %w", err)
	}

	lc := lifecycle.NewManager(rt, lifecycle.Options{
		TeardownInterval: cfg.Docker.TeardownInterval,
		LogStreams:       cfg.Docker.LogPoolSize(),
		Logger:           logger,
	})

	instr := instructions.Default()
	preps := preparers.Default()
	preps.Register(gitsource.Kind, gitsource.Decoder(logger))
	preps.Register(archivesource.Kind, archivesource.Decoder(logger))

	runner := build.NewRunner(build.RunnerConfig{
		StagingRoot: cfg.Docker.StagingDirectory,
		WorkingDir:  cfg.Docker.WorkingDirectory,
	}, lc, instr, preps, logger)

	builds := build.NewManager(build.Config{
		MaxConcurrentJobs: cfg.Docker.MaxContainers,
		QueueSize:         cfg.Builds.QueueSize,
	}, runner, logger)

	return &engine{
		docker:       rt,
		lifecycle:    lc,
		instructions: instr,
		preparers:    preps,
		builds:       builds,
	}, nil
}

// close cancels outstanding builds, waits for their cleanup and releases
// the Docker client.
func (e *engine) close(ctx context.Context) error {
	return errors.Join(e.builds.Shutdown(ctx), e.docker.Close())
}
