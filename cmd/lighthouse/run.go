package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/melih/lighthouse-ci/internal/adapters/archivesource"
	"github.com/melih/lighthouse-ci/internal/adapters/gitsource"
	"github.com/melih/lighthouse-ci/internal/core/domain"
	"github.com/melih/lighthouse-ci/internal/core/instructions"
	"github.com/melih/lighthouse-ci/internal/core/preparers"
)

type runOptions struct {
	image   string
	script  string
	maven   []string
	display bool
	devhub  bool

	repo    string
	branch  string
	commit  string
	archive string
	digest  string

	timeout time.Duration
}

func (c *cli) runCommand() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single build locally and print its log",
		Long: "Run a single build against the local Docker engine. The build log is\n" +
			"printed to stdout and the exit status is 0 only if the build succeeded.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := newEngine(c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := eng.close(context.WithoutCancel(cmd.Context())); err != nil {
					c.logger.Warn("engine shutdown incomplete", "error", err)
				}
			}()

			req, err := opts.request(eng.preparers)
			if err != nil {
				return err
			}

			h, err := eng.builds.Schedule(req)
			if err != nil {
				return err
			}
			c.logger.Info("build scheduled", "build", h.ID())

			// Interrupting the command cancels the build but still waits
			// for its cleanup.
			go func() {
				select {
				case <-cmd.Context().Done():
					h.Cancel()
				case <-h.Done():
				}
			}()
			<-h.Done()

			result, _ := h.Result()
			out := cmd.OutOrStdout()
			for _, line := range result.LogLines {
				fmt.Fprintln(out, line)
			}
			c.logger.Info("build finished", "build", h.ID(), "status", result.Status)
			if !result.Succeeded() {
				return exitError{code: 1}
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.image, "image", "", "Image for a shell build")
	f.StringVar(&opts.script, "script", "", "Shell script for a shell build, run with sh -c")
	f.StringSliceVar(&opts.maven, "maven", nil, "Run a Maven build with these phases")
	f.BoolVar(&opts.display, "with-display", false, "Run the Maven build under a virtual display")
	f.BoolVar(&opts.devhub, "devhub", false, "Run a Devhub course build")
	f.StringVar(&opts.repo, "repo", "", "Git repository to clone into the workspace")
	f.StringVar(&opts.branch, "branch", "", "Branch to check out")
	f.StringVar(&opts.commit, "commit", "", "Commit to check out")
	f.StringVar(&opts.archive, "archive", "", "URL of a tarball to unpack into the workspace")
	f.StringVar(&opts.digest, "digest", "", "Expected digest of the tarball, e.g. sha256:...")
	f.DurationVar(&opts.timeout, "timeout", 0, "Abort the build after this long (0 for no limit)")

	cmd.MarkFlagsMutuallyExclusive("script", "maven", "devhub")
	cmd.MarkFlagsMutuallyExclusive("repo", "archive")
	return cmd
}

func (o runOptions) request(sources *preparers.Registry) (domain.BuildRequest, error) {
	req := domain.BuildRequest{Timeout: o.timeout}

	switch {
	case o.devhub:
		req.Instruction = instructions.Devhub{}
	case len(o.maven) > 0:
		req.Instruction = &instructions.Maven{WithDisplay: o.display, Phases: o.maven}
	case o.script != "":
		if o.image == "" {
			return req, errors.New("--image is required with --script")
		}
		req.Instruction = &instructions.Shell{ImageName: o.image, Script: o.script}
	default:
		return req, errors.New("one of --script, --maven or --devhub is required")
	}

	source := map[string]string{"type": preparers.NoneKind}
	switch {
	case o.repo != "":
		source = map[string]string{
			"type":          gitsource.Kind,
			"repositoryUrl": o.repo,
			"branchName":    o.branch,
			"commitId":      o.commit,
		}
	case o.archive != "":
		source = map[string]string{
			"type":   archivesource.Kind,
			"url":    o.archive,
			"digest": o.digest,
		}
	}

	raw, err := json.Marshal(source)
	if err != nil {
		return req, err
	}
	req.Source, err = sources.Decode(raw)
	return req, err
}
