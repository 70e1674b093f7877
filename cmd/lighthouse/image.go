package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/melih/lighthouse-ci/internal/adapters/builder"
	"github.com/melih/lighthouse-ci/internal/adapters/docker"
)

// progressPrinter writes image build progress to a terminal.
type progressPrinter struct {
	out io.Writer
	err io.Writer
}

func (p progressPrinter) OnMessage(message string) {
	fmt.Fprint(p.out, message)
}

func (p progressPrinter) OnError(message string) {
	fmt.Fprintln(p.err, strings.TrimRight(message, "\n"))
}

func (p progressPrinter) OnCompleted() {}

func (c *cli) buildImageCommand() *cobra.Command {
	var (
		dockerfile string
		repo       string
	)

	cmd := &cobra.Command{
		Use:   "build-image NAME",
		Short: "Build an image for use by build instructions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			dockerClient, err := docker.NewClient(c.cfg.Docker.Host, c.cfg.Docker.CertDirectory)
			if err != nil {
				return fmt.Errorf("failed to initialize Docker client: %w", err)
			}
			defer dockerClient.Close()

			b := builder.NewBuilderAdapter(dockerClient, c.logger)
			printer := progressPrinter{out: cmd.OutOrStdout(), err: cmd.ErrOrStderr()}

			switch {
			case repo != "":
				return b.BuildImageFromRepo(cmd.Context(), repo, name, printer)
			case dockerfile != "":
				contents, err := os.ReadFile(dockerfile)
				if err != nil {
					return err
				}
				return b.BuildImage(cmd.Context(), name, string(contents), printer)
			default:
				return errors.New("one of --dockerfile or --repo is required")
			}
		},
	}

	cmd.Flags().StringVar(&dockerfile, "dockerfile", "", "Path to a Dockerfile to build")
	cmd.Flags().StringVar(&repo, "repo", "", "Git repository with a Dockerfile at its root")
	cmd.MarkFlagsMutuallyExclusive("dockerfile", "repo")
	return cmd
}
