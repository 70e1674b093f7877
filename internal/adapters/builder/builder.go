package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/go-git/go-git/v5"
	"github.com/melih/lighthouse-ci/internal/core/ports"
	"github.com/melih/lighthouse-ci/internal/logging"
)

// Adapter implements ports.ImageBuilder using the Docker build API.
type Adapter struct {
	cli    *client.Client
	logger *slog.Logger
}

var _ ports.ImageBuilder = (*Adapter)(nil)

func NewBuilderAdapter(cli *client.Client, logger *slog.Logger) *Adapter {
	return &Adapter{cli: cli, logger: logging.Ensure(logger).With("component", "builder")}
}

// BuildImage writes the Dockerfile into a scratch build context and builds it.
func (a *Adapter) BuildImage(ctx context.Context, name, dockerfile string, observer ports.ImageBuildObserver) error {
	defer observer.OnCompleted()

	if strings.TrimSpace(name) == "" || strings.TrimSpace(dockerfile) == "" {
		return errors.New("image name and Dockerfile contents are required")
	}

	tmpDir, err := os.MkdirTemp("", "lighthouse-image-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if err := os.WriteFile(filepath.Join(tmpDir, "Dockerfile"), []byte(dockerfile), 0o644); err != nil {
		return fmt.Errorf("failed to write Dockerfile: %w", err)
	}

	return a.build(ctx, tmpDir, name, observer)
}

// BuildImageFromRepo clones a repo and builds its Dockerfile
func (a *Adapter) BuildImageFromRepo(ctx context.Context, repoURL, name string, observer ports.ImageBuildObserver) error {
	defer observer.OnCompleted()

	tmpDir, err := os.MkdirTemp("", "lighthouse-image-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	a.logger.Info("cloning image source", "repo", repoURL, "dir", tmpDir)
	_, err = git.PlainCloneContext(ctx, tmpDir, false, &git.CloneOptions{
		URL:   repoURL,
		Depth: 1, // Shallow clone for speed
	})
	if err != nil {
		return fmt.Errorf("failed to clone repo: %w", err)
	}

	return a.build(ctx, tmpDir, name, observer)
}

func (a *Adapter) build(ctx context.Context, dir, name string, observer ports.ImageBuildObserver) error {
	tar, err := archive.TarWithOptions(dir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to create build context: %w", err)
	}
	defer tar.Close()

	a.logger.Info("building image", "name", name)
	resp, err := a.cli.ImageBuild(ctx, tar, types.ImageBuildOptions{
		Tags:       []string{name},
		Dockerfile: "Dockerfile",
		NoCache:    true,
		Remove:     true, // Remove intermediate containers
	})
	if err != nil {
		return fmt.Errorf("failed to build image: %w", err)
	}
	defer resp.Body.Close()

	return decodeProgress(resp.Body, observer)
}

// decodeProgress forwards the build's JSON progress stream to the observer.
// The build only finishes once the stream is drained, so it is read to the
// end even after an error message.
func decodeProgress(r io.Reader, observer ports.ImageBuildObserver) error {
	var buildErr error
	dec := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return buildErr
			}
			return fmt.Errorf("failed to decode build output: %w", err)
		}

		switch {
		case msg.Error != nil:
			observer.OnError(msg.Error.Message)
			buildErr = fmt.Errorf("image build failed: %s", msg.Error.Message)
		case msg.ErrorMessage != "":
			observer.OnError(msg.ErrorMessage)
			buildErr = fmt.Errorf("image build failed: %s", msg.ErrorMessage)
		case msg.Stream != "":
			observer.OnMessage(msg.Stream)
		case msg.Status != "":
			observer.OnMessage(msg.Status + "\n")
		}
	}
}
