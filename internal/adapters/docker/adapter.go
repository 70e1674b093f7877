package docker

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/melih/lighthouse-ci/internal/core/domain"
	"github.com/melih/lighthouse-ci/internal/core/ports"
)

// Options configures the Docker adapter.
type Options struct {
	Host        string        // Engine endpoint. Empty uses DOCKER_HOST or the platform default.
	CertDir     string        // Directory holding ca.pem, cert.pem and key.pem for TLS. Optional.
	StopTimeout time.Duration // Grace period before a stopped container is killed.
	TTY         bool          // Allocate a TTY, which merges stdout and stderr into one raw stream.
}

// Adapter implements ports.ContainerRuntime using the Docker SDK.
type Adapter struct {
	cli         *client.Client
	stopTimeout time.Duration
	tty         bool
}

var _ ports.ContainerRuntime = (*Adapter)(nil)

// NewClient creates a Docker API client for the given endpoint.
func NewClient(host, certDir string) (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	if certDir != "" {
		opts = append(opts, client.WithTLSClientConfig(
			filepath.Join(certDir, "ca.pem"),
			filepath.Join(certDir, "cert.pem"),
			filepath.Join(certDir, "key.pem"),
		))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return cli, nil
}

// NewAdapter creates a new Docker adapter instance
func NewAdapter(opts Options) (*Adapter, error) {
	cli, err := NewClient(opts.Host, opts.CertDir)
	if err != nil {
		return nil, err
	}
	return &Adapter{cli: cli, stopTimeout: opts.StopTimeout, tty: opts.TTY}, nil
}

// Client exposes the underlying API client so other adapters can share the
// connection.
func (a *Adapter) Client() *client.Client {
	return a.cli
}

// Close releases the API client.
func (a *Adapter) Close() error {
	return a.cli.Close()
}

// CreateContainer creates a container for the job. A missing image is pulled
// once before giving up.
func (a *Adapter) CreateContainer(ctx context.Context, spec domain.JobSpec) (domain.ContainerHandle, error) {
	binds := make([]string, 0, len(spec.Mounts))
	for host, target := range spec.Mounts {
		binds = append(binds, host+":"+target)
	}
	sort.Strings(binds)

	config := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Command,
		WorkingDir:   spec.WorkingDir,
		Tty:          a.tty,
		AttachStdout: true,
		AttachStderr: true,
		Labels:       spec.Labels,
	}
	hostConfig := &container.HostConfig{Binds: binds}

	resp, err := a.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if errdefs.IsNotFound(err) {
		if pullErr := a.pullImage(ctx, spec.Image); pullErr != nil {
			return domain.ContainerHandle{}, fmt.Errorf("failed to create container: %w (pull: %v)", err, pullErr)
		}
		resp, err = a.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	}
	if err != nil {
		return domain.ContainerHandle{}, fmt.Errorf("failed to create container: %w", err)
	}

	return domain.ContainerHandle{ID: resp.ID, Warnings: resp.Warnings}, nil
}

func (a *Adapter) pullImage(ctx context.Context, image string) error {
	reader, err := a.cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	// The pull only completes once the progress stream is drained.
	_, err = io.Copy(io.Discard, reader)
	return err
}

// StartContainer starts a created container.
func (a *Adapter) StartContainer(ctx context.Context, id string) error {
	if err := a.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

// AttachContainer attaches to the container's output. Without a TTY the
// multiplexed stream is split back into plain bytes.
func (a *Adapter) AttachContainer(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := a.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdout: true,
		Stderr: true,
		Logs:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to container: %w", err)
	}

	if a.tty {
		return &attachStream{Reader: resp.Reader, resp: resp}, nil
	}

	pr := demux(resp.Reader)
	return &attachStream{Reader: pr, resp: resp, pipe: pr}, nil
}

// demux merges a multiplexed stdout/stderr stream back into one plain
// stream, keeping the order in which frames arrived.
func demux(r io.Reader) *io.PipeReader {
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, r)
		pw.CloseWithError(err)
	}()
	return pr
}

// WaitContainer blocks until the container stops and returns its exit code.
func (a *Adapter) WaitContainer(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := a.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, fmt.Errorf("failed to wait for container: %w", err)
	case status := <-statusCh:
		if status.Error != nil {
			return status.StatusCode, fmt.Errorf("failed to wait for container: %s", status.Error.Message)
		}
		return status.StatusCode, nil
	}
}

// StopContainer stops a container. Stopping a missing container is a no-op.
func (a *Adapter) StopContainer(ctx context.Context, id string) error {
	timeout := int(a.stopTimeout / time.Second)
	err := a.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// RemoveContainer force-removes a container and its anonymous volumes.
// A missing container, or one whose removal is already in progress, is not
// an error.
func (a *Adapter) RemoveContainer(ctx context.Context, id string) error {
	err := a.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !errdefs.IsNotFound(err) && !errdefs.IsConflict(err) {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// ListContainers returns all containers, running or not, carrying the labels.
func (a *Adapter) ListContainers(ctx context.Context, labels map[string]string) ([]domain.Container, error) {
	args := filters.NewArgs()
	for k, v := range labels {
		args.Add("label", k+"="+v)
	}

	containers, err := a.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	result := make([]domain.Container, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}

		result = append(result, domain.Container{
			ID:     c.ID,
			Name:   name,
			Image:  c.Image,
			Status: c.Status,
			State:  c.State,
			Labels: c.Labels,
		})
	}
	return result, nil
}

// attachStream closes both the hijacked connection and the demux pipe.
type attachStream struct {
	io.Reader
	resp types.HijackedResponse
	pipe *io.PipeReader
}

func (s *attachStream) Close() error {
	s.resp.Close()
	if s.pipe != nil {
		return s.pipe.Close()
	}
	return nil
}

