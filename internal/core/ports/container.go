package ports

import (
	"context"
	"io"

	"github.com/melih/lighthouse-ci/internal/core/domain"
)

// ContainerRuntime is the thin synchronous facade over the host container
// engine. Only the lifecycle manager talks to it.
//
// StopContainer and RemoveContainer must be idempotent: calling them on a
// container that is already stopped or gone is not an error.
type ContainerRuntime interface {
	CreateContainer(ctx context.Context, spec domain.JobSpec) (domain.ContainerHandle, error)
	StartContainer(ctx context.Context, id string) error
	// AttachContainer returns the combined stdout/stderr stream, including
	// output produced before the attach.
	AttachContainer(ctx context.Context, id string) (io.ReadCloser, error)
	WaitContainer(ctx context.Context, id string) (int64, error)
	StopContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string) error
	// ListContainers returns every container carrying the given labels,
	// including stopped ones.
	ListContainers(ctx context.Context, labels map[string]string) ([]domain.Container, error)
}
