// Package lifecycle runs build containers from creation to confirmed
// removal and captures their output line by line.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/melih/lighthouse-ci/internal/core/domain"
	"github.com/melih/lighthouse-ci/internal/core/ports"
	"github.com/melih/lighthouse-ci/internal/logging"
)

const (
	// ManagedLabel marks every container started by a Manager.
	ManagedLabel = "lighthouse.managed"
	// BuildLabel carries the id of the build a container belongs to.
	BuildLabel = "lighthouse.build"

	// DefaultLogDrainTimeout bounds how long output is still read after the
	// container has exited.
	DefaultLogDrainTimeout = 5 * time.Second
)

// ManagedLabels returns the label set shared by all managed containers.
func ManagedLabels() map[string]string {
	return map[string]string{ManagedLabel: "true"}
}

// Options configures a Manager.
type Options struct {
	TeardownInterval time.Duration // DefaultTeardownInterval when zero
	LogDrainTimeout  time.Duration // DefaultLogDrainTimeout when zero
	LogStreams       int           // concurrent log readers, at least 1
	Logger           *slog.Logger
}

// Manager owns the container runtime. Containers are created, started,
// attached and waited on here, and always torn down through the same
// stop-then-remove loop.
type Manager struct {
	runtime  ports.ContainerRuntime
	interval time.Duration
	drain    time.Duration
	logPool  *semaphore.Weighted
	logger   *slog.Logger
}

// NewManager returns a Manager driving rt.
func NewManager(rt ports.ContainerRuntime, opts Options) *Manager {
	if opts.TeardownInterval <= 0 {
		opts.TeardownInterval = DefaultTeardownInterval
	}
	if opts.LogDrainTimeout <= 0 {
		opts.LogDrainTimeout = DefaultLogDrainTimeout
	}
	if opts.LogStreams < 1 {
		opts.LogStreams = 1
	}

	return &Manager{
		runtime:  rt,
		interval: opts.TeardownInterval,
		drain:    opts.LogDrainTimeout,
		logPool:  semaphore.NewWeighted(int64(opts.LogStreams)),
		logger:   logging.Ensure(opts.Logger).With("component", "lifecycle"),
	}
}

// Execution is a container started by Run.
type Execution struct {
	container domain.ContainerHandle
	cancel    context.CancelCauseFunc
	done      chan struct{}

	// Written by the supervisor before done is closed.
	exitCode int
	err      error
}

// Container returns the handle of the running container.
func (e *Execution) Container() domain.ContainerHandle {
	return e.container
}

// Done is closed once the container has exited and its removal has been
// confirmed.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until Done and returns the exit code. When the execution was
// cancelled the error is the cancellation cause and the code is -1.
func (e *Execution) Wait() (int, error) {
	<-e.done
	return e.exitCode, e.err
}

// Cancel stops the container early. It is a no-op once the container has
// exited.
func (e *Execution) Cancel(cause error) {
	e.cancel(cause)
}

// Run creates and starts a container for spec and streams its output into
// sink. It returns as soon as the container is running. Cancelling ctx, or
// calling Cancel on the returned Execution, tears the container down.
//
// Errors from creation or start wrap domain.ErrProvisioning. A container
// that was created but failed to start is removed before Run returns.
func (m *Manager) Run(ctx context.Context, spec domain.JobSpec, sink domain.LogSink) (*Execution, error) {
	labels := maps.Clone(spec.Labels)
	if labels == nil {
		labels = make(map[string]string, 1)
	}
	labels[ManagedLabel] = "true"
	spec.Labels = labels

	// Provisioning is not interrupted halfway: a cancelled create could
	// leave a container behind that nobody knows the id of.
	provisionCtx := context.WithoutCancel(ctx)

	handle, err := m.runtime.CreateContainer(provisionCtx, spec)
	if err != nil {
		return nil, fmt.Errorf("%w: create: %w", domain.ErrProvisioning, err)
	}
	logger := m.logger.With("container", shortID(handle.ID), "image", spec.Image)
	for _, w := range handle.Warnings {
		logger.Warn("container created with warning", "warning", w)
	}

	if err := m.runtime.StartContainer(provisionCtx, handle.ID); err != nil {
		if tdErr := m.teardown(provisionCtx, handle.ID); tdErr != nil {
			logger.Error("failed to remove unstarted container", "error", tdErr)
		}
		return nil, fmt.Errorf("%w: start: %w", domain.ErrProvisioning, err)
	}
	logger.Info("container started")

	stream, err := m.runtime.AttachContainer(provisionCtx, handle.ID)
	if err != nil {
		logger.Warn("failed to attach to container output", "error", err)
		stream = nil
	}

	execCtx, cancel := context.WithCancelCause(ctx)
	e := &Execution{
		container: handle,
		cancel:    cancel,
		done:      make(chan struct{}),
		exitCode:  -1,
	}
	go m.supervise(execCtx, e, stream, sink, logger)
	return e, nil
}

// supervise waits for the container to exit or for ctx to end, finishes the
// log stream and tears the container down.
func (m *Manager) supervise(ctx context.Context, e *Execution, stream io.ReadCloser, sink domain.LogSink, logger *slog.Logger) {
	defer close(e.done)
	defer e.cancel(nil)

	logCtx, stopLog := context.WithCancel(ctx)
	defer stopLog()

	var closing atomic.Bool
	logDone := make(chan struct{})
	if stream != nil {
		go m.streamLog(logCtx, stream, sink, &closing, logDone, logger)
	} else {
		close(logDone)
	}

	code, err := m.runtime.WaitContainer(ctx, e.container.ID)
	switch {
	case ctx.Err() != nil:
		e.err = context.Cause(ctx)
		logger.Info("container interrupted", "cause", e.err)
	case err != nil:
		e.err = fmt.Errorf("%w: wait: %w", domain.ErrExecutionFault, err)
		logger.Error("lost track of container", "error", err)
	default:
		e.exitCode = int(code)
		logger.Info("container exited", "code", code)
	}

	if stream != nil {
		if e.err == nil {
			t := time.NewTimer(m.drain)
			select {
			case <-logDone:
			case <-t.C:
				logger.Warn("log stream still open after exit", "waited", m.drain)
			}
			t.Stop()
		}
		closing.Store(true)
		stopLog()
		stream.Close()
		<-logDone
	}

	if err := m.teardown(context.WithoutCancel(ctx), e.container.ID); err != nil {
		logger.Error("container teardown failed", "error", err)
	}
}

func (m *Manager) streamLog(ctx context.Context, r io.Reader, sink domain.LogSink, closing *atomic.Bool, done chan<- struct{}, logger *slog.Logger) {
	defer close(done)

	if err := m.logPool.Acquire(ctx, 1); err != nil {
		return
	}
	defer m.logPool.Release(1)

	err := ReadLines(r, sink.WriteLine)
	if err == nil {
		return
	}
	if closing.Load() || errors.Is(err, io.ErrClosedPipe) {
		logger.Debug("log stream closed", "error", err)
		return
	}
	logger.Warn("failed to read container output", "error", err)
}

// Terminate stops and removes a container by id, waiting until the runtime
// confirms the removal or ctx ends.
func (m *Manager) Terminate(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty container id", domain.ErrTeardown)
	}
	return m.teardown(ctx, id)
}

// Containers lists every managed container, including stopped ones.
func (m *Manager) Containers(ctx context.Context) ([]domain.Container, error) {
	return m.runtime.ListContainers(ctx, ManagedLabels())
}

// ActiveCount returns the number of managed containers that have not exited.
func (m *Manager) ActiveCount(ctx context.Context) (int, error) {
	containers, err := m.Containers(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, c := range containers {
		if !c.Exited() {
			n++
		}
	}
	return n, nil
}

// Sweep tears down managed containers left over from an earlier process.
// It must run before any build is started. It returns the number removed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	containers, err := m.Containers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list managed containers: %w", err)
	}

	removed := 0
	for _, c := range containers {
		m.logger.Info("removing leftover container", "container", shortID(c.ID), "state", c.State, "build", c.Labels[BuildLabel])
		if err := m.teardown(ctx, c.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
