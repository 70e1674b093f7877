// Package build schedules builds onto a bounded set of workers and runs
// each one through staging, source preparation, container execution and
// cleanup.
package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/melih/lighthouse-ci/internal/core/domain"
	"github.com/melih/lighthouse-ci/internal/logging"
)

// ErrClosed is returned by Schedule after Shutdown.
var ErrClosed = errors.New("build manager is shut down")

// Executor runs one build to completion. track is called on every state
// change.
type Executor interface {
	Execute(ctx context.Context, id domain.BuildID, req domain.BuildRequest, track func(State)) domain.BuildResult
}

// Callback receives the result of a build scheduled with
// ScheduleWithCallback.
type Callback interface {
	OnResult(id domain.BuildID, result domain.BuildResult)
}

// CallbackFunc adapts a function to Callback.
type CallbackFunc func(id domain.BuildID, result domain.BuildResult)

func (f CallbackFunc) OnResult(id domain.BuildID, result domain.BuildResult) {
	f(id, result)
}

// Config bounds the Manager.
type Config struct {
	// MaxConcurrentJobs is the number of builds that run at once.
	MaxConcurrentJobs int
	// QueueSize is the number of admitted builds that may wait for a
	// worker. Schedule fails with domain.ErrSaturated beyond it.
	QueueSize int
}

// BuildStatus is a snapshot of one in-flight build.
type BuildStatus struct {
	ID    domain.BuildID `json:"id"`
	State State          `json:"state"`
}

// Handle tracks one scheduled build.
type Handle struct {
	id        domain.BuildID
	req       domain.BuildRequest
	submitted time.Time
	ctx       context.Context
	cancel    context.CancelCauseFunc
	done      chan struct{}

	mu     sync.Mutex
	state  State
	result domain.BuildResult
}

func (h *Handle) ID() domain.BuildID {
	return h.id
}

// State returns the current state of the build.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) setState(s State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// Done is closed once the result is available.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the result and true once the build has finished.
func (h *Handle) Result() (domain.BuildResult, bool) {
	select {
	case <-h.done:
	default:
		return domain.BuildResult{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, true
}

// Wait blocks until the build finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) (domain.BuildResult, error) {
	select {
	case <-h.done:
		result, _ := h.Result()
		return result, nil
	case <-ctx.Done():
		return domain.BuildResult{}, ctx.Err()
	}
}

// Cancel requests cancellation. The build still produces a FAILED result.
func (h *Handle) Cancel() {
	h.cancel(domain.ErrCancellationRequested)
}

func (h *Handle) finish(result domain.BuildResult) {
	h.mu.Lock()
	h.result = result
	h.mu.Unlock()
	close(h.done)
}

// Manager admits builds, runs at most MaxConcurrentJobs of them at once and
// tracks the rest until they finish.
type Manager struct {
	executor Executor
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	workers   sync.WaitGroup
	callbacks sync.WaitGroup

	mu      sync.Mutex
	ready   *sync.Cond
	limit   int
	waiting int // workers parked on ready
	pending []*Handle
	builds  map[domain.BuildID]*Handle
	closed  bool
}

// NewManager starts cfg.MaxConcurrentJobs workers.
func NewManager(cfg Config, executor Executor, logger *slog.Logger) *Manager {
	if cfg.MaxConcurrentJobs < 1 {
		cfg.MaxConcurrentJobs = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	m := &Manager{
		executor: executor,
		logger:   logging.Ensure(logger).With("component", "scheduler"),
		ctx:      ctx,
		cancel:   cancel,
		limit:    cfg.QueueSize,
		builds:   make(map[domain.BuildID]*Handle),
	}
	m.ready = sync.NewCond(&m.mu)

	m.workers.Add(cfg.MaxConcurrentJobs)
	for i := 0; i < cfg.MaxConcurrentJobs; i++ {
		go m.work()
	}
	return m
}

// Schedule admits req and returns its handle without waiting for a
// worker. It fails with domain.ErrSaturated when QueueSize builds are
// already waiting; killed builds do not count.
func (m *Manager) Schedule(req domain.BuildRequest) (*Handle, error) {
	if req.Instruction == nil || req.Source == nil {
		return nil, fmt.Errorf("%w: instruction and source are required", domain.ErrInvalidRequest)
	}
	if req.Timeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout", domain.ErrInvalidRequest)
	}

	ctx, cancel := context.WithCancelCause(m.ctx)
	h := &Handle{
		id:        domain.NewBuildID(),
		req:       req,
		submitted: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateQueued,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		cancel(ErrClosed)
		return nil, ErrClosed
	}
	// Builds an idle worker is about to take do not occupy the queue.
	if len(m.pending) >= m.limit+m.waiting {
		cancel(domain.ErrSaturated)
		return nil, domain.ErrSaturated
	}
	m.builds[h.id] = h
	m.pending = append(m.pending, h)
	m.ready.Signal()

	m.logger.Info("build scheduled", "build", h.id, "instruction", req.Instruction.Kind(), "source", req.Source.Kind(), "timeout", req.Timeout)
	return h, nil
}

// ScheduleWithCallback is Schedule followed by an asynchronous call to cb
// with the result. Panics raised by cb are logged and dropped.
func (m *Manager) ScheduleWithCallback(req domain.BuildRequest, cb Callback) (domain.BuildID, error) {
	h, err := m.Schedule(req)
	if err != nil {
		return domain.BuildID{}, err
	}
	if cb == nil {
		return h.id, nil
	}

	m.callbacks.Add(1)
	go func() {
		defer m.callbacks.Done()
		defer func() {
			if p := recover(); p != nil {
				m.logger.Error("build callback panicked", "build", h.id, "panic", p)
			}
		}()

		<-h.done
		result, _ := h.Result()
		cb.OnResult(h.id, result)
	}()
	return h.id, nil
}

// Kill cancels a tracked build and stops tracking it. The build still runs
// its cleanup and reports a FAILED result to its handle and callback. A
// queued build leaves the queue at once and is finished off the workers.
func (m *Manager) Kill(id domain.BuildID) error {
	m.mu.Lock()
	h, ok := m.builds[id]
	if ok {
		delete(m.builds, id)
	}
	dequeued := ok && !m.closed && m.dequeue(h)
	if dequeued {
		m.workers.Add(1)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	m.logger.Info("killing build", "build", id, "state", h.State())
	h.cancel(domain.ErrCancellationRequested)
	if dequeued {
		go func() {
			defer m.workers.Done()
			m.run(h)
		}()
	}
	return nil
}

// dequeue removes h from the pending queue. Callers hold m.mu.
func (m *Manager) dequeue(h *Handle) bool {
	i := slices.Index(m.pending, h)
	if i < 0 {
		return false
	}
	m.pending = slices.Delete(m.pending, i, i+1)
	return true
}

// Get returns the handle of a tracked build.
func (m *Manager) Get(id domain.BuildID) (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.builds[id]
	return h, ok
}

// InFlight lists tracked builds in submission order.
func (m *Manager) InFlight() []BuildStatus {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.builds))
	for _, h := range m.builds {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	slices.SortFunc(handles, func(a, b *Handle) int {
		return a.submitted.Compare(b.submitted)
	})

	out := make([]BuildStatus, len(handles))
	for i, h := range handles {
		out[i] = BuildStatus{ID: h.id, State: h.State()}
	}
	return out
}

// Shutdown stops admitting builds, cancels every running and queued build
// and waits for their cleanup and callbacks, or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.ready.Broadcast()
	m.mu.Unlock()

	m.cancel(domain.ErrCancellationRequested)

	done := make(chan struct{})
	go func() {
		m.workers.Wait()
		m.callbacks.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for builds to finish: %w", ctx.Err())
	}
}

func (m *Manager) work() {
	defer m.workers.Done()
	for {
		h, ok := m.next()
		if !ok {
			return
		}
		m.run(h)
	}
}

// next blocks until a build is pending. After Shutdown it drains what is
// left and then reports false.
func (m *Manager) next() (*Handle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.pending) == 0 && !m.closed {
		m.waiting++
		m.ready.Wait()
		m.waiting--
	}
	if len(m.pending) == 0 {
		return nil, false
	}
	h := m.pending[0]
	m.pending = slices.Delete(m.pending, 0, 1)
	return h, true
}

func (m *Manager) run(h *Handle) {
	logger := m.logger.With("build", h.id)

	ctx := h.ctx
	if h.req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, h.req.Timeout, domain.ErrTimeoutExceeded)
		defer cancel()
	}

	logger.Info("build started")
	start := time.Now()
	result := m.execute(ctx, h)

	m.mu.Lock()
	if m.builds[h.id] == h {
		delete(m.builds, h.id)
	}
	m.mu.Unlock()

	h.finish(result)
	h.cancel(nil)
	logger.Info("build finished", "status", result.Status, "lines", len(result.LogLines), "elapsed", time.Since(start))
}

// execute shields the worker from a panicking executor.
func (m *Manager) execute(ctx context.Context, h *Handle) (result domain.BuildResult) {
	defer func() {
		if p := recover(); p != nil {
			m.logger.Error("build executor panicked", "build", h.id, "panic", p, "stack", string(debug.Stack()))
			result = domain.BuildResult{Status: domain.StatusFailed, LogLines: []string{InternalErrorLine}}
		}
	}()
	return m.executor.Execute(ctx, h.id, h.req, h.setState)
}
