package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/melih/lighthouse-ci/internal/core/domain"
	"github.com/melih/lighthouse-ci/internal/core/instructions"
	"github.com/melih/lighthouse-ci/internal/core/lifecycle"
	"github.com/melih/lighthouse-ci/internal/core/preparers"
	"github.com/melih/lighthouse-ci/internal/logging"
)

// Diagnostic lines appended to the build log.
const (
	StagingFailedLine      = "[FATAL] Failed to allocate new working directory for build"
	ProvisioningFailedLine = "[FATAL] Failed to provision build environment"
	InternalErrorLine      = "[FATAL] Internal error while running build"
	TimedOutLine           = "[FATAL] Build timed out!"
	CancelledLine          = "[FATAL] Build cancelled"
)

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	// StagingRoot holds one directory per build, named after its id.
	StagingRoot string
	// WorkingDir is where the staging directory is mounted in the container.
	WorkingDir string
}

// Runner executes a single build from staging to cleanup. It is safe for
// concurrent use; each Execute call owns its own state.
type Runner struct {
	cfg          RunnerConfig
	lifecycle    *lifecycle.Manager
	instructions *instructions.Registry
	preparers    *preparers.Registry
	logger       *slog.Logger
}

// NewRunner returns a Runner.
func NewRunner(cfg RunnerConfig, lc *lifecycle.Manager, instr *instructions.Registry, preps *preparers.Registry, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:          cfg,
		lifecycle:    lc,
		instructions: instr,
		preparers:    preps,
		logger:       logging.Ensure(logger).With("component", "runner"),
	}
}

// Execute runs req to completion and returns its result. It never panics
// and always returns exactly one result. Cancelling ctx aborts the build;
// the cause (domain.ErrTimeoutExceeded or domain.ErrCancellationRequested)
// decides which diagnostic line is appended.
func (r *Runner) Execute(ctx context.Context, id domain.BuildID, req domain.BuildRequest, track func(State)) domain.BuildResult {
	if track == nil {
		track = func(State) {}
	}
	b := &run{
		runner: r,
		id:     id,
		req:    req,
		log:    &lineBuffer{},
		logger: r.logger.With("build", id),
		track:  track,
		final:  StateDone,
	}

	status, err := b.execute(ctx)
	if err != nil {
		b.logger.Info("build failed", "error", err)
	}
	b.cleanup()
	b.transition(b.final)

	return domain.BuildResult{Status: status, LogLines: b.log.Lines()}
}

// run holds the state of one Execute call.
type run struct {
	runner *Runner
	id     domain.BuildID
	req    domain.BuildRequest
	log    *lineBuffer
	logger *slog.Logger
	track  func(State)
	final  State

	stagingDir string
	execution  *lifecycle.Execution
}

func (b *run) transition(s State) {
	b.logger.Debug("build state changed", "state", s)
	b.track(s)
}

func (b *run) execute(ctx context.Context) (status domain.Status, err error) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("build panicked", "panic", p, "stack", string(debug.Stack()))
			b.log.WriteLine(InternalErrorLine)
			status, err = domain.StatusFailed, fmt.Errorf("%w: %v", domain.ErrExecutionFault, p)
		}
	}()

	if ctx.Err() != nil {
		return b.interrupted(ctx)
	}
	b.transition(StateStaging)
	if err := b.allocate(); err != nil {
		b.log.WriteLine(StagingFailedLine)
		return domain.StatusFailed, err
	}

	if ctx.Err() != nil {
		return b.interrupted(ctx)
	}
	b.transition(StatePreparingSource)
	source, err := b.runner.preparers.Resolve(b.req.Source)
	if err != nil {
		b.log.WriteLine("[FATAL] " + err.Error())
		return domain.StatusFailed, fmt.Errorf("%w: %w", domain.ErrSourcePreparation, err)
	}
	if err := source.Prepare(ctx, b.stagingDir, b.log); err != nil {
		if ctx.Err() != nil {
			return b.interrupted(ctx)
		}
		return domain.StatusFailed, fmt.Errorf("%w: %w", domain.ErrSourcePreparation, err)
	}

	if ctx.Err() != nil {
		return b.interrupted(ctx)
	}
	b.transition(StateResolvingInstruction)
	image, command, err := b.runner.instructions.Resolve(b.req.Instruction)
	if err != nil {
		b.log.WriteLine("[FATAL] " + err.Error())
		return domain.StatusFailed, err
	}
	spec := domain.JobSpec{
		Image:      image,
		Command:    command,
		WorkingDir: b.runner.cfg.WorkingDir,
		Mounts:     map[string]string{b.stagingDir: b.runner.cfg.WorkingDir},
		Labels:     map[string]string{lifecycle.BuildLabel: b.id.String()},
	}

	if ctx.Err() != nil {
		return b.interrupted(ctx)
	}
	b.transition(StateProvisioningContainer)
	execution, err := b.runner.lifecycle.Run(ctx, spec, b.log)
	if err != nil {
		b.log.WriteLine(ProvisioningFailedLine)
		return domain.StatusFailed, err
	}
	b.execution = execution
	b.transition(StateRunning)
	b.transition(StateCapturingLog)
	b.transition(StateAwaitingExit)

	code, err := execution.Wait()
	if err != nil {
		if ctx.Err() != nil {
			return b.interrupted(ctx)
		}
		b.log.WriteLine(InternalErrorLine)
		return domain.StatusFailed, err
	}
	b.logger.Info("build container exited", "code", code)
	if code != 0 {
		return domain.StatusFailed, nil
	}
	return domain.StatusSucceeded, nil
}

// interrupted classifies a build whose context ended.
func (b *run) interrupted(ctx context.Context) (domain.Status, error) {
	cause := context.Cause(ctx)
	if errors.Is(cause, domain.ErrTimeoutExceeded) {
		b.final = StateTimedOut
		b.log.WriteLine(TimedOutLine)
	} else {
		b.final = StateCancelled
		b.log.WriteLine(CancelledLine)
	}
	return domain.StatusFailed, cause
}

func (b *run) allocate() error {
	// Docker treats a relative bind source as a volume name.
	root, err := filepath.Abs(b.runner.cfg.StagingRoot)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStagingAllocation, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStagingAllocation, err)
	}
	dir := filepath.Join(root, b.id.String())
	if err := os.Mkdir(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStagingAllocation, err)
	}
	b.stagingDir = dir
	return nil
}

// cleanup waits for the container to be gone, then removes the staging
// directory. Failures are logged and never change the result.
func (b *run) cleanup() {
	b.transition(StateCleaningUp)

	if b.execution != nil {
		b.execution.Cancel(domain.ErrCancellationRequested)
		<-b.execution.Done()
	}
	if b.stagingDir != "" {
		if err := os.RemoveAll(b.stagingDir); err != nil {
			b.logger.Error("failed to remove staging directory", "dir", b.stagingDir, "error", fmt.Errorf("%w: %w", domain.ErrTeardown, err))
		}
	}
}
