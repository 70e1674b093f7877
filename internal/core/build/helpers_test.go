package build

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/melih/lighthouse-ci/internal/core/domain"
	"github.com/melih/lighthouse-ci/internal/core/instructions"
	"github.com/melih/lighthouse-ci/internal/core/lifecycle"
	"github.com/melih/lighthouse-ci/internal/core/preparers"
	"github.com/melih/lighthouse-ci/internal/testutil"
)

const cloneFailure = "[FATAL] Failed to clone from repository: https://example.invalid/repo.git"

// failingSource behaves like a clone of a repository that does not exist.
type failingSource struct{}

func (failingSource) Kind() string { return "failing" }

func (failingSource) Prepare(_ context.Context, _ string, log domain.LogSink) error {
	log.WriteLine(cloneFailure)
	return errors.New("repository not found")
}

// blockingSource waits for the build to be cancelled.
type blockingSource struct {
	entered chan string
}

func (blockingSource) Kind() string { return "blocking" }

func (s blockingSource) Prepare(ctx context.Context, dir string, _ domain.LogSink) error {
	s.entered <- dir
	<-ctx.Done()
	return context.Cause(ctx)
}

// fileSource writes a marker file into the staging directory.
type fileSource struct{}

func (fileSource) Kind() string { return "file" }

func (fileSource) Prepare(_ context.Context, dir string, _ domain.LogSink) error {
	return os.WriteFile(filepath.Join(dir, "marker"), []byte("ok"), 0o644)
}

type panickingSource struct{}

func (panickingSource) Kind() string { return "panicking" }

func (panickingSource) Prepare(context.Context, string, domain.LogSink) error {
	panic("preparer exploded")
}

// unsupported is an instruction kind no registry knows about.
type unsupported struct{}

func (unsupported) Kind() string      { return "gradle" }
func (unsupported) Image() string     { return "gradle" }
func (unsupported) Command() []string { return []string{"gradle", "build"} }

type env struct {
	rt      *testutil.FakeRuntime
	root    string
	runner  *Runner
	manager *Manager
}

func newEnv(t *testing.T, maxJobs, queue int) *env {
	t.Helper()
	return newEnvWithRoot(t, maxJobs, queue, t.TempDir())
}

func newEnvWithRoot(t *testing.T, maxJobs, queue int, root string) *env {
	t.Helper()

	rt := testutil.NewFakeRuntime()
	lc := lifecycle.NewManager(rt, lifecycle.Options{
		TeardownInterval: time.Millisecond,
		LogStreams:       2 * maxJobs,
	})

	preps := preparers.Default()
	for _, p := range []domain.DirectoryPreparer{failingSource{}, blockingSource{}, fileSource{}, panickingSource{}} {
		preps.Register(p.Kind(), func(json.RawMessage) (domain.DirectoryPreparer, error) { return p, nil })
	}

	runner := NewRunner(RunnerConfig{StagingRoot: root, WorkingDir: "/workspace"}, lc, instructions.Default(), preps, nil)
	manager := NewManager(Config{MaxConcurrentJobs: maxJobs, QueueSize: queue}, runner, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})

	return &env{rt: rt, root: root, runner: runner, manager: manager}
}

func shell(script string) domain.BuildRequest {
	return domain.BuildRequest{
		Instruction: &instructions.Shell{ImageName: "X", Script: script},
		Source:      preparers.None{},
	}
}

func await(t *testing.T, h *Handle) domain.BuildResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()
	result, err := h.Wait(ctx)
	require.NoError(t, err, "build did not finish")
	return result
}

func stagingEntries(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func inFlightIDs(m *Manager) []domain.BuildID {
	var ids []domain.BuildID
	for _, s := range m.InFlight() {
		ids = append(ids, s.ID)
	}
	return ids
}
