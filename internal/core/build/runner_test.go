package build

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih/lighthouse-ci/internal/core/domain"
	"github.com/melih/lighthouse-ci/internal/core/lifecycle"
)

func TestScenarioTrivialBuildSucceeds(t *testing.T) {
	e := newEnv(t, 2, 4)

	h, err := e.manager.Schedule(shell("echo hi"))
	require.NoError(t, err)
	result := await(t, h)

	assert.Equal(t, domain.BuildResult{Status: domain.StatusSucceeded, LogLines: []string{"hi"}}, result)
	assert.Equal(t, StateDone, h.State())
	assert.Zero(t, e.rt.Remaining())
	assert.Empty(t, stagingEntries(t, e.root))
	assert.Empty(t, e.manager.InFlight())
}

func TestScenarioNonZeroExitFails(t *testing.T) {
	e := newEnv(t, 2, 4)

	h, err := e.manager.Schedule(shell("echo compiling; exit 3"))
	require.NoError(t, err)
	result := await(t, h)

	assert.Equal(t, domain.StatusFailed, result.Status)
	assert.Equal(t, []string{"compiling"}, result.LogLines)
	assert.Equal(t, 1, e.rt.Created())
	assert.Zero(t, e.rt.Remaining())
	assert.Empty(t, stagingEntries(t, e.root))
}

func TestScenarioTimeoutFails(t *testing.T) {
	e := newEnv(t, 2, 4)

	req := shell("sleep 100")
	req.Timeout = 500 * time.Millisecond

	start := time.Now()
	h, err := e.manager.Schedule(req)
	require.NoError(t, err)
	result := await(t, h)
	elapsed := time.Since(start)

	assert.Equal(t, domain.StatusFailed, result.Status)
	require.NotEmpty(t, result.LogLines)
	assert.Equal(t, TimedOutLine, result.LogLines[len(result.LogLines)-1])
	assert.GreaterOrEqual(t, elapsed, 500*time.Millisecond)
	assert.Less(t, elapsed, 5*time.Second)
	assert.Equal(t, StateTimedOut, h.State())
	assert.Zero(t, e.rt.Remaining())
	assert.Empty(t, stagingEntries(t, e.root))
}

func TestScenarioSourceFailureCreatesNoContainer(t *testing.T) {
	e := newEnv(t, 2, 4)

	req := shell("echo never")
	req.Source = failingSource{}
	h, err := e.manager.Schedule(req)
	require.NoError(t, err)
	result := await(t, h)

	assert.Equal(t, domain.BuildResult{Status: domain.StatusFailed, LogLines: []string{cloneFailure}}, result)
	assert.Zero(t, e.rt.Created())
	assert.Empty(t, stagingEntries(t, e.root))
}

func TestStagingFailureCreatesNoContainer(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-directory")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	e := newEnvWithRoot(t, 1, 1, blocker)

	h, err := e.manager.Schedule(shell("echo never"))
	require.NoError(t, err)
	result := await(t, h)

	assert.Equal(t, domain.BuildResult{Status: domain.StatusFailed, LogLines: []string{StagingFailedLine}}, result)
	assert.Zero(t, e.rt.Created())
}

func TestProvisioningFailureRemovesStaging(t *testing.T) {
	e := newEnv(t, 1, 1)
	e.rt.CreateErr = assert.AnError

	h, err := e.manager.Schedule(shell("echo never"))
	require.NoError(t, err)
	result := await(t, h)

	assert.Equal(t, domain.BuildResult{Status: domain.StatusFailed, LogLines: []string{ProvisioningFailedLine}}, result)
	assert.Empty(t, stagingEntries(t, e.root))
}

func TestUnknownInstructionKindFails(t *testing.T) {
	e := newEnv(t, 1, 1)

	req := shell("")
	req.Instruction = unsupported{}
	h, err := e.manager.Schedule(req)
	require.NoError(t, err)
	result := await(t, h)

	assert.Equal(t, domain.StatusFailed, result.Status)
	require.Len(t, result.LogLines, 1)
	assert.Contains(t, result.LogLines[0], "[FATAL]")
	assert.Contains(t, result.LogLines[0], "gradle")
	assert.Zero(t, e.rt.Created())
	assert.Empty(t, stagingEntries(t, e.root))
}

func TestPanickingPreparerIsContained(t *testing.T) {
	e := newEnv(t, 1, 1)

	req := shell("echo never")
	req.Source = panickingSource{}
	h, err := e.manager.Schedule(req)
	require.NoError(t, err)
	result := await(t, h)

	assert.Equal(t, domain.BuildResult{Status: domain.StatusFailed, LogLines: []string{InternalErrorLine}}, result)
	assert.Empty(t, stagingEntries(t, e.root))
}

func TestRunnerWalksEveryState(t *testing.T) {
	e := newEnv(t, 1, 1)

	var (
		mu     sync.Mutex
		states []State
	)
	track := func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	result := e.runner.Execute(t.Context(), domain.NewBuildID(), shell("echo hi"), track)
	require.True(t, result.Succeeded())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{
		StateStaging,
		StatePreparingSource,
		StateResolvingInstruction,
		StateProvisioningContainer,
		StateRunning,
		StateCapturingLog,
		StateAwaitingExit,
		StateCleaningUp,
		StateDone,
	}, states)
}

func TestRunnerMountsStagingDirectory(t *testing.T) {
	e := newEnv(t, 1, 1)

	req := shell("sleep 100")
	req.Source = fileSource{}
	h, err := e.manager.Schedule(req)
	require.NoError(t, err)

	var id string
	select {
	case id = <-e.rt.Started():
	case <-time.After(5 * time.Second):
		t.Fatal("container did not start")
	}

	spec, ok := e.rt.Spec(id)
	require.True(t, ok)
	staging := filepath.Join(e.root, h.ID().String())
	assert.Equal(t, map[string]string{staging: "/workspace"}, spec.Mounts)
	assert.Equal(t, "/workspace", spec.WorkingDir)
	assert.Equal(t, h.ID().String(), spec.Labels[lifecycle.BuildLabel])
	assert.Equal(t, []string{"sh", "-c", "sleep 100"}, spec.Command)
	assert.FileExists(t, filepath.Join(staging, "marker"))

	h.Cancel()
	result := await(t, h)
	assert.Equal(t, []string{CancelledLine}, result.LogLines)
	assert.NoDirExists(t, staging)
	assert.Zero(t, e.rt.Remaining())
}

func TestRunnerResolvesRelativeStagingRoot(t *testing.T) {
	t.Chdir(t.TempDir())
	e := newEnvWithRoot(t, 1, 1, "staging")

	h, err := e.manager.Schedule(shell("sleep 100"))
	require.NoError(t, err)

	var id string
	select {
	case id = <-e.rt.Started():
	case <-time.After(5 * time.Second):
		t.Fatal("container did not start")
	}

	spec, ok := e.rt.Spec(id)
	require.True(t, ok)
	require.Len(t, spec.Mounts, 1)
	for host := range spec.Mounts {
		assert.True(t, filepath.IsAbs(host), host)
		assert.Equal(t, h.ID().String(), filepath.Base(host))
		assert.DirExists(t, host)
	}

	h.Cancel()
	await(t, h)
}
