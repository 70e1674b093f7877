package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/melih/lighthouse-ci/internal/core/domain"
)

// Script describes the behaviour of one fake container.
type Script struct {
	Output   []string // Chunks written to the attach stream, in order.
	ExitCode int64    // Exit code reported when the container ends on its own.
	Block    bool     // Keep running until stopped.
}

// FakeRuntime is an in-memory ports.ContainerRuntime.
type FakeRuntime struct {
	// Script picks the behaviour of a new container. Defaults to ShellScript.
	Script func(spec domain.JobSpec) Script

	CreateErr error // Returned by every CreateContainer call when set.
	StartErr  error // Returned by every StartContainer call when set.
	AttachErr error // Returned by every AttachContainer call when set.

	// StopLag and RemoveLag are the number of listings that still show the
	// old state after a stop or remove request.
	StopLag   int
	RemoveLag int

	mu         sync.Mutex
	containers map[string]*fakeContainer
	nextID     int
	created    int
	running    int
	maxRunning int
	stopCalls  map[string]int
	started    chan string
}

type fakeContainer struct {
	id            string
	spec          domain.JobSpec
	script        Script
	state         string
	exitCode      int64
	exited        chan struct{}
	stopPending   int
	removePending int
	removing      bool
}

// NewFakeRuntime returns an empty runtime.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		containers: make(map[string]*fakeContainer),
		stopCalls:  make(map[string]int),
		started:    make(chan string, 256),
	}
}

// Started delivers the id of every container as it starts.
func (f *FakeRuntime) Started() <-chan string {
	return f.started
}

func (f *FakeRuntime) CreateContainer(_ context.Context, spec domain.JobSpec) (domain.ContainerHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateErr != nil {
		return domain.ContainerHandle{}, f.CreateErr
	}

	script := ShellScript(spec)
	if f.Script != nil {
		script = f.Script(spec)
	}

	f.nextID++
	f.created++
	c := &fakeContainer{
		id:       fmt.Sprintf("%064d", f.nextID),
		spec:     spec,
		script:   script,
		state:    "created",
		exitCode: -1,
		exited:   make(chan struct{}),
	}
	f.containers[c.id] = c
	return domain.ContainerHandle{ID: c.id}, nil
}

func (f *FakeRuntime) StartContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.StartErr != nil {
		return f.StartErr
	}
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("no such container: %s", id)
	}
	if c.state != "created" {
		return fmt.Errorf("container %s is %s", id, c.state)
	}

	c.state = "running"
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	select {
	case f.started <- id:
	default:
	}

	if !c.script.Block {
		f.exitLocked(c, c.script.ExitCode)
	}
	return nil
}

// exitLocked moves a running container to the exited state.
func (f *FakeRuntime) exitLocked(c *fakeContainer, code int64) {
	if c.state != "running" {
		return
	}
	c.state = "exited"
	c.exitCode = code
	f.running--
	close(c.exited)
}

func (f *FakeRuntime) AttachContainer(_ context.Context, id string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.AttachErr != nil {
		return nil, f.AttachErr
	}
	c, ok := f.containers[id]
	if !ok {
		return nil, fmt.Errorf("no such container: %s", id)
	}

	pr, pw := io.Pipe()
	closed := make(chan struct{})
	go func() {
		for _, chunk := range c.script.Output {
			if _, err := io.WriteString(pw, chunk); err != nil {
				return
			}
		}
		select {
		case <-c.exited:
			pw.Close()
		case <-closed:
		}
	}()
	return &fakeStream{PipeReader: pr, closed: closed}, nil
}

type fakeStream struct {
	*io.PipeReader
	once   sync.Once
	closed chan struct{}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return s.PipeReader.Close()
}

func (f *FakeRuntime) WaitContainer(ctx context.Context, id string) (int64, error) {
	f.mu.Lock()
	c, ok := f.containers[id]
	f.mu.Unlock()
	if !ok {
		return -1, fmt.Errorf("no such container: %s", id)
	}

	select {
	case <-c.exited:
		f.mu.Lock()
		defer f.mu.Unlock()
		return c.exitCode, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

func (f *FakeRuntime) StopContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stopCalls[id]++
	c, ok := f.containers[id]
	if !ok || c.state != "running" {
		return nil
	}
	if c.stopPending == 0 {
		c.stopPending = f.StopLag + 1
		f.tickLocked(c)
	}
	return nil
}

func (f *FakeRuntime) RemoveContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.containers[id]
	if !ok || c.removing {
		return nil
	}
	// Forced removal kills a running container first.
	f.exitLocked(c, 137)
	c.removing = true
	c.removePending = f.RemoveLag + 1
	f.tickLocked(c)
	return nil
}

// tickLocked advances pending stop and remove requests by one step.
func (f *FakeRuntime) tickLocked(c *fakeContainer) {
	if c.stopPending > 0 {
		c.stopPending--
		if c.stopPending == 0 {
			f.exitLocked(c, 137)
		}
	}
	if c.removing && c.removePending > 0 {
		c.removePending--
		if c.removePending == 0 {
			delete(f.containers, c.id)
		}
	}
}

func (f *FakeRuntime) ListContainers(_ context.Context, labels map[string]string) ([]domain.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []domain.Container
	for _, c := range f.containers {
		f.tickLocked(c)
	}
	for _, c := range f.containers {
		if !matchLabels(c.spec.Labels, labels) {
			continue
		}
		out = append(out, domain.Container{
			ID:     c.id,
			Image:  c.spec.Image,
			State:  c.state,
			Status: c.state,
			Labels: c.spec.Labels,
		})
	}
	return out, nil
}

func matchLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// Created returns the number of containers ever created.
func (f *FakeRuntime) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// Running returns the number of containers currently running.
func (f *FakeRuntime) Running() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// MaxRunning returns the highest number of containers that ran at once.
func (f *FakeRuntime) MaxRunning() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxRunning
}

// Exists reports whether the container has not been removed yet.
func (f *FakeRuntime) Exists(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.containers[id]
	return ok
}

// Remaining returns the number of containers not yet removed.
func (f *FakeRuntime) Remaining() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

// StopCalls returns how often a stop was requested for the container.
func (f *FakeRuntime) StopCalls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls[id]
}

// Spec returns the job spec a container was created from.
func (f *FakeRuntime) Spec(id string) (domain.JobSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return domain.JobSpec{}, false
	}
	return c.spec, true
}

// Finish makes a blocking container exit with the given code.
func (f *FakeRuntime) Finish(id string, code int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return errors.New("no such container")
	}
	f.exitLocked(c, code)
	return nil
}

// ShellScript interprets "sh -c" commands made of ';'-separated echo, exit
// and sleep statements. Anything else exits with code 0 and no output.
func ShellScript(spec domain.JobSpec) Script {
	var script Script
	if len(spec.Command) == 0 {
		return script
	}

	for _, stmt := range strings.Split(spec.Command[len(spec.Command)-1], ";") {
		stmt = strings.TrimSpace(stmt)
		switch {
		case strings.HasPrefix(stmt, "echo "):
			script.Output = append(script.Output, strings.TrimPrefix(stmt, "echo ")+"\n")
		case strings.HasPrefix(stmt, "exit "):
			code, err := strconv.ParseInt(strings.TrimPrefix(stmt, "exit "), 10, 64)
			if err == nil {
				script.ExitCode = code
			}
			return script
		case strings.HasPrefix(stmt, "sleep "):
			script.Block = true
			return script
		}
	}
	return script
}
