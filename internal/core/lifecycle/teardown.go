package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/melih/lighthouse-ci/internal/core/domain"
)

// DefaultTeardownInterval is the pause between a stop or remove request and
// the listing that checks whether it took effect.
const DefaultTeardownInterval = time.Second

// teardown stops and removes a container, re-issuing each request until the
// runtime listing confirms it. Engines acknowledge stop and remove before
// the state change is visible, so a single call is not enough.
//
// Retries are unbounded; only ctx ends the loop early.
func (m *Manager) teardown(ctx context.Context, id string) error {
	logger := m.logger.With("container", shortID(id))

	for attempt := 1; ; attempt++ {
		if err := m.runtime.StopContainer(ctx, id); err != nil {
			logger.Warn("stop request failed", "attempt", attempt, "error", err)
		}
		if err := m.pause(ctx); err != nil {
			return fmt.Errorf("%w: stop %s: %w", domain.ErrTeardown, shortID(id), err)
		}

		c, found, err := m.lookup(ctx, id)
		if err != nil {
			logger.Warn("failed to list containers", "attempt", attempt, "error", err)
			continue
		}
		if Stopped(c, found) {
			break
		}
		logger.Debug("container still running", "attempt", attempt, "state", c.State)
	}

	for attempt := 1; ; attempt++ {
		if err := m.runtime.RemoveContainer(ctx, id); err != nil {
			logger.Warn("remove request failed", "attempt", attempt, "error", err)
		}
		if err := m.pause(ctx); err != nil {
			return fmt.Errorf("%w: remove %s: %w", domain.ErrTeardown, shortID(id), err)
		}

		_, found, err := m.lookup(ctx, id)
		if err != nil {
			logger.Warn("failed to list containers", "attempt", attempt, "error", err)
			continue
		}
		if !found {
			logger.Debug("container removed")
			return nil
		}
	}
}

// Stopped is the confirmation predicate for a stop request: the listing no
// longer shows the container, or shows it without a live process.
func Stopped(c domain.Container, found bool) bool {
	return !found || !c.Running()
}

func (m *Manager) pause(ctx context.Context) error {
	t := time.NewTimer(m.interval)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// lookup finds a container by full or abbreviated id.
func (m *Manager) lookup(ctx context.Context, id string) (domain.Container, bool, error) {
	containers, err := m.runtime.ListContainers(ctx, nil)
	if err != nil {
		return domain.Container{}, false, err
	}
	for _, c := range containers {
		if c.ID == id || strings.HasPrefix(c.ID, id) {
			return c, true, nil
		}
	}
	return domain.Container{}, false, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
