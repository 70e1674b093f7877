package build

import "sync"

// lineBuffer collects the log of one build. Preparers, the container log
// reader and the runner itself all write to it.
type lineBuffer struct {
	mu    sync.Mutex
	lines []string
}

func (b *lineBuffer) WriteLine(line string) {
	b.mu.Lock()
	b.lines = append(b.lines, line)
	b.mu.Unlock()
}

func (b *lineBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}
