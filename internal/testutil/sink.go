package testutil

import "sync"

// LineRecorder is a domain.LogSink that keeps every line in memory.
type LineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *LineRecorder) WriteLine(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

// Lines returns a copy of the recorded lines.
func (r *LineRecorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}
