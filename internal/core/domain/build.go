package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// BuildID uniquely identifies a scheduled build for the lifetime of the process.
type BuildID = uuid.UUID

// NewBuildID returns a fresh random identifier.
func NewBuildID() BuildID {
	return uuid.New()
}

// ParseBuildID parses the canonical string form of a build identifier.
func ParseBuildID(s string) (BuildID, error) {
	return uuid.Parse(s)
}

// LogSink receives build output one line at a time.
type LogSink interface {
	WriteLine(line string)
}

// BuildInstruction describes what to run inside the build container.
type BuildInstruction interface {
	Kind() string
	Image() string
	Command() []string
}

// DirectoryPreparer populates a staging directory before the container runs.
// Diagnostics meant for the build log are written to log.
type DirectoryPreparer interface {
	Kind() string
	Prepare(ctx context.Context, dir string, log LogSink) error
}

// BuildRequest is a build submitted by a caller. It is not modified after
// submission.
type BuildRequest struct {
	Instruction BuildInstruction
	Source      DirectoryPreparer
	Timeout     time.Duration // zero means no timeout
	CallbackURL string
}

// Status is the terminal classification of a build.
type Status string

const (
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// BuildResult is produced exactly once per build.
type BuildResult struct {
	Status   Status   `json:"status"`
	LogLines []string `json:"logLines"`
}

// Succeeded reports whether the build finished with a zero exit code.
func (r BuildResult) Succeeded() bool {
	return r.Status == StatusSucceeded
}
