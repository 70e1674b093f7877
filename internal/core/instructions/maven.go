package instructions

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/melih/lighthouse-ci/internal/core/domain"
)

const (
	MavenKind  = "maven"
	DevhubKind = "devhub"

	MavenImage  = "java-maven"
	DevhubImage = "devhub"

	// displayWrapper starts a virtual X display around the wrapped command.
	displayWrapper = "with-xvfb"
)

// Maven runs the given lifecycle phases in batch mode.
type Maven struct {
	WithDisplay bool     `json:"withDisplay"`
	Phases      []string `json:"phases"`
}

func (m *Maven) Kind() string { return MavenKind }

func (m *Maven) Image() string { return MavenImage }

func (m *Maven) Command() []string {
	return mavenCommand(m.WithDisplay, m.Phases)
}

// Phases may hold several space-separated goals in one entry, so the
// command line is split on whitespace after joining.
func mavenCommand(display bool, phases []string) []string {
	var b strings.Builder
	if display {
		b.WriteString(displayWrapper)
		b.WriteByte(' ')
	}
	b.WriteString("mvn -B")
	for _, phase := range phases {
		b.WriteByte(' ')
		b.WriteString(phase)
	}
	return strings.Fields(b.String())
}

func decodeMaven(raw json.RawMessage) (domain.BuildInstruction, error) {
	m := &Maven{}
	if err := json.Unmarshal(raw, m); err != nil {
		return nil, err
	}
	if len(strings.Fields(strings.Join(m.Phases, " "))) == 0 {
		return nil, errors.New("at least one phase is required")
	}
	return m, nil
}

// Devhub runs the test phase of a course project with a display attached.
type Devhub struct{}

func (Devhub) Kind() string { return DevhubKind }

func (Devhub) Image() string { return DevhubImage }

func (Devhub) Command() []string {
	return mavenCommand(true, []string{"test"})
}

func decodeDevhub(json.RawMessage) (domain.BuildInstruction, error) {
	return Devhub{}, nil
}
