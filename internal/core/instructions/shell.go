package instructions

import (
	"encoding/json"
	"errors"

	"github.com/melih/lighthouse-ci/internal/core/domain"
)

const ShellKind = "shell"

// Shell runs a script with sh -c in an arbitrary image.
type Shell struct {
	ImageName string `json:"image"`
	Script    string `json:"command"`
}

func (s *Shell) Kind() string { return ShellKind }

func (s *Shell) Image() string { return s.ImageName }

func (s *Shell) Command() []string {
	return []string{"sh", "-c", s.Script}
}

func decodeShell(raw json.RawMessage) (domain.BuildInstruction, error) {
	s := &Shell{}
	if err := json.Unmarshal(raw, s); err != nil {
		return nil, err
	}
	if s.ImageName == "" {
		return nil, errors.New("image is required")
	}
	if s.Script == "" {
		return nil, errors.New("command is required")
	}
	return s, nil
}
