// Package instructions turns build instructions into the image and command
// a build container runs.
package instructions

import (
	"fmt"

	"github.com/melih/lighthouse-ci/internal/core/domain"
	"github.com/melih/lighthouse-ci/internal/core/variant"
)

// Registry resolves the instruction kinds it was built with.
type Registry struct {
	*variant.Registry[domain.BuildInstruction]
}

// NewRegistry returns a registry with no kinds.
func NewRegistry() *Registry {
	return &Registry{variant.New[domain.BuildInstruction]("instruction")}
}

// Default returns a registry with the shell, maven and devhub kinds.
func Default() *Registry {
	r := NewRegistry()
	r.Register(ShellKind, decodeShell)
	r.Register(MavenKind, decodeMaven)
	r.Register(DevhubKind, decodeDevhub)
	return r
}

// Resolve returns the image and command for instr.
func (r *Registry) Resolve(instr domain.BuildInstruction) (string, []string, error) {
	if instr == nil {
		return "", nil, fmt.Errorf("%w: no instruction", domain.ErrInvalidRequest)
	}
	if err := r.Check(instr); err != nil {
		return "", nil, err
	}

	image, command := instr.Image(), instr.Command()
	if image == "" {
		return "", nil, fmt.Errorf("%w: %s instruction has no image", domain.ErrInvalidRequest, instr.Kind())
	}
	if len(command) == 0 {
		return "", nil, fmt.Errorf("%w: %s instruction has no command", domain.ErrInvalidRequest, instr.Kind())
	}
	return image, command, nil
}
