// Package preparers resolves the strategies that fill a build's staging
// directory before its container starts.
package preparers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/melih/lighthouse-ci/internal/core/domain"
	"github.com/melih/lighthouse-ci/internal/core/variant"
)

// Registry resolves the preparer kinds it was built with.
type Registry struct {
	*variant.Registry[domain.DirectoryPreparer]
}

// NewRegistry returns a registry with no kinds.
func NewRegistry() *Registry {
	return &Registry{variant.New[domain.DirectoryPreparer]("source")}
}

// Default returns a registry holding only the no-op kind. Preparers that
// need network access are registered by the caller.
func Default() *Registry {
	r := NewRegistry()
	r.Register(NoneKind, decodeNone)
	return r
}

// Resolve returns p if its kind is registered.
func (r *Registry) Resolve(p domain.DirectoryPreparer) (domain.DirectoryPreparer, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: no source", domain.ErrInvalidRequest)
	}
	if err := r.Check(p); err != nil {
		return nil, err
	}
	return p, nil
}

const NoneKind = "none"

// None leaves the staging directory empty.
type None struct{}

func (None) Kind() string { return NoneKind }

func (None) Prepare(context.Context, string, domain.LogSink) error { return nil }

func decodeNone(json.RawMessage) (domain.DirectoryPreparer, error) {
	return None{}, nil
}
