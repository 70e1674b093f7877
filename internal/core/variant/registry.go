// Package variant decodes JSON documents tagged with a "type" field into
// one of a fixed set of registered implementations.
package variant

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/melih/lighthouse-ci/internal/core/domain"
)

// Kinded is implemented by every registered variant.
type Kinded interface {
	Kind() string
}

// DecodeFunc builds a variant from its full JSON document, "type" included.
type DecodeFunc[T Kinded] func(raw json.RawMessage) (T, error)

// Registry maps kinds to decoders. All registration happens at
// construction; a Registry is safe for concurrent reads afterwards.
type Registry[T Kinded] struct {
	name     string
	decoders map[string]DecodeFunc[T]
}

// New returns an empty registry. name is used in error messages.
func New[T Kinded](name string) *Registry[T] {
	return &Registry[T]{name: name, decoders: make(map[string]DecodeFunc[T])}
}

// Register adds a decoder for kind. Registering a kind twice panics.
func (r *Registry[T]) Register(kind string, decode DecodeFunc[T]) {
	if kind == "" || decode == nil {
		panic(fmt.Sprintf("variant: invalid %s registration", r.name))
	}
	if _, dup := r.decoders[kind]; dup {
		panic(fmt.Sprintf("variant: %s kind %q registered twice", r.name, kind))
	}
	r.decoders[kind] = decode
}

// Known reports whether kind has been registered.
func (r *Registry[T]) Known(kind string) bool {
	_, ok := r.decoders[kind]
	return ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry[T]) Kinds() []string {
	kinds := make([]string, 0, len(r.decoders))
	for k := range r.decoders {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Decode reads the "type" field of raw and hands raw to the matching
// decoder.
func (r *Registry[T]) Decode(raw json.RawMessage) (T, error) {
	var zero T
	if len(raw) == 0 || string(raw) == "null" {
		return zero, fmt.Errorf("%w: missing %s", domain.ErrInvalidRequest, r.name)
	}

	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &tag); err != nil {
		return zero, fmt.Errorf("%w: malformed %s: %w", domain.ErrInvalidRequest, r.name, err)
	}
	if tag.Type == "" {
		return zero, fmt.Errorf("%w: %s has no type", domain.ErrInvalidRequest, r.name)
	}

	decode, ok := r.decoders[tag.Type]
	if !ok {
		return zero, fmt.Errorf("%w: %s type %q (known: %s)", domain.ErrUnknownKind, r.name, tag.Type, strings.Join(r.Kinds(), ", "))
	}

	v, err := decode(raw)
	if err != nil {
		return zero, fmt.Errorf("%w: %s %q: %w", domain.ErrInvalidRequest, r.name, tag.Type, err)
	}
	return v, nil
}

// Check returns domain.ErrUnknownKind unless v's kind is registered.
func (r *Registry[T]) Check(v T) error {
	if !r.Known(v.Kind()) {
		return fmt.Errorf("%w: %s type %q", domain.ErrUnknownKind, r.name, v.Kind())
	}
	return nil
}
