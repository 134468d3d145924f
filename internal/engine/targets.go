package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ramboxcrty/GameRMCR/internal/model"
	"github.com/ramboxcrty/GameRMCR/internal/present"
)

// ErrNoTarget means no presentation entry point is known for a process.
var ErrNoTarget = errors.New("engine: no presentation target for process")

// Resolver finds the presentation entry point of a host process.
type Resolver interface {
	Resolve(ctx context.Context, p model.Process) (present.Target, error)
}

// Registry is a Resolver backed by explicitly registered targets, keyed by
// process identity.
type Registry struct {
	mu      sync.RWMutex
	targets map[string]present.Target
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{targets: make(map[string]present.Target)}
}

// Register makes target the entry point for the named process.
func (r *Registry) Register(name string, target present.Target) {
	r.mu.Lock()
	r.targets[model.NormalizeName(name)] = target
	r.mu.Unlock()
}

// Unregister forgets the entry point of the named process.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.targets, model.NormalizeName(name))
	r.mu.Unlock()
}

// Resolve implements Resolver.
func (r *Registry) Resolve(_ context.Context, p model.Process) (present.Target, error) {
	r.mu.RLock()
	t, ok := r.targets[p.Identity()]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTarget, p.Identity())
	}
	return t, nil
}
