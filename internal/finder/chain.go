package finder

import (
	"context"
	"errors"
	"sync"
)

// ErrNotRecognized is returned by Chain.Resolve when no registered finder
// recognizes the request. Callers treat it as an ordinary "not found" and
// fall back to whatever resolution the host performs on its own.
var ErrNotRecognized = errors.New("import path not recognized by any finder")

// Chain is an ordered, shared list of finders. Resolution walks the list
// in registration order and hands the request to the first finder whose
// CanResolve returns true.
type Chain struct {
	mu      sync.RWMutex
	finders []Finder
}

// NewChain returns an empty chain.
func NewChain() *Chain {
	return &Chain{}
}

// Register appends a finder to the chain. Registering a finder whose name
// is already present is a no-op; the return value reports whether the
// finder was actually added.
func (c *Chain) Register(f Finder) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.finders {
		if existing.Name() == f.Name() {
			return false
		}
	}
	c.finders = append(c.finders, f)
	return true
}

// Registered reports whether a finder with the given name is in the chain.
func (c *Chain) Registered(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, f := range c.finders {
		if f.Name() == name {
			return true
		}
	}
	return false
}

// Resolve walks the chain. The first finder that recognizes the request
// owns it: its result (or error) is final, matching the host convention
// that a finder which claims an import does not fall through on failure.
func (c *Chain) Resolve(ctx context.Context, req Request) (Location, error) {
	c.mu.RLock()
	finders := make([]Finder, len(c.finders))
	copy(finders, c.finders)
	c.mu.RUnlock()

	for _, f := range finders {
		if !f.CanResolve(req) {
			continue
		}
		return f.Resolve(ctx, req)
	}
	return Location{}, ErrNotRecognized
}

var defaultChain = NewChain()

// Default returns the process-wide chain.
func Default() *Chain {
	return defaultChain
}

// Register adds a finder to the process-wide chain. It is the single
// registration entry point for hosts that share one resolution pipeline;
// duplicate registrations are no-ops.
func Register(f Finder) bool {
	return defaultChain.Register(f)
}
