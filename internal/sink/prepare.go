package sink

import (
	"context"
	"sync"
)

// Prepare runs a sink's reachability step, such as a ping or topic
// creation, on first delivery instead of at construction. An unreachable
// backend then fails a delivery like any other sink error. The step repeats
// on every call until it succeeds once.
type Prepare struct {
	mu    sync.Mutex
	done  bool
	setup func(ctx context.Context) error
}

// NewPrepare returns a Prepare for setup. A nil setup is always ready.
func NewPrepare(setup func(ctx context.Context) error) *Prepare {
	return &Prepare{setup: setup, done: setup == nil}
}

// Ensure runs setup unless it already succeeded.
func (p *Prepare) Ensure(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return nil
	}
	if err := p.setup(ctx); err != nil {
		return err
	}
	p.done = true
	return nil
}
