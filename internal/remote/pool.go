package remote

import (
	"context"
	"sync"
)

// Pool bounds the number of concurrent sessions per target. The default
// of one serializes mutating commands against a host while still letting
// independent targets proceed in parallel.
type Pool struct {
	dialer *Dialer
	size   int

	mu    sync.Mutex
	slots map[string]*targetSlot
}

// targetSlot is refcounted so the map entry is dropped once the last
// waiter for a target is gone; the pool does not grow with the set of
// targets ever seen.
type targetSlot struct {
	ch   chan struct{}
	refs int
}

func NewPool(dialer *Dialer) *Pool {
	return &Pool{
		dialer: dialer,
		size:   dialer.cfg.MaxSessionsPerTarget,
		slots:  make(map[string]*targetSlot),
	}
}

func (p *Pool) acquire(ctx context.Context, target Target) (release func(), err error) {
	id := target.ID()

	p.mu.Lock()
	slot, ok := p.slots[id]
	if !ok {
		slot = &targetSlot{ch: make(chan struct{}, p.size)}
		p.slots[id] = slot
	}
	slot.refs++
	p.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
		return func() {
			<-slot.ch
			p.unref(id, slot)
		}, nil
	case <-ctx.Done():
		p.unref(id, slot)
		return nil, ctx.Err()
	}
}

func (p *Pool) unref(id string, slot *targetSlot) {
	p.mu.Lock()
	slot.refs--
	if slot.refs == 0 {
		delete(p.slots, id)
	}
	p.mu.Unlock()
}

// WithSession acquires a per-target slot, opens a session and guarantees
// both are released on every exit path, including panics in fn.
func (p *Pool) WithSession(ctx context.Context, target Target, fn func(*Session) error) error {
	release, err := p.acquire(ctx, target)
	if err != nil {
		return err
	}
	defer release()

	session, err := p.dialer.Open(ctx, target)
	if err != nil {
		return err
	}
	defer session.Close()

	return fn(session)
}
