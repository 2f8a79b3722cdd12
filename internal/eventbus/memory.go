package eventbus

import (
	"context"
	"sync"

	"github.com/juju/errors"

	"subjectbus/internal/core"
	"subjectbus/internal/subject"
)

// MemoryBus is an in-process bus shared by the endpoints attached to it.
// Send delivers synchronously to every attached endpoint with a matching
// watch, including the sender.
type MemoryBus struct {
	mu        sync.RWMutex
	endpoints map[*MemoryEndpoint]struct{}
}

// NewMemoryBus returns an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{endpoints: make(map[*MemoryEndpoint]struct{})}
}

// Endpoint attaches a new endpoint to the bus.
func (b *MemoryBus) Endpoint() *MemoryEndpoint {
	e := &MemoryEndpoint{bus: b, watches: make(map[string]subject.Pattern)}
	b.mu.Lock()
	b.endpoints[e] = struct{}{}
	b.mu.Unlock()
	return e
}

func (b *MemoryBus) detach(e *MemoryEndpoint) {
	b.mu.Lock()
	delete(b.endpoints, e)
	b.mu.Unlock()
}

func (b *MemoryBus) deliver(msg core.Message) error {
	subj, err := subject.ParseSubject(msg.Subject)
	if err != nil {
		return errors.Trace(err)
	}
	b.mu.RLock()
	targets := make([]*MemoryEndpoint, 0, len(b.endpoints))
	for e := range b.endpoints {
		targets = append(targets, e)
	}
	b.mu.RUnlock()

	for _, e := range targets {
		e.receive(subj, msg)
	}
	return nil
}

// MemoryEndpoint is an Endpoint on a MemoryBus.
type MemoryEndpoint struct {
	bus *MemoryBus

	mu      sync.RWMutex
	route   RouteFunc
	watches map[string]subject.Pattern
	closed  bool
}

// Send implements Endpoint.
func (e *MemoryEndpoint) Send(ctx context.Context, msg core.Message) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return ErrEndpointClosed
	}
	return e.bus.deliver(msg)
}

// Watch implements Endpoint.
func (e *MemoryEndpoint) Watch(ctx context.Context, pattern string) error {
	p, err := subject.ParsePattern(pattern)
	if err != nil {
		return errors.Trace(err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEndpointClosed
	}
	e.watches[pattern] = p
	return nil
}

// Unwatch implements Endpoint.
func (e *MemoryEndpoint) Unwatch(ctx context.Context, pattern string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.watches, pattern)
	return nil
}

// Listen implements Endpoint.
func (e *MemoryEndpoint) Listen(route RouteFunc) {
	e.mu.Lock()
	e.route = route
	e.mu.Unlock()
}

// Watching returns the number of watched patterns.
func (e *MemoryEndpoint) Watching() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.watches)
}

// Close implements Endpoint.
func (e *MemoryEndpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.watches = make(map[string]subject.Pattern)
	e.mu.Unlock()
	e.bus.detach(e)
	return nil
}

func (e *MemoryEndpoint) receive(subj subject.Subject, msg core.Message) {
	e.mu.RLock()
	route := e.route
	matched := false
	if !e.closed && route != nil {
		for _, p := range e.watches {
			if p.Matches(subj) {
				matched = true
				break
			}
		}
	}
	e.mu.RUnlock()
	if matched {
		route(msg)
	}
}

var _ Endpoint = (*MemoryEndpoint)(nil)
