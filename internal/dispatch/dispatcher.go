// Package dispatch routes inbound messages to subscription workers.
//
// The Dispatcher never blocks on a handler: each subscription owns a
// bounded queue and a goroutine that drains it. When a queue is full the
// oldest message is evicted and counted, so a slow subscriber cannot stall
// the transport or other subscribers.
package dispatch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"

	"subjectbus/internal/core"
	"subjectbus/internal/subject"
)

// DefaultQueueCapacity bounds a subscription queue when nothing else is
// configured.
const DefaultQueueCapacity = 1024

// Config configures a Dispatcher. Zero fields take defaults.
type Config struct {
	QueueCapacity int
	Reporter      Reporter
	Clock         clock.Clock
	Logger        core.Logger
}

// Counters are dispatcher-wide totals.
type Counters struct {
	Routed    uint64
	Unmatched uint64
	Malformed uint64
}

// Dispatcher owns the subscription registry and routes messages into it.
type Dispatcher struct {
	registry *Registry
	clock    clock.Clock
	logger   core.Logger

	// draining holds unsubscribed workers until they stop, so Close can
	// still wait on or discard them. mu also orders Unsubscribe against
	// Close.
	mu       sync.Mutex
	draining map[ID]*Worker

	routed    atomic.Uint64
	unmatched atomic.Uint64
	malformed atomic.Uint64
}

// NewDispatcher returns a dispatcher with no subscriptions.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	if cfg.Reporter == nil {
		cfg.Reporter = NewLogReporter(cfg.Logger)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	return &Dispatcher{
		registry: NewRegistry(cfg.QueueCapacity, cfg.Reporter),
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		draining: make(map[ID]*Worker),
	}
}

// Route delivers msg to every matching subscription's queue. It is safe
// for concurrent use and never waits on a handler.
func (d *Dispatcher) Route(msg core.Message) {
	subj, err := subject.ParseSubject(msg.Subject)
	if err != nil {
		d.malformed.Add(1)
		d.logger.Debugf("dropping inbound message: %v", err)
		return
	}
	workers := d.registry.matching(subj)
	if len(workers) == 0 {
		d.unmatched.Add(1)
		return
	}
	accepted := false
	for _, w := range workers {
		if w.Enqueue(msg) {
			accepted = true
			continue
		}
		d.logger.Tracef("subscription %d no longer active, skipped %q", w.id, msg.Subject)
	}
	if accepted {
		d.routed.Add(1)
	} else {
		d.unmatched.Add(1)
	}
}

// Subscribe registers handler for pattern. A capacity of zero or less
// uses the configured default.
func (d *Dispatcher) Subscribe(pattern subject.Pattern, handler core.Handler, capacity int) (*Worker, error) {
	w, err := d.registry.add(pattern, handler, capacity)
	if err != nil {
		return nil, errors.Trace(err)
	}
	d.logger.Debugf("subscription %d added for %q", w.id, pattern)
	return w, nil
}

// Unsubscribe removes id and lets its worker drain. It returns false for
// unknown ids.
func (d *Dispatcher) Unsubscribe(id ID) bool {
	d.mu.Lock()
	w := d.registry.Remove(id)
	if w == nil {
		d.mu.Unlock()
		return false
	}
	d.pruneLocked()
	d.draining[id] = w
	d.mu.Unlock()
	w.Drain()
	d.logger.Debugf("subscription %d draining", id)
	return true
}

// Stats returns per-subscription stats in registration order.
func (d *Dispatcher) Stats() []Stats {
	return d.registry.Snapshot()
}

// Counters returns dispatcher-wide totals.
func (d *Dispatcher) Counters() Counters {
	return Counters{
		Routed:    d.routed.Load(),
		Unmatched: d.unmatched.Load(),
		Malformed: d.malformed.Load(),
	}
}

// Close stops every subscription. With a zero timeout pending messages
// are discarded at once. Otherwise workers drain and Close waits up to
// timeout for them; on expiry the rest is discarded and a timeout error
// returned.
func (d *Dispatcher) Close(timeout time.Duration) error {
	d.mu.Lock()
	workers := d.registry.Close()
	d.pruneLocked()
	for _, w := range d.draining {
		workers = append(workers, w)
	}
	d.draining = make(map[ID]*Worker)
	d.mu.Unlock()
	if timeout <= 0 {
		discarded := 0
		for _, w := range workers {
			discarded += w.Discard()
		}
		if discarded > 0 {
			d.logger.Infof("closed without draining, %d messages discarded", discarded)
		}
		return nil
	}

	for _, w := range workers {
		w.Drain()
	}
	done := make(chan error, 1)
	go func() {
		var g errgroup.Group
		for _, w := range workers {
			g.Go(w.Wait)
		}
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		return errors.Trace(err)
	case <-d.clock.After(timeout):
		discarded := 0
		for _, w := range workers {
			discarded += w.Discard()
		}
		return errors.Timeoutf("draining %d subscriptions after %v, %d messages discarded", len(workers), timeout, discarded)
	}
}

// pruneLocked forgets draining workers that have stopped.
func (d *Dispatcher) pruneLocked() {
	for id, w := range d.draining {
		select {
		case <-w.Done():
			delete(d.draining, id)
		default:
		}
	}
}
