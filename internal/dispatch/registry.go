package dispatch

import (
	"sync"
	"sync/atomic"

	"subjectbus/internal/core"
	"subjectbus/internal/subject"
)

// Registry holds the active subscriptions. Writers serialise on a mutex
// and publish a fresh immutable snapshot; readers load the snapshot
// without locking, so a lookup sees either the old or the new membership.
type Registry struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[[]*Worker]
	lastID   ID
	closed   bool

	capacity int
	reporter Reporter
}

// NewRegistry returns an empty registry. Subscriptions added without an
// explicit capacity get defaultCapacity.
func NewRegistry(defaultCapacity int, reporter Reporter) *Registry {
	if defaultCapacity <= 0 {
		defaultCapacity = DefaultQueueCapacity
	}
	if reporter == nil {
		reporter = NewLogReporter(nil)
	}
	r := &Registry{capacity: defaultCapacity, reporter: reporter}
	r.snapshot.Store(&[]*Worker{})
	return r
}

// Add registers handler under pattern and starts its worker. The entry is
// fully built before it becomes visible to Match.
func (r *Registry) Add(pattern subject.Pattern, handler core.Handler, capacity int) (ID, error) {
	w, err := r.add(pattern, handler, capacity)
	if err != nil {
		return 0, err
	}
	return w.id, nil
}

func (r *Registry) add(pattern subject.Pattern, handler core.Handler, capacity int) (*Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if capacity <= 0 {
		capacity = r.capacity
	}
	r.lastID++
	w := NewWorker(WorkerConfig{
		ID:       r.lastID,
		Pattern:  pattern,
		Handler:  handler,
		Capacity: capacity,
		Reporter: r.reporter,
	})

	cur := r.load()
	next := make([]*Worker, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, w)
	r.snapshot.Store(&next)
	return w, nil
}

// Remove takes id out of the registry and returns its worker. Unknown ids
// return nil.
func (r *Registry) Remove(id ID) *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.load()
	for i, w := range cur {
		if w.id != id {
			continue
		}
		next := make([]*Worker, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		next = append(next, cur[i+1:]...)
		r.snapshot.Store(&next)
		return w
	}
	return nil
}

// Match returns the ids of subscriptions whose pattern matches s, in
// registration order.
func (r *Registry) Match(s subject.Subject) []ID {
	workers := r.matching(s)
	ids := make([]ID, len(workers))
	for i, w := range workers {
		ids[i] = w.id
	}
	return ids
}

func (r *Registry) matching(s subject.Subject) []*Worker {
	var out []*Worker
	for _, w := range r.load() {
		if w.pattern.Matches(s) {
			out = append(out, w)
		}
	}
	return out
}

// Lookup returns the worker registered under id.
func (r *Registry) Lookup(id ID) (*Worker, bool) {
	for _, w := range r.load() {
		if w.id == id {
			return w, true
		}
	}
	return nil, false
}

// Len returns the number of registered subscriptions.
func (r *Registry) Len() int { return len(r.load()) }

// Snapshot returns the stats of every registered subscription.
func (r *Registry) Snapshot() []Stats {
	workers := r.load()
	out := make([]Stats, len(workers))
	for i, w := range workers {
		out[i] = w.Stats()
	}
	return out
}

// Close refuses further Adds, empties the registry and returns the workers
// it held in registration order.
func (r *Registry) Close() []*Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	cur := r.load()
	r.snapshot.Store(&[]*Worker{})
	return cur
}

func (r *Registry) load() []*Worker {
	return *r.snapshot.Load()
}
