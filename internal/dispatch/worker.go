package dispatch

import (
	"runtime/debug"
	"sync"

	"github.com/juju/loggo/v2"
	"gopkg.in/tomb.v2"

	"subjectbus/internal/core"
	"subjectbus/internal/subject"
)

var logger = loggo.GetLogger("subjectbus.dispatch")

// ID identifies a subscription within one dispatcher. IDs increase in
// registration order.
type ID uint64

// Stats is a point-in-time view of one subscription.
type Stats struct {
	ID       ID
	Pattern  string
	State    core.State
	Pending  int
	Capacity int
	// Delivered counts handler invocations, including failed ones.
	Delivered uint64
	// Failed counts invocations that returned an error or panicked.
	Failed uint64
	// Dropped counts messages evicted because the queue was full.
	Dropped uint64
	// Discarded counts messages thrown away by Discard.
	Discarded uint64
}

// WorkerConfig holds what a Worker needs to run.
type WorkerConfig struct {
	ID       ID
	Pattern  subject.Pattern
	Handler  core.Handler
	Capacity int
	Reporter Reporter
	// Logger defaults to the package logger.
	Logger core.Logger
}

// Worker delivers one subscription's messages to its handler, one at a
// time and in the order they were enqueued.
type Worker struct {
	id       ID
	pattern  subject.Pattern
	handler  core.Handler
	reporter Reporter
	logger   core.Logger

	tomb tomb.Tomb
	wake chan struct{}

	mu        sync.Mutex
	queue     *ring
	state     lifecycle
	delivered uint64
	failed    uint64
	dropped   uint64
	discarded uint64
}

// NewWorker starts a worker for cfg. The caller must eventually call Drain
// or Discard.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Reporter == nil {
		cfg.Reporter = NewLogReporter(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger
	}
	w := &Worker{
		id:       cfg.ID,
		pattern:  cfg.Pattern,
		handler:  cfg.Handler,
		reporter: cfg.Reporter,
		logger:   cfg.Logger,
		wake:     make(chan struct{}, 1),
		queue:    newRing(cfg.Capacity),
	}
	w.tomb.Go(w.loop)
	return w
}

// ID returns the subscription id.
func (w *Worker) ID() ID { return w.id }

// Pattern returns the subscription pattern.
func (w *Worker) Pattern() subject.Pattern { return w.pattern }

// Enqueue queues msg without blocking. It returns false once the worker is
// no longer active. A full queue evicts its oldest message.
func (w *Worker) Enqueue(msg core.Message) bool {
	w.mu.Lock()
	if w.state.current != core.StateActive {
		w.mu.Unlock()
		return false
	}
	old, evicted := w.queue.push(msg)
	if evicted {
		w.dropped++
	}
	w.mu.Unlock()

	if evicted {
		w.reporter.MessageDropped(w.id, old, DropOverflow)
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
	return true
}

// Drain stops the worker accepting messages. Queued messages are still
// delivered, after which the worker stops.
func (w *Worker) Drain() {
	w.mu.Lock()
	if err := w.state.fire(triggerDrain); err != nil {
		w.logger.Tracef("subscription %d: %v", w.id, err)
	}
	w.mu.Unlock()
	w.tomb.Kill(nil)
}

// Discard stops the worker and throws away everything queued. A handler
// call already in progress is allowed to finish. It returns the number of
// messages discarded.
func (w *Worker) Discard() int {
	w.mu.Lock()
	if err := w.state.fire(triggerDrain); err != nil {
		w.logger.Tracef("subscription %d: %v", w.id, err)
	}
	pending := w.queue.drain()
	w.discarded += uint64(len(pending))
	w.mu.Unlock()

	for _, msg := range pending {
		w.reporter.MessageDropped(w.id, msg, DropDiscarded)
	}
	w.tomb.Kill(nil)
	return len(pending)
}

// Done is closed when the worker has stopped.
func (w *Worker) Done() <-chan struct{} { return w.tomb.Dead() }

// Wait blocks until the worker has stopped.
func (w *Worker) Wait() error { return w.tomb.Wait() }

// State returns the current lifecycle state.
func (w *Worker) State() core.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.current
}

// Stats returns the worker's counters.
func (w *Worker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		ID:        w.id,
		Pattern:   w.pattern.String(),
		State:     w.state.current,
		Pending:   w.queue.len(),
		Capacity:  w.queue.cap(),
		Delivered: w.delivered,
		Failed:    w.failed,
		Dropped:   w.dropped,
		Discarded: w.discarded,
	}
}

func (w *Worker) loop() error {
	for {
		if msg, ok := w.next(); ok {
			w.deliver(msg)
			continue
		}
		select {
		case <-w.wake:
		case <-w.tomb.Dying():
			for {
				msg, ok := w.next()
				if !ok {
					break
				}
				w.deliver(msg)
			}
			w.mu.Lock()
			err := w.state.fire(triggerStop)
			w.mu.Unlock()
			return err
		}
	}
}

func (w *Worker) next() (core.Message, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.queue.pop()
}

func (w *Worker) deliver(msg core.Message) {
	err := w.invoke(msg)

	w.mu.Lock()
	w.delivered++
	if err != nil {
		w.failed++
	}
	w.mu.Unlock()

	if err != nil {
		w.reporter.HandlerFailed(w.id, msg, err)
	}
}

// invoke calls the handler, turning a panic into a *HandlerPanic.
func (w *Worker) invoke(msg core.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerPanic{Subject: msg.Subject, Value: r, Stack: debug.Stack()}
		}
	}()
	return w.handler.HandleMessage(msg)
}
