// Package conn is the client-facing side of the bus: a Connection
// publishes through an endpoint and dispatches what the endpoint delivers
// to subscription handlers.
package conn

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"subjectbus/internal/config"
	"subjectbus/internal/core"
	"subjectbus/internal/dispatch"
	"subjectbus/internal/eventbus"
	"subjectbus/internal/subject"
)

// Option customises a Connection.
type Option func(*options)

type options struct {
	logger   core.Logger
	reporter dispatch.Reporter
	clock    clock.Clock
}

// WithLogger sets the connection logger.
func WithLogger(l core.Logger) Option { return func(o *options) { o.logger = l } }

// WithReporter sets where delivery failures are reported.
func WithReporter(r dispatch.Reporter) Option { return func(o *options) { o.reporter = r } }

// WithClock sets the clock used for close timeouts.
func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// SubscribeOption customises a single subscription.
type SubscribeOption func(*subscribeOptions)

type subscribeOptions struct {
	capacity int
}

// WithQueueCapacity bounds this subscription's queue.
func WithQueueCapacity(n int) SubscribeOption {
	return func(o *subscribeOptions) { o.capacity = n }
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	conn    *Connection
	worker  *dispatch.Worker
	pattern subject.Pattern
}

// ID returns the subscription id, unique within its connection.
func (s *Subscription) ID() dispatch.ID { return s.worker.ID() }

// Pattern returns the subscription pattern.
func (s *Subscription) Pattern() string { return s.pattern.String() }

// State returns the lifecycle state.
func (s *Subscription) State() core.State { return s.worker.State() }

// Stats returns the subscription counters.
func (s *Subscription) Stats() dispatch.Stats { return s.worker.Stats() }

// Done is closed once the subscription has stopped.
func (s *Subscription) Done() <-chan struct{} { return s.worker.Done() }

// Wait blocks until the subscription has stopped or ctx is done.
func (s *Subscription) Wait(ctx context.Context) error {
	select {
	case <-s.worker.Done():
		return nil
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}
}

// Unsubscribe is shorthand for s.conn.Unsubscribe(s).
func (s *Subscription) Unsubscribe() error { return s.conn.Unsubscribe(s) }

// Connection owns a dispatcher and the endpoint feeding it.
type Connection struct {
	id         string
	endpoint   eventbus.Endpoint
	dispatcher *dispatch.Dispatcher
	cfg        config.Config
	logger     core.Logger

	// mu guards closed. Operations hold it shared; Close takes it
	// exclusively.
	mu     sync.RWMutex
	closed bool

	// watchMu guards watches and serialises endpoint Watch/Unwatch calls.
	watchMu sync.Mutex
	watches map[string]int
}

// Connect dials the endpoint named by cfg.BusURL and returns a connection
// over it.
func Connect(ctx context.Context, cfg config.Config, opts ...Option) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	o := buildOptions(opts)
	ep, err := eventbus.Dial(ctx, cfg.BusURL, o.logger)
	if err != nil {
		return nil, errors.Annotatef(err, "connecting to %s", cfg.BusURL)
	}
	c, err := New(ep, cfg, opts...)
	if err != nil {
		_ = ep.Close()
		return nil, errors.Trace(err)
	}
	return c, nil
}

// New returns a connection over an already open endpoint. The connection
// takes ownership of ep.
func New(ep eventbus.Endpoint, cfg config.Config, opts ...Option) (*Connection, error) {
	if ep == nil {
		return nil, errors.NotValidf("nil endpoint")
	}
	if cfg.DefaultQueueCapacity <= 0 {
		cfg.DefaultQueueCapacity = config.DefaultQueueCapacity
	}
	o := buildOptions(opts)
	c := &Connection{
		id:       uuid.NewString(),
		endpoint: ep,
		cfg:      cfg,
		logger:   o.logger,
		watches:  make(map[string]int),
		dispatcher: dispatch.NewDispatcher(dispatch.Config{
			QueueCapacity: cfg.DefaultQueueCapacity,
			Reporter:      o.reporter,
			Clock:         o.clock,
			Logger:        o.logger,
		}),
	}
	ep.Listen(c.dispatcher.Route)
	c.logger.Debugf("connection %s ready", c.id)
	return c, nil
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = loggo.GetLogger("subjectbus.conn")
	}
	return o
}

// ID returns the connection's unique id.
func (c *Connection) ID() string { return c.id }

// Dispatcher exposes the dispatcher, for diagnostics and metrics.
func (c *Connection) Dispatcher() *dispatch.Dispatcher { return c.dispatcher }

// Publish sends data on subj. It returns once the endpoint has accepted
// the message, without waiting for delivery.
func (c *Connection) Publish(ctx context.Context, subj string, data []byte) error {
	return c.PublishMsg(ctx, core.NewMessage(subj, data))
}

// PublishMsg sends msg, including its reply subject.
func (c *Connection) PublishMsg(ctx context.Context, msg core.Message) error {
	if _, err := subject.ParseSubject(msg.Subject); err != nil {
		return errors.Trace(err)
	}
	if msg.Reply != "" {
		if _, err := subject.ParseSubject(msg.Reply); err != nil {
			return errors.Annotatef(err, "reply subject")
		}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if err := c.endpoint.Send(ctx, msg); err != nil {
		return &TransportError{Op: "publish", Subject: msg.Subject, Err: err}
	}
	return nil
}

// Subscribe registers h for subjects matching pattern. Only messages
// published after Subscribe returns are delivered.
func (c *Connection) Subscribe(pattern string, h core.Handler, opts ...SubscribeOption) (*Subscription, error) {
	p, err := subject.ParsePattern(pattern)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if h == nil {
		return nil, errors.NotValidf("nil handler")
	}
	so := subscribeOptions{}
	for _, opt := range opts {
		opt(&so)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrConnectionClosed
	}
	w, err := c.dispatcher.Subscribe(p, h, so.capacity)
	if errors.Is(err, dispatch.ErrRegistryClosed) {
		return nil, ErrConnectionClosed
	} else if err != nil {
		return nil, errors.Trace(err)
	}

	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if c.watches[pattern] == 0 {
		if err := c.endpoint.Watch(context.Background(), pattern); err != nil {
			c.dispatcher.Unsubscribe(w.ID())
			return nil, &TransportError{Op: "subscribe", Subject: pattern, Err: err}
		}
	}
	c.watches[pattern]++
	return &Subscription{conn: c, worker: w, pattern: p}, nil
}

// Unsubscribe stops new deliveries to sub and lets what is already queued
// drain. It does not wait; use sub.Wait for that. Unsubscribing twice is a
// no-op.
func (c *Connection) Unsubscribe(sub *Subscription) error {
	if sub == nil || sub.conn != c {
		return errors.NotValidf("subscription not owned by this connection")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if !c.dispatcher.Unsubscribe(sub.ID()) {
		return nil
	}
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	pattern := sub.pattern.String()
	c.watches[pattern]--
	if c.watches[pattern] > 0 {
		return nil
	}
	delete(c.watches, pattern)
	if err := c.endpoint.Unwatch(context.Background(), pattern); err != nil {
		return &TransportError{Op: "unsubscribe", Subject: pattern, Err: err}
	}
	return nil
}

// Stats returns the subscription table with its counters.
func (c *Connection) Stats() []dispatch.Stats {
	return c.dispatcher.Stats()
}

// Close drains every subscription, waiting at most timeout, then releases
// the endpoint. A zero timeout discards pending messages.
func (c *Connection) Close(timeout time.Duration) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionClosed
	}
	c.closed = true
	c.mu.Unlock()

	c.watchMu.Lock()
	c.watches = make(map[string]int)
	c.watchMu.Unlock()

	drainErr := c.dispatcher.Close(timeout)
	if drainErr != nil {
		c.logger.Warningf("connection %s: %v", c.id, drainErr)
	}
	if err := c.endpoint.Close(); err != nil {
		return &TransportError{Op: "close", Err: err}
	}
	c.logger.Debugf("connection %s closed", c.id)
	return errors.Trace(drainErr)
}

// CloseDefault closes with the configured close timeout.
func (c *Connection) CloseDefault() error {
	return c.Close(c.cfg.CloseTimeout)
}
