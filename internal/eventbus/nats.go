package eventbus

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/nats-io/nats.go"

	"subjectbus/internal/core"
	"subjectbus/internal/subject"
)

// msgIDHeader carries the id used to route a message once when several
// watched patterns match it. Messages from other publishers lack it and
// are routed once per matching watch.
const msgIDHeader = "Bus-Msg-Id"

// NATSEndpoint implements Endpoint on a NATS connection. NATS subjects and
// wildcards are the same as ours, so patterns are passed through as is.
type NATSEndpoint struct {
	mu     sync.Mutex
	conn   *nats.Conn
	subs   map[string]*nats.Subscription
	closed bool

	routeMu sync.Mutex
	route   RouteFunc
	seen    *dedupe

	logger core.Logger
}

// DialNATS connects to the NATS server at url.
func DialNATS(url string, logger core.Logger, opts ...nats.Option) (*NATSEndpoint, error) {
	opts = append([]nats.Option{nats.Name("subjectbus")}, opts...)
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, errors.Annotatef(err, "connecting to %s", url)
	}
	return NewNATSEndpoint(nc, logger), nil
}

// NewNATSEndpoint wraps an established connection. The endpoint owns nc
// and closes it on Close.
func NewNATSEndpoint(nc *nats.Conn, logger core.Logger) *NATSEndpoint {
	if logger == nil {
		logger = loggo.GetLogger("subjectbus.eventbus.nats")
	}
	return &NATSEndpoint{
		conn:   nc,
		subs:   make(map[string]*nats.Subscription),
		seen:   newDedupe(dedupeWindow),
		logger: logger,
	}
}

// Send implements Endpoint.
func (e *NATSEndpoint) Send(ctx context.Context, msg core.Message) error {
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrEndpointClosed
	}
	m := nats.NewMsg(msg.Subject)
	m.Reply = msg.Reply
	m.Data = msg.Data
	m.Header.Set(msgIDHeader, uuid.NewString())
	return errors.Trace(e.conn.PublishMsg(m))
}

// Watch implements Endpoint.
func (e *NATSEndpoint) Watch(ctx context.Context, pattern string) error {
	if _, err := subject.ParsePattern(pattern); err != nil {
		return errors.Trace(err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEndpointClosed
	}
	if _, ok := e.subs[pattern]; ok {
		return nil
	}
	sub, err := e.conn.Subscribe(pattern, e.deliver)
	if err != nil {
		return errors.Annotatef(err, "subscribing to %q", pattern)
	}
	e.subs[pattern] = sub
	// Make sure the server has seen the interest before returning.
	return errors.Trace(e.conn.Flush())
}

// Unwatch implements Endpoint.
func (e *NATSEndpoint) Unwatch(ctx context.Context, pattern string) error {
	e.mu.Lock()
	sub, ok := e.subs[pattern]
	delete(e.subs, pattern)
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return errors.Trace(sub.Unsubscribe())
}

// Listen implements Endpoint.
func (e *NATSEndpoint) Listen(route RouteFunc) {
	e.routeMu.Lock()
	e.route = route
	e.routeMu.Unlock()
}

// Close implements Endpoint.
func (e *NATSEndpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	subs := e.subs
	e.subs = make(map[string]*nats.Subscription)
	e.mu.Unlock()

	for pattern, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			e.logger.Debugf("unsubscribing %q: %v", pattern, err)
		}
	}
	e.conn.Close()
	return nil
}

func (e *NATSEndpoint) deliver(m *nats.Msg) {
	e.routeMu.Lock()
	defer e.routeMu.Unlock()
	if id := m.Header.Get(msgIDHeader); id != "" && !e.seen.add(id) {
		return
	}
	if e.route == nil {
		return
	}
	e.route(core.Message{Subject: m.Subject, Reply: m.Reply, Data: m.Data})
}

var _ Endpoint = (*NATSEndpoint)(nil)
