package eventbus

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/redis/go-redis/v9"

	"subjectbus/internal/core"
	"subjectbus/internal/subject"
)

// dedupeWindow is how many recent message ids an endpoint remembers.
const dedupeWindow = 4096

// envelope is the JSON body published on a Redis channel.
type envelope struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Reply     string    `json:"reply,omitempty"`
	Data      []byte    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

type redisWatch struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

// RedisEndpoint implements Endpoint using Redis Pub/Sub. Subjects map to
// channel names; each watched pattern is a PSUBSCRIBE on its own
// connection.
type RedisEndpoint struct {
	mu      sync.Mutex
	client  *redis.Client
	watches map[string]*redisWatch
	closed  bool
	wg      sync.WaitGroup

	routeMu sync.Mutex
	route   RouteFunc
	seen    *dedupe

	logger core.Logger
}

// NewRedisEndpoint creates a Redis-backed endpoint using the given options.
func NewRedisEndpoint(opts *redis.Options, logger core.Logger) *RedisEndpoint {
	if logger == nil {
		logger = loggo.GetLogger("subjectbus.eventbus.redis")
	}
	return &RedisEndpoint{
		client:  redis.NewClient(opts),
		watches: make(map[string]*redisWatch),
		seen:    newDedupe(dedupeWindow),
		logger:  logger,
	}
}

// Ping checks that the server is reachable.
func (e *RedisEndpoint) Ping(ctx context.Context) error {
	return errors.Trace(e.client.Ping(ctx).Err())
}

// Send implements Endpoint.
func (e *RedisEndpoint) Send(ctx context.Context, msg core.Message) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrEndpointClosed
	}
	data, err := json.Marshal(envelope{
		ID:        uuid.NewString(),
		Subject:   msg.Subject,
		Reply:     msg.Reply,
		Data:      msg.Data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(e.client.Publish(ctx, msg.Subject, data).Err())
}

// Watch implements Endpoint. It returns once Redis has confirmed the
// subscription.
func (e *RedisEndpoint) Watch(ctx context.Context, pattern string) error {
	p, err := subject.ParsePattern(pattern)
	if err != nil {
		return errors.Trace(err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEndpointClosed
	}
	if _, ok := e.watches[pattern]; ok {
		return nil
	}

	ps := e.client.PSubscribe(ctx, redisGlob(p))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return errors.Annotatef(err, "subscribing to %q", pattern)
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	e.watches[pattern] = &redisWatch{pubsub: ps, cancel: cancel}
	e.wg.Add(1)
	go e.receive(watchCtx, pattern, ps)
	return nil
}

// Unwatch implements Endpoint.
func (e *RedisEndpoint) Unwatch(ctx context.Context, pattern string) error {
	e.mu.Lock()
	w, ok := e.watches[pattern]
	delete(e.watches, pattern)
	e.mu.Unlock()
	if !ok {
		return nil
	}
	w.cancel()
	return errors.Trace(w.pubsub.Close())
}

// Listen implements Endpoint.
func (e *RedisEndpoint) Listen(route RouteFunc) {
	e.routeMu.Lock()
	e.route = route
	e.routeMu.Unlock()
}

// Close terminates all subscriptions and closes the client.
func (e *RedisEndpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	watches := e.watches
	e.watches = make(map[string]*redisWatch)
	e.mu.Unlock()

	for _, w := range watches {
		w.cancel()
		_ = w.pubsub.Close()
	}
	e.wg.Wait()
	return errors.Trace(e.client.Close())
}

func (e *RedisEndpoint) receive(ctx context.Context, pattern string, ps *redis.PubSub) {
	defer e.wg.Done()
	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Warningf("receive on %q: %v", pattern, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		e.deliver(msg)
	}
}

// deliver decodes msg and routes it unless another watch already did.
// Bodies that are not envelopes are routed as raw payloads.
func (e *RedisEndpoint) deliver(msg *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil || env.ID == "" {
		env = envelope{Subject: msg.Channel, Data: []byte(msg.Payload)}
	}
	if env.Subject == "" {
		env.Subject = msg.Channel
	}

	e.routeMu.Lock()
	defer e.routeMu.Unlock()
	if env.ID != "" && !e.seen.add(env.ID) {
		return
	}
	if e.route == nil {
		return
	}
	e.route(core.Message{Subject: env.Subject, Reply: env.Reply, Data: env.Data})
}

// redisGlob converts a pattern into a Redis glob that selects a superset
// of its subjects; "*" in a glob also spans delimiters, so exact matching
// is left to the dispatcher.
func redisGlob(p subject.Pattern) string {
	tokens := p.Tokens()
	for i, tok := range tokens {
		switch tok {
		case subject.SingleWildcard, subject.TrailingWildcard:
			tokens[i] = "*"
		default:
			tokens[i] = globEscaper.Replace(tok)
		}
	}
	return strings.Join(tokens, subject.Delimiter)
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

var _ Endpoint = (*RedisEndpoint)(nil)
