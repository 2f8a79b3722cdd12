// Package eventbus provides the transports a connection publishes through
// and receives from. An Endpoint only moves (subject, payload) pairs across
// the process boundary; matching and delivery to handlers happen in the
// dispatch package.
package eventbus

import (
	"context"

	"github.com/juju/errors"

	"subjectbus/internal/core"
)

const (
	// ErrEndpointClosed is returned by operations on a closed endpoint.
	ErrEndpointClosed = errors.ConstError("endpoint closed")

	// ErrUnsupportedScheme is returned by Dial for an unknown URL scheme.
	ErrUnsupportedScheme = errors.ConstError("unsupported bus URL scheme")
)

// RouteFunc receives inbound messages. It must not block; endpoints may
// call it from several goroutines.
type RouteFunc func(msg core.Message)

// Endpoint defines the transport side of a connection.
type Endpoint interface {
	// Send publishes msg. It does not wait for delivery.
	Send(ctx context.Context, msg core.Message) error
	// Watch asks the transport to deliver messages whose subject matches
	// pattern. Watching a pattern twice is a no-op.
	Watch(ctx context.Context, pattern string) error
	// Unwatch reverses Watch. Unknown patterns are ignored.
	Unwatch(ctx context.Context, pattern string) error
	// Listen sets the function inbound messages are passed to. Each inbound
	// message is routed at most once however many watched patterns it
	// matches.
	Listen(route RouteFunc)
	// Close releases the transport.
	Close() error
}
