package conn

import (
	"fmt"

	"github.com/juju/errors"
)

const (
	// ErrConnectionClosed is returned by any operation on a connection that
	// is closed or closing.
	ErrConnectionClosed = errors.ConstError("connection closed")

	// ErrNoReply is returned by Respond for a message without a reply
	// subject.
	ErrNoReply = errors.ConstError("message has no reply subject")
)

// TransportError wraps a failure reported by the bus endpoint. The core
// does not interpret the cause.
type TransportError struct {
	Op      string
	Subject string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %q: %v", e.Op, e.Subject, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
