package dispatch

import (
	"fmt"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"subjectbus/internal/core"
)

// DropReason says why a queued message never reached its handler.
type DropReason int

const (
	// DropOverflow means the queue was full and the oldest entry was evicted.
	DropOverflow DropReason = iota
	// DropDiscarded means the subscription was stopped without draining.
	DropDiscarded
)

func (r DropReason) String() string {
	switch r {
	case DropOverflow:
		return "overflow"
	case DropDiscarded:
		return "discarded"
	}
	return "unknown"
}

// Reporter receives delivery-path failures. These never reach publishers
// or other subscribers. Implementations must be safe for concurrent use
// and must not block.
type Reporter interface {
	HandlerFailed(id ID, msg core.Message, err error)
	MessageDropped(id ID, msg core.Message, reason DropReason)
}

// HandlerPanic is reported when a handler panics.
type HandlerPanic struct {
	Subject string
	Value   interface{}
	Stack   []byte
}

func (p *HandlerPanic) Error() string {
	return fmt.Sprintf("handler panic on %q: %v", p.Subject, p.Value)
}

// NewLogReporter returns a Reporter that writes to logger. A nil logger
// uses the package logger.
func NewLogReporter(logger core.Logger) Reporter {
	if logger == nil {
		logger = loggo.GetLogger("subjectbus.dispatch")
	}
	return logReporter{logger: logger}
}

type logReporter struct {
	logger core.Logger
}

func (r logReporter) HandlerFailed(id ID, msg core.Message, err error) {
	var p *HandlerPanic
	if errors.As(err, &p) {
		r.logger.Errorf("subscription %d: %v\n%s", id, p, p.Stack)
		return
	}
	r.logger.Errorf("subscription %d: handler failed on %q: %v", id, msg.Subject, err)
}

func (r logReporter) MessageDropped(id ID, msg core.Message, reason DropReason) {
	if reason == DropOverflow {
		r.logger.Warningf("subscription %d: queue full, dropped oldest message on %q", id, msg.Subject)
		return
	}
	r.logger.Debugf("subscription %d: discarded message on %q", id, msg.Subject)
}
