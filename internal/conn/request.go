package conn

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"subjectbus/internal/core"
)

// inboxPrefix starts every reply subject created by Request.
const inboxPrefix = "_INBOX"

// NewInbox returns a reply subject unique to this connection.
func (c *Connection) NewInbox() string {
	return strings.Join([]string{inboxPrefix, c.id, uuid.NewString()}, ".")
}

// Request publishes data on subj with a fresh reply subject and waits for
// the first response or for ctx to end.
func (c *Connection) Request(ctx context.Context, subj string, data []byte) (core.Message, error) {
	inbox := c.NewInbox()
	replies := make(chan core.Message, 1)
	sub, err := c.Subscribe(inbox, core.CallbackFunc(func(m core.Message) {
		select {
		case replies <- m:
		default:
		}
	}), WithQueueCapacity(1))
	if err != nil {
		return core.Message{}, errors.Trace(err)
	}
	defer func() {
		if err := c.Unsubscribe(sub); err != nil && !errors.Is(err, ErrConnectionClosed) {
			c.logger.Debugf("removing inbox %s: %v", inbox, err)
		}
	}()

	if err := c.PublishMsg(ctx, core.NewMessage(subj, data).WithReply(inbox)); err != nil {
		return core.Message{}, errors.Trace(err)
	}
	select {
	case m := <-replies:
		return m, nil
	case <-ctx.Done():
		return core.Message{}, errors.Annotatef(ctx.Err(), "waiting for reply on %q", subj)
	}
}

// Respond publishes data to the reply subject of req.
func (c *Connection) Respond(ctx context.Context, req core.Message, data []byte) error {
	if req.Reply == "" {
		return ErrNoReply
	}
	return errors.Trace(c.Publish(ctx, req.Reply, data))
}
