package core

import "fmt"

// Message is a payload tagged with the subject it was published on.
// A Message is shared read-only between every subscription it is
// delivered to and must not be mutated once created.
type Message struct {
	Subject string `json:"subject"`
	Reply   string `json:"reply,omitempty"`
	Data    []byte `json:"data"`
}

// NewMessage returns a message without a reply subject. The payload is
// copied so later changes by the caller are not observed by subscribers.
func NewMessage(subject string, data []byte) Message {
	return Message{Subject: subject, Data: clone(data)}
}

// WithReply returns a copy of m carrying the given reply subject.
func (m Message) WithReply(reply string) Message {
	m.Reply = reply
	return m
}

func (m Message) String() string {
	if m.Reply == "" {
		return fmt.Sprintf("%s (%d bytes)", m.Subject, len(m.Data))
	}
	return fmt.Sprintf("%s reply=%s (%d bytes)", m.Subject, m.Reply, len(m.Data))
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
