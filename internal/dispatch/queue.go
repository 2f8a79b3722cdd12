package dispatch

import "subjectbus/internal/core"

// ring is a bounded FIFO of messages. When full, push evicts the oldest
// entry. It is not safe for concurrent use.
type ring struct {
	buf  []core.Message
	head int
	size int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]core.Message, capacity)}
}

// push appends m. If the ring was full the evicted message is returned
// with evicted set.
func (r *ring) push(m core.Message) (old core.Message, evicted bool) {
	if r.size == len(r.buf) {
		old = r.buf[r.head]
		r.buf[r.head] = m
		r.head = (r.head + 1) % len(r.buf)
		return old, true
	}
	r.buf[(r.head+r.size)%len(r.buf)] = m
	r.size++
	return core.Message{}, false
}

// pop removes and returns the oldest message.
func (r *ring) pop() (core.Message, bool) {
	if r.size == 0 {
		return core.Message{}, false
	}
	m := r.buf[r.head]
	r.buf[r.head] = core.Message{}
	r.head = (r.head + 1) % len(r.buf)
	r.size--
	return m, true
}

// drain empties the ring, returning what it held in FIFO order.
func (r *ring) drain() []core.Message {
	out := make([]core.Message, 0, r.size)
	for {
		m, ok := r.pop()
		if !ok {
			return out
		}
		out = append(out, m)
	}
}

func (r *ring) len() int { return r.size }

func (r *ring) cap() int { return len(r.buf) }
