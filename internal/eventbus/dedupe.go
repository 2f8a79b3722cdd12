package eventbus

// dedupe remembers the last size message ids. Transports that deliver one
// copy per matching subscription use it to route each message once.
type dedupe struct {
	ids  []string
	next int
	seen map[string]struct{}
}

func newDedupe(size int) *dedupe {
	return &dedupe{ids: make([]string, size), seen: make(map[string]struct{}, size)}
}

// add records id and reports whether it was new.
func (d *dedupe) add(id string) bool {
	if _, ok := d.seen[id]; ok {
		return false
	}
	if old := d.ids[d.next]; old != "" {
		delete(d.seen, old)
	}
	d.ids[d.next] = id
	d.next = (d.next + 1) % len(d.ids)
	d.seen[id] = struct{}{}
	return true
}
