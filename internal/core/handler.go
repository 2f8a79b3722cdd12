package core

// Handler receives messages for a subscription. Calls for one
// subscription are sequential and in delivery order.
type Handler interface {
	HandleMessage(msg Message) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(msg Message) error

// HandleMessage calls f(msg).
func (f HandlerFunc) HandleMessage(msg Message) error { return f(msg) }

// CallbackFunc adapts a callback without an error result.
type CallbackFunc func(msg Message)

// HandleMessage calls f(msg) and reports no error.
func (f CallbackFunc) HandleMessage(msg Message) error {
	f(msg)
	return nil
}
