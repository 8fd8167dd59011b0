package events

// CallbackFunc is invoked synchronously for every dispatched event.
type CallbackFunc func(name Name, data interface{}) error

// CallbackHandler adapts an in-process function to the Handler interface,
// the Go equivalent of the original's PythonEventHandler (a bare importable
// callable run in-process rather than over a transport).
type CallbackHandler struct {
	fn CallbackFunc
}

// NewCallbackHandler wraps fn as a Handler.
func NewCallbackHandler(fn CallbackFunc) *CallbackHandler {
	return &CallbackHandler{fn: fn}
}

// Trigger calls the wrapped function.
func (c *CallbackHandler) Trigger(name Name, data interface{}) error {
	return c.fn(name, data)
}

var _ Handler = (*CallbackHandler)(nil)
