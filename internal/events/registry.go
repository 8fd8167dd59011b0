package events

import (
	"sync"

	"github.com/klingon-exchange/ledgerd/pkg/logging"
)

// Handler delivers a single event to one external sink. Implementations
// must not block indefinitely; a hung sink stalls every event behind it
// since Dispatch calls handlers sequentially, matching the sequential
// fan-out of the original registry this is adapted from.
type Handler interface {
	Trigger(name Name, data interface{}) error
}

// Registry holds the set of registered Handlers and fans events out to all
// of them. It is safe for concurrent Register/Dispatch calls.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	log      *logging.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		log:      logging.GetDefault().Component("events"),
	}
}

// Register binds a Handler under name, replacing any previous handler
// registered under that name.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Clear removes every registered handler.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = make(map[string]Handler)
}

// Dispatch posts an event to every registered handler. It is always called
// after the transaction that produced the event has committed, so a
// handler failure never rolls back the ledger; failures are logged and
// otherwise swallowed.
func (r *Registry) Dispatch(e Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.handlers) == 0 {
		r.log.Warn("no registered event handlers", "event", e.Name)
		return
	}

	for name, h := range r.handlers {
		r.log.Info("posting event", "event", e.Name, "handler", name)
		if err := h.Trigger(e.Name, e.Data); err != nil {
			r.log.Error("event handler failed", "handler", name, "event", e.Name, "error", err)
		}
	}
}
