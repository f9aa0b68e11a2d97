package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Handler is one named unit of event processing logic. Process returns nil
// when the event has been durably handled; any error marks the attempt as
// failed and eligible for dead-lettering.
type Handler interface {
	Name() string
	Process(ctx context.Context, event *Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc struct {
	HandlerName string
	Fn          func(ctx context.Context, event *Event) error
}

func (h HandlerFunc) Name() string { return h.HandlerName }

func (h HandlerFunc) Process(ctx context.Context, event *Event) error {
	return h.Fn(ctx, event)
}

// Registry maps handler names to implementations. Lookup fails closed on
// unknown names so a misconfigured deployment reports instead of dropping
// events.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

// Register binds a handler under its name. Re-registering a name is an
// error; handler sets are fixed at startup.
func (r *Registry) Register(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("%w: handler is nil", ErrInvalidEvent)
	}
	name := strings.TrimSpace(handler.Name())
	if name == "" {
		return fmt.Errorf("%w: handler name is required", ErrInvalidEvent)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("handler %q is already registered", name)
	}
	r.handlers[name] = handler
	return nil
}

// Lookup resolves a handler by name.
func (r *Registry) Lookup(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandler, name)
	}
	return handler, nil
}

// Names returns the registered handler names, for startup logging.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
