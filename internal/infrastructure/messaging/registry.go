package messaging

import (
	"sort"
	"sync"

	"github.com/erp/provisioner/internal/domain/shared"
)

// HandlerRegistry maps routing keys to the handler that processes them. A
// routing key has at most one handler.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]shared.EventHandler
}

// NewHandlerRegistry creates an empty registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]shared.EventHandler)}
}

// Register binds handler to routingKeys, replacing any previous binding.
// Without routing keys the handler's own event types are used.
func (r *HandlerRegistry) Register(handler shared.EventHandler, routingKeys ...string) {
	if len(routingKeys) == 0 {
		routingKeys = handler.EventTypes()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range routingKeys {
		r.handlers[key] = handler
	}
}

// Handler returns the handler bound to routingKey
func (r *HandlerRegistry) Handler(routingKey string) (shared.EventHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[routingKey]
	return h, ok
}

// RoutingKeys returns the bound routing keys in sorted order
func (r *HandlerRegistry) RoutingKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
