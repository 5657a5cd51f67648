package messaging

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"github.com/erp/provisioner/internal/domain/provisioning"
	"github.com/erp/provisioner/internal/domain/shared"
)

// defaulter is implemented by events that fill optional attributes after
// decoding
type defaulter interface {
	ApplyDefaults()
}

// EventSerializer decodes message bodies into the event type registered for
// their routing key
type EventSerializer struct {
	mu       sync.RWMutex
	registry map[string]reflect.Type
}

// NewEventSerializer creates an empty serializer
func NewEventSerializer() *EventSerializer {
	return &EventSerializer{registry: make(map[string]reflect.Type)}
}

// Register binds routingKey to the concrete type of prototype, which must be
// a pointer to a struct implementing shared.IntegrationEvent
func (s *EventSerializer) Register(routingKey string, prototype shared.IntegrationEvent) {
	t := reflect.TypeOf(prototype)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	s.mu.Lock()
	s.registry[routingKey] = t
	s.mu.Unlock()
}

// Deserialize decodes data as the event registered for routingKey and
// applies its defaults. Failures are *provisioning.DecodeError.
func (s *EventSerializer) Deserialize(routingKey string, data []byte) (shared.IntegrationEvent, error) {
	s.mu.RLock()
	t, ok := s.registry[routingKey]
	s.mu.RUnlock()
	if !ok {
		return nil, &provisioning.DecodeError{RoutingKey: routingKey, Err: fmt.Errorf("no event type registered")}
	}

	ptr := reflect.New(t).Interface()
	if err := json.Unmarshal(data, ptr); err != nil {
		return nil, &provisioning.DecodeError{RoutingKey: routingKey, Err: err}
	}

	event, ok := ptr.(shared.IntegrationEvent)
	if !ok {
		return nil, &provisioning.DecodeError{RoutingKey: routingKey, Err: fmt.Errorf("%s does not implement IntegrationEvent", t)}
	}
	if d, ok := event.(defaulter); ok {
		d.ApplyDefaults()
	}
	return event, nil
}

// IsRegistered reports whether routingKey has an event type
func (s *EventSerializer) IsRegistered(routingKey string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.registry[routingKey]
	return ok
}
