package shared

import "context"

// IntegrationEvent is an event published by an upstream service and consumed
// from the broker. Unlike aggregate events it carries no identity of its own;
// deduplication relies on the natural key of the resource it describes.
type IntegrationEvent interface {
	// EventType returns the logical kind, e.g. "company.created"
	EventType() string
	// Tenant returns the owning tenant identifier
	Tenant() string
}

// EventHandler handles integration events
type EventHandler interface {
	// Handle processes an event. A non-nil error is a permanent failure for
	// this delivery.
	Handle(ctx context.Context, event IntegrationEvent) error
	// EventTypes returns the event kinds this handler is interested in
	EventTypes() []string
}

type deliveryIDKey struct{}

// WithDeliveryID stores the broker message id of the delivery being handled
func WithDeliveryID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, deliveryIDKey{}, id)
}

// DeliveryID returns the broker message id stored by WithDeliveryID, or ""
func DeliveryID(ctx context.Context) string {
	if id, ok := ctx.Value(deliveryIDKey{}).(string); ok {
		return id
	}
	return ""
}
