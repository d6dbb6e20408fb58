package queue

import (
	"context"

	"github.com/benvon/crm-ratelimit/internal/models"
)

// MessageInterface defines the interface for queue messages
// This enables better testability by allowing mock implementations
type MessageInterface interface {
	Ack() error
	Nack(requeue bool) error
	GetEvent() *models.ThrottleEvent
}

// EventPublisher publishes throttle events.
type EventPublisher interface {
	// Publish sends one event. Implementations must not block longer than ctx allows.
	Publish(ctx context.Context, event *models.ThrottleEvent) error

	// Close releases the underlying connection.
	Close() error

	// HealthCheck verifies the connection is usable.
	HealthCheck(ctx context.Context) error
}

// EventConsumer delivers published throttle events.
type EventConsumer interface {
	// Consume returns a channel of messages from the queue. The caller acks
	// each message. The channels are closed when ctx is cancelled or the
	// connection is lost.
	Consume(ctx context.Context, prefetchCount int) (<-chan *Message, <-chan error, error)
}

// NoopPublisher drops every event. It is used when no broker is configured.
type NoopPublisher struct{}

// Publish implements EventPublisher.
func (NoopPublisher) Publish(context.Context, *models.ThrottleEvent) error { return nil }

// Close implements EventPublisher.
func (NoopPublisher) Close() error { return nil }

// HealthCheck implements EventPublisher.
func (NoopPublisher) HealthCheck(context.Context) error { return nil }
