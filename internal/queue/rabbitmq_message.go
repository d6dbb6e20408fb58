package queue

import (
	"github.com/benvon/crm-ratelimit/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Message wraps a ThrottleEvent with its RabbitMQ delivery information
type Message struct {
	Event       *models.ThrottleEvent
	DeliveryTag uint64
	Channel     *amqp.Channel
}

// Ack acknowledges the message
func (m *Message) Ack() error {
	return m.Channel.Ack(m.DeliveryTag, false)
}

// Nack negatively acknowledges the message
func (m *Message) Nack(requeue bool) error {
	return m.Channel.Nack(m.DeliveryTag, false, requeue)
}

// GetEvent returns the decoded event.
func (m *Message) GetEvent() *models.ThrottleEvent {
	return m.Event
}
