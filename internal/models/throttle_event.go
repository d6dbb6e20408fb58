package models

import (
	"time"

	"github.com/google/uuid"
)

// ThrottleEvent is published when a request is denied by the rate limiter.
type ThrottleEvent struct {
	ID         uuid.UUID `json:"id"`
	Policy     string    `json:"policy"`
	Namespace  string    `json:"namespace"`
	Scope      string    `json:"scope"`
	ClientIP   string    `json:"client_ip"`
	TenantID   string    `json:"tenant_id,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Limit      int       `json:"limit"`
	RetryAfter int       `json:"retry_after"`
	Reset      int64     `json:"reset"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewThrottleEvent stamps a new event with an ID and the current time.
func NewThrottleEvent() *ThrottleEvent {
	return &ThrottleEvent{ID: uuid.New(), OccurredAt: time.Now().UTC()}
}
