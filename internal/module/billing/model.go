package billing

import (
	"time"
)

// Webhook event processing outcomes.
const (
	EventStatusReceived  = "received"
	EventStatusProcessed = "processed"
	EventStatusFailed    = "failed"
)

// WebhookEvent is one inbound billing event, stored for idempotency.
// The unique (provider, event_id) index makes redelivery a no-op.
type WebhookEvent struct {
	ID          uint       `json:"-" gorm:"primaryKey"`
	Provider    string     `json:"provider" gorm:"not null;uniqueIndex:idx_webhook_provider_event"`
	EventID     string     `json:"event_id" gorm:"not null;uniqueIndex:idx_webhook_provider_event"`
	Type        string     `json:"type" gorm:"not null"`
	Status      string     `json:"status" gorm:"default:received"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// TableName returns the database table name.
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
