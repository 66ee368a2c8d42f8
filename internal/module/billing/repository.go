package billing

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository defines webhook event data access.
type Repository interface {
	// Record stores an inbound event. Returns false when the event was
	// already recorded, which callers treat as "skip processing".
	Record(ctx context.Context, event *WebhookEvent) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string, processErr error) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new webhook event repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Record(ctx context.Context, event *WebhookEvent) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, fmt.Errorf("record webhook event: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) MarkProcessed(ctx context.Context, provider, eventID string, processErr error) error {
	now := time.Now()
	values := map[string]any{
		"status":       EventStatusProcessed,
		"processed_at": now,
	}
	if processErr != nil {
		values["status"] = EventStatusFailed
		values["error"] = processErr.Error()
	}

	err := r.db.WithContext(ctx).
		Model(&WebhookEvent{}).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Updates(values).Error
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	return nil
}
