package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/notecompanion/server/internal/model"
)

// ErrRecordNotFound is returned when no ledger row exists for a user.
var ErrRecordNotFound = errors.New("usage record not found")

// ErrInvalidAmount is returned for negative metering amounts.
var ErrInvalidAmount = errors.New("usage amount must not be negative")

// SubscriptionUpdate carries the ledger classification written when a
// billing event lands.
type SubscriptionUpdate struct {
	Status          model.AccountStatus
	PaymentStatus   model.PaymentStatus
	Cycle           model.BillingCycle
	Plan            string
	Product         string
	MaxTokens       int64
	MaxAudioMinutes int64
	PaidAt          *time.Time
}

// Repository defines the interface for ledger data access.
type Repository interface {
	EnsureRecord(ctx context.Context, userID string) error
	Get(ctx context.Context, userID string) (*model.UserUsage, error)
	Increment(ctx context.Context, userID string, resource model.Resource, amount int64) error
	GrantTopUp(ctx context.Context, userID string, tokens int64) error
	ApplySubscription(ctx context.Context, userID string, update SubscriptionUpdate) error
	Deactivate(ctx context.Context, userID string, status model.AccountStatus) error
	ResetRecurring(ctx context.Context, limit int64) (int64, error)
	ZeroInactiveAudio(ctx context.Context) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new ledger repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// EnsureRecord inserts the legacy-default row for the user if none
// exists. Concurrent first calls are safe: the conflict target is the
// unique user_id index and losers do nothing.
func (r *repository) EnsureRecord(ctx context.Context, userID string) error {
	rec := model.NewLegacyUsage(userID)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("ensure usage record: %w", err)
	}
	return nil
}

func (r *repository) Get(ctx context.Context, userID string) (*model.UserUsage, error) {
	var rec model.UserUsage
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get usage record: %w", err)
	}
	return &rec, nil
}

// Increment atomically adds the metered amount to the resource column.
// The addition happens in the database so concurrent requests cannot
// lose updates to read-modify-write races.
func (r *repository) Increment(ctx context.Context, userID string, resource model.Resource, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	column, err := usageColumn(resource)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Model(&model.UserUsage{}).
		Where("user_id = ?", userID).
		Update(column, gorm.Expr(column+" + ?", amount))
	if result.Error != nil {
		return fmt.Errorf("increment %s: %w", column, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// GrantTopUp raises the token ceiling by the purchased amount.
func (r *repository) GrantTopUp(ctx context.Context, userID string, tokens int64) error {
	if tokens <= 0 {
		return fmt.Errorf("grant top-up: %w", ErrInvalidAmount)
	}

	result := r.db.WithContext(ctx).
		Model(&model.UserUsage{}).
		Where("user_id = ?", userID).
		Update("max_token_usage", gorm.Expr("max_token_usage + ?", tokens))
	if result.Error != nil {
		return fmt.Errorf("grant top-up: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *repository) ApplySubscription(ctx context.Context, userID string, update SubscriptionUpdate) error {
	values := map[string]any{
		"subscription_status": update.Status,
		"payment_status":      update.PaymentStatus,
		"billing_cycle":       update.Cycle,
		"current_plan":        update.Plan,
		"current_product":     update.Product,
		"max_token_usage":     update.MaxTokens,
		"max_audio_minutes":   update.MaxAudioMinutes,
	}
	if update.PaidAt != nil {
		values["last_payment"] = *update.PaidAt
	}

	result := r.db.WithContext(ctx).
		Model(&model.UserUsage{}).
		Where("user_id = ?", userID).
		Updates(values)
	if result.Error != nil {
		return fmt.Errorf("apply subscription: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *repository) Deactivate(ctx context.Context, userID string, status model.AccountStatus) error {
	result := r.db.WithContext(ctx).
		Model(&model.UserUsage{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"subscription_status": status,
			"payment_status":      model.PaymentStatusNone,
		})
	if result.Error != nil {
		return fmt.Errorf("deactivate: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ResetRecurring performs the billing-cycle reset in one statement.
// token_usage goes back to zero; max_token_usage keeps the unconsumed
// top-up portion above the base limit (GREATEST arithmetic mirrors
// NextAllotment). Only active, paid, recurring records match.
func (r *repository) ResetRecurring(ctx context.Context, limit int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.UserUsage{}).
		Where("subscription_status IN ?", []model.AccountStatus{model.AccountStatusActive, model.AccountStatusTrialing}).
		Where("payment_status = ?", model.PaymentStatusPaid).
		Where("billing_cycle IN ?", []model.BillingCycle{model.BillingCycleMonthly, model.BillingCycleYearly}).
		Updates(map[string]any{
			"token_usage": 0,
			"max_token_usage": gorm.Expr(
				"? + GREATEST(GREATEST(max_token_usage - ?, 0) - GREATEST(token_usage - ?, 0), 0)",
				limit, limit, limit,
			),
			"audio_minutes_used": 0,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("reset recurring usage: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ZeroInactiveAudio removes the audio allotment from records that are
// no longer entitled to it.
func (r *repository) ZeroInactiveAudio(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.UserUsage{}).
		Where("subscription_status NOT IN ?", []model.AccountStatus{model.AccountStatusActive, model.AccountStatusTrialing}).
		Updates(map[string]any{
			"audio_minutes_used": 0,
			"max_audio_minutes":  0,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("zero inactive audio: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func usageColumn(resource model.Resource) (string, error) {
	switch resource {
	case model.ResourceToken:
		return "token_usage", nil
	case model.ResourceAudioMinute:
		return "audio_minutes_used", nil
	default:
		return "", fmt.Errorf("unknown resource %q", resource)
	}
}
