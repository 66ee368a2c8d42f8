package billing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/notecompanion/server/internal/model"
	"github.com/notecompanion/server/internal/module/ledger"
	"github.com/notecompanion/server/internal/shared/metrics"
)

// Ledger is the subset of ledger operations billing events drive.
type Ledger interface {
	ApplySubscription(ctx context.Context, userID string, update ledger.SubscriptionUpdate) error
	GrantTopUp(ctx context.Context, userID string, tokens int64) error
	Deactivate(ctx context.Context, userID string, status model.AccountStatus) error
}

// Tiers resolves purchased products to their allotments.
type Tiers interface {
	Get(ctx context.Context, id string) (*model.Tier, error)
	GetByStripePriceID(ctx context.Context, priceID string) (*model.Tier, error)
}

// Service turns verified billing events into ledger mutations. Every
// provider status string passes through NormalizeAccountStatus before
// it touches the ledger.
type Service struct {
	repo    Repository
	ledger  Ledger
	tiers   Tiers
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewService creates a new billing service.
func NewService(repo Repository, l Ledger, tiers Tiers, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		ledger:  l,
		tiers:   tiers,
		metrics: m,
		logger:  logger,
	}
}

// ProcessEvent runs handler exactly once per (provider, eventID).
// Redelivered events are acknowledged without reprocessing.
func (s *Service) ProcessEvent(ctx context.Context, provider, eventID, eventType string, handler func(ctx context.Context) error) error {
	created, err := s.repo.Record(ctx, &WebhookEvent{
		Provider: provider,
		EventID:  eventID,
		Type:     eventType,
	})
	if err != nil {
		return err
	}
	if !created {
		s.logger.Info("webhook event already processed",
			zap.String("provider", provider),
			zap.String("event_id", eventID),
		)
		s.recordEvent(provider, eventType, "skipped")
		return nil
	}

	processErr := handler(ctx)

	if err := s.repo.MarkProcessed(ctx, provider, eventID, processErr); err != nil {
		s.logger.Error("mark webhook event processed",
			zap.String("provider", provider),
			zap.String("event_id", eventID),
			zap.Error(err),
		)
	}

	if processErr != nil {
		s.recordEvent(provider, eventType, "failed")
		return processErr
	}
	s.recordEvent(provider, eventType, "processed")
	return nil
}

// ApplySubscriptionState reclassifies the user's ledger row from a
// provider subscription status and the purchased tier.
func (s *Service) ApplySubscriptionState(ctx context.Context, userID, rawStatus string, tier *model.Tier, paidAt *time.Time) error {
	status := model.NormalizeAccountStatus(rawStatus)

	if !status.IsActive() {
		if err := s.ledger.Deactivate(ctx, userID, status); err != nil {
			return fmt.Errorf("deactivate subscription: %w", err)
		}
		s.logger.Info("subscription deactivated",
			zap.String("user_id", userID),
			zap.String("status", status.String()),
		)
		return nil
	}

	payment := model.PaymentStatusPaid
	if status == model.AccountStatusTrialing {
		payment = model.PaymentStatusPending
	}

	update := ledger.SubscriptionUpdate{
		Status:          status,
		PaymentStatus:   payment,
		Cycle:           tier.BillingCycle,
		Plan:            tier.ID,
		Product:         tier.Name,
		MaxTokens:       tier.MonthlyTokens,
		MaxAudioMinutes: tier.AudioMinutes,
		PaidAt:          paidAt,
	}
	if err := s.ledger.ApplySubscription(ctx, userID, update); err != nil {
		return fmt.Errorf("apply subscription: %w", err)
	}
	return nil
}

// GrantTopUpPurchase raises the user's token ceiling for a one-off
// purchase.
func (s *Service) GrantTopUpPurchase(ctx context.Context, userID string, tier *model.Tier) error {
	if !tier.IsTopUp() {
		return fmt.Errorf("tier %s is not a top-up product", tier.ID)
	}
	if err := s.ledger.GrantTopUp(ctx, userID, tier.TopUpTokens); err != nil {
		return fmt.Errorf("grant top-up: %w", err)
	}
	return nil
}

// MarkPaymentFailed moves the user out of the active pool after a
// failed renewal.
func (s *Service) MarkPaymentFailed(ctx context.Context, userID string) error {
	if err := s.ledger.Deactivate(ctx, userID, model.AccountStatusPastDue); err != nil {
		return fmt.Errorf("mark payment failed: %w", err)
	}
	return nil
}

func (s *Service) recordEvent(provider, eventType, status string) {
	if s.metrics != nil {
		s.metrics.RecordWebhookEvent(provider, eventType, status)
	}
}
