package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/notecompanion/server/internal/model"
	"github.com/notecompanion/server/internal/shared/metrics"
)

// ResetResult summarizes one billing-cycle reset pass.
type ResetResult struct {
	RecurringReset int64 `json:"recurring_reset"`
	AudioZeroed    int64 `json:"audio_zeroed"`
}

// Service provides ledger operations on top of the repository.
type Service struct {
	repo    Repository
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewService creates a new ledger service.
func NewService(repo Repository, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{
		repo:    repo,
		metrics: m,
		logger:  logger,
	}
}

// EnsureRecord lazily creates the user's ledger row.
func (s *Service) EnsureRecord(ctx context.Context, userID string) error {
	return s.repo.EnsureRecord(ctx, userID)
}

// Get returns the user's ledger row.
func (s *Service) Get(ctx context.Context, userID string) (*model.UserUsage, error) {
	return s.repo.Get(ctx, userID)
}

// RecordUsage adds a metered amount to the user's ledger. Negative
// amounts are rejected before touching storage.
func (s *Service) RecordUsage(ctx context.Context, userID string, resource model.Resource, amount int64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	if amount == 0 {
		return nil
	}
	err := s.repo.Increment(ctx, userID, resource, amount)
	if s.metrics != nil {
		s.metrics.RecordUsageIncrement(resource.String(), amount, err)
	}
	return err
}

// Meter records consumption after the metered action already happened.
// Failures are logged and dropped: the response owed to the client must
// not fail because bookkeeping did.
func (s *Service) Meter(ctx context.Context, userID string, resource model.Resource, amount int64) {
	if err := s.RecordUsage(ctx, userID, resource, amount); err != nil {
		s.logger.Error("usage increment dropped",
			zap.String("user_id", userID),
			zap.String("resource", resource.String()),
			zap.Int64("amount", amount),
			zap.Error(err),
		)
	}
}

// GrantTopUp raises the user's token ceiling by the purchased amount.
func (s *Service) GrantTopUp(ctx context.Context, userID string, tokens int64) error {
	if err := s.repo.EnsureRecord(ctx, userID); err != nil {
		return err
	}
	if err := s.repo.GrantTopUp(ctx, userID, tokens); err != nil {
		return err
	}
	s.logger.Info("top-up granted",
		zap.String("user_id", userID),
		zap.Int64("tokens", tokens),
	)
	return nil
}

// ApplySubscription reclassifies the user's ledger row from a billing event.
func (s *Service) ApplySubscription(ctx context.Context, userID string, update SubscriptionUpdate) error {
	if err := s.repo.EnsureRecord(ctx, userID); err != nil {
		return err
	}
	if err := s.repo.ApplySubscription(ctx, userID, update); err != nil {
		return err
	}
	s.logger.Info("subscription applied",
		zap.String("user_id", userID),
		zap.String("status", update.Status.String()),
		zap.String("plan", update.Plan),
		zap.String("cycle", update.Cycle.String()),
	)
	return nil
}

// Deactivate marks the user's subscription as ended.
func (s *Service) Deactivate(ctx context.Context, userID string, status model.AccountStatus) error {
	if status.IsActive() {
		return fmt.Errorf("deactivate with active status %q", status)
	}
	return s.repo.Deactivate(ctx, userID, status)
}

// Reset runs the billing-cycle reset over the whole ledger.
func (s *Service) Reset(ctx context.Context) (*ResetResult, error) {
	reset, err := s.repo.ResetRecurring(ctx, model.MonthlyTokenLimit)
	if s.metrics != nil {
		s.metrics.RecordResetRun(reset, err)
	}
	if err != nil {
		return nil, err
	}

	zeroed, err := s.repo.ZeroInactiveAudio(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Info("billing-cycle reset complete",
		zap.Int64("recurring_reset", reset),
		zap.Int64("audio_zeroed", zeroed),
	)
	return &ResetResult{RecurringReset: reset, AudioZeroed: zeroed}, nil
}
