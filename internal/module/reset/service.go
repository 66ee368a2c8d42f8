package reset

import (
	"context"

	"go.uber.org/zap"

	"github.com/notecompanion/server/internal/module/ledger"
	apperrors "github.com/notecompanion/server/internal/shared/errors"
)

// Ledger runs the billing-cycle reset pass.
type Ledger interface {
	Reset(ctx context.Context) (*ledger.ResetResult, error)
}

// Service triggers the billing-cycle reset. Storage failures surface as
// the job-facing RESET_FAILED error.
type Service struct {
	ledger Ledger
	logger *zap.Logger
}

// NewService creates a new reset service.
func NewService(l Ledger, logger *zap.Logger) *Service {
	return &Service{ledger: l, logger: logger}
}

// Run executes one reset pass over the whole ledger.
func (s *Service) Run(ctx context.Context) (*ledger.ResetResult, *apperrors.AppError) {
	result, err := s.ledger.Reset(ctx)
	if err != nil {
		s.logger.Error("billing-cycle reset failed", zap.Error(err))
		return nil, apperrors.ResetFailed(err)
	}
	return result, nil
}
