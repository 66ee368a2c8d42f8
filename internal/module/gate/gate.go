package gate

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/notecompanion/server/internal/adapter/outbound/keyverify"
	"github.com/notecompanion/server/internal/model"
	"github.com/notecompanion/server/internal/module/auth"
	"github.com/notecompanion/server/internal/module/quota"
	apperrors "github.com/notecompanion/server/internal/shared/errors"
	"github.com/notecompanion/server/internal/shared/metrics"
)

// SessionResolver validates a session access token and returns the user ID.
type SessionResolver interface {
	ResolveSession(token string) (string, error)
}

// KeyResolver resolves an API key against the local key table.
type KeyResolver interface {
	ResolveAPIKey(ctx context.Context, key string) (string, error)
}

// Ledger is the usage store the gate reads quota state from.
type Ledger interface {
	EnsureRecord(ctx context.Context, userID string) error
	Get(ctx context.Context, userID string) (*model.UserUsage, error)
}

// Decision is the result of an allowed authorization.
type Decision struct {
	UserID string
	Usage  *model.UserUsage
	Quota  quota.Status
}

// Gate authorizes metered requests. The order of checks is fixed:
// identity first, then subscription state, then quota. A user with an
// inactive subscription is told about the subscription even when their
// quota is also exhausted.
type Gate struct {
	verifier keyverify.Verifier
	sessions SessionResolver
	keys     KeyResolver
	ledger   Ledger
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New creates a new authorization gate. verifier may be nil when no
// external verification service is configured; key lookups then go
// straight to the local table.
func New(
	verifier keyverify.Verifier,
	sessions SessionResolver,
	keys KeyResolver,
	ledger Ledger,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Gate {
	return &Gate{
		verifier: verifier,
		sessions: sessions,
		keys:     keys,
		ledger:   ledger,
		metrics:  m,
		logger:   logger,
	}
}

// Authorize resolves the credential to a user and checks that the user
// may consume the given resource. All failures are typed AppErrors.
func (g *Gate) Authorize(ctx context.Context, credential string, resource model.Resource) (*Decision, *apperrors.AppError) {
	userID, ok := g.authenticate(ctx, credential)
	if !ok {
		g.record("auth_failed")
		return nil, apperrors.AuthFailed("")
	}

	if err := g.ledger.EnsureRecord(ctx, userID); err != nil {
		g.record("usage_check_failed")
		g.logger.Error("ensure usage record", zap.String("user_id", userID), zap.Error(err))
		return nil, apperrors.UsageCheckFailed(err)
	}

	rec, err := g.ledger.Get(ctx, userID)
	if err != nil {
		g.record("usage_check_failed")
		g.logger.Error("load usage record", zap.String("user_id", userID), zap.Error(err))
		return nil, apperrors.UsageCheckFailed(err)
	}

	if !rec.SubscriptionStatus.IsActive() {
		g.record("subscription_inactive")
		return nil, apperrors.SubscriptionInactive("")
	}

	status := quota.Evaluate(rec, resource)
	if status.Exhausted {
		g.record("quota_exceeded")
		if g.metrics != nil {
			g.metrics.RecordQuotaExceeded(resource.String())
		}
		return nil, apperrors.QuotaExceeded(status.Message())
	}

	g.record("allowed")
	return &Decision{UserID: userID, Usage: rec, Quota: status}, nil
}

// authenticate tries the API key scheme first, then falls back to the
// session scheme. A credential that looks like an API key but is not
// recognized still gets a session attempt, so an expired key pasted
// into the token field fails the same way as any bad token.
func (g *Gate) authenticate(ctx context.Context, credential string) (string, bool) {
	if credential == "" {
		return "", false
	}

	if auth.IsValidAPIKeyFormat(credential) {
		if userID, ok := g.resolveKey(ctx, credential); ok {
			return userID, true
		}
	}

	userID, err := g.sessions.ResolveSession(credential)
	if err != nil {
		return "", false
	}
	return userID, true
}

// resolveKey asks the external verification service, falling back to
// the local key table when the service cannot answer. A definitive
// "invalid" from the service is final; only unavailability triggers
// the fallback.
func (g *Gate) resolveKey(ctx context.Context, key string) (string, bool) {
	if g.verifier != nil {
		result, err := g.verifier.Verify(ctx, key)
		switch {
		case err == nil && result.Valid && result.UserID != "":
			return result.UserID, true
		case err == nil:
			return "", false
		case errors.Is(err, keyverify.ErrUnavailable):
			g.logger.Warn("key verification unavailable, using local lookup", zap.Error(err))
		default:
			g.logger.Warn("key verification error, using local lookup", zap.Error(err))
		}
	}

	if g.keys == nil {
		return "", false
	}

	userID, err := g.keys.ResolveAPIKey(ctx, key)
	if err != nil {
		return "", false
	}
	return userID, true
}

func (g *Gate) record(outcome string) {
	if g.metrics != nil {
		g.metrics.RecordAuthorize(outcome)
	}
}
