package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/notecompanion/server/internal/model"
	"github.com/notecompanion/server/internal/module/ledger"
	"github.com/notecompanion/server/internal/shared/logger"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) Record(ctx context.Context, event *WebhookEvent) (bool, error) {
	args := m.Called(ctx, event)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepository) MarkProcessed(ctx context.Context, provider, eventID string, processErr error) error {
	args := m.Called(ctx, provider, eventID, processErr)
	return args.Error(0)
}

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) ApplySubscription(ctx context.Context, userID string, update ledger.SubscriptionUpdate) error {
	args := m.Called(ctx, userID, update)
	return args.Error(0)
}

func (m *mockLedger) GrantTopUp(ctx context.Context, userID string, tokens int64) error {
	args := m.Called(ctx, userID, tokens)
	return args.Error(0)
}

func (m *mockLedger) Deactivate(ctx context.Context, userID string, status model.AccountStatus) error {
	args := m.Called(ctx, userID, status)
	return args.Error(0)
}

type mockTiers struct {
	mock.Mock
}

func (m *mockTiers) Get(ctx context.Context, id string) (*model.Tier, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Tier), args.Error(1)
}

func (m *mockTiers) GetByStripePriceID(ctx context.Context, priceID string) (*model.Tier, error) {
	args := m.Called(ctx, priceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Tier), args.Error(1)
}

func newTestService(repo *mockRepository, l *mockLedger, tiers *mockTiers) *Service {
	return NewService(repo, l, tiers, nil, logger.NewNop())
}

func monthlyTier() *model.Tier {
	return &model.Tier{
		ID:            "monthly",
		Kind:          model.TierKindSubscription,
		Name:          "Monthly",
		BillingCycle:  model.BillingCycleMonthly,
		MonthlyTokens: model.MonthlyTokenLimit,
		AudioMinutes:  model.DefaultMaxAudioMinutes,
	}
}

func topUpTier() *model.Tier {
	return &model.Tier{
		ID:          "top-up-5m",
		Kind:        model.TierKindTopUp,
		Name:        "5M Token Top-Up",
		TopUpTokens: 5_000_000,
	}
}

// --- ProcessEvent ---

func TestProcessEvent_RunsHandlerOnce(t *testing.T) {
	repo := new(mockRepository)
	svc := newTestService(repo, new(mockLedger), new(mockTiers))

	repo.On("Record", mock.Anything, mock.MatchedBy(func(e *WebhookEvent) bool {
		return e.Provider == "stripe" && e.EventID == "evt_1"
	})).Return(true, nil)
	repo.On("MarkProcessed", mock.Anything, "stripe", "evt_1", nil).Return(nil)

	calls := 0
	err := svc.ProcessEvent(context.Background(), "stripe", "evt_1", "invoice.paid", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	repo.AssertExpectations(t)
}

func TestProcessEvent_SkipsDuplicates(t *testing.T) {
	repo := new(mockRepository)
	svc := newTestService(repo, new(mockLedger), new(mockTiers))

	repo.On("Record", mock.Anything, mock.Anything).Return(false, nil)

	calls := 0
	err := svc.ProcessEvent(context.Background(), "stripe", "evt_1", "invoice.paid", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, calls)
	repo.AssertNotCalled(t, "MarkProcessed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessEvent_HandlerErrorRecorded(t *testing.T) {
	repo := new(mockRepository)
	svc := newTestService(repo, new(mockLedger), new(mockTiers))

	repo.On("Record", mock.Anything, mock.Anything).Return(true, nil)
	repo.On("MarkProcessed", mock.Anything, "stripe", "evt_1", assert.AnError).Return(nil)

	err := svc.ProcessEvent(context.Background(), "stripe", "evt_1", "invoice.paid", func(ctx context.Context) error {
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	repo.AssertExpectations(t)
}

// --- ApplySubscriptionState ---

func TestApplySubscriptionState_Active(t *testing.T) {
	l := new(mockLedger)
	svc := newTestService(new(mockRepository), l, new(mockTiers))

	paidAt := time.Now()
	l.On("ApplySubscription", mock.Anything, "user-1", mock.MatchedBy(func(u ledger.SubscriptionUpdate) bool {
		return u.Status == model.AccountStatusActive &&
			u.PaymentStatus == model.PaymentStatusPaid &&
			u.Cycle == model.BillingCycleMonthly &&
			u.Plan == "monthly" &&
			u.MaxTokens == model.MonthlyTokenLimit
	})).Return(nil)

	err := svc.ApplySubscriptionState(context.Background(), "user-1", "active", monthlyTier(), &paidAt)
	require.NoError(t, err)
	l.AssertExpectations(t)
}

func TestApplySubscriptionState_TrialingPending(t *testing.T) {
	l := new(mockLedger)
	svc := newTestService(new(mockRepository), l, new(mockTiers))

	l.On("ApplySubscription", mock.Anything, "user-1", mock.MatchedBy(func(u ledger.SubscriptionUpdate) bool {
		return u.Status == model.AccountStatusTrialing && u.PaymentStatus == model.PaymentStatusPending
	})).Return(nil)

	err := svc.ApplySubscriptionState(context.Background(), "user-1", "trialing", monthlyTier(), nil)
	require.NoError(t, err)
}

func TestApplySubscriptionState_CanceledDeactivates(t *testing.T) {
	l := new(mockLedger)
	svc := newTestService(new(mockRepository), l, new(mockTiers))

	l.On("Deactivate", mock.Anything, "user-1", model.AccountStatusCanceled).Return(nil)

	err := svc.ApplySubscriptionState(context.Background(), "user-1", "canceled", nil, nil)
	require.NoError(t, err)
	l.AssertNotCalled(t, "ApplySubscription", mock.Anything, mock.Anything, mock.Anything)
}

func TestApplySubscriptionState_UnknownStatusDeactivates(t *testing.T) {
	l := new(mockLedger)
	svc := newTestService(new(mockRepository), l, new(mockTiers))

	// Statuses the normalizer has never seen must fail closed.
	l.On("Deactivate", mock.Anything, "user-1", model.AccountStatusInactive).Return(nil)

	err := svc.ApplySubscriptionState(context.Background(), "user-1", "paused", nil, nil)
	require.NoError(t, err)
}

func TestApplySubscriptionState_PastDueDeactivates(t *testing.T) {
	l := new(mockLedger)
	svc := newTestService(new(mockRepository), l, new(mockTiers))

	l.On("Deactivate", mock.Anything, "user-1", model.AccountStatusPastDue).Return(nil)

	err := svc.ApplySubscriptionState(context.Background(), "user-1", "past_due", monthlyTier(), nil)
	require.NoError(t, err)
}

// --- Top-ups ---

func TestGrantTopUpPurchase(t *testing.T) {
	l := new(mockLedger)
	svc := newTestService(new(mockRepository), l, new(mockTiers))

	l.On("GrantTopUp", mock.Anything, "user-1", int64(5_000_000)).Return(nil)

	err := svc.GrantTopUpPurchase(context.Background(), "user-1", topUpTier())
	require.NoError(t, err)
	l.AssertExpectations(t)
}

func TestGrantTopUpPurchase_RejectsSubscriptionTier(t *testing.T) {
	l := new(mockLedger)
	svc := newTestService(new(mockRepository), l, new(mockTiers))

	err := svc.GrantTopUpPurchase(context.Background(), "user-1", monthlyTier())
	assert.Error(t, err)
	l.AssertNotCalled(t, "GrantTopUp", mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkPaymentFailed(t *testing.T) {
	l := new(mockLedger)
	svc := newTestService(new(mockRepository), l, new(mockTiers))

	l.On("Deactivate", mock.Anything, "user-1", model.AccountStatusPastDue).Return(nil)

	require.NoError(t, svc.MarkPaymentFailed(context.Background(), "user-1"))
}

// --- Alipay passback parsing ---

func TestParsePassbackParams(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantUser string
		wantTier string
	}{
		{"plain query", "user_id=user-1&tier_id=top-up-5m", "user-1", "top-up-5m"},
		{"url encoded", "user_id%3Duser-1%26tier_id%3Dtop-up-5m", "user-1", "top-up-5m"},
		{"empty", "", "", ""},
		{"missing tier", "user_id=user-1", "user-1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, tierID := parsePassbackParams(tt.raw)
			assert.Equal(t, tt.wantUser, userID)
			assert.Equal(t, tt.wantTier, tierID)
		})
	}
}
