package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notecompanion/server/internal/model"
)

// fakeStore is an in-memory Repository whose reset pass applies
// NextAllotment per matching record, the same arithmetic the SQL
// GREATEST expression in ResetRecurring encodes.
type fakeStore struct {
	records map[string]*model.UserUsage
}

func newFakeStore(records ...*model.UserUsage) *fakeStore {
	s := &fakeStore{records: make(map[string]*model.UserUsage)}
	for _, rec := range records {
		s.records[rec.UserID] = rec
	}
	return s
}

func (s *fakeStore) EnsureRecord(ctx context.Context, userID string) error {
	if _, ok := s.records[userID]; !ok {
		s.records[userID] = model.NewLegacyUsage(userID)
	}
	return nil
}

func (s *fakeStore) Get(ctx context.Context, userID string) (*model.UserUsage, error) {
	rec, ok := s.records[userID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

func (s *fakeStore) Increment(ctx context.Context, userID string, resource model.Resource, amount int64) error {
	rec, ok := s.records[userID]
	if !ok {
		return ErrRecordNotFound
	}
	switch resource {
	case model.ResourceToken:
		rec.TokenUsage += amount
	case model.ResourceAudioMinute:
		rec.AudioMinutesUsed += amount
	}
	return nil
}

func (s *fakeStore) GrantTopUp(ctx context.Context, userID string, tokens int64) error {
	rec, ok := s.records[userID]
	if !ok {
		return ErrRecordNotFound
	}
	rec.MaxTokenUsage += tokens
	return nil
}

func (s *fakeStore) ApplySubscription(ctx context.Context, userID string, update SubscriptionUpdate) error {
	return nil
}

func (s *fakeStore) Deactivate(ctx context.Context, userID string, status model.AccountStatus) error {
	rec, ok := s.records[userID]
	if !ok {
		return ErrRecordNotFound
	}
	rec.SubscriptionStatus = status
	return nil
}

func (s *fakeStore) matchesRecurring(rec *model.UserUsage) bool {
	return rec.SubscriptionStatus.IsActive() &&
		rec.PaymentStatus == model.PaymentStatusPaid &&
		rec.BillingCycle.IsRecurring()
}

func (s *fakeStore) ResetRecurring(ctx context.Context, limit int64) (int64, error) {
	var affected int64
	for _, rec := range s.records {
		if !s.matchesRecurring(rec) {
			continue
		}
		rec.MaxTokenUsage = NextAllotment(limit, rec.MaxTokenUsage, rec.TokenUsage)
		rec.TokenUsage = 0
		rec.AudioMinutesUsed = 0
		affected++
	}
	return affected, nil
}

func (s *fakeStore) ZeroInactiveAudio(ctx context.Context) (int64, error) {
	var affected int64
	for _, rec := range s.records {
		if rec.SubscriptionStatus.IsActive() {
			continue
		}
		rec.AudioMinutesUsed = 0
		rec.MaxAudioMinutes = 0
		affected++
	}
	return affected, nil
}

func paidMonthlyUsage(userID string, maxTokens, used int64) *model.UserUsage {
	return &model.UserUsage{
		UserID:             userID,
		TokenUsage:         used,
		MaxTokenUsage:      maxTokens,
		AudioMinutesUsed:   12,
		MaxAudioMinutes:    model.DefaultMaxAudioMinutes,
		SubscriptionStatus: model.AccountStatusActive,
		PaymentStatus:      model.PaymentStatusPaid,
		BillingCycle:       model.BillingCycleMonthly,
	}
}

func TestReset_TopUpPreservation(t *testing.T) {
	limit := model.MonthlyTokenLimit

	tests := []struct {
		name    string
		max     int64
		used    int64
		wantMax int64
	}{
		{"top-up untouched", limit + 5_000_000, 3_000_000, limit + 5_000_000},
		{"top-up partially consumed", limit + 5_000_000, 8_000_000, limit + 2_000_000},
		{"top-up fully consumed", limit + 5_000_000, 10_000_000, limit},
		{"no top-up baseline", limit, 2_000_000, limit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(paidMonthlyUsage("user-1", tt.max, tt.used))
			svc := newTestService(store)

			result, err := svc.Reset(context.Background())
			require.NoError(t, err)
			assert.Equal(t, int64(1), result.RecurringReset)

			rec, err := store.Get(context.Background(), "user-1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantMax, rec.MaxTokenUsage)
			assert.Equal(t, int64(0), rec.TokenUsage)
			assert.Equal(t, int64(0), rec.AudioMinutesUsed)
		})
	}
}

func TestReset_SkipsNonRecurringRecords(t *testing.T) {
	limit := model.MonthlyTokenLimit

	inactive := paidMonthlyUsage("inactive", limit, 1_000_000)
	inactive.SubscriptionStatus = model.AccountStatusCanceled

	unpaid := paidMonthlyUsage("unpaid", limit, 1_000_000)
	unpaid.PaymentStatus = model.PaymentStatusPending

	legacy := model.NewLegacyUsage("legacy")
	legacy.TokenUsage = 1_000_000

	store := newFakeStore(
		paidMonthlyUsage("paid", limit, 1_000_000),
		inactive,
		unpaid,
		legacy,
	)
	svc := newTestService(store)

	result, err := svc.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.RecurringReset)

	for _, userID := range []string{"inactive", "unpaid", "legacy"} {
		rec, err := store.Get(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, int64(1_000_000), rec.TokenUsage, userID)
	}
}

func TestReset_ZeroesInactiveAudio(t *testing.T) {
	canceled := paidMonthlyUsage("canceled", model.MonthlyTokenLimit, 0)
	canceled.SubscriptionStatus = model.AccountStatusCanceled

	store := newFakeStore(canceled)
	svc := newTestService(store)

	result, err := svc.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.RecurringReset)
	assert.Equal(t, int64(1), result.AudioZeroed)

	rec, err := store.Get(context.Background(), "canceled")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.AudioMinutesUsed)
	assert.Equal(t, int64(0), rec.MaxAudioMinutes)
}

func TestReset_SecondPassIdempotent(t *testing.T) {
	limit := model.MonthlyTokenLimit
	store := newFakeStore(paidMonthlyUsage("user-1", limit+5_000_000, 8_000_000))
	svc := newTestService(store)

	_, err := svc.Reset(context.Background())
	require.NoError(t, err)

	first, err := store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	firstMax := first.MaxTokenUsage

	// No usage between passes: the second run recomputes the same
	// ceiling and leaves token_usage at zero.
	_, err = svc.Reset(context.Background())
	require.NoError(t, err)

	second, err := store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, firstMax, second.MaxTokenUsage)
	assert.Equal(t, int64(0), second.TokenUsage)
}
