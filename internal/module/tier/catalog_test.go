package tier

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/notecompanion/server/internal/model"
	"github.com/notecompanion/server/internal/shared/logger"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) Seed(ctx context.Context, tiers []model.Tier) error {
	args := m.Called(ctx, tiers)
	return args.Error(0)
}

func (m *mockRepository) ListActive(ctx context.Context) ([]model.Tier, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Tier), args.Error(1)
}

func (m *mockRepository) GetByID(ctx context.Context, id string) (*model.Tier, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Tier), args.Error(1)
}

func (m *mockRepository) GetByStripePriceID(ctx context.Context, priceID string) (*model.Tier, error) {
	args := m.Called(ctx, priceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Tier), args.Error(1)
}

func TestInit_SeedsOnce(t *testing.T) {
	repo := new(mockRepository)
	catalog := NewCatalog(repo, nil, logger.NewNop())

	repo.On("Seed", mock.Anything, mock.Anything).Return(nil).Once()

	require.NoError(t, catalog.Init(context.Background()))
	require.NoError(t, catalog.Init(context.Background()))
	require.NoError(t, catalog.Init(context.Background()))

	repo.AssertNumberOfCalls(t, "Seed", 1)
}

func TestInit_RetriesUntilFirstSuccess(t *testing.T) {
	repo := new(mockRepository)
	catalog := NewCatalog(repo, nil, logger.NewNop())

	repo.On("Seed", mock.Anything, mock.Anything).Return(assert.AnError).Twice()
	repo.On("Seed", mock.Anything, mock.Anything).Return(nil).Once()

	assert.Error(t, catalog.Init(context.Background()))
	assert.Error(t, catalog.Init(context.Background()))
	require.NoError(t, catalog.Init(context.Background()))

	// Latched: no further seed attempts.
	require.NoError(t, catalog.Init(context.Background()))
	repo.AssertNumberOfCalls(t, "Seed", 3)
}

func TestInit_Concurrent(t *testing.T) {
	repo := new(mockRepository)
	catalog := NewCatalog(repo, nil, logger.NewNop())

	repo.On("Seed", mock.Anything, mock.Anything).Return(nil).Once()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = catalog.Init(context.Background())
		}()
	}
	wg.Wait()

	repo.AssertNumberOfCalls(t, "Seed", 1)
}

func TestList_SeedsFirst(t *testing.T) {
	repo := new(mockRepository)
	catalog := NewCatalog(repo, nil, logger.NewNop())

	repo.On("Seed", mock.Anything, mock.Anything).Return(nil).Once()
	repo.On("ListActive", mock.Anything).Return(DefaultTiers(), nil)

	tiers, err := catalog.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, tiers, 3)
	repo.AssertExpectations(t)
}

func TestList_SeedFailureSurfaces(t *testing.T) {
	repo := new(mockRepository)
	catalog := NewCatalog(repo, nil, logger.NewNop())

	repo.On("Seed", mock.Anything, mock.Anything).Return(assert.AnError)

	_, err := catalog.List(context.Background())
	assert.Error(t, err)
	repo.AssertNotCalled(t, "ListActive", mock.Anything)
}

func TestDefaultTiers(t *testing.T) {
	tiers := DefaultTiers()
	require.Len(t, tiers, 3)

	var topUps, subscriptions int
	for _, tier := range tiers {
		if tier.IsTopUp() {
			topUps++
			assert.Equal(t, model.MonthlyTokenLimit, tier.TopUpTokens)
		} else {
			subscriptions++
			assert.Equal(t, model.MonthlyTokenLimit, tier.MonthlyTokens)
			assert.Equal(t, model.DefaultMaxAudioMinutes, tier.AudioMinutes)
		}
	}
	assert.Equal(t, 1, topUps)
	assert.Equal(t, 2, subscriptions)
}
