package tier

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/notecompanion/server/internal/model"
)

// DefaultTiers is the catalog seeded on first successful init.
func DefaultTiers() []model.Tier {
	return []model.Tier{
		{
			ID:            "monthly",
			Kind:          model.TierKindSubscription,
			Name:          "Monthly",
			Description:   "Full access, billed monthly",
			BillingCycle:  model.BillingCycleMonthly,
			PriceUSD:      1500,
			MonthlyTokens: model.MonthlyTokenLimit,
			AudioMinutes:  model.DefaultMaxAudioMinutes,
			Features:      []string{"classification", "tags", "formatting", "transcription"},
			Active:        true,
			DisplayOrder:  1,
		},
		{
			ID:            "yearly",
			Kind:          model.TierKindSubscription,
			Name:          "Yearly",
			Description:   "Full access, billed yearly",
			BillingCycle:  model.BillingCycleYearly,
			PriceUSD:      11900,
			MonthlyTokens: model.MonthlyTokenLimit,
			AudioMinutes:  model.DefaultMaxAudioMinutes,
			Features:      []string{"classification", "tags", "formatting", "transcription", "priority support"},
			Active:        true,
			DisplayOrder:  2,
		},
		{
			ID:           "top-up-5m",
			Kind:         model.TierKindTopUp,
			Name:         "5M Token Top-Up",
			Description:  "One-time purchase of 5 million tokens",
			BillingCycle: model.BillingCycleTopUp,
			PriceUSD:     2000,
			TopUpTokens:  model.MonthlyTokenLimit,
			Features:     []string{"tokens never expire until used"},
			Active:       true,
			DisplayOrder: 3,
		},
	}
}

// Catalog serves the tier list, seeding defaults on first use. Init is
// latched on first success: failures leave the latch open so the next
// caller retries, successes make every later call a no-op.
type Catalog struct {
	repo     Repository
	defaults []model.Tier
	logger   *zap.Logger

	seeded atomic.Bool
	mu     sync.Mutex
}

// NewCatalog creates a new tier catalog.
func NewCatalog(repo Repository, defaults []model.Tier, logger *zap.Logger) *Catalog {
	if defaults == nil {
		defaults = DefaultTiers()
	}
	return &Catalog{
		repo:     repo,
		defaults: defaults,
		logger:   logger,
	}
}

// Init seeds the default catalog once. Safe to call concurrently and
// repeatedly.
func (c *Catalog) Init(ctx context.Context) error {
	if c.seeded.Load() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seeded.Load() {
		return nil
	}

	if err := c.repo.Seed(ctx, c.defaults); err != nil {
		c.logger.Warn("tier seed failed, will retry", zap.Error(err))
		return err
	}

	c.seeded.Store(true)
	c.logger.Info("tier catalog seeded", zap.Int("tiers", len(c.defaults)))
	return nil
}

// List returns the active tiers, seeding defaults first if that has not
// succeeded yet.
func (c *Catalog) List(ctx context.Context) ([]model.Tier, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	return c.repo.ListActive(ctx)
}

// Get returns one tier by ID.
func (c *Catalog) Get(ctx context.Context, id string) (*model.Tier, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	return c.repo.GetByID(ctx, id)
}

// GetByStripePriceID returns the tier a Stripe price belongs to.
func (c *Catalog) GetByStripePriceID(ctx context.Context, priceID string) (*model.Tier, error) {
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	return c.repo.GetByStripePriceID(ctx, priceID)
}
