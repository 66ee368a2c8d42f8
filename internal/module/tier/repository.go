package tier

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/notecompanion/server/internal/model"
)

// ErrTierNotFound is returned when no tier matches the lookup.
var ErrTierNotFound = errors.New("tier not found")

// Repository defines tier catalog data access.
type Repository interface {
	Seed(ctx context.Context, tiers []model.Tier) error
	ListActive(ctx context.Context) ([]model.Tier, error)
	GetByID(ctx context.Context, id string) (*model.Tier, error)
	GetByStripePriceID(ctx context.Context, priceID string) (*model.Tier, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a new tier repository.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// Seed inserts the default catalog. Existing rows win so operators can
// edit tiers without the seed clobbering them on restart.
func (r *gormRepository) Seed(ctx context.Context, tiers []model.Tier) error {
	if len(tiers) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).
		Create(&tiers).Error
	if err != nil {
		return fmt.Errorf("seed tiers: %w", err)
	}
	return nil
}

func (r *gormRepository) ListActive(ctx context.Context) ([]model.Tier, error) {
	var tiers []model.Tier
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("display_order ASC, id ASC").
		Find(&tiers).Error
	if err != nil {
		return nil, fmt.Errorf("list tiers: %w", err)
	}
	return tiers, nil
}

func (r *gormRepository) GetByID(ctx context.Context, id string) (*model.Tier, error) {
	var tier model.Tier
	if err := r.db.WithContext(ctx).First(&tier, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTierNotFound
		}
		return nil, fmt.Errorf("get tier: %w", err)
	}
	return &tier, nil
}

func (r *gormRepository) GetByStripePriceID(ctx context.Context, priceID string) (*model.Tier, error) {
	var tier model.Tier
	if err := r.db.WithContext(ctx).First(&tier, "stripe_price_id = ?", priceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTierNotFound
		}
		return nil, fmt.Errorf("get tier by price: %w", err)
	}
	return &tier, nil
}
