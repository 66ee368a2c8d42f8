package model

import (
	"time"

	"github.com/lib/pq"
)

// TierKind distinguishes recurring plans from one-off token purchases.
type TierKind string

const (
	TierKindSubscription TierKind = "subscription"
	TierKindTopUp        TierKind = "top-up"
)

// String returns the string representation of the tier kind.
func (k TierKind) String() string {
	return string(k)
}

// IsValid checks if the tier kind is valid.
func (k TierKind) IsValid() bool {
	switch k {
	case TierKindSubscription, TierKindTopUp:
		return true
	}
	return false
}

// Tier is a purchasable product: a recurring subscription plan or a
// one-off token top-up.
type Tier struct {
	ID            string         `json:"id" gorm:"primaryKey"`
	Kind          TierKind       `json:"kind" gorm:"not null"`
	Name          string         `json:"name" gorm:"not null"`
	Description   string         `json:"description"`
	BillingCycle  BillingCycle   `json:"billing_cycle"`
	PriceUSD      int64          `json:"price_usd"`
	StripePriceID string         `json:"stripe_price_id,omitempty"`
	Features      pq.StringArray `json:"features" gorm:"type:text[]"`
	MonthlyTokens int64          `json:"monthly_tokens"`
	AudioMinutes  int64          `json:"audio_minutes"`
	TopUpTokens   int64          `json:"top_up_tokens" gorm:"default:0"`
	Active        bool           `json:"active" gorm:"default:true"`
	DisplayOrder  int            `json:"display_order" gorm:"default:0"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TableName returns the database table name.
func (Tier) TableName() string {
	return "tiers"
}

// IsTopUp returns true for one-off token purchase products.
func (t *Tier) IsTopUp() bool {
	return t.Kind == TierKindTopUp
}

// TierResponse represents tier information for API responses.
type TierResponse struct {
	ID            string   `json:"id"`
	Kind          string   `json:"kind"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	BillingCycle  string   `json:"billing_cycle,omitempty"`
	PriceUSD      int64    `json:"price_usd"`
	MonthlyTokens int64    `json:"monthly_tokens"`
	AudioMinutes  int64    `json:"audio_minutes"`
	TopUpTokens   int64    `json:"top_up_tokens,omitempty"`
	Features      []string `json:"features"`
}

// ToResponse converts a Tier to its API representation.
func (t *Tier) ToResponse() TierResponse {
	return TierResponse{
		ID:            t.ID,
		Kind:          t.Kind.String(),
		Name:          t.Name,
		Description:   t.Description,
		BillingCycle:  t.BillingCycle.String(),
		PriceUSD:      t.PriceUSD,
		MonthlyTokens: t.MonthlyTokens,
		AudioMinutes:  t.AudioMinutes,
		TopUpTokens:   t.TopUpTokens,
		Features:      t.Features,
	}
}
