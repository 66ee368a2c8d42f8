package model

import (
	"strings"
	"time"
)

// Default allotments applied to records created lazily, before any
// billing event has classified the user.
const (
	DefaultMaxTokenUsage   int64 = 5_000_000
	DefaultMaxAudioMinutes int64 = 60
)

// MonthlyTokenLimit is the base token allotment restored by the
// billing-cycle reset. Anything above it on max_token_usage is treated
// as purchased top-up.
const MonthlyTokenLimit int64 = 5_000_000

// Resource identifies a metered resource dimension.
type Resource string

const (
	ResourceToken       Resource = "token"
	ResourceAudioMinute Resource = "audio-minute"
)

// String returns the string representation of the resource.
func (r Resource) String() string {
	return string(r)
}

// IsValid checks if the resource is valid.
func (r Resource) IsValid() bool {
	switch r {
	case ResourceToken, ResourceAudioMinute:
		return true
	}
	return false
}

// AccountStatus is the canonical subscription state of an account.
// Every billing event source maps into this enum through
// NormalizeAccountStatus; nothing else writes subscription_status.
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusTrialing AccountStatus = "trialing"
	AccountStatusPastDue  AccountStatus = "past_due"
	AccountStatusCanceled AccountStatus = "canceled"
	AccountStatusInactive AccountStatus = "inactive"
)

// String returns the string representation of the status.
func (s AccountStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid.
func (s AccountStatus) IsValid() bool {
	switch s {
	case AccountStatusActive, AccountStatusTrialing, AccountStatusPastDue, AccountStatusCanceled, AccountStatusInactive:
		return true
	}
	return false
}

// IsActive returns true if the account may use metered features.
func (s AccountStatus) IsActive() bool {
	return s == AccountStatusActive || s == AccountStatusTrialing
}

// NormalizeAccountStatus maps a provider status string to the canonical
// enum. Unrecognized values normalize to inactive so a new provider
// state can never accidentally grant access.
func NormalizeAccountStatus(raw string) AccountStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active", "succeeded", "paid", "complete", "completed", "trade_success", "trade_finished":
		return AccountStatusActive
	case "trialing", "trial":
		return AccountStatusTrialing
	case "past_due", "pastdue", "unpaid", "incomplete":
		return AccountStatusPastDue
	case "canceled", "cancelled", "closed", "trade_closed", "deleted", "expired", "incomplete_expired":
		return AccountStatusCanceled
	default:
		return AccountStatusInactive
	}
}

// PaymentStatus is the state of the account's most recent payment.
type PaymentStatus string

const (
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusFailed  PaymentStatus = "failed"
	PaymentStatusNone    PaymentStatus = "none"
)

// String returns the string representation of the payment status.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid checks if the payment status is valid.
func (p PaymentStatus) IsValid() bool {
	switch p {
	case PaymentStatusPaid, PaymentStatusPending, PaymentStatusFailed, PaymentStatusNone:
		return true
	}
	return false
}

// IsPaid returns true if the latest payment settled.
func (p PaymentStatus) IsPaid() bool {
	return p == PaymentStatusPaid
}

// BillingCycle represents the billing period of the current plan.
type BillingCycle string

const (
	BillingCycleMonthly BillingCycle = "monthly"
	BillingCycleYearly  BillingCycle = "yearly"
	BillingCycleTopUp   BillingCycle = "top-up"
	// BillingCycleLegacy marks records created lazily before any billing
	// event classified them.
	BillingCycleLegacy BillingCycle = "legacy"
)

// String returns the string representation of the billing cycle.
func (b BillingCycle) String() string {
	return string(b)
}

// IsValid checks if the billing cycle is valid.
func (b BillingCycle) IsValid() bool {
	switch b {
	case BillingCycleMonthly, BillingCycleYearly, BillingCycleTopUp, BillingCycleLegacy:
		return true
	}
	return false
}

// IsRecurring returns true for cycles that renew and therefore
// participate in the periodic usage reset.
func (b BillingCycle) IsRecurring() bool {
	return b == BillingCycleMonthly || b == BillingCycleYearly
}

// UserUsage is the per-user metering ledger row. One row per user,
// created lazily on first authorized request.
type UserUsage struct {
	ID                 uint          `json:"-" gorm:"primaryKey"`
	UserID             string        `json:"user_id" gorm:"uniqueIndex;not null"`
	TokenUsage         int64         `json:"token_usage" gorm:"default:0"`
	MaxTokenUsage      int64         `json:"max_token_usage" gorm:"default:0"`
	AudioMinutesUsed   int64         `json:"audio_minutes_used" gorm:"default:0"`
	MaxAudioMinutes    int64         `json:"max_audio_minutes" gorm:"default:0"`
	SubscriptionStatus AccountStatus `json:"subscription_status" gorm:"default:inactive"`
	PaymentStatus      PaymentStatus `json:"payment_status" gorm:"default:none"`
	BillingCycle       BillingCycle  `json:"billing_cycle"`
	CurrentPlan        string        `json:"current_plan"`
	CurrentProduct     string        `json:"current_product"`
	LastPayment        *time.Time    `json:"last_payment,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// TableName returns the database table name.
func (UserUsage) TableName() string {
	return "user_usage"
}

// NewLegacyUsage returns the ledger row inserted for a user seen before
// any billing event. Legacy users keep service on the default allotment
// but never match the recurring reset predicate.
func NewLegacyUsage(userID string) *UserUsage {
	return &UserUsage{
		UserID:             userID,
		TokenUsage:         0,
		MaxTokenUsage:      DefaultMaxTokenUsage,
		AudioMinutesUsed:   0,
		MaxAudioMinutes:    DefaultMaxAudioMinutes,
		SubscriptionStatus: AccountStatusActive,
		PaymentStatus:      PaymentStatusPaid,
		BillingCycle:       BillingCycleLegacy,
		CurrentPlan:        "legacy",
		CurrentProduct:     "legacy",
	}
}
