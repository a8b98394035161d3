package model

import (
	"time"
)

type SubscriptionStatus string

const (
	SubscriptionPending               SubscriptionStatus = "PENDING"
	SubscriptionActive                SubscriptionStatus = "ACTIVE"
	SubscriptionExpired               SubscriptionStatus = "EXPIRED"
	SubscriptionCanceled              SubscriptionStatus = "CANCELED"
	SubscriptionChargedUnsuccessfully SubscriptionStatus = "CHARGED_UNSUCCESSFULLY"
	SubscriptionPastDue               SubscriptionStatus = "PAST_DUE"
)

type ProviderType string

const (
	ProviderCard     ProviderType = "card"
	ProviderPlatform ProviderType = "platform"
	// ProviderInternal tags trial assignments and balance movements with no external payer.
	ProviderInternal ProviderType = "internal"
)

type Subscription struct {
	ID                            int64              `gorm:"primaryKey" json:"id"`
	UserID                        int64              `gorm:"not null;index" json:"user_id"`
	PackageID                     int64              `gorm:"not null;index" json:"package_id"`
	Status                        SubscriptionStatus `gorm:"size:32;not null;index" json:"status"`
	ProviderType                  ProviderType       `gorm:"size:16;not null" json:"provider_type"`
	ExpiresAt                     time.Time          `gorm:"not null;index" json:"expires_at"`
	PeriodStartedAt               time.Time          `gorm:"not null" json:"period_started_at"`
	IsAutorenew                   bool               `gorm:"default:false" json:"is_autorenew"`
	InitialBalanceAmount          int64              `gorm:"default:0" json:"initial_balance_amount"`
	PeriodStartViews              int64              `gorm:"default:0" json:"-"` // paid views already recorded on the period's first day
	ChangedPlanAt                 *time.Time         `json:"changed_plan_at,omitempty"`
	NextPlanID                    *int64             `json:"next_plan_id,omitempty"`
	AppleDowngradeEnabled         bool               `gorm:"default:false" json:"apple_downgrade_enabled"`
	ProviderOriginalTransactionID string             `gorm:"size:100;index" json:"-"`
	ProviderOrderLineItemID       string             `gorm:"size:100" json:"-"`
	ProviderLastTransactionID     string             `gorm:"size:100" json:"-"`
	ProviderReceipt               string             `gorm:"type:text" json:"-"`
	ProviderSubscriptionID        string             `gorm:"size:100;index" json:"-"`
	Version                       int64              `gorm:"not null;default:0" json:"-"`
	CreatedAt                     time.Time          `json:"created_at"`
	UpdatedAt                     time.Time          `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// IsLive reports an ACTIVE subscription whose period has not ended.
func (s *Subscription) IsLive(now time.Time) bool {
	return s != nil && s.Status == SubscriptionActive && s.ExpiresAt.After(now)
}

// Clone returns a copy safe to mutate independently of the receiver.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	if s.ChangedPlanAt != nil {
		t := *s.ChangedPlanAt
		c.ChangedPlanAt = &t
	}
	if s.NextPlanID != nil {
		id := *s.NextPlanID
		c.NextPlanID = &id
	}
	return &c
}
