package model

import (
	"time"

	"github.com/qs3c/experience_billing/internal/pkg/money"
)

// Balance is the metered pay-per-use wallet. Amount may go negative (consumed, not yet charged).
type Balance struct {
	ID                    int64      `gorm:"primaryKey" json:"id"`
	UserID                int64      `gorm:"not null;uniqueIndex" json:"user_id"`
	Amount                int64      `gorm:"not null;default:0" json:"amount"`
	Currency              string     `gorm:"size:3;not null;default:usd" json:"currency"`
	MonthlyLimit          int64      `gorm:"not null;default:0" json:"monthly_limit"`
	IsChargeLimitEnabled  bool       `gorm:"default:false" json:"is_charge_limit_enabled"`
	IsLimitWarningEnabled bool       `gorm:"default:false" json:"is_limit_warning_enabled"`
	LastRefillAmount      int64      `gorm:"not null;default:0" json:"last_refill_amount"`
	RefillBalanceAt       *time.Time `json:"refill_balance_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

func (Balance) TableName() string {
	return "balances"
}

func (b *Balance) Money() money.Money {
	return money.New(b.Amount, b.Currency)
}

// Charge is a debit against a balance caused by paid recognitions of one experience.
type Charge struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	BalanceID      int64     `gorm:"not null;index" json:"balance_id"`
	ExperienceID   int64     `gorm:"not null;index" json:"experience_id"`
	SubscriptionID int64     `gorm:"not null;index" json:"subscription_id"`
	Recognitions   int64     `gorm:"not null" json:"recognitions"`
	Amount         int64     `gorm:"not null" json:"amount"`
	Currency       string    `gorm:"size:3;not null" json:"currency"`
	Reference      string    `gorm:"size:26;uniqueIndex" json:"reference"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

func (Charge) TableName() string {
	return "charges"
}
