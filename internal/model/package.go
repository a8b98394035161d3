package model

import (
	"time"

	"github.com/qs3c/experience_billing/internal/pkg/money"
)

// Package is a purchasable plan. Rows are immutable once created.
type Package struct {
	ID                 int64     `gorm:"primaryKey" json:"id"`
	Name               string    `gorm:"size:100;not null" json:"name"`
	ExperiencesNumber  int       `gorm:"not null" json:"experiences_number"`
	RecognitionsNumber int64     `gorm:"not null" json:"recognitions_number"`
	PriceAmount        int64     `gorm:"not null;default:0" json:"price_amount"`
	Currency           string    `gorm:"size:3;not null;default:usd" json:"currency"`
	IsTrial            bool      `gorm:"default:false" json:"is_trial"`
	IsPublic           bool      `gorm:"not null" json:"is_public"`
	PlanID             string    `gorm:"size:100" json:"-"`
	PlatformProductID  *string   `gorm:"size:100;uniqueIndex" json:"platform_product_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

func (Package) TableName() string {
	return "packages"
}

func (p *Package) Price() money.Money {
	return money.New(p.PriceAmount, p.Currency)
}
