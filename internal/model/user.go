package model

import (
	"time"
)

// User carries only what the billing engine reads or writes; signup lives elsewhere.
type User struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	Email          string    `gorm:"size:100;uniqueIndex" json:"email"`
	IsTrialUsed    bool      `gorm:"default:false" json:"is_trial_used"`
	CardCustomerID string    `gorm:"size:100" json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
