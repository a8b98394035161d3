package model

import (
	"time"
)

type ExperienceStatus string

const (
	ExperiencePending  ExperienceStatus = "PENDING"
	ExperienceActive   ExperienceStatus = "ACTIVE"
	ExperienceDisabled ExperienceStatus = "DISABLED"
	ExperienceRejected ExperienceStatus = "REJECTED"
	ExperienceDeleted  ExperienceStatus = "DELETED"
)

// Experience is the gated resource. The quota gate only moves it between
// ACTIVE/PENDING and DISABLED.
type Experience struct {
	ID         int64            `gorm:"primaryKey" json:"id"`
	UserID     int64            `gorm:"not null;index" json:"user_id"`
	Name       string           `gorm:"size:200" json:"name"`
	TargetID   string           `gorm:"size:100" json:"target_id"`
	Status     ExperienceStatus `gorm:"size:16;not null;index" json:"status"`
	IsLastUsed bool             `gorm:"default:false" json:"is_last_used"`
	CreatedAt  time.Time        `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

func (Experience) TableName() string {
	return "experiences"
}

// IsEnabled reports whether the experience occupies a capacity slot.
func (e *Experience) IsEnabled() bool {
	return e.Status == ExperienceActive || e.Status == ExperiencePending
}

// TargetView is the recognition count of one experience on one day, split by trial period.
type TargetView struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	ExperienceID int64     `gorm:"not null;uniqueIndex:idx_target_view_day" json:"experience_id"`
	UserID       int64     `gorm:"not null;index" json:"user_id"`
	Day          time.Time `gorm:"not null;uniqueIndex:idx_target_view_day" json:"day"`
	IsTrial      bool      `gorm:"not null;default:false;uniqueIndex:idx_target_view_day" json:"is_trial"`
	Views        int64     `gorm:"not null;default:0" json:"views"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (TargetView) TableName() string {
	return "target_views"
}
