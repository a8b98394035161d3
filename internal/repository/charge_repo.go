package repository

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/qs3c/experience_billing/internal/model"
)

type ChargeRepository struct {
	db *gorm.DB
}

func NewChargeRepository(db *gorm.DB) *ChargeRepository {
	return &ChargeRepository{db: db}
}

func (r *ChargeRepository) WithTx(tx *gorm.DB) *ChargeRepository {
	return &ChargeRepository{db: tx}
}

func (r *ChargeRepository) Create(charge *model.Charge) error {
	if charge.Reference == "" {
		charge.Reference = ulid.Make().String()
	}
	return r.db.Create(charge).Error
}

// SumSince totals charges against the balance created at or after since.
func (r *ChargeRepository) SumSince(balanceID int64, since time.Time) (int64, error) {
	var total int64
	err := r.db.Model(&model.Charge{}).
		Where("balance_id = ? AND created_at >= ?", balanceID, since).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

func (r *ChargeRepository) ListByExperience(experienceID int64) ([]model.Charge, error) {
	var charges []model.Charge
	err := r.db.Where("experience_id = ?", experienceID).Order("id ASC").Find(&charges).Error
	return charges, err
}
