package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/experience_billing/internal/model"
)

type BalanceRepository struct {
	db *gorm.DB
}

func NewBalanceRepository(db *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: db}
}

func (r *BalanceRepository) WithTx(tx *gorm.DB) *BalanceRepository {
	return &BalanceRepository{db: tx}
}

func (r *BalanceRepository) GetByUserID(userID int64) (*model.Balance, error) {
	var balance model.Balance
	err := r.db.Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// GetOrCreate returns the user's balance, creating an empty one in currency if missing.
func (r *BalanceRepository) GetOrCreate(userID int64, currency string) (*model.Balance, error) {
	balance := model.Balance{UserID: userID, Currency: currency}
	err := r.db.Where("user_id = ?", userID).FirstOrCreate(&balance).Error
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// GetForUpdate locks the balance row for the rest of the transaction.
func (r *BalanceRepository) GetForUpdate(userID int64) (*model.Balance, error) {
	var balance model.Balance
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&balance).Error
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// AddAmount moves the balance by delta in one statement.
func (r *BalanceRepository) AddAmount(id int64, delta int64) error {
	return r.db.Model(&model.Balance{}).
		Where("id = ?", id).
		Update("amount", gorm.Expr("amount + ?", delta)).Error
}

// Refill credits amount and remembers it as the base for low-balance warnings.
func (r *BalanceRepository) Refill(id int64, amount int64, at time.Time) error {
	return r.db.Model(&model.Balance{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"amount":             gorm.Expr("amount + ?", amount),
			"last_refill_amount": amount,
			"refill_balance_at":  at,
		}).Error
}

func (r *BalanceRepository) UpdateLimits(id int64, monthlyLimit int64, chargeLimitEnabled, warningEnabled bool) error {
	return r.db.Model(&model.Balance{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"monthly_limit":            monthlyLimit,
			"is_charge_limit_enabled":  chargeLimitEnabled,
			"is_limit_warning_enabled": warningEnabled,
		}).Error
}
