package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/experience_billing/internal/model"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *UserRepository) WithTx(tx *gorm.DB) *UserRepository {
	return &UserRepository{db: tx}
}

func (r *UserRepository) Create(user *model.User) error {
	return r.db.Create(user).Error
}

func (r *UserRepository) GetByID(id int64) (*model.User, error) {
	var user model.User
	err := r.db.Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByIDForUpdate locks the user row, serializing billing commands per user.
func (r *UserRepository) GetByIDForUpdate(id int64) (*model.User, error) {
	var user model.User
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// MarkTrialUsed flips the trial flag once. It reports false when the flag was already set.
func (r *UserRepository) MarkTrialUsed(id int64) (bool, error) {
	result := r.db.Model(&model.User{}).
		Where("id = ? AND is_trial_used = ?", id, false).
		Update("is_trial_used", true)
	return result.RowsAffected > 0, result.Error
}

func (r *UserRepository) SetCardCustomer(id int64, customerID string) error {
	return r.db.Model(&model.User{}).Where("id = ?", id).Update("card_customer_id", customerID).Error
}
