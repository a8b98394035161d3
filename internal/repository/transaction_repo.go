package repository

import (
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"github.com/qs3c/experience_billing/internal/model"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) WithTx(tx *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: tx}
}

// Create stores the transaction with a fresh ulid reference when none is set.
func (r *TransactionRepository) Create(txn *model.Transaction) error {
	if txn.Reference == "" {
		txn.Reference = ulid.Make().String()
	}
	return r.db.Create(txn).Error
}

// ExistsByProviderTxn reports whether a provider transaction id was already recorded.
func (r *TransactionRepository) ExistsByProviderTxn(provider model.ProviderType, providerTxnID string) (bool, error) {
	if providerTxnID == "" {
		return false, nil
	}
	var count int64
	err := r.db.Model(&model.Transaction{}).
		Where("provider = ? AND provider_transaction_id = ?", provider, providerTxnID).
		Count(&count).Error
	return count > 0, err
}

func (r *TransactionRepository) ListBySubscription(subscriptionID int64) ([]model.Transaction, error) {
	var txns []model.Transaction
	err := r.db.Where("subscription_id = ?", subscriptionID).Order("id ASC").Find(&txns).Error
	return txns, err
}

func (r *TransactionRepository) ListByUser(userID int64, limit int) ([]model.Transaction, error) {
	var txns []model.Transaction
	err := r.db.Where("user_id = ?", userID).Order("id DESC").Limit(limit).Find(&txns).Error
	return txns, err
}
