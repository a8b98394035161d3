package model

import (
	"time"

	"gorm.io/datatypes"
)

type TransactionType string

const (
	TransactionSubscription TransactionType = "subscription"
	TransactionBalance      TransactionType = "balance"
)

// Transaction is the audit trail of every money movement.
type Transaction struct {
	ID                    int64             `gorm:"primaryKey" json:"id"`
	UserID                int64             `gorm:"not null;index" json:"user_id"`
	SubscriptionID        *int64            `gorm:"index" json:"subscription_id,omitempty"`
	BalanceID             *int64            `gorm:"index" json:"balance_id,omitempty"`
	Provider              ProviderType      `gorm:"size:16;not null" json:"provider"`
	Type                  TransactionType   `gorm:"size:16;not null" json:"type"`
	Amount                int64             `gorm:"not null" json:"amount"`
	Currency              string            `gorm:"size:3;not null" json:"currency"`
	ProviderTransactionID string            `gorm:"size:100;index" json:"provider_transaction_id,omitempty"`
	Reference             string            `gorm:"size:26;uniqueIndex" json:"reference"`
	Metadata              datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt             time.Time         `gorm:"index" json:"created_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}
