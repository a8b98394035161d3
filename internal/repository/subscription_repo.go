package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/pkg/xerrors"
)

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) WithTx(tx *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: tx}
}

func (r *SubscriptionRepository) Create(sub *model.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *SubscriptionRepository) GetByID(id int64) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.Where("id = ?", id).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// UpdateWithVersion writes every column of sub if the stored version still matches.
// On success sub.Version is incremented; otherwise ErrVersionConflict is returned.
func (r *SubscriptionRepository) UpdateWithVersion(sub *model.Subscription) error {
	expected := sub.Version
	sub.Version = expected + 1

	result := r.db.Model(sub).
		Where("version = ?", expected).
		Select("*").
		Omit("id", "created_at").
		Updates(sub)
	if result.Error != nil {
		sub.Version = expected
		return result.Error
	}
	if result.RowsAffected == 0 {
		sub.Version = expected
		return xerrors.ErrVersionConflict
	}
	return nil
}

// FindLive returns the user's ACTIVE subscriptions whose period has not ended, oldest first.
func (r *SubscriptionRepository) FindLive(userID int64, now time.Time) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := r.db.Where("user_id = ? AND status = ? AND expires_at > ?", userID, model.SubscriptionActive, now).
		Order("created_at ASC, id ASC").
		Find(&subs).Error
	return subs, err
}

func (r *SubscriptionRepository) CountLive(userID int64, now time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&model.Subscription{}).
		Where("user_id = ? AND status = ? AND expires_at > ?", userID, model.SubscriptionActive, now).
		Count(&count).Error
	return count, err
}

// LatestByUser returns the most recently created subscription of the user.
func (r *SubscriptionRepository) LatestByUser(userID int64) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC, id DESC").First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// LatestByUserAndStatus returns the user's newest subscription in one of statuses.
func (r *SubscriptionRepository) LatestByUserAndStatus(userID int64, statuses []model.SubscriptionStatus) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.Where("user_id = ? AND status IN ?", userID, statuses).
		Order("created_at DESC, id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) GetByProviderSubscriptionID(id string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.Where("provider_type = ? AND provider_subscription_id = ?", model.ProviderCard, id).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) GetByOriginalTransactionID(id string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.Where("provider_type = ? AND provider_original_transaction_id = ?", model.ProviderPlatform, id).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// FindAbandonedPending lists ids of PENDING subscriptions created before the cutoff.
func (r *SubscriptionRepository) FindAbandonedPending(before time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.Model(&model.Subscription{}).
		Where("status = ? AND created_at < ?", model.SubscriptionPending, before).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// DeletePending removes the given subscriptions if they are still PENDING.
func (r *SubscriptionRepository) DeletePending(ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.Where("id IN ? AND status = ?", ids, model.SubscriptionPending).Delete(&model.Subscription{})
	return result.RowsAffected, result.Error
}
