package service

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/pkg/xerrors"
	"github.com/qs3c/experience_billing/internal/repository"
)

// liveSubscriptions splits a user's live subscriptions into the paid one and the trial.
func liveSubscriptions(subs *repository.SubscriptionRepository, userID int64, now time.Time) (paid, trial *model.Subscription, err error) {
	live, err := subs.FindLive(userID, now)
	if err != nil {
		return nil, nil, err
	}
	for i := range live {
		sub := live[i]
		if sub.ProviderType == model.ProviderInternal {
			if trial == nil {
				trial = &sub
			}
			continue
		}
		if paid == nil {
			paid = &sub
		}
	}
	return paid, trial, nil
}

// currentLive returns the subscription the user is consuming now, paid before trial, with its
// package. Both are nil when nothing is live.
func currentLive(subs *repository.SubscriptionRepository, pkgs *repository.PackageRepository, userID int64, now time.Time) (*model.Subscription, *model.Package, error) {
	paid, trial, err := liveSubscriptions(subs, userID, now)
	if err != nil {
		return nil, nil, err
	}
	sub := paid
	if sub == nil {
		sub = trial
	}
	if sub == nil {
		return nil, nil, nil
	}
	pkg, err := pkgs.GetByID(sub.PackageID)
	if err != nil {
		return nil, nil, notFound(err)
	}
	return sub, pkg, nil
}

// notFound maps gorm's missing-row error into the billing taxonomy.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return xerrors.ErrNotFound
	}
	return err
}
