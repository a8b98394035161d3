package service

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/pkg/xerrors"
	"github.com/qs3c/experience_billing/internal/statemachine"
)

// applied is what a committed transition produced.
type applied struct {
	Subscription *model.Subscription
	Result       statemachine.Result
	Change       GateChange
	Notices      []Notice
}

// loader builds the transition input inside the transaction, after the user row is locked.
type loader func(tx *gorm.DB) (statemachine.State, statemachine.Event, error)

// execute runs one transition for a user under the user's row lock. Gate changes and notices
// go out only after commit.
func (s *SubscriptionService) execute(ctx context.Context, userID int64, load loader) (*applied, error) {
	attempts := s.cfg.MaxWriteRetries
	if attempts < 1 {
		attempts = 1
	}

	var out *applied
	var err error
	for attempt := 1; ; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if _, err := s.users.WithTx(tx).GetByIDForUpdate(userID); err != nil {
				return notFound(err)
			}
			st, ev, err := load(tx)
			if err != nil {
				return err
			}
			res, err := statemachine.Transition(st, ev)
			if err != nil {
				return err
			}
			if out, err = s.applyTx(tx, st, res); err != nil {
				return err
			}
			return s.checkInvariantTx(tx, userID)
		})
		if errors.Is(err, xerrors.ErrVersionConflict) && attempt < attempts {
			s.logger.Info("subscription write conflict, retrying", zap.Int64("user_id", userID), zap.Int("attempt", attempt))
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}

	s.quota.publish(ctx, out.Change)
	deliver(ctx, s.notifier, s.logger, out.Notices)
	return out, nil
}

// reload re-reads a subscription inside the transaction and builds its state.
func (s *SubscriptionService) reload(subscriptionID int64, ev statemachine.Event) loader {
	return func(tx *gorm.DB) (statemachine.State, statemachine.Event, error) {
		sub, err := s.subs.WithTx(tx).GetByID(subscriptionID)
		if err != nil {
			return statemachine.State{}, ev, notFound(err)
		}
		st, err := s.stateTx(tx, sub.UserID, sub)
		return st, ev, err
	}
}

// assignState snapshots the user's live paid subscription, if any, for a new assignment.
func (s *SubscriptionService) assignState(tx *gorm.DB, userID int64) (statemachine.State, error) {
	paid, _, err := liveSubscriptions(s.subs.WithTx(tx), userID, s.now())
	if err != nil {
		return statemachine.State{}, err
	}
	return s.stateTx(tx, userID, paid)
}

// currentState snapshots the subscription the user is consuming now, paid before trial.
func (s *SubscriptionService) currentState(tx *gorm.DB, userID int64) (statemachine.State, error) {
	paid, trial, err := liveSubscriptions(s.subs.WithTx(tx), userID, s.now())
	if err != nil {
		return statemachine.State{}, err
	}
	sub := paid
	if sub == nil {
		sub = trial
	}
	return s.stateTx(tx, userID, sub)
}

func (s *SubscriptionService) stateTx(tx *gorm.DB, userID int64, sub *model.Subscription) (statemachine.State, error) {
	now := s.now()
	user, err := s.users.WithTx(tx).GetByID(userID)
	if err != nil {
		return statemachine.State{}, notFound(err)
	}
	st := statemachine.State{
		Now:          now,
		User:         statemachine.UserState{ID: user.ID, IsTrialUsed: user.IsTrialUsed},
		Subscription: sub,
		Settings:     s.settings(),
	}

	pkgs := s.packages.WithTx(tx)
	if sub != nil {
		if st.Package, err = pkgs.GetByID(sub.PackageID); err != nil {
			return st, notFound(err)
		}
		if sub.NextPlanID != nil {
			if st.NextPlan, err = pkgs.GetByID(*sub.NextPlanID); err != nil {
				return st, notFound(err)
			}
		}
	}

	_, trial, err := liveSubscriptions(s.subs.WithTx(tx), userID, now)
	if err != nil {
		return st, err
	}
	if trial != nil && (sub == nil || trial.ID != sub.ID) {
		st.Trial = trial
	}

	balance, err := s.balances.WithTx(tx).GetByUserID(userID)
	switch {
	case err == nil:
		st.BalanceAmount = balance.Amount
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return st, err
	}
	if st.TodayPaidViews, err = s.views.WithTx(tx).SumUserDay(userID, now, false); err != nil {
		return st, err
	}
	return st, nil
}

// applyTx persists a transition result and its effects.
func (s *SubscriptionService) applyTx(tx *gorm.DB, st statemachine.State, res statemachine.Result) (*applied, error) {
	subs := s.subs.WithTx(tx)
	target := st.Subscription
	if !res.Noop {
		var err error
		if res.Created {
			err = subs.Create(res.Subscription)
		} else {
			err = subs.UpdateWithVersion(res.Subscription)
		}
		if err != nil {
			return nil, err
		}
		target = res.Subscription
	}
	if res.Superseded != nil {
		if err := subs.UpdateWithVersion(res.Superseded); err != nil {
			return nil, err
		}
	}

	out := &applied{Subscription: target, Result: res, Change: GateChange{UserID: st.User.ID}}
	if target == nil {
		return out, nil
	}

	for _, eff := range res.Effects {
		if err := s.applyEffectTx(tx, target, res.Superseded, eff, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SubscriptionService) applyEffectTx(tx *gorm.DB, sub, superseded *model.Subscription, eff statemachine.Effect, out *applied) error {
	switch eff.Kind {
	case statemachine.EffectScheduleJob:
		_, err := s.scheduler.scheduleTx(tx, eff.Command, sub.ID, eff.RunAt, eff.Params)
		return err

	case statemachine.EffectCancelJob:
		return s.scheduler.cancelTx(tx, eff.Command, sub.ID)

	case statemachine.EffectCancelSupersededJob:
		if superseded == nil {
			return nil
		}
		return s.scheduler.cancelTx(tx, eff.Command, superseded.ID)

	case statemachine.EffectNotify:
		out.Notices = append(out.Notices, Notice{UserID: sub.UserID, Type: eff.Notification, Params: eff.Params})
		return nil

	case statemachine.EffectDisableAll:
		change, err := s.quota.disableAllTx(tx, sub.UserID)
		if err != nil {
			return err
		}
		out.Change.merge(change)
		return nil

	case statemachine.EffectDisableExcess:
		change, err := s.quota.enforceTx(tx, sub.UserID, eff.Capacity)
		if err != nil {
			return err
		}
		out.Change.merge(change)
		return nil

	case statemachine.EffectRestore:
		pkg, err := s.packages.WithTx(tx).GetByID(sub.PackageID)
		if err != nil {
			return notFound(err)
		}
		change, err := s.usage.restoreTx(tx, sub, pkg, eff.Capacity)
		if err != nil {
			return err
		}
		out.Change.merge(change)
		return nil

	case statemachine.EffectCreateTransaction:
		return s.recordTx(tx, sub, eff.Transaction)

	case statemachine.EffectMarkTrialUsed:
		changed, err := s.users.WithTx(tx).MarkTrialUsed(sub.UserID)
		if err != nil {
			return err
		}
		if !changed {
			return xerrors.Validation("package_id", "trial was already used")
		}
		return nil
	}
	return nil
}

// checkInvariantTx rolls the transaction back if the user ends up with two live subscriptions.
func (s *SubscriptionService) checkInvariantTx(tx *gorm.DB, userID int64) error {
	subs := s.subs.WithTx(tx)
	n, err := subs.CountLive(userID, s.now())
	if err != nil {
		return err
	}
	if n <= 1 {
		return nil
	}
	live, _ := subs.FindLive(userID, s.now())
	ids := make([]int64, 0, len(live))
	for _, sub := range live {
		ids = append(ids, sub.ID)
	}
	s.logger.Error("multiple live subscriptions", zap.Int64("user_id", userID), zap.Int64s("subscription_ids", ids))
	return &xerrors.InvariantViolation{UserID: userID, Message: "more than one live subscription"}
}
