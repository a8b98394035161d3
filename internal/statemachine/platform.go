package statemachine

import (
	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/pkg/appstore"
	"github.com/qs3c/experience_billing/internal/pkg/xerrors"
)

func platformNotification(st State, ev Event) (Result, error) {
	kind := appstore.NotificationType(ev.Kind)
	if kind == appstore.NotificationDidChangeRenewalPref {
		return noop(), nil
	}
	sub := st.Subscription
	if sub == nil {
		return Result{}, xerrors.ErrNotFound
	}
	p := ev.Platform
	if p == nil {
		return Result{}, xerrors.Validation("notification", "notification carries no receipt info")
	}
	next := sub.Clone()

	switch kind {
	case appstore.NotificationInitialBuy:
		if sub.Status != model.SubscriptionPending {
			return noop(), nil
		}
		return activate(st, ev)

	case appstore.NotificationRenewal, appstore.NotificationInteractiveRenewal:
		if sub.Status == model.SubscriptionPending {
			return activate(st, ev)
		}
		return renew(st, ev)

	case appstore.NotificationCancel:
		if sub.Status == model.SubscriptionCanceled {
			return noop(), nil
		}
		next.Status = model.SubscriptionCanceled
		next.IsAutorenew = false
		return Result{Subscription: next, Effects: []Effect{
			DisableAll(),
			Notify(model.NotifySubscriptionCanceled, expiryParams(sub)),
			CancelJob(model.CommandPlatformPollReconcile),
			CancelJob(model.CommandDisableAtExpiration),
		}}, nil

	case appstore.NotificationDidChangeRenewalStatus:
		if p.AutoRenewStatus == nil || *p.AutoRenewStatus == sub.IsAutorenew {
			return noop(), nil
		}
		next.IsAutorenew = *p.AutoRenewStatus
		if next.IsAutorenew {
			return Result{Subscription: next, Effects: []Effect{CancelJob(model.CommandDisableAtExpiration)}}, nil
		}
		return Result{Subscription: next, Effects: []Effect{
			ScheduleJob(model.CommandDisableAtExpiration, sub.ExpiresAt, expiryParams(sub)),
		}}, nil
	}
	return noop(), nil
}

// activate moves a PENDING store purchase to ACTIVE once its receipt names the assigned package.
func activate(st State, ev Event) (Result, error) {
	sub := st.Subscription
	p := ev.Platform
	if ev.Package == nil {
		return Result{}, xerrors.ErrUnmappedProduct
	}
	if ev.Package.ID != sub.PackageID {
		return Result{}, xerrors.Validation("product_id", "purchased product %s does not match the assigned package", p.ProductID)
	}
	if !p.ExpiresAt.After(st.Now) {
		return noop(), nil
	}

	next := sub.Clone()
	next.Status = model.SubscriptionActive
	next.ExpiresAt = p.ExpiresAt
	next.PeriodStartedAt = st.Now
	next.InitialBalanceAmount = st.BalanceAmount
	next.PeriodStartViews = st.TodayPaidViews
	next.ProviderOrderLineItemID = p.WebOrderLineItemID
	next.ProviderLastTransactionID = p.TransactionID
	if p.OriginalTransactionID != "" {
		next.ProviderOriginalTransactionID = p.OriginalTransactionID
	}
	if p.Receipt != "" {
		next.ProviderReceipt = p.Receipt
	}
	if p.AutoRenewStatus != nil {
		next.IsAutorenew = *p.AutoRenewStatus
	}

	res := Result{Subscription: next, Effects: []Effect{
		CreateTransaction(TransactionEffect{
			Type:                  model.TransactionSubscription,
			Provider:              model.ProviderPlatform,
			Amount:                ev.Package.PriceAmount,
			Currency:              ev.Package.Currency,
			ProviderTransactionID: p.TransactionID,
		}),
		Restore(ev.Package.ExperiencesNumber),
		CancelJob(model.CommandPlatformPollReconcile),
		ScheduleJob(model.CommandPlatformPollReconcile, next.ExpiresAt, nil),
	}}
	supersedeTrial(st, &res)
	return res, nil
}

// renew extends an active store subscription and resolves a deferred plan change.
func renew(st State, ev Event) (Result, error) {
	sub := st.Subscription
	p := ev.Platform
	if p.WebOrderLineItemID != "" && p.WebOrderLineItemID == sub.ProviderOrderLineItemID {
		return noop(), nil
	}
	if p.WebOrderLineItemID == "" && !p.ExpiresAt.After(sub.ExpiresAt) {
		return noop(), nil
	}
	if ev.Package == nil {
		return Result{}, xerrors.ErrUnmappedProduct
	}

	next := sub.Clone()
	next.Status = model.SubscriptionActive
	if p.ExpiresAt.After(next.ExpiresAt) {
		next.ExpiresAt = p.ExpiresAt
	}
	next.PeriodStartedAt = st.Now
	next.InitialBalanceAmount = st.BalanceAmount
	next.PeriodStartViews = st.TodayPaidViews
	next.ProviderOrderLineItemID = p.WebOrderLineItemID
	next.ProviderLastTransactionID = p.TransactionID
	next.IsAutorenew = true
	if p.Receipt != "" {
		next.ProviderReceipt = p.Receipt
	}

	pkg := st.Package
	var effects []Effect
	switch {
	case sub.NextPlanID != nil && *sub.NextPlanID == ev.Package.ID:
		pkg = ev.Package
		next.PackageID = pkg.ID
		next.NextPlanID = nil
		next.AppleDowngradeEnabled = false
		now := st.Now
		next.ChangedPlanAt = &now
		effects = append(effects, Notify(model.NotifySubscriptionDeferred, expiryParams(next)))
	case ev.Package.ID != sub.PackageID:
		// the store switched product without a recorded intent
		pkg = ev.Package
		next.PackageID = pkg.ID
		next.NextPlanID = nil
		next.AppleDowngradeEnabled = false
		now := st.Now
		next.ChangedPlanAt = &now
	}

	effects = append(effects,
		CreateTransaction(TransactionEffect{
			Type:                  model.TransactionSubscription,
			Provider:              model.ProviderPlatform,
			Amount:                pkg.PriceAmount,
			Currency:              pkg.Currency,
			ProviderTransactionID: p.TransactionID,
		}),
		Restore(pkg.ExperiencesNumber),
		CancelJob(model.CommandDisableAtExpiration),
		CancelJob(model.CommandPlatformPollReconcile),
		ScheduleJob(model.CommandPlatformPollReconcile, next.ExpiresAt, nil),
	)
	return Result{Subscription: next, Effects: effects}, nil
}

func platformPoll(st State, ev Event) (Result, error) {
	sub := st.Subscription
	if sub == nil {
		return Result{}, xerrors.ErrNotFound
	}
	if sub.Status == model.SubscriptionExpired {
		return noop(), nil
	}
	p := ev.Platform
	if p == nil {
		p = &PlatformPayload{}
	}
	if sub.Status == model.SubscriptionCanceled {
		// one follow-up poll after a lapse picks up a resubscription in the store
		if p.Found && p.ExpiresAt.After(st.Now) && p.ExpiresAt.After(sub.ExpiresAt) && p.WebOrderLineItemID != sub.ProviderOrderLineItemID {
			return renew(st, ev)
		}
		return noop(), nil
	}
	retry := ScheduleJob(model.CommandPlatformPollReconcile, st.Now.Add(st.Settings.PollRetry), nil)

	if sub.Status == model.SubscriptionPending {
		if !p.Found {
			return noop(retry), nil
		}
		res, err := activate(st, ev)
		if err != nil || !res.Noop {
			return res, err
		}
		return noop(retry), nil
	}

	if p.Found && p.ExpiresAt.After(sub.ExpiresAt) && p.WebOrderLineItemID != sub.ProviderOrderLineItemID {
		return renew(st, ev)
	}

	if p.Found && p.ExpiresAt.After(st.Now) {
		if sub.Status == model.SubscriptionActive {
			return noop(ScheduleJob(model.CommandPlatformPollReconcile, sub.ExpiresAt, nil)), nil
		}
		// recovered from billing retry
		next := sub.Clone()
		next.Status = model.SubscriptionActive
		return Result{Subscription: next, Effects: []Effect{
			Restore(capacityOf(st.Package)),
			ScheduleJob(model.CommandPlatformPollReconcile, next.ExpiresAt, nil),
		}}, nil
	}

	if sub.ExpiresAt.After(st.Now) && sub.Status == model.SubscriptionActive {
		// the stored period is still paid; look again when it ends
		return noop(ScheduleJob(model.CommandPlatformPollReconcile, sub.ExpiresAt, nil)), nil
	}

	target, notice := lapseOutcome(sub, p)
	keepPolling := target == model.SubscriptionPastDue || target == model.SubscriptionChargedUnsuccessfully
	if sub.Status == target {
		if keepPolling {
			return noop(retry), nil
		}
		return noop(), nil
	}

	next := sub.Clone()
	next.Status = target
	if !keepPolling {
		next.IsAutorenew = false
	}
	effects := []Effect{
		DisableAll(),
		Notify(notice, expiryParams(sub)),
		retry,
	}
	if !keepPolling {
		effects = append(effects, CancelJob(model.CommandDisableAtExpiration))
	}
	return Result{Subscription: next, Effects: effects}, nil
}

// lapseOutcome maps an expired store subscription's renewal state to a local status.
func lapseOutcome(sub *model.Subscription, p *PlatformPayload) (model.SubscriptionStatus, model.NotificationType) {
	if p.IsInBillingRetry {
		return model.SubscriptionPastDue, model.NotifySubscriptionPastDue
	}
	switch p.ExpirationIntent {
	case appstore.IntentCancelled, appstore.IntentPriceIncrease, appstore.IntentProductUnavailable:
		return model.SubscriptionCanceled, model.NotifySubscriptionCanceled
	case appstore.IntentBillingError, appstore.IntentUnknown:
		return model.SubscriptionChargedUnsuccessfully, model.NotifySubscriptionChargeFailed
	}
	autoRenew := sub.IsAutorenew
	if p.AutoRenewStatus != nil {
		autoRenew = *p.AutoRenewStatus
	}
	if autoRenew {
		return model.SubscriptionPastDue, model.NotifySubscriptionPastDue
	}
	return model.SubscriptionExpired, model.NotifySubscriptionExpired
}
