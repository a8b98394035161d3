package statemachine

import (
	"strconv"

	"github.com/qs3c/experience_billing/internal/model"
)

func assign(st State, ev Event) (Result, error) {
	if err := Validate(st, ev); err != nil {
		return Result{}, err
	}
	pkg := ev.Package
	now := st.Now

	sub := &model.Subscription{
		UserID:               st.User.ID,
		PackageID:            pkg.ID,
		PeriodStartedAt:      now,
		InitialBalanceAmount: st.BalanceAmount,
		PeriodStartViews:     st.TodayPaidViews,
	}
	res := Result{Subscription: sub, Created: true}

	switch {
	case pkg.IsTrial:
		sub.Status = model.SubscriptionActive
		sub.ProviderType = model.ProviderInternal
		sub.ExpiresAt = now.Add(st.Settings.trialLength())
		sub.PeriodStartViews = 0
		res.Effects = append(res.Effects,
			MarkTrialUsed(),
			ScheduleJob(model.CommandAutoCancelTrial, sub.ExpiresAt, expiryParams(sub)),
			Restore(pkg.ExperiencesNumber),
		)

	case ev.Provider == model.ProviderCard:
		c := ev.Card
		if c == nil {
			c = &CardPayload{}
		}
		sub.Status = model.SubscriptionActive
		sub.ProviderType = model.ProviderCard
		sub.IsAutorenew = true
		sub.ProviderSubscriptionID = c.SubscriptionID
		sub.ProviderLastTransactionID = c.TransactionID
		sub.ExpiresAt = c.BillingPeriodEnd
		if !sub.ExpiresAt.After(now) {
			sub.ExpiresAt = now.Add(st.Settings.Period)
		}
		amount, currency := c.Amount, c.Currency
		if amount == 0 {
			amount, currency = pkg.PriceAmount, pkg.Currency
		}
		res.Effects = append(res.Effects,
			CreateTransaction(TransactionEffect{
				Type:                  model.TransactionSubscription,
				Provider:              model.ProviderCard,
				Amount:                amount,
				Currency:              currency,
				ProviderTransactionID: c.TransactionID,
			}),
			ScheduleJob(model.CommandChargeNotification, chargeNoticeAt(st, sub.ExpiresAt), expiryParams(sub)),
			Restore(pkg.ExperiencesNumber),
		)
		supersedeTrial(st, &res)

	default:
		// platform purchases stay PENDING until the receipt validates
		p := ev.Platform
		sub.Status = model.SubscriptionPending
		sub.ProviderType = model.ProviderPlatform
		sub.IsAutorenew = true
		sub.ExpiresAt = now
		sub.ProviderOriginalTransactionID = p.OriginalTransactionID
		sub.ProviderReceipt = p.Receipt
		res.Effects = append(res.Effects,
			ScheduleJob(model.CommandPlatformPollReconcile, now, nil),
		)
	}
	return res, nil
}

// supersedeTrial cancels the user's live trial when a paid subscription becomes active.
func supersedeTrial(st State, res *Result) {
	if !st.Trial.IsLive(st.Now) {
		return
	}
	trial := st.Trial.Clone()
	trial.Status = model.SubscriptionCanceled
	trial.IsAutorenew = false
	res.Superseded = trial
	res.Effects = append(res.Effects, CancelSupersededJob(model.CommandAutoCancelTrial))
}

func change(st State, ev Event) (Result, error) {
	if err := Validate(st, ev); err != nil {
		return Result{}, err
	}
	sub := st.Subscription
	current, target := st.Package, ev.Package
	next := sub.Clone()
	now := st.Now

	if sub.ProviderType == model.ProviderPlatform {
		if sub.NextPlanID != nil && *sub.NextPlanID == target.ID {
			return noop(), nil
		}
		id := target.ID
		next.NextPlanID = &id
		next.AppleDowngradeEnabled = target.PriceAmount < current.PriceAmount
		return Result{Subscription: next}, nil
	}

	next.PackageID = target.ID
	next.ChangedPlanAt = &now
	res := Result{Subscription: next}

	if target.PriceAmount > current.PriceAmount {
		diff := target.Price().Sub(current.Price())
		// An unpaid proration invoice is recorded when its webhook arrives.
		if ev.Card != nil && ev.Card.TransactionID != "" {
			next.ProviderLastTransactionID = ev.Card.TransactionID
			res.Effects = append(res.Effects, CreateTransaction(TransactionEffect{
				Type:                  model.TransactionSubscription,
				Provider:              model.ProviderCard,
				Amount:                diff.Amount,
				Currency:              diff.Currency,
				ProviderTransactionID: ev.Card.TransactionID,
				Metadata: map[string]interface{}{
					"reason":          "proration",
					"from_package_id": strconv.FormatInt(current.ID, 10),
					"to_package_id":   strconv.FormatInt(target.ID, 10),
				},
			}))
		}
		res.Effects = append(res.Effects, Restore(target.ExperiencesNumber))
	} else {
		res.Effects = append(res.Effects, DisableExcess(target.ExperiencesNumber))
	}
	return res, nil
}

func cancel(st State, ev Event) (Result, error) {
	if err := Validate(st, ev); err != nil {
		return Result{}, err
	}
	sub := st.Subscription
	next := sub.Clone()

	if sub.ProviderType == model.ProviderInternal {
		next.Status = model.SubscriptionCanceled
		next.IsAutorenew = false
		return Result{Subscription: next, Effects: []Effect{
			CancelJob(model.CommandAutoCancelTrial),
			DisableAll(),
			Notify(model.NotifySubscriptionCanceled, expiryParams(sub)),
		}}, nil
	}

	if !sub.IsAutorenew {
		return noop(), nil
	}
	next.IsAutorenew = false
	return Result{Subscription: next, Effects: []Effect{
		CancelJob(model.CommandChargeNotification),
		ScheduleJob(model.CommandDisableAtExpiration, sub.ExpiresAt, expiryParams(sub)),
	}}, nil
}
