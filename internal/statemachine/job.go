package statemachine

import (
	"strconv"

	"github.com/qs3c/experience_billing/internal/model"
)

func job(st State, ev Event) (Result, error) {
	sub := st.Subscription
	if sub == nil {
		return noop(), nil
	}
	next := sub.Clone()

	switch ev.Kind {
	case model.CommandAutoCancelTrial:
		if sub.Status != model.SubscriptionActive || st.Package == nil || !st.Package.IsTrial {
			return noop(), nil
		}
		if sub.ExpiresAt.After(st.Now) {
			return noop(ScheduleJob(model.CommandAutoCancelTrial, sub.ExpiresAt, expiryParams(sub))), nil
		}
		next.Status = model.SubscriptionExpired
		return Result{Subscription: next, Effects: []Effect{
			DisableAll(),
			Notify(model.NotifyTrialExpired, expiryParams(sub)),
		}}, nil

	case model.CommandDisableAtExpiration:
		if sub.IsAutorenew {
			return noop(), nil
		}
		switch sub.Status {
		case model.SubscriptionActive, model.SubscriptionPastDue, model.SubscriptionChargedUnsuccessfully:
		default:
			return noop(), nil
		}
		if sub.ExpiresAt.After(st.Now) {
			return noop(ScheduleJob(model.CommandDisableAtExpiration, sub.ExpiresAt, expiryParams(sub))), nil
		}
		next.Status = model.SubscriptionExpired
		return Result{Subscription: next, Effects: []Effect{
			DisableAll(),
			Notify(model.NotifySubscriptionExpired, expiryParams(sub)),
			CancelJob(model.CommandChargeNotification),
		}}, nil

	case model.CommandChargeNotification:
		if !sub.IsLive(st.Now) || !sub.IsAutorenew {
			return noop(), nil
		}
		params := expiryParams(sub)
		if st.Package != nil {
			params["amount"] = strconv.FormatInt(st.Package.PriceAmount, 10)
			params["currency"] = st.Package.Currency
		}
		return noop(Notify(model.NotifyUpcomingCharge, params)), nil
	}
	return noop(), nil
}
