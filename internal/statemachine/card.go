package statemachine

import (
	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/pkg/cardbilling"
	"github.com/qs3c/experience_billing/internal/pkg/xerrors"
)

func cardWebhook(st State, ev Event) (Result, error) {
	kind := cardbilling.WebhookKind(ev.Kind)
	if kind == cardbilling.KindCheck {
		return noop(), nil
	}
	sub := st.Subscription
	if sub == nil {
		return Result{}, xerrors.ErrNotFound
	}
	c := ev.Card
	if c == nil {
		c = &CardPayload{}
	}
	next := sub.Clone()
	capacity := capacityOf(st.Package)

	switch kind {
	case cardbilling.KindWentPastDue:
		if sub.Status != model.SubscriptionActive {
			return noop(), nil
		}
		next.Status = model.SubscriptionPastDue
		return Result{Subscription: next, Effects: []Effect{
			DisableAll(),
			Notify(model.NotifySubscriptionPastDue, expiryParams(sub)),
		}}, nil

	case cardbilling.KindChargedSuccessfully:
		if c.TransactionID != "" && c.TransactionID == sub.ProviderLastTransactionID {
			return noop(), nil
		}
		switch sub.Status {
		case model.SubscriptionActive, model.SubscriptionPastDue, model.SubscriptionChargedUnsuccessfully:
		default:
			return noop(), nil
		}
		if !c.opensPeriod(sub) {
			return settleInvoice(sub, c), nil
		}
		end := c.BillingPeriodEnd
		if end.IsZero() {
			end = sub.ExpiresAt.Add(st.Settings.Period)
		}
		if c.TransactionID == "" && sub.Status == model.SubscriptionActive && !end.After(sub.ExpiresAt) {
			return noop(), nil
		}
		next.Status = model.SubscriptionActive
		next.ExpiresAt = end
		next.PeriodStartedAt = st.Now
		next.InitialBalanceAmount = st.BalanceAmount
		next.PeriodStartViews = st.TodayPaidViews
		next.ProviderLastTransactionID = c.TransactionID

		amount, currency := c.Amount, c.Currency
		if amount == 0 && st.Package != nil {
			amount, currency = st.Package.PriceAmount, st.Package.Currency
		}
		effects := []Effect{
			CreateTransaction(TransactionEffect{
				Type:                  model.TransactionSubscription,
				Provider:              model.ProviderCard,
				Amount:                amount,
				Currency:              currency,
				ProviderTransactionID: c.TransactionID,
			}),
			Restore(capacity),
			CancelJob(model.CommandChargeNotification),
		}
		if next.IsAutorenew {
			effects = append(effects, ScheduleJob(model.CommandChargeNotification, chargeNoticeAt(st, next.ExpiresAt), expiryParams(next)))
		}
		return Result{Subscription: next, Effects: effects}, nil

	case cardbilling.KindWentActive:
		switch sub.Status {
		case model.SubscriptionPending, model.SubscriptionPastDue, model.SubscriptionChargedUnsuccessfully:
		default:
			return noop(), nil
		}
		next.Status = model.SubscriptionActive
		if c.BillingPeriodEnd.After(next.ExpiresAt) {
			next.ExpiresAt = c.BillingPeriodEnd
		}
		return Result{Subscription: next, Effects: []Effect{Restore(capacity)}}, nil

	case cardbilling.KindChargedUnsuccessfully:
		if sub.Status != model.SubscriptionActive && sub.Status != model.SubscriptionPastDue {
			return noop(), nil
		}
		next.Status = model.SubscriptionChargedUnsuccessfully
		return Result{Subscription: next, Effects: []Effect{
			DisableAll(),
			Notify(model.NotifySubscriptionChargeFailed, expiryParams(sub)),
		}}, nil

	case cardbilling.KindExpired:
		if sub.Status == model.SubscriptionExpired {
			return noop(), nil
		}
		next.Status = model.SubscriptionExpired
		next.IsAutorenew = false
		return Result{Subscription: next, Effects: []Effect{
			DisableAll(),
			Notify(model.NotifySubscriptionExpired, expiryParams(sub)),
			CancelJob(model.CommandChargeNotification),
			CancelJob(model.CommandDisableAtExpiration),
		}}, nil

	case cardbilling.KindCanceled:
		if !sub.IsAutorenew {
			return noop(), nil
		}
		next.IsAutorenew = false
		return Result{Subscription: next, Effects: []Effect{
			ScheduleJob(model.CommandDisableAtExpiration, sub.ExpiresAt, expiryParams(sub)),
			CancelJob(model.CommandChargeNotification),
		}}, nil
	}
	return noop(), nil
}

// settleInvoice records a paid invoice that does not open a period, such as a proration
// charge. The period, status and jobs stay as they are.
func settleInvoice(sub *model.Subscription, c *CardPayload) Result {
	if c.TransactionID == "" {
		return noop()
	}
	next := sub.Clone()
	next.ProviderLastTransactionID = c.TransactionID
	res := Result{Subscription: next}
	if c.Amount > 0 {
		res.Effects = append(res.Effects, CreateTransaction(TransactionEffect{
			Type:                  model.TransactionSubscription,
			Provider:              model.ProviderCard,
			Amount:                c.Amount,
			Currency:              c.Currency,
			ProviderTransactionID: c.TransactionID,
			Metadata:              map[string]interface{}{"reason": c.BillingReason},
		}))
	}
	return res
}
