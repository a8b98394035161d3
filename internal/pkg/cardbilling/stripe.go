package cardbilling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/qs3c/experience_billing/config"
	"github.com/qs3c/experience_billing/internal/pkg/money"
	"github.com/qs3c/experience_billing/internal/pkg/xerrors"
)

const providerName = "card"

// StripeGateway implements Adapter on top of Stripe subscriptions and invoices.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	timeout       time.Duration
}

func NewStripeGateway(cfg config.CardConfig) *StripeGateway {
	return NewStripeGatewayWithBackends(cfg, nil)
}

// NewStripeGatewayWithBackends lets tests point the client at a fake API.
func NewStripeGatewayWithBackends(cfg config.CardConfig, backends *stripe.Backends) *StripeGateway {
	api := &client.API{}
	api.Init(cfg.SecretKey, backends)

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &StripeGateway{api: api, webhookSecret: cfg.WebhookSecret, timeout: timeout}
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, req CreateRequest) (*ProviderSubscription, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	customerID := req.CustomerID
	if customerID == "" {
		params := &stripe.CustomerParams{
			PaymentMethod: stripe.String(req.PaymentNonce),
			InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
				DefaultPaymentMethod: stripe.String(req.PaymentNonce),
			},
		}
		if req.Email != "" {
			params.Email = stripe.String(req.Email)
		}
		params.Context = ctx
		cus, err := g.api.Customers.New(params)
		if err != nil {
			return nil, providerError("create_customer", err)
		}
		customerID = cus.ID
	}

	params := &stripe.SubscriptionParams{
		Customer:        stripe.String(customerID),
		Items:           []*stripe.SubscriptionItemsParams{{Price: stripe.String(req.PlanID)}},
		PaymentBehavior: stripe.String("error_if_incomplete"),
	}
	if req.PaymentNonce != "" {
		params.DefaultPaymentMethod = stripe.String(req.PaymentNonce)
	}
	params.AddExpand("latest_invoice")
	params.Context = ctx

	sub, err := g.api.Subscriptions.New(params)
	if err != nil {
		return nil, providerError("create_subscription", err)
	}
	return toProviderSubscription(sub, customerID, "create_subscription")
}

func (g *StripeGateway) UpdateSubscription(ctx context.Context, req UpdateRequest) (*ProviderSubscription, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx
	current, err := g.api.Subscriptions.Get(req.SubscriptionID, getParams)
	if err != nil {
		return nil, providerError("get_subscription", err)
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, &xerrors.ProviderError{Provider: providerName, Op: "update_subscription", Message: "subscription has no items"}
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{{
			ID:    stripe.String(current.Items.Data[0].ID),
			Price: stripe.String(req.PlanID),
		}},
		ProrationBehavior: stripe.String("always_invoice"),
	}
	if req.PaymentNonce != "" {
		params.DefaultPaymentMethod = stripe.String(req.PaymentNonce)
	}
	params.AddMetadata("expected_price", strconv.FormatInt(req.Price.Amount, 10))
	params.AddExpand("latest_invoice")
	params.Context = ctx

	sub, err := g.api.Subscriptions.Update(req.SubscriptionID, params)
	if err != nil {
		return nil, providerError("update_subscription", err)
	}
	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	return toProviderSubscription(sub, customerID, "update_subscription")
}

// CancelSubscription stops renewal; the current period stays paid.
func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	if _, err := g.api.Subscriptions.Update(subscriptionID, params); err != nil {
		return providerError("cancel_subscription", err)
	}
	return nil
}

// RetryCharge pays the subscription's open invoice.
func (g *StripeGateway) RetryCharge(ctx context.Context, subscriptionID string, amount money.Money) (*Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	getParams := &stripe.SubscriptionParams{}
	getParams.AddExpand("latest_invoice")
	getParams.Context = ctx
	sub, err := g.api.Subscriptions.Get(subscriptionID, getParams)
	if err != nil {
		return nil, providerError("get_subscription", err)
	}
	inv := sub.LatestInvoice
	if inv == nil || inv.Status != stripe.InvoiceStatusOpen {
		return nil, &xerrors.ProviderError{Provider: providerName, Op: "retry_charge", Message: "no open invoice to pay"}
	}
	if amount.Amount > 0 && inv.AmountDue != amount.Amount {
		return nil, &xerrors.ProviderError{
			Provider: providerName,
			Op:       "retry_charge",
			Message:  fmt.Sprintf("open invoice amount %d does not match expected %d", inv.AmountDue, amount.Amount),
		}
	}

	payParams := &stripe.InvoicePayParams{}
	payParams.Context = ctx
	paid, err := g.api.Invoices.Pay(inv.ID, payParams)
	if err != nil {
		return nil, providerError("retry_charge", err)
	}
	return &Transaction{ID: paid.ID, Amount: money.New(paid.AmountPaid, string(paid.Currency))}, nil
}

// ParseWebhook verifies the Stripe-Signature header and maps the event to a WebhookKind.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, &xerrors.ProviderError{Provider: providerName, Op: "parse_webhook", Message: "signature verification failed", Err: err}
	}
	return mapEvent(evt)
}

func mapEvent(evt stripe.Event) (*WebhookEvent, error) {
	if evt.Data == nil {
		return &WebhookEvent{Kind: KindCheck}, nil
	}

	switch evt.Type {
	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(evt.Data.Raw, &inv); err != nil {
			return nil, xerrors.Validation("payload", "malformed invoice event: %v", err)
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			return &WebhookEvent{Kind: KindCheck}, nil
		}
		out := &WebhookEvent{
			Kind:                 KindChargedSuccessfully,
			SubscriptionID:       inv.Subscription.ID,
			BillingPeriodEndDate: invoicePeriodEnd(&inv),
			Transaction:          &Transaction{ID: inv.ID, Amount: money.New(inv.AmountPaid, string(inv.Currency))},
			BillingReason:        string(inv.BillingReason),
		}
		if evt.Type == "invoice.payment_failed" {
			out.Kind = KindChargedUnsuccessfully
			out.Transaction = nil
		}
		return out, nil

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(evt.Data.Raw, &sub); err != nil {
			return nil, xerrors.Validation("payload", "malformed subscription event: %v", err)
		}
		out := &WebhookEvent{SubscriptionID: sub.ID}
		if sub.CurrentPeriodEnd > 0 {
			out.BillingPeriodEndDate = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		}
		switch {
		case evt.Type == "customer.subscription.deleted":
			out.Kind = KindExpired
		case sub.Status == stripe.SubscriptionStatusPastDue:
			out.Kind = KindWentPastDue
		case sub.CancelAtPeriodEnd:
			out.Kind = KindCanceled
		case sub.Status == stripe.SubscriptionStatusActive:
			out.Kind = KindWentActive
		default:
			out.Kind = KindCheck
		}
		return out, nil
	}

	return &WebhookEvent{Kind: KindCheck}, nil
}

func invoicePeriodEnd(inv *stripe.Invoice) time.Time {
	if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period != nil && inv.Lines.Data[0].Period.End > 0 {
		return time.Unix(inv.Lines.Data[0].Period.End, 0).UTC()
	}
	if inv.PeriodEnd > 0 {
		return time.Unix(inv.PeriodEnd, 0).UTC()
	}
	return time.Time{}
}

func toProviderSubscription(sub *stripe.Subscription, customerID, op string) (*ProviderSubscription, error) {
	if sub.Status != stripe.SubscriptionStatusActive && sub.Status != stripe.SubscriptionStatusTrialing {
		return nil, &xerrors.ProviderError{
			Provider: providerName,
			Op:       op,
			Message:  fmt.Sprintf("subscription is %s", sub.Status),
		}
	}

	out := &ProviderSubscription{
		ID:         sub.ID,
		CustomerID: customerID,
		Status:     string(sub.Status),
	}
	if sub.CurrentPeriodEnd > 0 {
		out.BillingPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if inv := sub.LatestInvoice; inv != nil && inv.ID != "" && inv.Status == stripe.InvoiceStatusPaid {
		out.LatestTransaction = &Transaction{ID: inv.ID, Amount: money.New(inv.AmountPaid, string(inv.Currency))}
	}
	return out, nil
}

func providerError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return &xerrors.ProviderError{
			Provider:  providerName,
			Op:        op,
			Message:   se.Msg,
			Retryable: se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= http.StatusInternalServerError,
			Err:       err,
		}
	}
	return &xerrors.ProviderError{Provider: providerName, Op: op, Retryable: true, Err: err}
}
