// Package cardbilling is the card payment provider port and its Stripe implementation.
package cardbilling

import (
	"context"
	"time"

	"github.com/qs3c/experience_billing/internal/pkg/money"
)

type WebhookKind string

const (
	KindWentPastDue           WebhookKind = "subscription_went_past_due"
	KindExpired               WebhookKind = "subscription_expired"
	KindChargedUnsuccessfully WebhookKind = "subscription_charged_unsuccessfully"
	KindWentActive            WebhookKind = "subscription_went_active"
	KindChargedSuccessfully   WebhookKind = "subscription_charged_successfully"
	KindCanceled              WebhookKind = "subscription_canceled"
	KindCheck                 WebhookKind = "check"
)

// BillingReasonCycle marks an invoice that opens a new billing period. Proration and manual
// invoices carry other reasons.
const BillingReasonCycle = "subscription_cycle"

// Transaction is a settled provider charge.
type Transaction struct {
	ID     string
	Amount money.Money
}

type ProviderSubscription struct {
	ID               string
	CustomerID       string
	Status           string
	BillingPeriodEnd time.Time
	// LatestTransaction is the invoice paid by the last create/update call, if any.
	LatestTransaction *Transaction
}

type WebhookEvent struct {
	Kind                 WebhookKind
	SubscriptionID       string
	BillingPeriodEndDate time.Time
	Transaction          *Transaction
	// BillingReason is set for invoice events.
	BillingReason string
}

type CreateRequest struct {
	CustomerID   string
	Email        string
	PaymentNonce string
	PlanID       string
}

type UpdateRequest struct {
	SubscriptionID string
	PaymentNonce   string
	PlanID         string
	Price          money.Money
}

// Adapter is what the subscription engine needs from a card provider.
// Every method returns *xerrors.ProviderError on provider failure.
type Adapter interface {
	CreateSubscription(ctx context.Context, req CreateRequest) (*ProviderSubscription, error)
	UpdateSubscription(ctx context.Context, req UpdateRequest) (*ProviderSubscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	RetryCharge(ctx context.Context, subscriptionID string, amount money.Money) (*Transaction, error)
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}
