package handler

import (
	"context"

	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/service"
)

// SubscriptionService is the subscription surface the handlers call.
type SubscriptionService interface {
	Packages(ctx context.Context) ([]model.Package, error)
	Current(ctx context.Context, userID int64) (*service.CurrentSubscription, error)
	Assign(ctx context.Context, userID int64, cmd service.AssignCommand) (*model.Subscription, error)
	ChangePlan(ctx context.Context, userID int64, cmd service.ChangeCommand) (*model.Subscription, error)
	Cancel(ctx context.Context, userID int64) (*model.Subscription, error)
	RetryPayment(ctx context.Context, userID int64) error
}

// WebhookService applies provider callbacks.
type WebhookService interface {
	HandleCardWebhook(ctx context.Context, payload []byte, signature string) error
	HandlePlatformNotification(ctx context.Context, body []byte) error
}

type BalanceService interface {
	Get(ctx context.Context, userID int64) (*service.BalanceView, error)
	Refill(ctx context.Context, userID int64, amount int64, providerTxnID string) (*model.Balance, error)
	UpdateLimits(ctx context.Context, userID int64, cmd service.LimitsCommand) (*model.Balance, error)
}

type UsageService interface {
	ReportRecognitions(ctx context.Context, experienceID int64, total int64) (*service.UsageReport, error)
}
