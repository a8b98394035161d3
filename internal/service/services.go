package service

import (
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/qs3c/experience_billing/config"
	"github.com/qs3c/experience_billing/internal/pkg/pubsub"
	"github.com/qs3c/experience_billing/internal/pkg/queue"
)

// Services is the wired engine shared by the server and the worker.
type Services struct {
	Queue         *queue.Queue
	Scheduler     *Scheduler
	Quota         *QuotaService
	Usage         *UsageService
	Balances      *BalanceService
	Subscriptions *SubscriptionService
}

func New(db *gorm.DB, rdb *redis.Client, cfg *config.Config, providers Providers, logger *zap.Logger) *Services {
	publisher := pubsub.NewPublisher(rdb)
	notifier := NewRedisNotifier(publisher)
	activator := NewRedisTargetActivator(publisher)

	jobQueue := queue.NewQueue(rdb, cfg.Queue.JobQueue)
	scheduler := NewScheduler(db, jobQueue, cfg.Scheduler, logger.Named("scheduler"))
	quota := NewQuotaService(db, activator, notifier, logger.Named("quota"))
	usage := NewUsageService(db, quota, notifier, cfg.Billing, logger.Named("usage"))

	return &Services{
		Queue:         jobQueue,
		Scheduler:     scheduler,
		Quota:         quota,
		Usage:         usage,
		Balances:      NewBalanceService(db, usage, quota, cfg.Billing, logger.Named("balance")),
		Subscriptions: NewSubscriptionService(db, scheduler, quota, usage, notifier, providers, cfg.Billing, logger.Named("subscription")),
	}
}
