package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/qs3c/experience_billing/internal/model"
	"github.com/qs3c/experience_billing/internal/pkg/pubsub"
)

// Notifier delivers user-facing notices.
type Notifier interface {
	Notify(ctx context.Context, userID int64, notification model.NotificationType, params map[string]string) error
}

// TargetActivator switches image targets on the external matching provider.
type TargetActivator interface {
	Activate(ctx context.Context, exp model.Experience) error
	Deactivate(ctx context.Context, exp model.Experience) error
}

// Notice is a notification collected inside a transaction and delivered after commit.
type Notice struct {
	UserID int64
	Type   model.NotificationType
	Params map[string]string
}

// RedisNotifier publishes notices for the delivery service.
type RedisNotifier struct {
	publisher *pubsub.Publisher
}

func NewRedisNotifier(publisher *pubsub.Publisher) *RedisNotifier {
	return &RedisNotifier{publisher: publisher}
}

func (n *RedisNotifier) Notify(ctx context.Context, userID int64, notification model.NotificationType, params map[string]string) error {
	return n.publisher.PublishNotification(ctx, &pubsub.NotificationMessage{
		UserID:       userID,
		Notification: string(notification),
		Params:       params,
	})
}

// RedisTargetActivator publishes target commands for the matching-provider bridge.
type RedisTargetActivator struct {
	publisher *pubsub.Publisher
}

func NewRedisTargetActivator(publisher *pubsub.Publisher) *RedisTargetActivator {
	return &RedisTargetActivator{publisher: publisher}
}

func (a *RedisTargetActivator) Activate(ctx context.Context, exp model.Experience) error {
	return a.publish(ctx, pubsub.TargetActivate, exp)
}

func (a *RedisTargetActivator) Deactivate(ctx context.Context, exp model.Experience) error {
	return a.publish(ctx, pubsub.TargetDeactivate, exp)
}

func (a *RedisTargetActivator) publish(ctx context.Context, action pubsub.TargetAction, exp model.Experience) error {
	return a.publisher.PublishTargetCommand(ctx, &pubsub.TargetCommand{
		Action:       action,
		UserID:       exp.UserID,
		ExperienceID: exp.ID,
		TargetID:     exp.TargetID,
	})
}

// deliver sends notices, logging failures. Delivery never undoes a committed change.
func deliver(ctx context.Context, notifier Notifier, logger *zap.Logger, notices []Notice) {
	for _, n := range notices {
		if err := notifier.Notify(ctx, n.UserID, n.Type, n.Params); err != nil {
			logger.Warn("notification delivery failed",
				zap.Int64("user_id", n.UserID),
				zap.String("notification", string(n.Type)),
				zap.Error(err))
		}
	}
}
