package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelNotifications  = "billing_notifications"
	ChannelTargetCommands = "target_commands"
)

// NotificationMessage is a user-facing notice handed to the delivery service.
type NotificationMessage struct {
	Type         string            `json:"type"`
	UserID       int64             `json:"user_id"`
	Notification string            `json:"notification"`
	Params       map[string]string `json:"params,omitempty"`
	SentAt       time.Time         `json:"sent_at"`
}

type TargetAction string

const (
	TargetActivate   TargetAction = "activate"
	TargetDeactivate TargetAction = "deactivate"
)

// TargetCommand asks the matching provider bridge to switch an image target on or off.
type TargetCommand struct {
	Type         string       `json:"type"`
	Action       TargetAction `json:"action"`
	UserID       int64        `json:"user_id"`
	ExperienceID int64        `json:"experience_id"`
	TargetID     string       `json:"target_id"`
}

type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) PublishNotification(ctx context.Context, msg *NotificationMessage) error {
	msg.Type = "notification"
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	return p.publish(ctx, ChannelNotifications, msg)
}

func (p *Publisher) PublishTargetCommand(ctx context.Context, cmd *TargetCommand) error {
	cmd.Type = "target_command"
	return p.publish(ctx, ChannelTargetCommands, cmd)
}

func (p *Publisher) publish(ctx context.Context, channel string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", channel, err)
	}
	return p.client.Publish(ctx, channel, data).Err()
}

type Subscriber struct {
	client *redis.Client
}

func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// SubscribeNotifications blocks until ctx is done. Undecodable payloads are skipped.
func (s *Subscriber) SubscribeNotifications(ctx context.Context, handler func(*NotificationMessage)) error {
	return s.subscribe(ctx, ChannelNotifications, func(payload []byte) {
		var msg NotificationMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return
		}
		handler(&msg)
	})
}

// SubscribeTargetCommands blocks until ctx is done. Undecodable payloads are skipped.
func (s *Subscriber) SubscribeTargetCommands(ctx context.Context, handler func(*TargetCommand)) error {
	return s.subscribe(ctx, ChannelTargetCommands, func(payload []byte) {
		var cmd TargetCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return
		}
		handler(&cmd)
	})
}

func (s *Subscriber) subscribe(ctx context.Context, channel string, handle func([]byte)) error {
	ps := s.client.Subscribe(ctx, channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			handle([]byte(msg.Payload))
		}
	}
}
