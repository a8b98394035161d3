package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return client, func() {
		client.Close()
		mr.Close()
	}
}

func waitForSubscriber(t *testing.T, client *redis.Client, channel string) {
	t.Helper()
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(context.Background(), channel).Result()
		return err == nil && n[channel] > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNotificationMessage_JSON(t *testing.T) {
	msg := &NotificationMessage{UserID: 7, Notification: "balance_low"}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "user_id")
	assert.Contains(t, raw, "notification")
	assert.NotContains(t, raw, "params", "empty params should be omitted")
}

func TestPublisher_Notification(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *NotificationMessage, 1)
	go func() {
		_ = NewSubscriber(client).SubscribeNotifications(ctx, func(msg *NotificationMessage) {
			received <- msg
		})
	}()
	waitForSubscriber(t, client, ChannelNotifications)

	err := NewPublisher(client).PublishNotification(ctx, &NotificationMessage{
		UserID:       7,
		Notification: "subscription_past_due",
		Params:       map[string]string{"package_id": "2"},
	})
	require.NoError(t, err)

	select {
	case got := <-received:
		assert.Equal(t, "notification", got.Type)
		assert.Equal(t, int64(7), got.UserID)
		assert.Equal(t, "subscription_past_due", got.Notification)
		assert.Equal(t, "2", got.Params["package_id"])
		assert.False(t, got.SentAt.IsZero())
	case <-ctx.Done():
		t.Fatal("timeout waiting for notification")
	}
}

func TestPublisher_TargetCommand(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *TargetCommand, 2)
	go func() {
		_ = NewSubscriber(client).SubscribeTargetCommands(ctx, func(cmd *TargetCommand) {
			received <- cmd
		})
	}()
	waitForSubscriber(t, client, ChannelTargetCommands)

	pub := NewPublisher(client)
	require.NoError(t, client.Publish(ctx, ChannelTargetCommands, "garbage").Err())
	require.NoError(t, pub.PublishTargetCommand(ctx, &TargetCommand{
		Action:       TargetDeactivate,
		UserID:       7,
		ExperienceID: 11,
		TargetID:     "tgt-11",
	}))

	select {
	case got := <-received:
		assert.Equal(t, "target_command", got.Type)
		assert.Equal(t, TargetDeactivate, got.Action)
		assert.Equal(t, int64(11), got.ExperienceID)
		assert.Equal(t, "tgt-11", got.TargetID)
	case <-ctx.Done():
		t.Fatal("timeout waiting for target command")
	}
}

func TestSubscriber_StopsOnCancel(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewSubscriber(client).SubscribeNotifications(ctx, func(*NotificationMessage) {})
	}()
	waitForSubscriber(t, client, ChannelNotifications)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}
