package services

import (
	"context"
	"fmt"

	"desperado-club/models"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRealtime publishes persisted notifications on notifications:<user_id>
type RedisRealtime struct {
	Client *redis.Client
	Log    *zap.Logger
}

func NewRedisRealtime(client *redis.Client, log *zap.Logger) *RedisRealtime {
	return &RedisRealtime{Client: client, Log: log}
}

func UserChannel(userID string) string { return "notifications:" + userID }

func (r *RedisRealtime) Publish(ctx context.Context, n models.Notification) error {
	payload, err := sonic.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return r.Client.Publish(ctx, UserChannel(n.UserID), payload).Err()
}

// Subscribe streams the user's notifications until ctx ends
func (r *RedisRealtime) Subscribe(ctx context.Context, userID string) (<-chan models.Notification, error) {
	sub := r.Client.Subscribe(ctx, UserChannel(userID))
	// wait for the subscription confirmation so early publishes are not lost
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", UserChannel(userID), err)
	}

	out := make(chan models.Notification)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var n models.Notification
				if err := sonic.UnmarshalString(m.Payload, &n); err != nil {
					r.Log.Warn("bad realtime payload", zap.String("channel", m.Channel), zap.Error(err))
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
