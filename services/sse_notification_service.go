package services

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"desperado-club/models"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

// Stream emits the user's new notifications until ctx ends or emit fails. It follows the realtime
// feed when one is wired and falls back to polling the table every interval.
func (s *NotificationService) Stream(ctx context.Context, userID string, interval time.Duration, emit func(models.Notification) error) error {
	if feed, ok := s.Publisher.(RealtimeFeed); ok {
		ch, err := feed.Subscribe(ctx, userID)
		if err == nil {
			for n := range ch {
				if err := emit(n); err != nil {
					return err
				}
			}
			return ctx.Err()
		}
		s.Log.Warn("realtime subscribe failed, polling instead", zap.String("user_id", userID), zap.Error(err))
	}
	return s.poll(ctx, userID, interval, emit)
}

func (s *NotificationService) poll(ctx context.Context, userID string, interval time.Duration, emit func(models.Notification) error) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	// cursor starts at the newest existing row so only new ones are streamed
	var cursor time.Time
	var latest models.Notification
	res := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Limit(1).Find(&latest)
	if res.Error != nil {
		s.Log.Error("stream init failed", zap.String("user_id", userID), zap.Error(res.Error))
	} else if res.RowsAffected > 0 {
		cursor = latest.CreatedAt
	}

	ticker := s.Clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			var fresh []models.Notification
			if err := s.DB.WithContext(ctx).
				Where("user_id = ? AND created_at > ?", userID, cursor).
				Order("created_at ASC").
				Find(&fresh).Error; err != nil {
				s.Log.Error("stream query failed", zap.String("user_id", userID), zap.Error(err))
				continue
			}
			for _, n := range fresh {
				if err := emit(n); err != nil {
					return err
				}
				cursor = n.CreatedAt
			}
		}
	}
}

// WriteSSE writes one notification as a server-sent event and flushes
func WriteSSE(w *bufio.Writer, n models.Notification) error {
	payload, err := sonic.Marshal(n)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: notification\nid: %s\ndata: %s\n\n", n.ID, payload); err != nil {
		return err
	}
	return w.Flush()
}
