package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Watch levels
const (
	WatchAll          = "all"
	WatchMentionsOnly = "mentions_only"
	WatchMuted        = "muted"
)

// EntityWatcher subscribes a user to one entity instance. At most one row per (entity, user).
type EntityWatcher struct {
	ID         string    `gorm:"primaryKey;type:uuid" json:"id"`
	EntityType string    `gorm:"size:40;not null;uniqueIndex:idx_watcher_entity_user,priority:1" json:"entity_type"`
	EntityID   string    `gorm:"size:64;not null;uniqueIndex:idx_watcher_entity_user,priority:2" json:"entity_id"`
	UserID     string    `gorm:"type:uuid;not null;uniqueIndex:idx_watcher_entity_user,priority:3" json:"user_id"`
	WatchLevel string    `gorm:"size:16;not null" json:"watch_level"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (w *EntityWatcher) BeforeCreate(tx *gorm.DB) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	return nil
}

// NotificationSubscription toggles one event type for one user. No row means enabled.
type NotificationSubscription struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID    string    `gorm:"type:uuid;not null;uniqueIndex:idx_subscription_user_event,priority:1" json:"user_id"`
	EventType string    `gorm:"size:50;not null;uniqueIndex:idx_subscription_user_event,priority:2" json:"event_type"`
	Enabled   bool      `gorm:"not null" json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *NotificationSubscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// NotificationPreference holds quiet hours and external channel settings (1:1 with user)
type NotificationPreference struct {
	UserID          string  `gorm:"type:uuid;primaryKey" json:"user_id"`
	QuietHoursStart *string `gorm:"size:8" json:"quiet_hours_start,omitempty"` // "22:00"
	QuietHoursEnd   *string `gorm:"size:8" json:"quiet_hours_end,omitempty"`   // "07:00"
	// 0 = Sunday ... 6 = Saturday, stored as "{0,6}"
	QuietDays         pq.Int64Array `gorm:"type:varchar(32)" json:"quiet_days"`
	Timezone          string        `gorm:"size:64;not null;default:'UTC'" json:"timezone"`
	DiscordWebhookURL string        `gorm:"type:text" json:"discord_webhook_url,omitempty"`
	DiscordEnabled    bool          `gorm:"not null" json:"discord_enabled"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Notification is one delivered row per recipient
type Notification struct {
	ID         string            `gorm:"primaryKey;type:uuid" json:"id"`
	UserID     string            `gorm:"type:uuid;not null;index:idx_notification_user_time,priority:1" json:"user_id"`
	Title      string            `gorm:"size:200;not null" json:"title"`
	Body       *string           `gorm:"type:text" json:"body,omitempty"`
	EventType  string            `gorm:"size:50;not null" json:"event_type"`
	EntityType string            `gorm:"size:40" json:"entity_type,omitempty"`
	EntityID   string            `gorm:"size:64" json:"entity_id,omitempty"`
	GroupKey   string            `gorm:"size:120;index" json:"group_key"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	Read       bool              `gorm:"not null;index" json:"read"`
	ReadAt     *time.Time        `json:"read_at,omitempty"`
	CreatedAt  time.Time         `gorm:"index:idx_notification_user_time,priority:2" json:"created_at"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	return nil
}
