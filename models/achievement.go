package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Loot box tiers
const (
	TierCommon    = "common"
	TierRare      = "rare"
	TierEpic      = "epic"
	TierLegendary = "legendary"
)

// AchievementDefinition: static config, rarely mutated
type AchievementDefinition struct {
	ID            string         `gorm:"primaryKey;type:uuid" json:"id"`
	Slug          string         `gorm:"uniqueIndex;not null" json:"slug"` // e.g., "first-steps", "habit-hero-30"
	Name          string         `gorm:"not null" json:"name"`
	Description   string         `gorm:"type:text" json:"description"`
	Icon          string         `gorm:"size:16" json:"icon"`
	TriggerType   string         `gorm:"size:40;index;not null" json:"trigger_type"`
	TriggerConfig datatypes.JSON `json:"trigger_config"` // e.g., {"threshold": 10}, {"max_minutes": 30}, {"type": "first_recipe"}
	XPReward      int64          `gorm:"not null;default:0" json:"xp_reward"`
	LootBoxTier   *string        `gorm:"size:16" json:"loot_box_tier,omitempty"`
	IsHidden      bool           `gorm:"not null" json:"is_hidden"`
	IsPartyOnly   bool           `gorm:"not null" json:"is_party_only"`
	IsRepeatable  bool           `gorm:"not null" json:"is_repeatable"`
	IsActive      bool           `gorm:"not null;index" json:"is_active"`
	SortOrder     int            `json:"sort_order"`
	Timestamps
}

func (a *AchievementDefinition) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// AchievementUnlock: one row per unlock (and per repeat for repeatable achievements)
type AchievementUnlock struct {
	ID            string            `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        string            `gorm:"type:uuid;not null;uniqueIndex:idx_unlock_seq,priority:1" json:"user_id"`
	AchievementID string            `gorm:"type:uuid;not null;uniqueIndex:idx_unlock_seq,priority:2" json:"achievement_id"`
	UnlockCount   int               `gorm:"not null;uniqueIndex:idx_unlock_seq,priority:3" json:"unlock_count"`
	XPAwarded     int64             `gorm:"not null;default:0" json:"xp_awarded"`
	Metadata      datatypes.JSONMap `json:"metadata,omitempty"`
	UnlockedAt    time.Time         `gorm:"not null" json:"unlocked_at"`

	Achievement *AchievementDefinition `gorm:"foreignKey:AchievementID" json:"achievement,omitempty"`
}

func (u *AchievementUnlock) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
