package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LootBox is minted unopened, opened exactly once, and optionally redeemed afterwards.
type LootBox struct {
	ID                  string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID              string     `gorm:"type:uuid;index;not null" json:"user_id"`
	Tier                string     `gorm:"size:16;not null" json:"tier"`
	SourceAchievementID *string    `gorm:"type:uuid" json:"source_achievement_id,omitempty"`
	SourceDescription   string     `json:"source_description"`
	Opened              bool       `gorm:"not null;index" json:"opened"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
	RewardID            *string    `gorm:"type:uuid" json:"reward_id,omitempty"`
	Redeemed            bool       `gorm:"not null" json:"redeemed"`
	RedeemedAt          *time.Time `json:"redeemed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`

	Reward *LootBoxReward `gorm:"foreignKey:RewardID" json:"reward,omitempty"`
}

func (b *LootBox) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// LootBoxReward is a pool entry. Exactly one of UserID / HouseholdID is set.
type LootBoxReward struct {
	ID          string  `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      *string `gorm:"type:uuid;index" json:"user_id,omitempty"`
	HouseholdID *string `gorm:"type:uuid;index" json:"household_id,omitempty"`
	Tier        string  `gorm:"size:16;not null;index" json:"tier"`
	Name        string  `gorm:"not null" json:"name"`
	Description string  `gorm:"type:text" json:"description"`
	Emoji       string  `gorm:"size:10" json:"emoji"`
	IconURL     string  `gorm:"type:text" json:"icon_url"`
	IsActive    bool    `gorm:"not null" json:"is_active"`
	TimesWon    int64   `gorm:"not null;default:0" json:"times_won"`
	Timestamps
}

func (r *LootBoxReward) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
