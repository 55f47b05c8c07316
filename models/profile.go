package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Profile tracks gamified progression for each household member (denormalized projection of the XP ledger)
type Profile struct {
	ID          string  `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string  `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	HouseholdID *string `gorm:"type:uuid;index" json:"household_id,omitempty"`

	// Core progression
	TotalXP        int64   `gorm:"not null;default:0" json:"total_xp"`
	CurrentLevel   int     `gorm:"not null;default:1" json:"current_level"`
	CurrentFloorID *string `gorm:"type:uuid" json:"current_floor_id,omitempty"`
	XPToNext       int64   `gorm:"not null;default:0" json:"xp_to_next"`

	// Streaks
	LoginStreak   int        `gorm:"not null;default:0" json:"login_streak"`
	LongestStreak int        `gorm:"not null;default:0" json:"longest_streak"`
	LastLoginDate *time.Time `gorm:"type:date" json:"last_login_date,omitempty"`

	ShowcaseAchievementIDs datatypes.JSONSlice[string] `json:"showcase_achievement_ids"`
	DisplayTitle           string                      `gorm:"size:80" json:"display_title"`

	// Bumped on every XP write; awards compare-and-swap on it.
	Version int `gorm:"not null;default:1" json:"-"`

	Timestamps
}

func (p *Profile) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	return nil
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// Floor is a 10-level progression band. Seeded by SeedFloors.
type Floor struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	Number int    `gorm:"uniqueIndex;not null" json:"number"`
	Name   string `gorm:"not null" json:"name"`
	Theme  string `json:"theme"`
}

func (f *Floor) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}
