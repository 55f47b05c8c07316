package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Task is the subset of the household task row the gamification core reads and completes.
type Task struct {
	ID          string     `gorm:"primaryKey;type:uuid" json:"id"`
	HouseholdID *string    `gorm:"type:uuid;index" json:"household_id,omitempty"`
	Title       string     `gorm:"not null" json:"title"`
	CreatedBy   string     `gorm:"type:uuid;not null" json:"created_by"`
	AssignedTo  *string    `gorm:"type:uuid;index" json:"assigned_to,omitempty"`
	CompletedBy *string    `gorm:"type:uuid;index" json:"completed_by,omitempty"`
	Status      string     `gorm:"size:16;not null;default:'pending'" json:"status"`
	XPValue     int64      `gorm:"not null;default:0" json:"xp_value"` // 0 falls back to the default weight
	DueAt       *time.Time `json:"due_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

type Habit struct {
	ID              string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID          string     `gorm:"type:uuid;index;not null" json:"user_id"`
	Name            string     `gorm:"not null" json:"name"`
	CurrentStreak   int        `gorm:"not null;default:0" json:"current_streak"`
	LongestStreak   int        `gorm:"not null;default:0" json:"longest_streak"`
	LastCheckinDate *time.Time `gorm:"type:date" json:"last_checkin_date,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (h *Habit) BeforeCreate(tx *gorm.DB) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	return nil
}

// HabitCheckin: one per habit per day
type HabitCheckin struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	HabitID     string    `gorm:"type:uuid;not null;uniqueIndex:idx_checkin_habit_day,priority:1" json:"habit_id"`
	UserID      string    `gorm:"type:uuid;not null;index" json:"user_id"`
	CheckinDate time.Time `gorm:"type:date;not null;uniqueIndex:idx_checkin_habit_day,priority:2" json:"checkin_date"`
	CreatedAt   time.Time `json:"created_at"`
}

func (c *HabitCheckin) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

type Goal struct {
	ID          string     `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string     `gorm:"type:uuid;index;not null" json:"user_id"`
	Title       string     `gorm:"not null" json:"title"`
	Status      string     `gorm:"size:16;not null;default:'pending'" json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (g *Goal) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}

type ShoppingList struct {
	ID          string     `gorm:"primaryKey;type:uuid" json:"id"`
	HouseholdID *string    `gorm:"type:uuid;index" json:"household_id,omitempty"`
	Name        string     `gorm:"not null" json:"name"`
	CompletedBy *string    `gorm:"type:uuid;index" json:"completed_by,omitempty"`
	Status      string     `gorm:"size:16;not null;default:'pending'" json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (l *ShoppingList) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}
