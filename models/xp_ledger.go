package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// XP action types
const (
	ActionTaskCompleted         = "task_completed"
	ActionHabitCheckin          = "habit_checkin"
	ActionGoalCompleted         = "goal_completed"
	ActionShoppingListCompleted = "shopping_list_completed"
	ActionAchievementUnlock     = "achievement_unlock"
	ActionAdminGrant            = "admin_grant"
	ActionPenalty               = "penalty"
)

// XPLedgerEntry is one signed XP delta. Rows are append-only: nothing updates or deletes them.
type XPLedgerEntry struct {
	ID          string            `gorm:"primaryKey;type:uuid" json:"id"`
	UserID      string            `gorm:"type:uuid;index:idx_ledger_user_time,priority:1;not null" json:"user_id"`
	Amount      int64             `gorm:"not null" json:"amount"` // effective (post-multiplier) amount
	ActionType  string            `gorm:"size:50;not null" json:"action_type"`
	SourceType  *string           `gorm:"size:50" json:"source_type,omitempty"`
	SourceID    *string           `gorm:"size:64" json:"source_id,omitempty"`
	Description string            `gorm:"type:text" json:"description"`
	Multiplier  float64           `gorm:"not null;default:1" json:"multiplier"`
	Metadata    datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt   time.Time         `gorm:"index:idx_ledger_user_time,priority:2" json:"created_at"`
}

func (XPLedgerEntry) TableName() string { return "xp_ledger" }

func (e *XPLedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// ErrLedgerImmutable is returned by the update/delete hooks of XPLedgerEntry.
var ErrLedgerImmutable = errors.New("xp ledger entries are immutable")

func (e *XPLedgerEntry) BeforeUpdate(tx *gorm.DB) error { return ErrLedgerImmutable }

func (e *XPLedgerEntry) BeforeDelete(tx *gorm.DB) error { return ErrLedgerImmutable }
