package services

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// TriggerType is the achievement trigger class stored on a definition
type TriggerType string

const (
	TriggerTaskCount       TriggerType = "task_count"
	TriggerHabitStreak     TriggerType = "habit_streak"
	TriggerHabitCount      TriggerType = "habit_count"
	TriggerGoalCompleted   TriggerType = "goal_completed"
	TriggerLoginStreak     TriggerType = "login_streak"
	TriggerLevelReached    TriggerType = "level_reached"
	TriggerSpeedComplete   TriggerType = "speed_complete"
	TriggerZeroOverdue     TriggerType = "zero_overdue"
	TriggerShoppingCount   TriggerType = "shopping_count"
	TriggerBudgetUnder     TriggerType = "budget_under"
	TriggerComboStreak     TriggerType = "combo_streak"
	TriggerPartyTaskStreak TriggerType = "party_task_streak"
	TriggerPartyHabitSync  TriggerType = "party_habit_sync"
	TriggerCustom          TriggerType = "custom"
)

// KnownTriggerTypes lists every trigger class the evaluator understands
var KnownTriggerTypes = []TriggerType{
	TriggerTaskCount, TriggerHabitStreak, TriggerHabitCount, TriggerGoalCompleted,
	TriggerLoginStreak, TriggerLevelReached, TriggerSpeedComplete, TriggerZeroOverdue,
	TriggerShoppingCount, TriggerBudgetUnder, TriggerComboStreak, TriggerPartyTaskStreak,
	TriggerPartyHabitSync, TriggerCustom,
}

func (t TriggerType) Known() bool {
	for _, k := range KnownTriggerTypes {
		if k == t {
			return true
		}
	}
	return false
}

// TriggerContext carries caller-supplied facts for predicates that are not derived from stored state
type TriggerContext struct {
	CurrentStreak                int            `json:"current_streak,omitempty"`
	CreatedAt                    *time.Time     `json:"created_at,omitempty"`
	CompletedAt                  *time.Time     `json:"completed_at,omitempty"`
	ConsecutiveZeroOverdueDays   int            `json:"consecutive_zero_overdue_days,omitempty"`
	ConsecutiveUnderBudgetMonths int            `json:"consecutive_under_budget_months,omitempty"`
	ComboStreak                  int            `json:"combo_streak,omitempty"`
	PartyTaskStreak              int            `json:"party_task_streak,omitempty"`
	PartyHabitSync               int            `json:"party_habit_sync,omitempty"`
	CustomType                   string         `json:"custom_type,omitempty"`
	PartyID                      string         `json:"party_id,omitempty"`
	Extra                        map[string]any `json:"extra,omitempty"`
}

// Trigger is one decoded achievement condition. The set of implementations is closed.
type Trigger interface {
	Type() TriggerType
	trigger()
}

type TaskCountTrigger struct{ Threshold int64 }
type HabitStreakTrigger struct{ Threshold int64 }
type HabitCountTrigger struct{ Threshold int64 }
type GoalCompletedTrigger struct{ Threshold int64 }
type LoginStreakTrigger struct{ Threshold int64 }
type LevelReachedTrigger struct{ Threshold int64 }
type SpeedCompleteTrigger struct{ MaxMinutes float64 }
type ZeroOverdueTrigger struct{ Threshold int64 }
type ShoppingCountTrigger struct{ Threshold int64 }
type BudgetUnderTrigger struct{ Threshold int64 }
type ComboStreakTrigger struct{ Threshold int64 }
type PartyTaskStreakTrigger struct{ Threshold int64 }
type PartyHabitSyncTrigger struct{ Threshold int64 }
type CustomTrigger struct{ CustomType string }

// unknownTrigger never fires
type unknownTrigger struct{ kind TriggerType }

func (TaskCountTrigger) Type() TriggerType       { return TriggerTaskCount }
func (HabitStreakTrigger) Type() TriggerType     { return TriggerHabitStreak }
func (HabitCountTrigger) Type() TriggerType      { return TriggerHabitCount }
func (GoalCompletedTrigger) Type() TriggerType   { return TriggerGoalCompleted }
func (LoginStreakTrigger) Type() TriggerType     { return TriggerLoginStreak }
func (LevelReachedTrigger) Type() TriggerType    { return TriggerLevelReached }
func (SpeedCompleteTrigger) Type() TriggerType   { return TriggerSpeedComplete }
func (ZeroOverdueTrigger) Type() TriggerType     { return TriggerZeroOverdue }
func (ShoppingCountTrigger) Type() TriggerType   { return TriggerShoppingCount }
func (BudgetUnderTrigger) Type() TriggerType     { return TriggerBudgetUnder }
func (ComboStreakTrigger) Type() TriggerType     { return TriggerComboStreak }
func (PartyTaskStreakTrigger) Type() TriggerType { return TriggerPartyTaskStreak }
func (PartyHabitSyncTrigger) Type() TriggerType  { return TriggerPartyHabitSync }
func (CustomTrigger) Type() TriggerType          { return TriggerCustom }
func (u unknownTrigger) Type() TriggerType       { return u.kind }

func (TaskCountTrigger) trigger()       {}
func (HabitStreakTrigger) trigger()     {}
func (HabitCountTrigger) trigger()      {}
func (GoalCompletedTrigger) trigger()   {}
func (LoginStreakTrigger) trigger()     {}
func (LevelReachedTrigger) trigger()    {}
func (SpeedCompleteTrigger) trigger()   {}
func (ZeroOverdueTrigger) trigger()     {}
func (ShoppingCountTrigger) trigger()   {}
func (BudgetUnderTrigger) trigger()     {}
func (ComboStreakTrigger) trigger()     {}
func (PartyTaskStreakTrigger) trigger() {}
func (PartyHabitSyncTrigger) trigger()  {}
func (CustomTrigger) trigger()          {}
func (unknownTrigger) trigger()         {}

// triggerConfig is the stored JSON shape: {"threshold": 10}, {"max_minutes": 30}, {"type": "first_recipe"}
type triggerConfig struct {
	Threshold  int64   `json:"threshold"`
	MaxMinutes float64 `json:"max_minutes"`
	Type       string  `json:"type"`
}

// DecodeTrigger turns a stored (trigger_type, trigger_config) pair into a typed Trigger.
// Unrecognised kinds decode to a trigger that never fires.
func DecodeTrigger(kind string, raw []byte) (Trigger, error) {
	var cfg triggerConfig
	if len(raw) > 0 && string(raw) != "null" {
		if err := sonic.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode %s config: %w", kind, err)
		}
	}

	switch TriggerType(kind) {
	case TriggerTaskCount:
		return TaskCountTrigger{Threshold: cfg.Threshold}, nil
	case TriggerHabitStreak:
		return HabitStreakTrigger{Threshold: cfg.Threshold}, nil
	case TriggerHabitCount:
		return HabitCountTrigger{Threshold: cfg.Threshold}, nil
	case TriggerGoalCompleted:
		return GoalCompletedTrigger{Threshold: cfg.Threshold}, nil
	case TriggerLoginStreak:
		return LoginStreakTrigger{Threshold: cfg.Threshold}, nil
	case TriggerLevelReached:
		return LevelReachedTrigger{Threshold: cfg.Threshold}, nil
	case TriggerSpeedComplete:
		return SpeedCompleteTrigger{MaxMinutes: cfg.MaxMinutes}, nil
	case TriggerZeroOverdue:
		return ZeroOverdueTrigger{Threshold: cfg.Threshold}, nil
	case TriggerShoppingCount:
		return ShoppingCountTrigger{Threshold: cfg.Threshold}, nil
	case TriggerBudgetUnder:
		return BudgetUnderTrigger{Threshold: cfg.Threshold}, nil
	case TriggerComboStreak:
		return ComboStreakTrigger{Threshold: cfg.Threshold}, nil
	case TriggerPartyTaskStreak:
		return PartyTaskStreakTrigger{Threshold: cfg.Threshold}, nil
	case TriggerPartyHabitSync:
		return PartyHabitSyncTrigger{Threshold: cfg.Threshold}, nil
	case TriggerCustom:
		return CustomTrigger{CustomType: cfg.Type}, nil
	default:
		return unknownTrigger{kind: TriggerType(kind)}, nil
	}
}
