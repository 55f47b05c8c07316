package services

import (
	"context"
	"errors"
	"fmt"

	"desperado-club/models"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ActivityService owns the household actions that feed the gamification core. The primary write
// always commits first; XP, achievements and notifications after it are best-effort.
type ActivityService struct {
	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clockwork.Clock
	Progression   *ProgressionService
	Achievements  AchievementChecker
	Notifications *NotificationService
	Weights       XPWeights
}

func NewActivityService(db *gorm.DB, log *zap.Logger, clock clockwork.Clock, progression *ProgressionService,
	achievements AchievementChecker, notifications *NotificationService, weights XPWeights) *ActivityService {
	return &ActivityService{
		DB:            db,
		Log:           log,
		Clock:         clock,
		Progression:   progression,
		Achievements:  achievements,
		Notifications: notifications,
		Weights:       weights,
	}
}

// ActivityResult is the primary record plus whatever gamification managed to do
type ActivityResult struct {
	Record   any                   `json:"record"`
	XP       *AwardResult          `json:"xp,omitempty"`
	Unlocked []UnlockedAchievement `json:"unlocked,omitempty"`
	Notified int                   `json:"notified"`
}

type ActivityOptions struct {
	MentionedUserIDs []string `json:"mentioned_user_ids"`
}

type check struct {
	trigger TriggerType
	tc      TriggerContext
}

// CompleteTask marks a pending task completed by the actor
func (s *ActivityService) CompleteTask(ctx context.Context, actorID, taskID string, opts ActivityOptions) (*ActivityResult, error) {
	now := s.Clock.Now().UTC()
	var task models.Task

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", taskID).First(&task).Error; err != nil {
			return err
		}
		res := tx.Model(&models.Task{}).
			Where("id = ? AND status = ?", taskID, models.StatusPending).
			Updates(map[string]interface{}{
				"status":       models.StatusCompleted,
				"completed_by": actorID,
				"completed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("task already completed: %w", ErrConflict)
		}
		return nil
	})
	if err != nil {
		return nil, notFound(err)
	}
	task.Status = models.StatusCompleted
	task.CompletedBy = &actorID
	task.CompletedAt = &now

	xp := task.XPValue
	if xp <= 0 {
		xp = s.Weights.TaskXP
	}
	createdAt := task.CreatedAt
	out := &ActivityResult{Record: task}
	s.gamify(ctx, out, AwardRequest{
		UserID:      actorID,
		Amount:      xp,
		ActionType:  models.ActionTaskCompleted,
		Description: fmt.Sprintf("Completed task: %s", task.Title),
		SourceType:  "task",
		SourceID:    task.ID,
	}, []check{
		{trigger: TriggerTaskCount},
		{trigger: TriggerSpeedComplete, tc: TriggerContext{CreatedAt: &createdAt, CompletedAt: &now}},
	})

	s.notify(ctx, out, actorID, NotifyRequest{
		EventType:        EventTaskCompleted,
		EntityType:       "task",
		EntityID:         task.ID,
		ActorID:          actorID,
		Title:            fmt.Sprintf("Task completed: %s", task.Title),
		MentionedUserIDs: opts.MentionedUserIDs,
	})
	return out, nil
}

// CheckInHabit records today's check-in for a habit the actor owns and extends its streak
func (s *ActivityService) CheckInHabit(ctx context.Context, actorID, habitID string) (*ActivityResult, error) {
	today := truncateDay(s.Clock.Now())
	var habit models.Habit

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ?", habitID, actorID).First(&habit).Error; err != nil {
			return err
		}
		checkin := models.HabitCheckin{HabitID: habit.ID, UserID: actorID, CheckinDate: today, CreatedAt: s.Clock.Now().UTC()}
		if err := tx.Create(&checkin).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("already checked in today: %w", ErrConflict)
			}
			return err
		}

		streak := 1
		if habit.LastCheckinDate != nil && truncateDay(*habit.LastCheckinDate).Equal(today.AddDate(0, 0, -1)) {
			streak = habit.CurrentStreak + 1
		}
		habit.CurrentStreak = streak
		habit.LongestStreak = max(habit.LongestStreak, streak)
		habit.LastCheckinDate = &today
		return tx.Model(&models.Habit{}).Where("id = ?", habit.ID).Updates(map[string]interface{}{
			"current_streak":    habit.CurrentStreak,
			"longest_streak":    habit.LongestStreak,
			"last_checkin_date": today,
		}).Error
	})
	if err != nil {
		return nil, notFound(err)
	}

	out := &ActivityResult{Record: habit}
	s.gamify(ctx, out, AwardRequest{
		UserID:      actorID,
		Amount:      s.Weights.HabitCheckinXP,
		ActionType:  models.ActionHabitCheckin,
		Description: fmt.Sprintf("Checked in: %s", habit.Name),
		SourceType:  "habit",
		SourceID:    habit.ID,
		Metadata:    map[string]any{"streak": habit.CurrentStreak},
	}, []check{
		{trigger: TriggerHabitCount},
		{trigger: TriggerHabitStreak, tc: TriggerContext{CurrentStreak: habit.CurrentStreak}},
	})
	return out, nil
}

// CompleteGoal completes one of the actor's goals
func (s *ActivityService) CompleteGoal(ctx context.Context, actorID, goalID string) (*ActivityResult, error) {
	now := s.Clock.Now().UTC()
	var goal models.Goal

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ?", goalID, actorID).First(&goal).Error; err != nil {
			return err
		}
		res := tx.Model(&models.Goal{}).
			Where("id = ? AND status = ?", goalID, models.StatusPending).
			Updates(map[string]interface{}{"status": models.StatusCompleted, "completed_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("goal already completed: %w", ErrConflict)
		}
		return nil
	})
	if err != nil {
		return nil, notFound(err)
	}
	goal.Status = models.StatusCompleted
	goal.CompletedAt = &now

	out := &ActivityResult{Record: goal}
	s.gamify(ctx, out, AwardRequest{
		UserID:      actorID,
		Amount:      s.Weights.GoalXP,
		ActionType:  models.ActionGoalCompleted,
		Description: fmt.Sprintf("Completed goal: %s", goal.Title),
		SourceType:  "goal",
		SourceID:    goal.ID,
	}, []check{{trigger: TriggerGoalCompleted}})

	s.notify(ctx, out, actorID, NotifyRequest{
		EventType:  EventGoalCompleted,
		EntityType: "goal",
		EntityID:   goal.ID,
		ActorID:    actorID,
		Title:      fmt.Sprintf("Goal reached: %s", goal.Title),
	})
	return out, nil
}

// CompleteShoppingList closes a household shopping list
func (s *ActivityService) CompleteShoppingList(ctx context.Context, actorID, listID string, opts ActivityOptions) (*ActivityResult, error) {
	now := s.Clock.Now().UTC()
	var list models.ShoppingList

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", listID).First(&list).Error; err != nil {
			return err
		}
		res := tx.Model(&models.ShoppingList{}).
			Where("id = ? AND status = ?", listID, models.StatusPending).
			Updates(map[string]interface{}{
				"status":       models.StatusCompleted,
				"completed_by": actorID,
				"completed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("shopping list already completed: %w", ErrConflict)
		}
		return nil
	})
	if err != nil {
		return nil, notFound(err)
	}
	list.Status = models.StatusCompleted
	list.CompletedBy = &actorID
	list.CompletedAt = &now

	out := &ActivityResult{Record: list}
	s.gamify(ctx, out, AwardRequest{
		UserID:      actorID,
		Amount:      s.Weights.ShoppingListXP,
		ActionType:  models.ActionShoppingListCompleted,
		Description: fmt.Sprintf("Finished shopping list: %s", list.Name),
		SourceType:  "shopping_list",
		SourceID:    list.ID,
	}, []check{{trigger: TriggerShoppingCount}})

	s.notify(ctx, out, actorID, NotifyRequest{
		EventType:        EventShoppingListCompleted,
		EntityType:       "shopping_list",
		EntityID:         list.ID,
		ActorID:          actorID,
		Title:            fmt.Sprintf("Shopping done: %s", list.Name),
		MentionedUserIDs: opts.MentionedUserIDs,
	})
	return out, nil
}

// gamify awards XP then runs achievement checks; level_reached is added when the award levels up
func (s *ActivityService) gamify(ctx context.Context, out *ActivityResult, award AwardRequest, checks []check) {
	res, err := s.Progression.AwardXP(ctx, award)
	if err != nil {
		s.Log.Error("xp award failed",
			zap.String("user_id", award.UserID), zap.String("action", award.ActionType), zap.Error(err))
	} else {
		out.XP = res
		if res.LeveledUp {
			checks = append(checks, check{trigger: TriggerLevelReached})
		}
	}

	if s.Achievements == nil {
		return
	}
	for _, c := range checks {
		unlocked, err := s.Achievements.CheckAchievements(ctx, award.UserID, c.trigger, c.tc)
		if err != nil {
			s.Log.Error("achievement check failed",
				zap.String("user_id", award.UserID), zap.String("trigger", string(c.trigger)), zap.Error(err))
			continue
		}
		out.Unlocked = append(out.Unlocked, unlocked...)
	}
}

// notify makes the actor a watcher of the entity and tells everyone else who watches it
func (s *ActivityService) notify(ctx context.Context, out *ActivityResult, actorID string, req NotifyRequest) {
	if s.Notifications == nil {
		return
	}
	if err := s.Notifications.EnsureWatching(ctx, req.EntityType, req.EntityID, actorID, models.WatchAll); err != nil {
		s.Log.Warn("ensure watching failed", zap.String("user_id", actorID), zap.String("entity", req.EntityID), zap.Error(err))
	}
	res, err := s.Notifications.NotifyEntity(ctx, req)
	if err != nil {
		s.Log.Error("notify entity failed",
			zap.String("event", req.EventType), zap.String("entity", req.EntityID), zap.Error(err))
		return
	}
	out.Notified = len(res.Notifications)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
