package services

import (
	"testing"
	"time"

	"desperado-club/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteTask_AwardsAndNotifies(t *testing.T) {
	f := newFixture(t)
	actor, watcherID, mentioned := newUserID(), newUserID(), newUserID()

	task := models.Task{Title: "Vacuum", CreatedBy: watcherID, Status: models.StatusPending, CreatedAt: f.clock.Now().UTC()}
	require.NoError(t, f.db.Create(&task).Error)
	require.NoError(t, f.svc.Notifications.EnsureWatching(f.ctx, "task", task.ID, watcherID, models.WatchAll))
	f.definition(t, DefinitionInput{
		Name:          "Speedy",
		TriggerType:   string(TriggerSpeedComplete),
		TriggerConfig: map[string]any{"max_minutes": 30},
	})

	f.clock.Advance(10 * time.Minute)
	res, err := f.svc.Activity.CompleteTask(f.ctx, actor, task.ID, ActivityOptions{MentionedUserIDs: []string{mentioned}})
	require.NoError(t, err)

	require.NotNil(t, res.XP)
	assert.Equal(t, DefaultXPWeights.TaskXP, res.XP.XPAwarded)
	require.Len(t, res.Unlocked, 1)
	assert.Equal(t, "speedy", res.Unlocked[0].Achievement.Slug)
	assert.Equal(t, 2, res.Notified)

	var stored models.Task
	require.NoError(t, f.db.First(&stored, "id = ?", task.ID).Error)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	require.NotNil(t, stored.CompletedBy)
	assert.Equal(t, actor, *stored.CompletedBy)

	// the actor now watches the task
	watchers, err := f.svc.Notifications.ListWatchers(f.ctx, "task", task.ID)
	require.NoError(t, err)
	assert.Len(t, watchers, 2)

	_, err = f.svc.Activity.CompleteTask(f.ctx, actor, task.ID, ActivityOptions{})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCompleteTask_AchievementXPUnlocksLevelReached(t *testing.T) {
	f := newFixture(t)
	user := newUserID()
	task := models.Task{Title: "Garage", CreatedBy: user, Status: models.StatusPending}
	require.NoError(t, f.db.Create(&task).Error)
	f.definition(t, DefinitionInput{
		Name:          "Big",
		TriggerType:   string(TriggerTaskCount),
		TriggerConfig: map[string]any{"threshold": 1},
		XPReward:      500,
	})
	f.definition(t, DefinitionInput{
		Name:          "Level Three",
		TriggerType:   string(TriggerLevelReached),
		TriggerConfig: map[string]any{"threshold": 3},
	})

	res, err := f.svc.Activity.CompleteTask(f.ctx, user, task.ID, ActivityOptions{})
	require.NoError(t, err)
	assert.False(t, res.XP.LeveledUp)

	var slugs []string
	for _, u := range res.Unlocked {
		slugs = append(slugs, u.Achievement.Slug)
	}
	assert.Equal(t, []string{"big", "level-three"}, slugs)
	assert.Equal(t, 4, f.profile(t, user).CurrentLevel)
}

func TestCompleteTask_UsesTaskXPValue(t *testing.T) {
	f := newFixture(t)
	actor := newUserID()
	task := models.Task{Title: "Deep clean", CreatedBy: actor, Status: models.StatusPending, XPValue: 40}
	require.NoError(t, f.db.Create(&task).Error)

	res, err := f.svc.Activity.CompleteTask(f.ctx, actor, task.ID, ActivityOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(40), res.XP.XPAwarded)
}

func TestCompleteTask_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Activity.CompleteTask(f.ctx, newUserID(), newUserID(), ActivityOptions{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckInHabit_Streaks(t *testing.T) {
	f := newFixture(t)
	user := newUserID()
	habit := models.Habit{UserID: user, Name: "Stretch"}
	require.NoError(t, f.db.Create(&habit).Error)
	f.definition(t, DefinitionInput{
		Name:          "Three in a row",
		TriggerType:   string(TriggerHabitStreak),
		TriggerConfig: map[string]any{"threshold": 3},
	})

	for day := 1; day <= 3; day++ {
		res, err := f.svc.Activity.CheckInHabit(f.ctx, user, habit.ID)
		require.NoError(t, err)
		h := res.Record.(models.Habit)
		assert.Equal(t, day, h.CurrentStreak)
		if day == 3 {
			require.Len(t, res.Unlocked, 1)
		} else {
			assert.Empty(t, res.Unlocked)
		}
		f.clock.Advance(24 * time.Hour)
	}

	_, err := f.svc.Activity.CheckInHabit(f.ctx, user, habit.ID)
	require.NoError(t, err)
	_, err = f.svc.Activity.CheckInHabit(f.ctx, user, habit.ID)
	assert.ErrorIs(t, err, ErrConflict)

	// a missed day restarts the streak
	f.clock.Advance(48 * time.Hour)
	res, err := f.svc.Activity.CheckInHabit(f.ctx, user, habit.ID)
	require.NoError(t, err)
	h := res.Record.(models.Habit)
	assert.Equal(t, 1, h.CurrentStreak)
	assert.Equal(t, 4, h.LongestStreak)

	assert.Equal(t, int64(5*DefaultXPWeights.HabitCheckinXP), f.profile(t, user).TotalXP)
}

func TestCheckInHabit_OtherUsersHabit(t *testing.T) {
	f := newFixture(t)
	habit := models.Habit{UserID: newUserID(), Name: "Read"}
	require.NoError(t, f.db.Create(&habit).Error)

	_, err := f.svc.Activity.CheckInHabit(f.ctx, newUserID(), habit.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteGoal_LevelUpTriggersLevelCheck(t *testing.T) {
	f := newFixture(t)
	user := newUserID()
	f.award(t, user, 60)
	goal := models.Goal{UserID: user, Title: "Run 5k", Status: models.StatusPending}
	require.NoError(t, f.db.Create(&goal).Error)
	f.definition(t, DefinitionInput{
		Name:          "Level Two",
		TriggerType:   string(TriggerLevelReached),
		TriggerConfig: map[string]any{"threshold": 2},
	})

	res, err := f.svc.Activity.CompleteGoal(f.ctx, user, goal.ID)
	require.NoError(t, err)
	require.NotNil(t, res.XP)
	assert.True(t, res.XP.LeveledUp)
	require.Len(t, res.Unlocked, 1)
	assert.Equal(t, "level-two", res.Unlocked[0].Achievement.Slug)

	_, err = f.svc.Activity.CompleteGoal(f.ctx, user, goal.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCompleteShoppingList(t *testing.T) {
	f := newFixture(t)
	user := newUserID()
	list := models.ShoppingList{Name: "Groceries", Status: models.StatusPending}
	require.NoError(t, f.db.Create(&list).Error)
	f.definition(t, DefinitionInput{
		Name:          "Provider",
		TriggerType:   string(TriggerShoppingCount),
		TriggerConfig: map[string]any{"threshold": 1},
	})

	res, err := f.svc.Activity.CompleteShoppingList(f.ctx, user, list.ID, ActivityOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultXPWeights.ShoppingListXP, res.XP.XPAwarded)
	assert.Len(t, res.Unlocked, 1)
	assert.Zero(t, res.Notified)
}
