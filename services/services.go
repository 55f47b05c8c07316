package services

import (
	"context"
	"math/rand/v2"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Spawner runs a side effect outside the caller's lifecycle; errors are logged by the implementation.
type Spawner interface {
	Go(name string, fn func(ctx context.Context) error)
}

// UserNotifier delivers a single-recipient notification
type UserNotifier interface {
	NotifyUser(ctx context.Context, n DirectNotification) (*DispatchResult, error)
}

// AchievementChecker evaluates achievements for one trigger class
type AchievementChecker interface {
	CheckAchievements(ctx context.Context, userID string, trigger TriggerType, tc TriggerContext) ([]UnlockedAchievement, error)
}

// syncSpawner runs tasks inline; used when no background runner is wired.
type syncSpawner struct{ log *zap.Logger }

func (s syncSpawner) Go(name string, fn func(ctx context.Context) error) {
	if err := fn(context.Background()); err != nil {
		s.log.Error("inline task failed", zap.String("task", name), zap.Error(err))
	}
}

// Deps are the collaborators shared by every service
type Deps struct {
	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clockwork.Clock
	Detached Spawner

	Channels  []DeliveryChannel
	Publisher RealtimePublisher
	Icons     IconUploader

	// Pick returns an index in [0,n); defaults to math/rand/v2.
	Pick func(n int) int
}

// Services bundles the wired service graph
type Services struct {
	Progression   *ProgressionService
	Achievements  *AchievementService
	LootBoxes     *LootBoxService
	Rewards       *RewardService
	Notifications *NotificationService
	Onboarding    *OnboardingService
	Activity      *ActivityService
}

func New(d Deps) *Services {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Detached == nil {
		d.Detached = syncSpawner{log: d.Log}
	}
	if d.Pick == nil {
		d.Pick = rand.IntN
	}

	notifications := NewNotificationService(d.DB, d.Log.Named("notifications"), d.Clock, d.Detached, d.Channels, d.Publisher)
	progression := NewProgressionService(d.DB, d.Log.Named("progression"), d.Clock, d.Detached, notifications)
	lootBoxes := NewLootBoxService(d.DB, d.Log.Named("loot"), d.Clock, d.Pick)
	achievements := NewAchievementService(d.DB, d.Log.Named("achievements"), d.Clock, d.Detached, progression, lootBoxes, notifications)
	progression.Achievements = achievements

	return &Services{
		Progression:   progression,
		Achievements:  achievements,
		LootBoxes:     lootBoxes,
		Rewards:       NewRewardService(d.DB, d.Log.Named("rewards"), d.Icons),
		Notifications: notifications,
		Onboarding:    NewOnboardingService(d.DB, d.Log.Named("onboarding"), d.Clock),
		Activity:      NewActivityService(d.DB, d.Log.Named("activity"), d.Clock, progression, achievements, notifications, DefaultXPWeights),
	}
}
