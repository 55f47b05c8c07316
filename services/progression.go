package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"desperado-club/models"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// XPWeights define base XP per household action
type XPWeights struct {
	TaskXP         int64
	HabitCheckinXP int64
	GoalXP         int64
	ShoppingListXP int64
}

var DefaultXPWeights = XPWeights{
	TaskXP:         10,
	HabitCheckinXP: 5,
	GoalXP:         50, // 5× task
	ShoppingListXP: 15,
}

// Attempts at the profile compare-and-swap before giving up with ErrOptimisticLock
const maxAwardAttempts = 5

// AwardRequest describes one signed XP delta
type AwardRequest struct {
	UserID      string
	Amount      int64
	ActionType  string
	Description string
	SourceType  string  // optional
	SourceID    string  // optional
	Multiplier  float64 // 0 means 1.0
	Metadata    map[string]any
}

// AwardResult reports what an award did to the actor's progression
type AwardResult struct {
	XPAwarded   int64 `json:"xp_awarded"`
	NewTotal    int64 `json:"new_total"`
	LeveledUp   bool  `json:"leveled_up"`
	OldLevel    int   `json:"old_level"`
	NewLevel    int   `json:"new_level"`
	NewFloor    bool  `json:"new_floor"`
	OldFloor    int   `json:"old_floor"`
	NewFloorNum int   `json:"new_floor_num"`
}

type ProgressionService struct {
	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clockwork.Clock
	Detached Spawner
	Notifier UserNotifier

	// Set after construction; login streak updates check login_streak achievements through it.
	Achievements AchievementChecker
}

func NewProgressionService(db *gorm.DB, log *zap.Logger, clock clockwork.Clock, detached Spawner, notifier UserNotifier) *ProgressionService {
	return &ProgressionService{DB: db, Log: log, Clock: clock, Detached: detached, Notifier: notifier}
}

// EnsureProfile makes sure a profile row exists (idempotent, safe under concurrent first touches)
func (s *ProgressionService) EnsureProfile(ctx context.Context, userID, householdID string) (*models.Profile, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id: %w", ErrInvalidArgument)
	}
	db := s.DB.WithContext(ctx)

	prof := models.Profile{
		UserID:       userID,
		CurrentLevel: 1,
		XPToNext:     ThresholdForLevel(2),
		Version:      1,
	}
	if householdID != "" {
		prof.HouseholdID = &householdID
	}
	floorID, err := s.floorID(db, 1)
	if err != nil {
		return nil, err
	}
	prof.CurrentFloorID = floorID

	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&prof).Error; err != nil {
		return nil, fmt.Errorf("create profile: %w", err)
	}

	var out models.Profile
	if err := db.Where("user_id = ?", userID).First(&out).Error; err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if householdID != "" && out.HouseholdID == nil {
		if err := db.Model(&out).Update("household_id", householdID).Error; err != nil {
			return nil, fmt.Errorf("attach household: %w", err)
		}
	}
	return &out, nil
}

// GetProfile returns the stored profile or ErrNotFound
func (s *ProgressionService) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	var prof models.Profile
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&prof).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &prof, nil
}

// AwardXP appends a ledger row and moves the cached profile totals in one transaction.
// The profile is created lazily on first touch.
func (s *ProgressionService) AwardXP(ctx context.Context, req AwardRequest) (*AwardResult, error) {
	req, effective, err := normalizeAward(req)
	if err != nil {
		return nil, err
	}

	res, err := s.award(ctx, req, effective, true)
	if err != nil {
		return nil, err
	}
	s.awarded(req, res)
	return res, nil
}

func normalizeAward(req AwardRequest) (AwardRequest, int64, error) {
	if req.UserID == "" {
		return req, 0, fmt.Errorf("user id: %w", ErrInvalidArgument)
	}
	if req.ActionType == "" {
		return req, 0, fmt.Errorf("action type: %w", ErrInvalidArgument)
	}
	if req.Multiplier == 0 {
		req.Multiplier = 1.0
	}
	return req, int64(math.Round(float64(req.Amount) * req.Multiplier)), nil
}

// awarded runs the post-commit side of an award
func (s *ProgressionService) awarded(req AwardRequest, res *AwardResult) {
	s.Log.Info("xp awarded",
		zap.String("user_id", req.UserID),
		zap.String("action", req.ActionType),
		zap.Int64("amount", res.XPAwarded),
		zap.Int64("total", res.NewTotal),
		zap.Int("level", res.NewLevel),
	)

	if res.LeveledUp {
		s.notifyLevelUp(req.UserID, res)
	}
}

func (s *ProgressionService) award(ctx context.Context, req AwardRequest, effective int64, createMissing bool) (*AwardResult, error) {
	for attempt := 1; attempt <= maxAwardAttempts; attempt++ {
		var result *AwardResult
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			result, err = s.awardTx(tx, req, effective)
			return err
		})

		switch {
		case err == nil:
			return result, nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			if !createMissing {
				return nil, fmt.Errorf("profile for %s: %w", req.UserID, ErrNotFound)
			}
			if _, err := s.EnsureProfile(ctx, req.UserID, ""); err != nil {
				return nil, err
			}
			// one retry only; a second miss surfaces as ErrNotFound
			return s.award(ctx, req, effective, false)
		case errors.Is(err, ErrOptimisticLock):
			s.Log.Debug("xp award lost profile race, retrying",
				zap.String("user_id", req.UserID), zap.Int("attempt", attempt))
			continue
		default:
			return nil, err
		}
	}
	return nil, ErrOptimisticLock
}

// awardTx appends the ledger row and swaps the profile totals inside tx. ErrOptimisticLock means
// another writer moved the profile version and the whole transaction must be retried.
func (s *ProgressionService) awardTx(tx *gorm.DB, req AwardRequest, effective int64) (*AwardResult, error) {
	var prof models.Profile
	if err := tx.Where("user_id = ?", req.UserID).First(&prof).Error; err != nil {
		return nil, err
	}

	oldTotal := prof.TotalXP
	newTotal := max(oldTotal+effective, 0)
	oldInfo := CalculateLevel(oldTotal)
	newInfo := CalculateLevel(newTotal)
	oldFloor := GetFloorForLevel(oldInfo.Level)
	newFloor := GetFloorForLevel(newInfo.Level)

	entry := models.XPLedgerEntry{
		UserID:      req.UserID,
		Amount:      effective,
		ActionType:  req.ActionType,
		Description: req.Description,
		Multiplier:  req.Multiplier,
		Metadata:    req.Metadata,
		CreatedAt:   s.Clock.Now().UTC(),
	}
	if req.SourceType != "" {
		entry.SourceType = &req.SourceType
	}
	if req.SourceID != "" {
		entry.SourceID = &req.SourceID
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("append xp ledger: %w", err)
	}

	floorID := prof.CurrentFloorID
	if newFloor > oldFloor {
		id, err := s.floorID(tx, newFloor)
		if err != nil {
			return nil, err
		}
		// an unseeded floor keeps the previous one
		if id != nil {
			floorID = id
		}
	}

	upd := tx.Model(&models.Profile{}).
		Where("id = ? AND version = ?", prof.ID, prof.Version).
		Updates(map[string]interface{}{
			"total_xp":         newTotal,
			"current_level":    newInfo.Level,
			"xp_to_next":       newInfo.XPToNext,
			"current_floor_id": floorID,
			"version":          gorm.Expr("version + 1"),
			"updated_at":       s.Clock.Now().UTC(),
		})
	if upd.Error != nil {
		return nil, fmt.Errorf("update profile: %w", upd.Error)
	}
	if upd.RowsAffected == 0 {
		return nil, ErrOptimisticLock
	}

	return &AwardResult{
		XPAwarded:   effective,
		NewTotal:    newTotal,
		LeveledUp:   newInfo.Level > oldInfo.Level,
		OldLevel:    oldInfo.Level,
		NewLevel:    newInfo.Level,
		NewFloor:    newFloor > oldFloor,
		OldFloor:    oldFloor,
		NewFloorNum: newFloor,
	}, nil
}

// floorID resolves a floor number to its id; unknown numbers yield nil.
func (s *ProgressionService) floorID(db *gorm.DB, number int) (*string, error) {
	var floor models.Floor
	res := db.Where("number = ?", number).Limit(1).Find(&floor)
	if res.Error != nil {
		return nil, fmt.Errorf("resolve floor %d: %w", number, res.Error)
	}
	if res.RowsAffected == 0 {
		s.Log.Warn("floor not seeded", zap.Int("floor", number))
		return nil, nil
	}
	return &floor.ID, nil
}

func (s *ProgressionService) notifyLevelUp(userID string, res *AwardResult) {
	if s.Notifier == nil || s.Detached == nil {
		return
	}
	title := fmt.Sprintf("Level up! You reached level %d", res.NewLevel)
	body := fmt.Sprintf("%d XP total.", res.NewTotal)
	if res.NewFloor {
		body = fmt.Sprintf("%d XP total. Welcome to floor %d.", res.NewTotal, res.NewFloorNum)
	}
	s.Detached.Go("level-up-notification", func(ctx context.Context) error {
		_, err := s.Notifier.NotifyUser(ctx, DirectNotification{
			UserID:    userID,
			EventType: EventLevelUp,
			Title:     title,
			Body:      body,
			Metadata: map[string]any{
				"old_level": res.OldLevel,
				"new_level": res.NewLevel,
				"new_floor": res.NewFloor,
				"floor":     res.NewFloorNum,
			},
		})
		return err
	})
}

// ReplayLedger folds ledger amounts the way AwardXP applies them: clamped at zero after every step.
func ReplayLedger(amounts []int64) int64 {
	var total int64
	for _, a := range amounts {
		total = max(total+a, 0)
	}
	return total
}

// Reconciliation compares the cached profile total with a ledger replay
type Reconciliation struct {
	UserID      string `json:"user_id"`
	CachedTotal int64  `json:"cached_total"`
	LedgerTotal int64  `json:"ledger_total"`
	RawSum      int64  `json:"raw_sum"`
	Entries     int    `json:"entries"`
	InSync      bool   `json:"in_sync"`
}

// Reconcile replays the actor's ledger in write order
func (s *ProgressionService) Reconcile(ctx context.Context, userID string) (*Reconciliation, error) {
	prof, err := s.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	var amounts []int64
	if err := s.DB.WithContext(ctx).Model(&models.XPLedgerEntry{}).
		Where("user_id = ?", userID).
		Order("created_at ASC").Order("id ASC").
		Pluck("amount", &amounts).Error; err != nil {
		return nil, err
	}

	var raw int64
	for _, a := range amounts {
		raw += a
	}
	replayed := ReplayLedger(amounts)
	rec := &Reconciliation{
		UserID:      userID,
		CachedTotal: prof.TotalXP,
		LedgerTotal: replayed,
		RawSum:      raw,
		Entries:     len(amounts),
		InSync:      replayed == prof.TotalXP,
	}
	if !rec.InSync {
		s.Log.Warn("xp ledger drift", zap.String("user_id", userID),
			zap.Int64("cached", prof.TotalXP), zap.Int64("ledger", replayed))
	}
	return rec, nil
}

// History returns a page of ledger entries, newest first
func (s *ProgressionService) History(ctx context.Context, userID string, page, size int) ([]models.XPLedgerEntry, int64, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	db := s.DB.WithContext(ctx).Model(&models.XPLedgerEntry{}).Where("user_id = ?", userID)

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var entries []models.XPLedgerEntry
	err := db.Order("created_at DESC").Order("id DESC").
		Limit(size).Offset((page - 1) * size).
		Find(&entries).Error
	return entries, total, err
}

// StreakResult reports a login streak update
type StreakResult struct {
	LoginStreak   int  `json:"login_streak"`
	LongestStreak int  `json:"longest_streak"`
	Changed       bool `json:"changed"`
}

// UpdateLoginStreak records today's login: same day is a no-op, the next day extends the
// streak, any gap restarts it at 1.
func (s *ProgressionService) UpdateLoginStreak(ctx context.Context, userID string) (*StreakResult, error) {
	prof, err := s.EnsureProfile(ctx, userID, "")
	if err != nil {
		return nil, err
	}

	today := truncateDay(s.Clock.Now())
	if prof.LastLoginDate != nil && truncateDay(*prof.LastLoginDate).Equal(today) {
		return &StreakResult{LoginStreak: prof.LoginStreak, LongestStreak: prof.LongestStreak}, nil
	}

	streak := 1
	if prof.LastLoginDate != nil && truncateDay(*prof.LastLoginDate).Equal(today.AddDate(0, 0, -1)) {
		streak = prof.LoginStreak + 1
	}
	longest := max(prof.LongestStreak, streak)

	if err := s.DB.WithContext(ctx).Model(&models.Profile{}).
		Where("id = ?", prof.ID).
		Updates(map[string]interface{}{
			"login_streak":    streak,
			"longest_streak":  longest,
			"last_login_date": today,
		}).Error; err != nil {
		return nil, fmt.Errorf("update login streak: %w", err)
	}

	if s.Achievements != nil {
		if _, err := s.Achievements.CheckAchievements(ctx, userID, TriggerLoginStreak, TriggerContext{}); err != nil {
			s.Log.Error("login streak achievement check failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	return &StreakResult{LoginStreak: streak, LongestStreak: longest, Changed: true}, nil
}

// ExpireLoginStreaks zeroes streaks whose last login is older than yesterday
func (s *ProgressionService) ExpireLoginStreaks(ctx context.Context) (int64, error) {
	cutoff := truncateDay(s.Clock.Now()).AddDate(0, 0, -1)
	res := s.DB.WithContext(ctx).Model(&models.Profile{}).
		Where("login_streak > 0 AND last_login_date < ?", cutoff).
		Update("login_streak", 0)
	return res.RowsAffected, res.Error
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
