package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"desperado-club/models"

	"github.com/bytedance/sonic"
	"github.com/gosimple/slug"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const MaxShowcase = 3

var errAlreadyUnlocked = errors.New("achievement already unlocked")

type AchievementService struct {
	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clockwork.Clock
	Detached    Spawner
	Progression *ProgressionService
	LootBoxes   *LootBoxService
	Notifier    UserNotifier
}

func NewAchievementService(db *gorm.DB, log *zap.Logger, clock clockwork.Clock, detached Spawner,
	progression *ProgressionService, lootBoxes *LootBoxService, notifier UserNotifier) *AchievementService {
	return &AchievementService{
		DB:          db,
		Log:         log,
		Clock:       clock,
		Detached:    detached,
		Progression: progression,
		LootBoxes:   lootBoxes,
		Notifier:    notifier,
	}
}

// UnlockedAchievement is one unlock produced by CheckAchievements
type UnlockedAchievement struct {
	Achievement models.AchievementDefinition `json:"achievement"`
	Unlock      models.AchievementUnlock     `json:"unlock"`
	XP          *AwardResult                 `json:"xp,omitempty"`
	LootBox     *models.LootBox              `json:"loot_box,omitempty"`
}

type unlockCount struct {
	AchievementID string
	Unlocks       int
}

// CheckAchievements evaluates every active definition of one trigger class for a user and unlocks
// the qualifying ones. A failure on one definition is logged and the rest of the batch continues.
// Unlock XP that crosses a level re-runs the level_reached class until nothing new unlocks.
func (s *AchievementService) CheckAchievements(ctx context.Context, userID string, trigger TriggerType, tc TriggerContext) ([]UnlockedAchievement, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id: %w", ErrInvalidArgument)
	}

	unlocked, err := s.check(ctx, userID, trigger, tc, nil)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(unlocked))
	for _, u := range unlocked {
		seen[u.Achievement.ID] = true
	}
	batch := unlocked
	for leveledUp(batch) {
		batch, err = s.check(ctx, userID, TriggerLevelReached, TriggerContext{}, seen)
		if err != nil {
			s.Log.Error("level achievement cascade failed", zap.String("user_id", userID), zap.Error(err))
			break
		}
		for _, u := range batch {
			seen[u.Achievement.ID] = true
		}
		unlocked = append(unlocked, batch...)
	}
	return unlocked, nil
}

func leveledUp(batch []UnlockedAchievement) bool {
	for _, u := range batch {
		if u.XP != nil && u.XP.LeveledUp {
			return true
		}
	}
	return false
}

// check runs one evaluation pass; definitions in skip are left alone
func (s *AchievementService) check(ctx context.Context, userID string, trigger TriggerType, tc TriggerContext, skip map[string]bool) ([]UnlockedAchievement, error) {
	db := s.DB.WithContext(ctx)

	var defs []models.AchievementDefinition
	if err := db.Where("trigger_type = ? AND is_active = ?", string(trigger), true).
		Order("sort_order ASC").Order("slug ASC").
		Find(&defs).Error; err != nil {
		return nil, fmt.Errorf("load achievement definitions: %w", err)
	}
	if len(defs) == 0 {
		return nil, nil
	}

	var rows []unlockCount
	if err := db.Model(&models.AchievementUnlock{}).
		Select("achievement_id, MAX(unlock_count) AS unlocks").
		Where("user_id = ?", userID).
		Group("achievement_id").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("load unlock counts: %w", err)
	}
	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.AchievementID] = r.Unlocks
	}

	var unlocked []UnlockedAchievement
	for _, def := range defs {
		if skip[def.ID] {
			continue
		}
		existing := counts[def.ID]
		if !def.IsRepeatable && existing > 0 {
			continue
		}
		if def.IsPartyOnly && tc.PartyID == "" {
			continue
		}

		t, err := DecodeTrigger(def.TriggerType, def.TriggerConfig)
		if err != nil {
			s.Log.Error("bad trigger config", zap.String("achievement", def.Slug), zap.Error(err))
			continue
		}
		ok, err := s.evaluate(ctx, userID, t, tc)
		if err != nil {
			s.Log.Error("achievement predicate failed",
				zap.String("user_id", userID), zap.String("achievement", def.Slug), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		u, err := s.unlock(ctx, userID, def, existing, tc)
		if errors.Is(err, errAlreadyUnlocked) {
			continue
		}
		if err != nil {
			s.Log.Error("achievement unlock failed",
				zap.String("user_id", userID), zap.String("achievement", def.Slug), zap.Error(err))
			continue
		}
		unlocked = append(unlocked, *u)
	}
	return unlocked, nil
}

func (s *AchievementService) evaluate(ctx context.Context, userID string, t Trigger, tc TriggerContext) (bool, error) {
	db := s.DB.WithContext(ctx)

	switch t := t.(type) {
	case TaskCountTrigger:
		n, err := count(db.Model(&models.Task{}).
			Where("completed_by = ? AND status = ?", userID, models.StatusCompleted))
		return n >= t.Threshold, err
	case HabitStreakTrigger:
		return int64(tc.CurrentStreak) >= t.Threshold, nil
	case HabitCountTrigger:
		n, err := count(db.Model(&models.HabitCheckin{}).Where("user_id = ?", userID))
		return n >= t.Threshold, err
	case GoalCompletedTrigger:
		n, err := count(db.Model(&models.Goal{}).
			Where("user_id = ? AND status = ?", userID, models.StatusCompleted))
		return n >= t.Threshold, err
	case LoginStreakTrigger:
		prof, err := s.profile(ctx, userID)
		if err != nil || prof == nil {
			return false, err
		}
		return int64(prof.LoginStreak) >= t.Threshold, nil
	case LevelReachedTrigger:
		prof, err := s.profile(ctx, userID)
		if err != nil || prof == nil {
			return false, err
		}
		return int64(prof.CurrentLevel) >= t.Threshold, nil
	case SpeedCompleteTrigger:
		if tc.CreatedAt == nil || tc.CompletedAt == nil {
			return false, nil
		}
		return tc.CompletedAt.Sub(*tc.CreatedAt).Minutes() <= t.MaxMinutes, nil
	case ZeroOverdueTrigger:
		return int64(tc.ConsecutiveZeroOverdueDays) >= t.Threshold, nil
	case ShoppingCountTrigger:
		n, err := count(db.Model(&models.ShoppingList{}).
			Where("completed_by = ? AND status = ?", userID, models.StatusCompleted))
		return n >= t.Threshold, err
	case BudgetUnderTrigger:
		return int64(tc.ConsecutiveUnderBudgetMonths) >= t.Threshold, nil
	case ComboStreakTrigger:
		return int64(tc.ComboStreak) >= t.Threshold, nil
	case PartyTaskStreakTrigger:
		return int64(tc.PartyTaskStreak) >= t.Threshold, nil
	case PartyHabitSyncTrigger:
		return int64(tc.PartyHabitSync) >= t.Threshold, nil
	case CustomTrigger:
		return t.CustomType != "" && tc.CustomType == t.CustomType, nil
	case unknownTrigger:
		return false, nil
	default:
		return false, nil
	}
}

func count(q *gorm.DB) (int64, error) {
	var n int64
	err := q.Count(&n).Error
	return n, err
}

// profile returns nil (no error) when the user has none yet
func (s *AchievementService) profile(ctx context.Context, userID string) (*models.Profile, error) {
	var prof models.Profile
	res := s.DB.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&prof)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return &prof, nil
}

func (s *AchievementService) unlock(ctx context.Context, userID string, def models.AchievementDefinition, existing int, tc TriggerContext) (*UnlockedAchievement, error) {
	meta := datatypes.JSONMap{"trigger_type": def.TriggerType}
	if tc.PartyID != "" {
		meta["party_id"] = tc.PartyID
	}
	if tc.CustomType != "" {
		meta["custom_type"] = tc.CustomType
	}

	row := models.AchievementUnlock{
		UserID:        userID,
		AchievementID: def.ID,
		UnlockCount:   existing + 1,
		XPAwarded:     def.XPReward,
		Metadata:      meta,
		UnlockedAt:    s.Clock.Now().UTC(),
	}

	var (
		award     AwardRequest
		effective int64
		err       error
	)
	if def.XPReward != 0 {
		award, effective, err = normalizeAward(AwardRequest{
			UserID:      userID,
			Amount:      def.XPReward,
			ActionType:  models.ActionAchievementUnlock,
			Description: fmt.Sprintf("Achievement unlocked: %s", def.Name),
			SourceType:  "achievement",
			SourceID:    def.ID,
			Metadata:    map[string]any{"unlock_count": row.UnlockCount},
		})
		if err != nil {
			return nil, err
		}
		if _, err := s.Progression.EnsureProfile(ctx, userID, ""); err != nil {
			return nil, err
		}
	}

	// The unlock row and its XP commit together: a failed award leaves the achievement locked.
	var xp *AwardResult
	for attempt := 1; attempt <= maxAwardAttempts; attempt++ {
		xp = nil
		err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// (user, achievement, unlock_count) is unique; a concurrent evaluation that got there first wins.
			if err := tx.Create(&row).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return errAlreadyUnlocked
				}
				return fmt.Errorf("insert unlock: %w", err)
			}
			if def.XPReward == 0 {
				return nil
			}
			res, err := s.Progression.awardTx(tx, award, effective)
			if err != nil {
				return err
			}
			xp = res
			return nil
		})
		if !errors.Is(err, ErrOptimisticLock) {
			break
		}
		s.Log.Debug("unlock lost profile race, retrying",
			zap.String("user_id", userID), zap.String("achievement", def.Slug), zap.Int("attempt", attempt))
	}
	if err != nil {
		return nil, err
	}

	out := &UnlockedAchievement{Achievement: def, Unlock: row, XP: xp}
	if xp != nil {
		s.Progression.awarded(award, xp)
	}

	if def.LootBoxTier != nil && *def.LootBoxTier != "" {
		box, err := s.LootBoxes.Mint(ctx, userID, *def.LootBoxTier, &def.ID, fmt.Sprintf("Unlocked %s", def.Name))
		if err != nil {
			s.Log.Error("loot box mint failed",
				zap.String("user_id", userID), zap.String("achievement", def.Slug), zap.Error(err))
		} else {
			out.LootBox = box
		}
	}

	s.notifyUnlock(userID, def, row.UnlockCount, out.LootBox != nil)

	s.Log.Info("achievement unlocked",
		zap.String("user_id", userID),
		zap.String("achievement", def.Slug),
		zap.Int("unlock_count", row.UnlockCount),
	)
	return out, nil
}

func (s *AchievementService) notifyUnlock(userID string, def models.AchievementDefinition, unlockCount int, withBox bool) {
	if s.Notifier == nil || s.Detached == nil {
		return
	}
	body := def.Description
	if withBox {
		body = strings.TrimSpace(body + " You earned a loot box!")
	}
	s.Detached.Go("achievement-notification", func(ctx context.Context) error {
		_, err := s.Notifier.NotifyUser(ctx, DirectNotification{
			UserID:     userID,
			EventType:  EventAchievementUnlocked,
			Title:      fmt.Sprintf("%s Achievement unlocked: %s", def.Icon, def.Name),
			Body:       body,
			EntityType: "achievement",
			EntityID:   def.ID,
			Metadata: map[string]any{
				"achievement_slug": def.Slug,
				"unlock_count":     unlockCount,
				"xp_reward":        def.XPReward,
			},
		})
		return err
	})
}

// DefinitionInput creates or describes an achievement definition
type DefinitionInput struct {
	Slug          string         `json:"slug"`
	Name          string         `json:"name" validate:"required,max=120"`
	Description   string         `json:"description"`
	Icon          string         `json:"icon" validate:"max=16"`
	TriggerType   string         `json:"trigger_type" validate:"required"`
	TriggerConfig map[string]any `json:"trigger_config"`
	XPReward      int64          `json:"xp_reward" validate:"gte=0"`
	LootBoxTier   string         `json:"loot_box_tier" validate:"omitempty,oneof=common rare epic legendary"`
	IsHidden      bool           `json:"is_hidden"`
	IsPartyOnly   bool           `json:"is_party_only"`
	IsRepeatable  bool           `json:"is_repeatable"`
	Inactive      bool           `json:"inactive"`
	SortOrder     int            `json:"sort_order"`
}

// CreateDefinition stores a new achievement; the slug is derived from the name when not given
func (s *AchievementService) CreateDefinition(ctx context.Context, in DefinitionInput) (*models.AchievementDefinition, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("name: %w", ErrInvalidArgument)
	}
	if !TriggerType(in.TriggerType).Known() {
		return nil, fmt.Errorf("trigger type %q: %w", in.TriggerType, ErrInvalidArgument)
	}

	raw, err := sonic.Marshal(in.TriggerConfig)
	if err != nil {
		return nil, fmt.Errorf("trigger config: %w", err)
	}
	if _, err := DecodeTrigger(in.TriggerType, raw); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInvalidArgument)
	}

	s0 := in.Slug
	if s0 == "" {
		s0 = slug.Make(in.Name)
	}
	def := models.AchievementDefinition{
		Slug:          s0,
		Name:          in.Name,
		Description:   in.Description,
		Icon:          in.Icon,
		TriggerType:   in.TriggerType,
		TriggerConfig: datatypes.JSON(raw),
		XPReward:      in.XPReward,
		IsHidden:      in.IsHidden,
		IsPartyOnly:   in.IsPartyOnly,
		IsRepeatable:  in.IsRepeatable,
		IsActive:      !in.Inactive,
		SortOrder:     in.SortOrder,
	}
	if in.LootBoxTier != "" {
		tier := in.LootBoxTier
		def.LootBoxTier = &tier
	}

	if err := s.DB.WithContext(ctx).Create(&def).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("slug %q: %w", def.Slug, ErrConflict)
		}
		return nil, err
	}
	return &def, nil
}

// SetDefinitionActive toggles a definition without deleting its unlock history
func (s *AchievementService) SetDefinitionActive(ctx context.Context, id string, active bool) error {
	res := s.DB.WithContext(ctx).Model(&models.AchievementDefinition{}).
		Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AchievementView is a definition as seen by one user
type AchievementView struct {
	models.AchievementDefinition
	Unlocked       bool       `json:"unlocked"`
	UnlockCount    int        `json:"unlock_count"`
	LastUnlockedAt *time.Time `json:"last_unlocked_at,omitempty"`
}

// ListForUser lists active achievements with the user's progress; hidden ones appear only once unlocked
func (s *AchievementService) ListForUser(ctx context.Context, userID string) ([]AchievementView, error) {
	db := s.DB.WithContext(ctx)

	var defs []models.AchievementDefinition
	if err := db.Where("is_active = ?", true).Order("sort_order ASC").Order("slug ASC").Find(&defs).Error; err != nil {
		return nil, err
	}

	var unlocks []models.AchievementUnlock
	if err := db.Where("user_id = ?", userID).Order("unlocked_at ASC").Find(&unlocks).Error; err != nil {
		return nil, err
	}
	byDef := make(map[string]models.AchievementUnlock, len(unlocks))
	for _, u := range unlocks {
		if prev, ok := byDef[u.AchievementID]; !ok || u.UnlockCount > prev.UnlockCount {
			byDef[u.AchievementID] = u
		}
	}

	views := make([]AchievementView, 0, len(defs))
	for _, d := range defs {
		v := AchievementView{AchievementDefinition: d}
		if u, ok := byDef[d.ID]; ok {
			at := u.UnlockedAt
			v.Unlocked = true
			v.UnlockCount = u.UnlockCount
			v.LastUnlockedAt = &at
		}
		if d.IsHidden && !v.Unlocked {
			continue
		}
		views = append(views, v)
	}
	return views, nil
}

// SetShowcase pins up to MaxShowcase unlocked achievements on the user's profile
func (s *AchievementService) SetShowcase(ctx context.Context, userID string, achievementIDs []string) (*models.Profile, error) {
	ids := dedupe(achievementIDs)
	if len(ids) > MaxShowcase {
		return nil, fmt.Errorf("at most %d showcase achievements: %w", MaxShowcase, ErrInvalidArgument)
	}

	if len(ids) > 0 {
		var owned int64
		if err := s.DB.WithContext(ctx).Model(&models.AchievementUnlock{}).
			Where("user_id = ? AND achievement_id IN ?", userID, ids).
			Distinct("achievement_id").
			Count(&owned).Error; err != nil {
			return nil, err
		}
		if int(owned) != len(ids) {
			return nil, fmt.Errorf("showcase contains locked achievements: %w", ErrInvalidArgument)
		}
	}

	prof, err := s.Progression.EnsureProfile(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	prof.ShowcaseAchievementIDs = datatypes.JSONSlice[string](ids)
	if err := s.DB.WithContext(ctx).Model(&models.Profile{}).
		Where("id = ?", prof.ID).
		Update("showcase_achievement_ids", prof.ShowcaseAchievementIDs).Error; err != nil {
		return nil, err
	}
	return prof, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
