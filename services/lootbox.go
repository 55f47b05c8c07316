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

var validTiers = map[string]bool{
	models.TierCommon:    true,
	models.TierRare:      true,
	models.TierEpic:      true,
	models.TierLegendary: true,
}

func ValidTier(t string) bool { return validTiers[t] }

type LootBoxService struct {
	DB    *gorm.DB
	Log   *zap.Logger
	Clock clockwork.Clock
	Pick  func(n int) int
}

func NewLootBoxService(db *gorm.DB, log *zap.Logger, clock clockwork.Clock, pick func(n int) int) *LootBoxService {
	return &LootBoxService{DB: db, Log: log, Clock: clock, Pick: pick}
}

// Mint creates an unopened box for the user
func (s *LootBoxService) Mint(ctx context.Context, userID, tier string, sourceAchievementID *string, description string) (*models.LootBox, error) {
	if !ValidTier(tier) {
		return nil, fmt.Errorf("tier %q: %w", tier, ErrInvalidArgument)
	}
	box := models.LootBox{
		UserID:              userID,
		Tier:                tier,
		SourceAchievementID: sourceAchievementID,
		SourceDescription:   description,
		CreatedAt:           s.Clock.Now().UTC(),
	}
	if err := s.DB.WithContext(ctx).Create(&box).Error; err != nil {
		return nil, fmt.Errorf("mint loot box: %w", err)
	}
	s.Log.Info("loot box minted", zap.String("user_id", userID), zap.String("tier", tier), zap.String("box_id", box.ID))
	return &box, nil
}

// OpenLootBox resolves a reward for an unopened box the user owns. It returns nil, nil when the box
// is missing, not owned, already opened, or when no active reward exists for its tier (the box then
// stays unopened).
func (s *LootBoxService) OpenLootBox(ctx context.Context, userID, boxID string) (*models.LootBoxReward, error) {
	var reward *models.LootBoxReward

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var box models.LootBox
		res := tx.Where("id = ? AND user_id = ? AND opened = ?", boxID, userID, false).Limit(1).Find(&box)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		pool, err := s.pool(tx, userID, box.Tier)
		if err != nil {
			return err
		}
		if len(pool) == 0 {
			s.Log.Warn("no rewards configured for tier",
				zap.String("user_id", userID), zap.String("tier", box.Tier), zap.String("box_id", box.ID))
			return nil
		}
		chosen := pool[s.Pick(len(pool))]
		now := s.Clock.Now().UTC()

		// only one caller can flip opened=false -> true
		upd := tx.Model(&models.LootBox{}).
			Where("id = ? AND user_id = ? AND opened = ?", box.ID, userID, false).
			Updates(map[string]interface{}{
				"opened":    true,
				"opened_at": now,
				"reward_id": chosen.ID,
			})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 0 {
			return nil
		}

		if err := tx.Model(&models.LootBoxReward{}).
			Where("id = ?", chosen.ID).
			UpdateColumn("times_won", gorm.Expr("times_won + ?", 1)).Error; err != nil {
			return err
		}
		chosen.TimesWon++
		reward = &chosen
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("open loot box: %w", err)
	}
	if reward != nil {
		s.Log.Info("loot box opened",
			zap.String("user_id", userID), zap.String("box_id", boxID), zap.String("reward", reward.Name))
	}
	return reward, nil
}

// pool returns the user's own active rewards for a tier, falling back to their household's
func (s *LootBoxService) pool(tx *gorm.DB, userID, tier string) ([]models.LootBoxReward, error) {
	var own []models.LootBoxReward
	if err := tx.Where("user_id = ? AND tier = ? AND is_active = ?", userID, tier, true).
		Order("created_at ASC").Order("id ASC").
		Find(&own).Error; err != nil {
		return nil, err
	}
	if len(own) > 0 {
		return own, nil
	}

	var prof models.Profile
	res := tx.Select("household_id").Where("user_id = ?", userID).Limit(1).Find(&prof)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 || prof.HouseholdID == nil {
		return nil, nil
	}

	var shared []models.LootBoxReward
	err := tx.Where("household_id = ? AND user_id IS NULL AND tier = ? AND is_active = ?", *prof.HouseholdID, tier, true).
		Order("created_at ASC").Order("id ASC").
		Find(&shared).Error
	return shared, err
}

// Redeem marks an opened box's reward as claimed in real life
func (s *LootBoxService) Redeem(ctx context.Context, userID, boxID string) (*models.LootBox, error) {
	db := s.DB.WithContext(ctx)

	var box models.LootBox
	if err := db.Where("id = ? AND user_id = ?", boxID, userID).First(&box).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !box.Opened {
		return nil, fmt.Errorf("box not opened: %w", ErrInvalidTransition)
	}

	now := s.Clock.Now().UTC()
	res := db.Model(&models.LootBox{}).
		Where("id = ? AND redeemed = ?", box.ID, false).
		Updates(map[string]interface{}{"redeemed": true, "redeemed_at": now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("already redeemed: %w", ErrConflict)
	}
	box.Redeemed = true
	box.RedeemedAt = &now
	return &box, nil
}

// BoxFilter narrows ListBoxes; nil means any
type BoxFilter struct {
	Opened   *bool
	Redeemed *bool
}

func (s *LootBoxService) ListBoxes(ctx context.Context, userID string, f BoxFilter) ([]models.LootBox, error) {
	q := s.DB.WithContext(ctx).Preload("Reward").Where("user_id = ?", userID)
	if f.Opened != nil {
		q = q.Where("opened = ?", *f.Opened)
	}
	if f.Redeemed != nil {
		q = q.Where("redeemed = ?", *f.Redeemed)
	}
	var boxes []models.LootBox
	err := q.Order("created_at DESC").Find(&boxes).Error
	return boxes, err
}
