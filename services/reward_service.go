// services/reward_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"desperado-club/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IconUploader stores an object and returns its public URL
type IconUploader interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error)
}

// ErrUploadsDisabled is returned when no object storage is configured
var ErrUploadsDisabled = errors.New("icon uploads are not configured")

// RewardService manages loot box reward pools
type RewardService struct {
	DB    *gorm.DB
	Log   *zap.Logger
	Icons IconUploader
}

func NewRewardService(db *gorm.DB, log *zap.Logger, icons IconUploader) *RewardService {
	return &RewardService{DB: db, Log: log, Icons: icons}
}

type RewardInput struct {
	UserID      string `json:"user_id" validate:"omitempty,uuid"`
	HouseholdID string `json:"household_id" validate:"omitempty,uuid"`
	Tier        string `json:"tier" validate:"required,oneof=common rare epic legendary"`
	Name        string `json:"name" validate:"required,max=120"`
	Description string `json:"description"`
	Emoji       string `json:"emoji" validate:"max=10"`
}

// CreateReward adds an active reward to exactly one pool (user or household)
func (s *RewardService) CreateReward(ctx context.Context, in RewardInput) (*models.LootBoxReward, error) {
	if (in.UserID == "") == (in.HouseholdID == "") {
		return nil, fmt.Errorf("exactly one of user_id or household_id: %w", ErrInvalidArgument)
	}
	if !ValidTier(in.Tier) {
		return nil, fmt.Errorf("tier %q: %w", in.Tier, ErrInvalidArgument)
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("name: %w", ErrInvalidArgument)
	}

	reward := &models.LootBoxReward{
		Tier:        in.Tier,
		Name:        in.Name,
		Description: in.Description,
		Emoji:       in.Emoji,
		IsActive:    true,
	}
	if in.UserID != "" {
		reward.UserID = &in.UserID
	} else {
		reward.HouseholdID = &in.HouseholdID
	}

	if err := s.DB.WithContext(ctx).Create(reward).Error; err != nil {
		s.Log.Error("create reward failed", zap.Error(err))
		return nil, err
	}
	return reward, nil
}

// RewardPatch updates only the non-nil fields
type RewardPatch struct {
	Tier        *string `json:"tier" validate:"omitempty,oneof=common rare epic legendary"`
	Name        *string `json:"name" validate:"omitempty,max=120"`
	Description *string `json:"description"`
	Emoji       *string `json:"emoji" validate:"omitempty,max=10"`
	IsActive    *bool   `json:"is_active"`
}

func (s *RewardService) UpdateReward(ctx context.Context, id string, p RewardPatch) (*models.LootBoxReward, error) {
	existing, err := s.GetReward(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Tier != nil {
		if !ValidTier(*p.Tier) {
			return nil, fmt.Errorf("tier %q: %w", *p.Tier, ErrInvalidArgument)
		}
		existing.Tier = *p.Tier
	}
	if p.Name != nil {
		existing.Name = *p.Name
	}
	if p.Description != nil {
		existing.Description = *p.Description
	}
	if p.Emoji != nil {
		existing.Emoji = *p.Emoji
	}
	if p.IsActive != nil {
		existing.IsActive = *p.IsActive
	}

	if err := s.DB.WithContext(ctx).Save(existing).Error; err != nil {
		s.Log.Error("update reward failed", zap.String("reward_id", id), zap.Error(err))
		return nil, err
	}
	return existing, nil
}

// DeleteReward soft-deletes; opened boxes keep pointing at the row
func (s *RewardService) DeleteReward(ctx context.Context, id string) error {
	res := s.DB.WithContext(ctx).Delete(&models.LootBoxReward{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RewardService) GetReward(ctx context.Context, id string) (*models.LootBoxReward, error) {
	var reward models.LootBoxReward
	if err := s.DB.WithContext(ctx).First(&reward, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &reward, nil
}

// RewardScope selects a pool; empty fields are not filtered
type RewardScope struct {
	UserID      string
	HouseholdID string
	Tier        string
	ActiveOnly  bool
}

func (s *RewardService) ListRewards(ctx context.Context, scope RewardScope) ([]models.LootBoxReward, error) {
	q := s.DB.WithContext(ctx).Model(&models.LootBoxReward{})
	if scope.UserID != "" {
		q = q.Where("user_id = ?", scope.UserID)
	}
	if scope.HouseholdID != "" {
		q = q.Where("household_id = ?", scope.HouseholdID)
	}
	if scope.Tier != "" {
		q = q.Where("tier = ?", scope.Tier)
	}
	if scope.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	var rewards []models.LootBoxReward
	err := q.Order("tier ASC").Order("name ASC").Find(&rewards).Error
	return rewards, err
}

// UploadIcon stores the icon under rewards/<id>/ and records its URL
func (s *RewardService) UploadIcon(ctx context.Context, id, filename, contentType string, body io.Reader) (*models.LootBoxReward, error) {
	if s.Icons == nil {
		return nil, ErrUploadsDisabled
	}
	reward, err := s.GetReward(ctx, id)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(path.Ext(filename))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".webp", ".gif", ".svg":
	default:
		return nil, fmt.Errorf("icon extension %q: %w", ext, ErrInvalidArgument)
	}

	key := fmt.Sprintf("rewards/%s/icon%s", reward.ID, ext)
	url, err := s.Icons.Upload(ctx, key, contentType, body)
	if err != nil {
		return nil, fmt.Errorf("upload icon: %w", err)
	}

	if err := s.DB.WithContext(ctx).Model(reward).Update("icon_url", url).Error; err != nil {
		return nil, err
	}
	reward.IconURL = url
	s.Log.Info("reward icon uploaded", zap.String("reward_id", id), zap.String("url", url))
	return reward, nil
}
