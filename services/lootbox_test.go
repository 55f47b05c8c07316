package services

import (
	"bytes"
	"context"
	"io"
	"testing"

	"desperado-club/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func (f *fixture) reward(t *testing.T, in RewardInput) *models.LootBoxReward {
	t.Helper()
	r, err := f.svc.Rewards.CreateReward(f.ctx, in)
	require.NoError(t, err)
	return r
}

func (f *fixture) mint(t *testing.T, userID, tier string) *models.LootBox {
	t.Helper()
	box, err := f.svc.LootBoxes.Mint(f.ctx, userID, tier, nil, "test")
	require.NoError(t, err)
	return box
}

func TestOpenLootBox_OwnPool(t *testing.T) {
	f := newFixture(t)
	user := newUserID()
	f.reward(t, RewardInput{UserID: user, Tier: models.TierCommon, Name: "Coffee"})
	second := f.reward(t, RewardInput{UserID: user, Tier: models.TierCommon, Name: "Nap"})
	f.pick = func(n int) int { return n - 1 }

	box := f.mint(t, user, models.TierCommon)
	got, err := f.svc.LootBoxes.OpenLootBox(f.ctx, user, box.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, int64(1), got.TimesWon)

	var stored models.LootBox
	require.NoError(t, f.db.First(&stored, "id = ?", box.ID).Error)
	assert.True(t, stored.Opened)
	require.NotNil(t, stored.RewardID)
	assert.Equal(t, second.ID, *stored.RewardID)
	require.NotNil(t, stored.OpenedAt)
}

func TestOpenLootBox_OnlyOnce(t *testing.T) {
	f := newFixture(t)
	user := newUserID()
	r := f.reward(t, RewardInput{UserID: user, Tier: models.TierRare, Name: "Movie night"})
	box := f.mint(t, user, models.TierRare)

	first, err := f.svc.LootBoxes.OpenLootBox(f.ctx, user, box.ID)
	require.NoError(t, err)
	require.NotNil(t, first)

	again, err := f.svc.LootBoxes.OpenLootBox(f.ctx, user, box.ID)
	require.NoError(t, err)
	assert.Nil(t, again)

	var stored models.LootBoxReward
	require.NoError(t, f.db.First(&stored, "id = ?", r.ID).Error)
	assert.Equal(t, int64(1), stored.TimesWon)
}

func TestOpenLootBox_ConcurrentOpensAwardOnce(t *testing.T) {
	f := newFixture(t)
	user := newUserID()
	r := f.reward(t, RewardInput{UserID: user, Tier: models.TierEpic, Name: "Spa day"})
	box := f.mint(t, user, models.TierEpic)

	var g errgroup.Group
	got := make([]*models.LootBoxReward, 8)
	for i := range got {
		g.Go(func() error {
			reward, err := f.svc.LootBoxes.OpenLootBox(f.ctx, user, box.ID)
			got[i] = reward
			return err
		})
	}
	require.NoError(t, g.Wait())

	won := 0
	for _, reward := range got {
		if reward != nil {
			won++
		}
	}
	assert.Equal(t, 1, won)

	var stored models.LootBoxReward
	require.NoError(t, f.db.First(&stored, "id = ?", r.ID).Error)
	assert.Equal(t, int64(1), stored.TimesWon)
}

func TestOpenLootBox_LosesRaceToConcurrentOpen(t *testing.T) {
	f := newFixture(t)
	user := newUserID()
	r := f.reward(t, RewardInput{UserID: user, Tier: models.TierCommon, Name: "Coffee"})
	box := f.mint(t, user, models.TierCommon)

	// the box flips to opened between our read and our conditional update
	f.beforeUpdate(t, "loot_boxes", func(tx *gorm.DB) {
		require.NoError(t, tx.Exec("UPDATE loot_boxes SET opened = ? WHERE id = ?", true, box.ID).Error)
	})

	got, err := f.svc.LootBoxes.OpenLootBox(f.ctx, user, box.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	var stored models.LootBoxReward
	require.NoError(t, f.db.First(&stored, "id = ?", r.ID).Error)
	assert.Zero(t, stored.TimesWon)
}

func TestOpenLootBox_NotOwner(t *testing.T) {
	f := newFixture(t)
	owner, other := newUserID(), newUserID()
	f.reward(t, RewardInput{UserID: other, Tier: models.TierCommon, Name: "Snack"})
	box := f.mint(t, owner, models.TierCommon)

	got, err := f.svc.LootBoxes.OpenLootBox(f.ctx, other, box.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOpenLootBox_HouseholdFallback(t *testing.T) {
	f := newFixture(t)
	user := newUserID()
	household := newUserID()
	_, err := f.svc.Progression.EnsureProfile(f.ctx, user, household)
	require.NoError(t, err)

	shared := f.reward(t, RewardInput{HouseholdID: household, Tier: models.TierEpic, Name: "Pizza Friday"})
	// own rewards of another tier do not block the fallback
	f.reward(t, RewardInput{UserID: user, Tier: models.TierCommon, Name: "Snack"})

	box := f.mint(t, user, models.TierEpic)
	got, err := f.svc.LootBoxes.OpenLootBox(f.ctx, user, box.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, shared.ID, got.ID)
}

func TestOpenLootBox_OwnPoolWinsOverHousehold(t *testing.T) {
	f := newFixture(t)
	user := newUserID()
	household := newUserID()
	_, err := f.svc.Progression.EnsureProfile(f.ctx, user, household)
	require.NoError(t, err)

	f.reward(t, RewardInput{HouseholdID: household, Tier: models.TierCommon, Name: "Shared"})
	own := f.reward(t, RewardInput{UserID: user, Tier: models.TierCommon, Name: "Mine"})

	box := f.mint(t, user, models.TierCommon)
	got, err := f.svc.LootBoxes.OpenLootBox(f.ctx, user, box.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, own.ID, got.ID)
}

func TestOpenLootBox_EmptyPoolKeepsBoxClosed(t *testing.T) {
	f := newFixture(t)
	user := newUserID()
	box := f.mint(t, user, models.TierLegendary)

	got, err := f.svc.LootBoxes.OpenLootBox(f.ctx, user, box.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	var stored models.LootBox
	require.NoError(t, f.db.First(&stored, "id = ?", box.ID).Error)
	assert.False(t, stored.Opened)

	// a reward added later makes the same box openable
	f.reward(t, RewardInput{UserID: user, Tier: models.TierLegendary, Name: "Weekend off"})
	got, err = f.svc.LootBoxes.OpenLootBox(f.ctx, user, box.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestOpenLootBox_SkipsInactiveAndDeleted(t *testing.T) {
	f := newFixture(t)
	user := newUserID()
	inactive := f.reward(t, RewardInput{UserID: user, Tier: models.TierCommon, Name: "Old"})
	deleted := f.reward(t, RewardInput{UserID: user, Tier: models.TierCommon, Name: "Gone"})
	off := false
	_, err := f.svc.Rewards.UpdateReward(f.ctx, inactive.ID, RewardPatch{IsActive: &off})
	require.NoError(t, err)
	require.NoError(t, f.svc.Rewards.DeleteReward(f.ctx, deleted.ID))

	box := f.mint(t, user, models.TierCommon)
	got, err := f.svc.LootBoxes.OpenLootBox(f.ctx, user, box.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMint_RejectsUnknownTier(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.LootBoxes.Mint(f.ctx, newUserID(), "mythic", nil, "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRedeem(t *testing.T) {
	f := newFixture(t)
	user := newUserID()
	f.reward(t, RewardInput{UserID: user, Tier: models.TierCommon, Name: "Ice cream"})
	box := f.mint(t, user, models.TierCommon)

	_, err := f.svc.LootBoxes.Redeem(f.ctx, user, box.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.LootBoxes.OpenLootBox(f.ctx, user, box.ID)
	require.NoError(t, err)

	redeemed, err := f.svc.LootBoxes.Redeem(f.ctx, user, box.ID)
	require.NoError(t, err)
	assert.True(t, redeemed.Redeemed)

	_, err = f.svc.LootBoxes.Redeem(f.ctx, user, box.ID)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.svc.LootBoxes.Redeem(f.ctx, newUserID(), box.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListBoxes_Filters(t *testing.T) {
	f := newFixture(t)
	user := newUserID()
	f.reward(t, RewardInput{UserID: user, Tier: models.TierCommon, Name: "Tea"})
	opened := f.mint(t, user, models.TierCommon)
	f.mint(t, user, models.TierRare)
	_, err := f.svc.LootBoxes.OpenLootBox(f.ctx, user, opened.ID)
	require.NoError(t, err)

	yes := true
	list, err := f.svc.LootBoxes.ListBoxes(f.ctx, user, BoxFilter{Opened: &yes})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Reward)
	assert.Equal(t, "Tea", list[0].Reward.Name)

	all, err := f.svc.LootBoxes.ListBoxes(f.ctx, user, BoxFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCreateReward_ExactlyOnePool(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Rewards.CreateReward(f.ctx, RewardInput{Tier: models.TierCommon, Name: "x"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.svc.Rewards.CreateReward(f.ctx, RewardInput{UserID: newUserID(), HouseholdID: newUserID(), Tier: models.TierCommon, Name: "x"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

type fakeUploader struct {
	key  string
	body []byte
}

func (u *fakeUploader) Upload(_ context.Context, key, _ string, body io.Reader) (string, error) {
	u.key = key
	u.body, _ = io.ReadAll(body)
	return "https://cdn.example.com/" + key, nil
}

func TestUploadIcon(t *testing.T) {
	up := &fakeUploader{}
	f := newFixture(t, func(d *Deps) { d.Icons = up })
	r := f.reward(t, RewardInput{UserID: newUserID(), Tier: models.TierCommon, Name: "Badge"})

	got, err := f.svc.Rewards.UploadIcon(f.ctx, r.ID, "star.PNG", "image/png", bytes.NewReader([]byte("png")))
	require.NoError(t, err)
	assert.Equal(t, "rewards/"+r.ID+"/icon.png", up.key)
	assert.Equal(t, "https://cdn.example.com/rewards/"+r.ID+"/icon.png", got.IconURL)

	_, err = f.svc.Rewards.UploadIcon(f.ctx, r.ID, "script.exe", "application/octet-stream", bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUploadIcon_Disabled(t *testing.T) {
	f := newFixture(t)
	r := f.reward(t, RewardInput{UserID: newUserID(), Tier: models.TierCommon, Name: "Badge"})
	_, err := f.svc.Rewards.UploadIcon(f.ctx, r.ID, "star.png", "image/png", bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrUploadsDisabled)
}
