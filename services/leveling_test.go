package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateLevel_Zero(t *testing.T) {
	info := CalculateLevel(0)
	assert.Equal(t, 1, info.Level)
	assert.Equal(t, int64(100), info.XPToNext)
	assert.Equal(t, int64(0), info.XPInLevel)
	assert.Equal(t, 0.0, info.Progress)
}

func TestCalculateLevel_TabulatedThresholds(t *testing.T) {
	for i, threshold := range LevelThresholds {
		assert.Equal(t, i+1, CalculateLevel(threshold).Level, "threshold %d", threshold)
		if threshold > 0 {
			assert.Equal(t, i, CalculateLevel(threshold-1).Level, "just below threshold %d", threshold)
		}
	}
}

func TestCalculateLevel_Monotonic(t *testing.T) {
	prev := CalculateLevel(-500).Level
	for xp := int64(-500); xp <= 60000; xp += 37 {
		lvl := CalculateLevel(xp).Level
		require.GreaterOrEqual(t, lvl, prev, "xp=%d", xp)
		prev = lvl
	}
}

func TestCalculateLevel_NegativeTotalsStayAtLevelOne(t *testing.T) {
	info := CalculateLevel(-70)
	assert.Equal(t, 1, info.Level)
	assert.Equal(t, int64(100), info.XPToNext)
	assert.Equal(t, 0.0, info.Progress)
}

func TestCalculateLevel_Progress(t *testing.T) {
	// level 10 spans 3100..3800
	info := CalculateLevel(3450)
	assert.Equal(t, 10, info.Level)
	assert.Equal(t, int64(350), info.XPInLevel)
	assert.Equal(t, int64(350), info.XPToNext)
	assert.InDelta(t, 50.0, info.Progress, 0.0001)

	for xp := int64(0); xp < 40000; xp += 91 {
		p := CalculateLevel(xp).Progress
		require.GreaterOrEqual(t, p, 0.0)
		require.Less(t, p, 100.0)
	}
}

func TestThresholdForLevel_Extrapolates(t *testing.T) {
	last := LevelThresholds[len(LevelThresholds)-1]
	n := len(LevelThresholds)

	assert.Equal(t, int64(16352), ThresholdForLevel(n+1)) // floor(14600 * 1.12)
	assert.Equal(t, int64(float64(last)*1.12*1.12), ThresholdForLevel(n+2))

	for lvl := 1; lvl < MaxLevel; lvl++ {
		require.Less(t, ThresholdForLevel(lvl), ThresholdForLevel(lvl+1), "level %d", lvl)
	}
	assert.Equal(t, n+1, CalculateLevel(16352).Level)
}

func TestCalculateLevel_TerminatesOnHugeTotals(t *testing.T) {
	info := CalculateLevel(1 << 62)
	assert.Equal(t, MaxLevel, info.Level)
	assert.Less(t, info.Progress, 100.0)
}

func TestGetFloorForLevel(t *testing.T) {
	cases := map[int]int{1: 1, 5: 1, 10: 1, 11: 2, 20: 2, 21: 3, 100: 10, 101: 11}
	for level, floor := range cases {
		assert.Equal(t, floor, GetFloorForLevel(level), "level %d", level)
	}
	for l := 1; l <= 300; l++ {
		require.Equal(t, (l-1)/10+1, GetFloorForLevel(l))
	}
}
