package services

import "math"

// LevelThresholds[i] is the cumulative XP needed to reach level i+1.
var LevelThresholds = []int64{
	0, 100, 250, 450, 700, 1000, 1400, 1900, 2500, 3100, // 1-10
	3800, 4600, 5500, 6500, 7600, 8800, 10100, 11500, 13000, 14600, // 11-20
}

const (
	// Past the table every level costs 12% more than the previous one.
	levelGrowthRate = 1.12
	LevelsPerFloor  = 10
	// Keeps extrapolated thresholds inside int64.
	MaxLevel = 250
)

// LevelInfo is the derived view of a cumulative XP total
type LevelInfo struct {
	Level     int     `json:"level"`
	XPToNext  int64   `json:"xp_to_next"`
	XPInLevel int64   `json:"xp_in_level"`
	Progress  float64 `json:"progress"` // percent, [0,100)
}

// ThresholdForLevel returns the cumulative XP at which `level` starts.
func ThresholdForLevel(level int) int64 {
	if level <= 1 {
		return 0
	}
	n := len(LevelThresholds)
	if level <= n {
		return LevelThresholds[level-1]
	}
	last := float64(LevelThresholds[n-1])
	return int64(math.Floor(last * math.Pow(levelGrowthRate, float64(level-n))))
}

// CalculateLevel walks up from level 1 while the next threshold is reached.
// Negative totals resolve to level 1.
func CalculateLevel(totalXP int64) LevelInfo {
	xp := totalXP
	if xp < 0 {
		xp = 0
	}

	level := 1
	for level < MaxLevel && ThresholdForLevel(level+1) <= xp {
		level++
	}

	current := ThresholdForLevel(level)
	next := ThresholdForLevel(level + 1)
	inLevel := xp - current
	span := next - current

	progress := float64(inLevel) / float64(span) * 100
	if progress >= 100 {
		// only reachable at MaxLevel
		progress = math.Nextafter(100, 0)
	}

	return LevelInfo{
		Level:     level,
		XPToNext:  max(next-xp, 0),
		XPInLevel: inLevel,
		Progress:  progress,
	}
}

// GetFloorForLevel bands levels ten at a time: 1-10 -> 1, 11-20 -> 2, ...
func GetFloorForLevel(level int) int {
	if level < 1 {
		level = 1
	}
	return (level-1)/LevelsPerFloor + 1
}
