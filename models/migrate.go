package models

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AutoMigrate creates or updates every table the service owns.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Floor{},
		&Profile{},
		&XPLedgerEntry{},
		&AchievementDefinition{},
		&AchievementUnlock{},
		&LootBoxReward{},
		&LootBox{},
		&EntityWatcher{},
		&NotificationSubscription{},
		&NotificationPreference{},
		&Notification{},
		&Task{},
		&Habit{},
		&HabitCheckin{},
		&Goal{},
		&ShoppingList{},
		&Onboarding{},
		&OnboardingAnswer{},
		&AIObservation{},
	)
}

// DefaultFloors is the seed set for the floors table
var DefaultFloors = []Floor{
	{Number: 1, Name: "The Saloon", Theme: "dust"},
	{Number: 2, Name: "The Stables", Theme: "hay"},
	{Number: 3, Name: "The General Store", Theme: "timber"},
	{Number: 4, Name: "The Sheriff's Office", Theme: "iron"},
	{Number: 5, Name: "The Gold Mine", Theme: "gold"},
	{Number: 6, Name: "The Railroad", Theme: "steam"},
	{Number: 7, Name: "The Canyon", Theme: "sandstone"},
	{Number: 8, Name: "The Frontier", Theme: "sage"},
	{Number: 9, Name: "The High Mesa", Theme: "dusk"},
	{Number: 10, Name: "Desperado Peak", Theme: "legend"},
}

// MaxFloor is the floor of the highest reachable level (250 / 10)
const MaxFloor = 25

// SeedFloors inserts DefaultFloors plus numbered legend floors up to MaxFloor, skipping numbers
// that already exist (idempotent)
func SeedFloors(db *gorm.DB) error {
	floors := make([]Floor, len(DefaultFloors), MaxFloor)
	copy(floors, DefaultFloors)
	for n := len(DefaultFloors) + 1; n <= MaxFloor; n++ {
		floors = append(floors, Floor{
			Number: n,
			Name:   fmt.Sprintf("Legend Tier %d", n-len(DefaultFloors)),
			Theme:  "legend",
		})
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "number"}},
		DoNothing: true,
	}).Create(&floors).Error
}
