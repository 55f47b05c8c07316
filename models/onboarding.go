package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Onboarding states
const (
	OnboardingNotStarted  = "not_started"
	OnboardingInterview   = "interview"
	OnboardingObservation = "observation"
	OnboardingRefinement  = "refinement"
	OnboardingActive      = "active"
)

// Onboarding tracks
const (
	TrackFull  = "full"
	TrackQuick = "quick"
)

type Onboarding struct {
	ID                   string                      `gorm:"primaryKey;type:uuid" json:"id"`
	UserID               string                      `gorm:"type:uuid;uniqueIndex;not null" json:"user_id"`
	Track                string                      `gorm:"size:8;not null" json:"track"`
	State                string                      `gorm:"size:16;not null;index" json:"state"`
	QuestionIndex        int                         `gorm:"not null;default:0" json:"question_index"`
	DeferredKeys         datatypes.JSONSlice[string] `json:"deferred_keys,omitempty"`
	ObservationStartedAt *time.Time                  `json:"observation_started_at,omitempty"`
	RefinementStartedAt  *time.Time                  `json:"refinement_started_at,omitempty"`
	CompletedAt          *time.Time                  `json:"completed_at,omitempty"`
	Timestamps
}

func (o *Onboarding) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

// OnboardingAnswer is persisted once per (onboarding, question key)
type OnboardingAnswer struct {
	ID           string    `gorm:"primaryKey;type:uuid" json:"id"`
	OnboardingID string    `gorm:"type:uuid;not null;uniqueIndex:idx_answer_question,priority:1" json:"onboarding_id"`
	QuestionKey  string    `gorm:"size:64;not null;uniqueIndex:idx_answer_question,priority:2" json:"question_key"`
	Answer       string    `gorm:"type:text;not null" json:"answer"`
	CreatedAt    time.Time `json:"created_at"`
}

func (a *OnboardingAnswer) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// AIObservation is a typed fact about a user consumed by the assistant
type AIObservation struct {
	ID           string            `gorm:"primaryKey;type:uuid" json:"id"`
	UserID       string            `gorm:"type:uuid;index;not null" json:"user_id"`
	OnboardingID *string           `gorm:"type:uuid;index" json:"onboarding_id,omitempty"`
	Tag          string            `gorm:"size:80;not null" json:"tag"`
	Confidence   float64           `gorm:"not null" json:"confidence"`
	SourceLayer  string            `gorm:"size:40;not null" json:"source_layer"`
	Payload      datatypes.JSONMap `json:"payload,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

func (AIObservation) TableName() string { return "ai_observations" }

func (o *AIObservation) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}
