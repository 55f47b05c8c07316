package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"desperado-club/models"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ObservationWindow is how long a user stays in observation before refinement
const ObservationWindow = 7 * 24 * time.Hour

const (
	SourceInterview = "onboarding_interview"
	SourceDeferred  = "onboarding_deferred"
	genericTag      = "onboarding.answer"
)

type Question struct {
	Key    string `json:"key"`
	Prompt string `json:"prompt"`
}

var InterviewQuestions = []Question{
	{Key: "household_size", Prompt: "How many people live in your household?"},
	{Key: "chore_style", Prompt: "Do you like a fixed chore schedule, or grabbing tasks as they come up?"},
	{Key: "motivation", Prompt: "What keeps you going: streaks, rewards, or a bit of competition?"},
	{Key: "wake_time", Prompt: "What time does your day usually start? (HH:MM)"},
	{Key: "budget_focus", Prompt: "Do you keep a monthly household budget?"},
	{Key: "dietary", Prompt: "Anything we should know for meal planning?"},
}

// ObservationDraft is an extractor result before it is stored
type ObservationDraft struct {
	Tag        string
	Confidence float64
	Payload    map[string]any
}

type extractor func(answer string) []ObservationDraft

var extractors = map[string]extractor{
	"household_size": func(a string) []ObservationDraft {
		n, err := strconv.Atoi(strings.TrimSpace(a))
		if err != nil || n <= 0 {
			return []ObservationDraft{{Tag: "household.size_text", Confidence: 0.4, Payload: map[string]any{"text": a}}}
		}
		return []ObservationDraft{{Tag: "household.size", Confidence: 0.9, Payload: map[string]any{"size": n}}}
	},
	"chore_style": func(a string) []ObservationDraft {
		l := strings.ToLower(a)
		if strings.Contains(l, "fixed") || strings.Contains(l, "schedule") {
			return []ObservationDraft{{Tag: "preference.chores.scheduled", Confidence: 0.8}}
		}
		return []ObservationDraft{{Tag: "preference.chores.flexible", Confidence: 0.7}}
	},
	"motivation": func(a string) []ObservationDraft {
		l := strings.ToLower(a)
		var out []ObservationDraft
		for _, m := range []struct{ word, tag string }{
			{"streak", "motivation.streaks"},
			{"reward", "motivation.rewards"},
			{"compet", "motivation.competition"},
		} {
			if strings.Contains(l, m.word) {
				out = append(out, ObservationDraft{Tag: m.tag, Confidence: 0.75})
			}
		}
		return out
	},
	"wake_time": func(a string) []ObservationDraft {
		mins, err := ParseClock(a)
		if err != nil {
			return nil
		}
		return []ObservationDraft{{Tag: "routine.wake_time", Confidence: 0.8, Payload: map[string]any{"minutes": mins, "time": strings.TrimSpace(a)}}}
	},
	"budget_focus": func(a string) []ObservationDraft {
		switch strings.ToLower(strings.TrimSpace(a)) {
		case "yes", "y", "true", "yep", "sure":
			return []ObservationDraft{{Tag: "finance.tracks_budget", Confidence: 0.85, Payload: map[string]any{"value": true}}}
		case "no", "n", "false", "nope":
			return []ObservationDraft{{Tag: "finance.tracks_budget", Confidence: 0.85, Payload: map[string]any{"value": false}}}
		}
		return nil
	},
}

// ExtractObservations maps one answer to drafts. Keys without an extractor, and extractors that find
// nothing, yield a generic observation so no answer is dropped.
func ExtractObservations(questionKey, answer string) []ObservationDraft {
	if fn, ok := extractors[questionKey]; ok {
		if out := fn(answer); len(out) > 0 {
			return out
		}
	}
	return []ObservationDraft{{
		Tag:        genericTag,
		Confidence: 0.5,
		Payload:    map[string]any{"question_key": questionKey, "answer": answer},
	}}
}

type OnboardingService struct {
	DB    *gorm.DB
	Log   *zap.Logger
	Clock clockwork.Clock
}

func NewOnboardingService(db *gorm.DB, log *zap.Logger, clock clockwork.Clock) *OnboardingService {
	return &OnboardingService{DB: db, Log: log, Clock: clock}
}

// OnboardingStatus is the state plus the next question, if any
type OnboardingStatus struct {
	models.Onboarding
	NextQuestion *Question `json:"next_question,omitempty"`
}

// Get returns the user's onboarding; users who never started are reported as not_started
func (s *OnboardingService) Get(ctx context.Context, userID string) (*OnboardingStatus, error) {
	ob, err := s.load(s.DB.WithContext(ctx), userID)
	if errors.Is(err, ErrNotFound) {
		return &OnboardingStatus{Onboarding: models.Onboarding{UserID: userID, State: models.OnboardingNotStarted}}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.status(ctx, ob)
}

// Start begins onboarding. The full track enters the interview; the quick track goes straight to
// active and defers every question. Calling Start again returns the existing record.
func (s *OnboardingService) Start(ctx context.Context, userID, track string) (*OnboardingStatus, error) {
	if track == "" {
		track = models.TrackFull
	}
	if track != models.TrackFull && track != models.TrackQuick {
		return nil, fmt.Errorf("track %q: %w", track, ErrInvalidArgument)
	}
	now := s.Clock.Now().UTC()

	ob := models.Onboarding{UserID: userID, Track: track, State: models.OnboardingInterview}
	if track == models.TrackQuick {
		ob.State = models.OnboardingActive
		ob.CompletedAt = &now
		keys := make([]string, len(InterviewQuestions))
		for i, q := range InterviewQuestions {
			keys[i] = q.Key
		}
		ob.DeferredKeys = datatypes.JSONSlice[string](keys)
	}

	db := s.DB.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&ob).Error; err != nil {
		return nil, fmt.Errorf("start onboarding: %w", err)
	}

	stored, err := s.load(db, userID)
	if err != nil {
		return nil, err
	}
	s.Log.Info("onboarding started", zap.String("user_id", userID), zap.String("track", stored.Track))
	return s.status(ctx, stored)
}

// Answer stores an answer once per question key; repeats are ignored
func (s *OnboardingService) Answer(ctx context.Context, userID, questionKey, answer string) (*OnboardingStatus, error) {
	if strings.TrimSpace(questionKey) == "" {
		return nil, fmt.Errorf("question key: %w", ErrInvalidArgument)
	}
	db := s.DB.WithContext(ctx)
	ob, err := s.load(db, userID)
	if err != nil {
		return nil, err
	}

	deferred := ob.Track == models.TrackQuick && slices.Contains(ob.DeferredKeys, questionKey)
	if ob.State != models.OnboardingInterview && !deferred {
		return nil, fmt.Errorf("answer in state %s: %w", ob.State, ErrInvalidTransition)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		row := models.OnboardingAnswer{OnboardingID: ob.ID, QuestionKey: questionKey, Answer: answer}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "onboarding_id"}, {Name: "question_key"}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		if deferred {
			// quick track answers become observations right away
			if err := s.storeObservations(tx, ob, questionKey, answer, SourceDeferred); err != nil {
				return err
			}
			remaining := slices.DeleteFunc(slices.Clone(ob.DeferredKeys), func(k string) bool { return k == questionKey })
			return tx.Model(&models.Onboarding{}).Where("id = ?", ob.ID).
				Update("deferred_keys", datatypes.JSONSlice[string](remaining)).Error
		}

		idx, err := s.nextIndex(tx, ob.ID)
		if err != nil {
			return err
		}
		return tx.Model(&models.Onboarding{}).Where("id = ?", ob.ID).Update("question_index", idx).Error
	})
	if err != nil {
		return nil, fmt.Errorf("store answer: %w", err)
	}

	updated, err := s.load(db, userID)
	if err != nil {
		return nil, err
	}
	return s.status(ctx, updated)
}

// CompleteInterview turns every answer into observations and opens the observation window
func (s *OnboardingService) CompleteInterview(ctx context.Context, userID string) (*OnboardingStatus, error) {
	db := s.DB.WithContext(ctx)
	ob, err := s.load(db, userID)
	if err != nil {
		return nil, err
	}
	if ob.State != models.OnboardingInterview {
		return nil, fmt.Errorf("complete interview in state %s: %w", ob.State, ErrInvalidTransition)
	}

	var answers []models.OnboardingAnswer
	if err := db.Where("onboarding_id = ?", ob.ID).Order("created_at ASC").Find(&answers).Error; err != nil {
		return nil, err
	}
	answered := make(map[string]bool, len(answers))
	for _, a := range answers {
		answered[a.QuestionKey] = true
	}
	for _, q := range InterviewQuestions {
		if !answered[q.Key] {
			return nil, fmt.Errorf("question %s unanswered: %w", q.Key, ErrInvalidTransition)
		}
	}

	now := s.Clock.Now().UTC()
	err = db.Transaction(func(tx *gorm.DB) error {
		for _, a := range answers {
			if err := s.storeObservations(tx, ob, a.QuestionKey, a.Answer, SourceInterview); err != nil {
				return err
			}
		}
		res := tx.Model(&models.Onboarding{}).
			Where("id = ? AND state = ?", ob.ID, models.OnboardingInterview).
			Updates(map[string]interface{}{
				"state":                  models.OnboardingObservation,
				"observation_started_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("complete interview: %w", err)
	}

	s.Log.Info("onboarding interview completed", zap.String("user_id", userID), zap.Int("answers", len(answers)))
	updated, err := s.load(db, userID)
	if err != nil {
		return nil, err
	}
	return s.status(ctx, updated)
}

// AdvanceObservation moves every user whose observation window has elapsed into refinement
func (s *OnboardingService) AdvanceObservation(ctx context.Context) (int64, error) {
	now := s.Clock.Now().UTC()
	res := s.DB.WithContext(ctx).Model(&models.Onboarding{}).
		Where("state = ? AND observation_started_at <= ?", models.OnboardingObservation, now.Add(-ObservationWindow)).
		Updates(map[string]interface{}{
			"state":                 models.OnboardingRefinement,
			"refinement_started_at": now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.Log.Info("observation windows closed", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

// CompleteRefinement finishes onboarding
func (s *OnboardingService) CompleteRefinement(ctx context.Context, userID string) (*OnboardingStatus, error) {
	db := s.DB.WithContext(ctx)
	now := s.Clock.Now().UTC()
	res := db.Model(&models.Onboarding{}).
		Where("user_id = ? AND state = ?", userID, models.OnboardingRefinement).
		Updates(map[string]interface{}{
			"state":        models.OnboardingActive,
			"completed_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	ob, err := s.load(db, userID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("refine in state %s: %w", ob.State, ErrInvalidTransition)
	}
	return s.status(ctx, ob)
}

// NextDeferredQuestion hands out one deferred quick-track question per conversation; nil when done
func (s *OnboardingService) NextDeferredQuestion(ctx context.Context, userID string) (*Question, error) {
	ob, err := s.load(s.DB.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}
	if ob.Track != models.TrackQuick || len(ob.DeferredKeys) == 0 {
		return nil, nil
	}
	return questionFor(ob.DeferredKeys[0]), nil
}

// Observations lists the typed facts recorded for a user
func (s *OnboardingService) Observations(ctx context.Context, userID string) ([]models.AIObservation, error) {
	var out []models.AIObservation
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC").Order("tag ASC").Find(&out).Error
	return out, err
}

func (s *OnboardingService) storeObservations(tx *gorm.DB, ob *models.Onboarding, key, answer, source string) error {
	drafts := ExtractObservations(key, answer)
	rows := make([]models.AIObservation, 0, len(drafts))
	now := s.Clock.Now().UTC()
	for _, d := range drafts {
		rows = append(rows, models.AIObservation{
			UserID:       ob.UserID,
			OnboardingID: &ob.ID,
			Tag:          d.Tag,
			Confidence:   d.Confidence,
			SourceLayer:  source,
			Payload:      d.Payload,
			CreatedAt:    now,
		})
	}
	return tx.Create(&rows).Error
}

// nextIndex is the position of the first unanswered interview question
func (s *OnboardingService) nextIndex(tx *gorm.DB, onboardingID string) (int, error) {
	var keys []string
	if err := tx.Model(&models.OnboardingAnswer{}).Where("onboarding_id = ?", onboardingID).
		Pluck("question_key", &keys).Error; err != nil {
		return 0, err
	}
	for i, q := range InterviewQuestions {
		if !slices.Contains(keys, q.Key) {
			return i, nil
		}
	}
	return len(InterviewQuestions), nil
}

func (s *OnboardingService) load(db *gorm.DB, userID string) (*models.Onboarding, error) {
	var ob models.Onboarding
	if err := db.Where("user_id = ?", userID).First(&ob).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ob, nil
}

func (s *OnboardingService) status(_ context.Context, ob *models.Onboarding) (*OnboardingStatus, error) {
	st := &OnboardingStatus{Onboarding: *ob}
	if ob.State == models.OnboardingInterview && ob.QuestionIndex < len(InterviewQuestions) {
		q := InterviewQuestions[ob.QuestionIndex]
		st.NextQuestion = &q
	}
	return st, nil
}

func questionFor(key string) *Question {
	for _, q := range InterviewQuestions {
		if q.Key == key {
			q := q
			return &q
		}
	}
	return &Question{Key: key}
}
