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
	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Event types
const (
	EventLevelUp               = "level_up"
	EventAchievementUnlocked   = "achievement_unlocked"
	EventTaskCompleted         = "task_completed"
	EventHabitCheckin          = "habit_checkin"
	EventGoalCompleted         = "goal_completed"
	EventShoppingListCompleted = "shopping_list_completed"
	EventComment               = "comment"
)

// Why a recipient was admitted
const (
	ReasonWatcher = "watcher"
	ReasonMention = "mention"
	ReasonDirect  = "direct"
)

// Why a recipient was dropped in the filter step
const (
	SuppressedUnsubscribed = "unsubscribed"
	SuppressedQuietHours   = "quiet_hours"
)

// DeliveryChannel is an external fan-out target (Discord webhook, ...)
type DeliveryChannel interface {
	Name() string
	Deliver(ctx context.Context, pref *models.NotificationPreference, n models.Notification) error
}

// RealtimePublisher pushes persisted notifications to connected clients
type RealtimePublisher interface {
	Publish(ctx context.Context, n models.Notification) error
}

// RealtimeFeed is a publisher that can also be subscribed to per user
type RealtimeFeed interface {
	RealtimePublisher
	Subscribe(ctx context.Context, userID string) (<-chan models.Notification, error)
}

// NotifyRequest is an entity-scoped event
type NotifyRequest struct {
	EventType        string
	EntityType       string
	EntityID         string
	ActorID          string
	Title            string
	Body             string
	MentionedUserIDs []string
	SkipUserIDs      []string
	Metadata         map[string]any
}

// DirectNotification targets one user without watcher resolution
type DirectNotification struct {
	UserID     string
	EventType  string
	Title      string
	Body       string
	EntityType string
	EntityID   string
	Metadata   map[string]any
}

type Recipient struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

type Suppressed struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// DispatchResult reports what one dispatch persisted and what it filtered out
type DispatchResult struct {
	Notifications []models.Notification `json:"notifications"`
	Suppressed    []Suppressed          `json:"suppressed,omitempty"`
}

type NotificationService struct {
	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clockwork.Clock
	Detached  Spawner
	Channels  []DeliveryChannel
	Publisher RealtimePublisher
}

func NewNotificationService(db *gorm.DB, log *zap.Logger, clock clockwork.Clock, detached Spawner,
	channels []DeliveryChannel, publisher RealtimePublisher) *NotificationService {
	return &NotificationService{
		DB:        db,
		Log:       log,
		Clock:     clock,
		Detached:  detached,
		Channels:  channels,
		Publisher: publisher,
	}
}

// GroupKey collapses notifications about the same event on the same entity
func GroupKey(eventType, entityID string) string {
	return eventType + ":" + entityID
}

// ResolveRecipients merges watchers and mentions. Muted watchers never receive anything, even when
// mentioned. A mention outranks a watch as the admission reason. The actor and skipped ids are removed.
func ResolveRecipients(watchers []models.EntityWatcher, mentioned []string, actorID string, skip []string) []Recipient {
	excluded := make(map[string]bool, len(skip)+1)
	for _, id := range skip {
		excluded[id] = true
	}
	if actorID != "" {
		excluded[actorID] = true
	}
	for _, w := range watchers {
		if w.WatchLevel == models.WatchMuted {
			excluded[w.UserID] = true
		}
	}

	reasons := make(map[string]string)
	for _, w := range watchers {
		if w.WatchLevel == models.WatchAll {
			reasons[w.UserID] = ReasonWatcher
		}
	}
	// mentions_only watchers are admitted here too, through the mention
	for _, id := range mentioned {
		if id != "" {
			reasons[id] = ReasonMention
		}
	}

	out := make([]Recipient, 0, len(reasons))
	for id, reason := range reasons {
		if excluded[id] {
			continue
		}
		out = append(out, Recipient{UserID: id, Reason: reason})
	}
	slices.SortFunc(out, func(a, b Recipient) int { return strings.Compare(a.UserID, b.UserID) })
	return out
}

// InQuietHours reports whether now falls inside the user's quiet window. A quiet day suppresses the
// whole day. Windows with start > end wrap past midnight. An unknown timezone or malformed time never
// suppresses.
func InQuietHours(pref *models.NotificationPreference, now time.Time) bool {
	if pref == nil {
		return false
	}
	tz := pref.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return false
	}
	local := now.In(loc)

	for _, d := range pref.QuietDays {
		if int(d) == int(local.Weekday()) {
			return true
		}
	}

	if pref.QuietHoursStart == nil || pref.QuietHoursEnd == nil {
		return false
	}
	start, err1 := ParseClock(*pref.QuietHoursStart)
	end, err2 := ParseClock(*pref.QuietHoursEnd)
	if err1 != nil || err2 != nil || start == end {
		return false
	}

	cur := local.Hour()*60 + local.Minute()
	if start < end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

// ParseClock parses "HH:MM" into minutes after midnight
func ParseClock(v string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(v), ":")
	if !ok {
		return 0, fmt.Errorf("time %q: %w", v, ErrInvalidArgument)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("hour %q: %w", v, ErrInvalidArgument)
	}
	// tolerate "HH:MM:SS" as stored by time columns
	if i := strings.IndexByte(mm, ':'); i >= 0 {
		mm = mm[:i]
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("minute %q: %w", v, ErrInvalidArgument)
	}
	return h*60 + m, nil
}

// NotifyEntity runs resolve, filter, persist and a detached fan-out for an entity event
func (s *NotificationService) NotifyEntity(ctx context.Context, req NotifyRequest) (*DispatchResult, error) {
	if req.EventType == "" || req.EntityType == "" || req.EntityID == "" {
		return nil, fmt.Errorf("event and entity are required: %w", ErrInvalidArgument)
	}

	var watchers []models.EntityWatcher
	if err := s.DB.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", req.EntityType, req.EntityID).
		Find(&watchers).Error; err != nil {
		return nil, fmt.Errorf("load watchers: %w", err)
	}

	recipients := ResolveRecipients(watchers, req.MentionedUserIDs, req.ActorID, req.SkipUserIDs)
	return s.dispatch(ctx, recipients, message{
		eventType:  req.EventType,
		entityType: req.EntityType,
		entityID:   req.EntityID,
		actorID:    req.ActorID,
		title:      req.Title,
		body:       req.Body,
		metadata:   req.Metadata,
	})
}

// NotifyUser sends one notification through the same filter, persist and fan-out path
func (s *NotificationService) NotifyUser(ctx context.Context, n DirectNotification) (*DispatchResult, error) {
	if n.UserID == "" || n.EventType == "" {
		return nil, fmt.Errorf("user and event are required: %w", ErrInvalidArgument)
	}
	entityID := n.EntityID
	if entityID == "" {
		entityID = n.UserID
	}
	return s.dispatch(ctx, []Recipient{{UserID: n.UserID, Reason: ReasonDirect}}, message{
		eventType:  n.EventType,
		entityType: n.EntityType,
		entityID:   entityID,
		title:      n.Title,
		body:       n.Body,
		metadata:   n.Metadata,
	})
}

type message struct {
	eventType  string
	entityType string
	entityID   string
	actorID    string
	title      string
	body       string
	metadata   map[string]any
}

func (s *NotificationService) dispatch(ctx context.Context, recipients []Recipient, msg message) (*DispatchResult, error) {
	result := &DispatchResult{}
	if len(recipients) == 0 {
		return result, nil
	}

	now := s.Clock.Now()
	survivors, prefs, suppressed, err := s.filter(ctx, recipients, msg.eventType, now)
	if err != nil {
		return nil, err
	}
	result.Suppressed = suppressed
	if len(survivors) == 0 {
		return result, nil
	}

	rows := make([]models.Notification, 0, len(survivors))
	for _, r := range survivors {
		meta := datatypes.JSONMap{}
		for k, v := range msg.metadata {
			meta[k] = v
		}
		meta["reason"] = r.Reason
		if msg.actorID != "" {
			meta["actor_id"] = msg.actorID
		}
		n := models.Notification{
			UserID:     r.UserID,
			Title:      msg.title,
			EventType:  msg.eventType,
			EntityType: msg.entityType,
			EntityID:   msg.entityID,
			GroupKey:   GroupKey(msg.eventType, msg.entityID),
			Metadata:   meta,
			CreatedAt:  now.UTC(),
		}
		if msg.body != "" {
			body := msg.body
			n.Body = &body
		}
		rows = append(rows, n)
	}

	if err := s.DB.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, fmt.Errorf("persist notifications: %w", err)
	}
	result.Notifications = rows

	s.fanout(rows, prefs)
	return result, nil
}

func (s *NotificationService) filter(ctx context.Context, recipients []Recipient, eventType string, now time.Time) ([]Recipient, map[string]*models.NotificationPreference, []Suppressed, error) {
	db := s.DB.WithContext(ctx)
	ids := make([]string, len(recipients))
	for i, r := range recipients {
		ids[i] = r.UserID
	}

	var disabled []string
	if err := db.Model(&models.NotificationSubscription{}).
		Where("user_id IN ? AND event_type = ? AND enabled = ?", ids, eventType, false).
		Pluck("user_id", &disabled).Error; err != nil {
		return nil, nil, nil, fmt.Errorf("load subscriptions: %w", err)
	}
	off := make(map[string]bool, len(disabled))
	for _, id := range disabled {
		off[id] = true
	}

	var prefRows []models.NotificationPreference
	if err := db.Where("user_id IN ?", ids).Find(&prefRows).Error; err != nil {
		return nil, nil, nil, fmt.Errorf("load preferences: %w", err)
	}
	prefs := make(map[string]*models.NotificationPreference, len(prefRows))
	for i := range prefRows {
		prefs[prefRows[i].UserID] = &prefRows[i]
	}

	var survivors []Recipient
	var suppressed []Suppressed
	for _, r := range recipients {
		switch {
		case off[r.UserID]:
			suppressed = append(suppressed, Suppressed{UserID: r.UserID, Reason: SuppressedUnsubscribed})
		case InQuietHours(prefs[r.UserID], now):
			suppressed = append(suppressed, Suppressed{UserID: r.UserID, Reason: SuppressedQuietHours})
		default:
			survivors = append(survivors, r)
		}
	}
	return survivors, prefs, suppressed, nil
}

func (s *NotificationService) fanout(rows []models.Notification, prefs map[string]*models.NotificationPreference) {
	if s.Detached == nil || (s.Publisher == nil && len(s.Channels) == 0) {
		return
	}
	s.Detached.Go("notification-fanout", func(ctx context.Context) error {
		var errs []error
		for _, n := range rows {
			if s.Publisher != nil {
				if err := s.Publisher.Publish(ctx, n); err != nil {
					s.Log.Warn("realtime publish failed", zap.String("user_id", n.UserID), zap.Error(err))
				}
			}
			for _, ch := range s.Channels {
				if err := ch.Deliver(ctx, prefs[n.UserID], n); err != nil {
					errs = append(errs, fmt.Errorf("%s to %s: %w", ch.Name(), n.UserID, err))
				}
			}
		}
		return errors.Join(errs...)
	})
}

// EnsureWatching adds a watcher row if none exists; an existing level (including muted) is kept
func (s *NotificationService) EnsureWatching(ctx context.Context, entityType, entityID, userID, level string) error {
	if level == "" {
		level = models.WatchAll
	}
	if !validWatchLevel(level) {
		return fmt.Errorf("watch level %q: %w", level, ErrInvalidArgument)
	}
	w := models.EntityWatcher{EntityType: entityType, EntityID: entityID, UserID: userID, WatchLevel: level}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&w).Error
}

// SetWatchLevel upserts the watcher row with an explicit level
func (s *NotificationService) SetWatchLevel(ctx context.Context, entityType, entityID, userID, level string) (*models.EntityWatcher, error) {
	if !validWatchLevel(level) {
		return nil, fmt.Errorf("watch level %q: %w", level, ErrInvalidArgument)
	}
	w := models.EntityWatcher{EntityType: entityType, EntityID: entityID, UserID: userID, WatchLevel: level}
	if err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entity_type"}, {Name: "entity_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"watch_level", "updated_at"}),
	}).Create(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *NotificationService) Unwatch(ctx context.Context, entityType, entityID, userID string) error {
	return s.DB.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ? AND user_id = ?", entityType, entityID, userID).
		Delete(&models.EntityWatcher{}).Error
}

func (s *NotificationService) ListWatchers(ctx context.Context, entityType, entityID string) ([]models.EntityWatcher, error) {
	var out []models.EntityWatcher
	err := s.DB.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("created_at ASC").Find(&out).Error
	return out, err
}

func validWatchLevel(l string) bool {
	return l == models.WatchAll || l == models.WatchMentionsOnly || l == models.WatchMuted
}

// ListOptions pages a user's notifications
type ListOptions struct {
	UnreadOnly bool
	Limit      int
	Before     *time.Time
}

// List returns notifications newest first plus the unread count
func (s *NotificationService) List(ctx context.Context, userID string, opts ListOptions) ([]models.Notification, int64, error) {
	db := s.DB.WithContext(ctx)
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 50
	}

	q := db.Where("user_id = ?", userID)
	if opts.UnreadOnly {
		q = q.Where("read = ?", false)
	}
	if opts.Before != nil {
		q = q.Where("created_at < ?", *opts.Before)
	}
	var rows []models.Notification
	if err := q.Order("created_at DESC").Order("id DESC").Limit(opts.Limit).Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	var unread int64
	if err := db.Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&unread).Error; err != nil {
		return nil, 0, err
	}
	return rows, unread, nil
}

func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	var n models.Notification
	res := s.DB.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Limit(1).Find(&n)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	if n.Read {
		return nil
	}
	now := s.Clock.Now().UTC()
	return s.DB.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ?", n.ID).
		Updates(map[string]interface{}{"read": true, "read_at": now}).Error
}

func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	now := s.Clock.Now().UTC()
	res := s.DB.WithContext(ctx).Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Updates(map[string]interface{}{"read": true, "read_at": now})
	return res.RowsAffected, res.Error
}

// SetSubscription upserts the per-event toggle
func (s *NotificationService) SetSubscription(ctx context.Context, userID, eventType string, enabled bool) (*models.NotificationSubscription, error) {
	if eventType == "" {
		return nil, fmt.Errorf("event type: %w", ErrInvalidArgument)
	}
	sub := models.NotificationSubscription{UserID: userID, EventType: eventType, Enabled: enabled}
	if err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "event_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "updated_at"}),
	}).Create(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *NotificationService) ListSubscriptions(ctx context.Context, userID string) ([]models.NotificationSubscription, error) {
	var out []models.NotificationSubscription
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).Order("event_type ASC").Find(&out).Error
	return out, err
}

// PreferenceInput replaces a user's quiet hours and channel settings
type PreferenceInput struct {
	QuietHoursStart   *string `json:"quiet_hours_start"`
	QuietHoursEnd     *string `json:"quiet_hours_end"`
	QuietDays         []int64 `json:"quiet_days" validate:"dive,min=0,max=6"`
	Timezone          string  `json:"timezone"`
	DiscordWebhookURL string  `json:"discord_webhook_url" validate:"omitempty,url"`
	DiscordEnabled    bool    `json:"discord_enabled"`
}

// GetPreferences returns stored preferences or the defaults (UTC, nothing quiet)
func (s *NotificationService) GetPreferences(ctx context.Context, userID string) (*models.NotificationPreference, error) {
	var pref models.NotificationPreference
	res := s.DB.WithContext(ctx).Where("user_id = ?", userID).Limit(1).Find(&pref)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return &models.NotificationPreference{UserID: userID, Timezone: "UTC", QuietDays: pq.Int64Array{}}, nil
	}
	return &pref, nil
}

func (s *NotificationService) UpsertPreferences(ctx context.Context, userID string, in PreferenceInput) (*models.NotificationPreference, error) {
	if (in.QuietHoursStart == nil) != (in.QuietHoursEnd == nil) {
		return nil, fmt.Errorf("quiet hours need both start and end: %w", ErrInvalidArgument)
	}
	for _, v := range []*string{in.QuietHoursStart, in.QuietHoursEnd} {
		if v != nil {
			if _, err := ParseClock(*v); err != nil {
				return nil, err
			}
		}
	}
	for _, d := range in.QuietDays {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("quiet day %d: %w", d, ErrInvalidArgument)
		}
	}
	tz := in.Timezone
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("timezone %q: %w", tz, ErrInvalidArgument)
	}
	if in.DiscordEnabled && in.DiscordWebhookURL == "" {
		return nil, fmt.Errorf("discord enabled without webhook url: %w", ErrInvalidArgument)
	}

	pref := models.NotificationPreference{
		UserID:            userID,
		QuietHoursStart:   in.QuietHoursStart,
		QuietHoursEnd:     in.QuietHoursEnd,
		QuietDays:         pq.Int64Array(in.QuietDays),
		Timezone:          tz,
		DiscordWebhookURL: in.DiscordWebhookURL,
		DiscordEnabled:    in.DiscordEnabled,
		UpdatedAt:         s.Clock.Now().UTC(),
	}
	if pref.QuietDays == nil {
		pref.QuietDays = pq.Int64Array{}
	}
	if err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(&pref).Error; err != nil {
		return nil, err
	}
	return &pref, nil
}
