package services

import (
	"errors"
	"testing"
	"time"

	"desperado-club/models"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func watcher(userID, level string) models.EntityWatcher {
	return models.EntityWatcher{EntityType: "task", EntityID: "t1", UserID: userID, WatchLevel: level}
}

func TestResolveRecipients(t *testing.T) {
	watchers := []models.EntityWatcher{
		watcher("actor", models.WatchAll),
		watcher("alice", models.WatchAll),
		watcher("bob", models.WatchMentionsOnly),
		watcher("carol", models.WatchMuted),
		watcher("dave", models.WatchMentionsOnly),
	}

	got := ResolveRecipients(watchers, []string{"bob", "carol", "erin", "alice"}, "actor", nil)
	assert.Equal(t, []Recipient{
		{UserID: "alice", Reason: ReasonMention},
		{UserID: "bob", Reason: ReasonMention},
		{UserID: "erin", Reason: ReasonMention},
	}, got)
}

func TestResolveRecipients_ActorMentionedAndSkipped(t *testing.T) {
	watchers := []models.EntityWatcher{watcher("alice", models.WatchAll), watcher("bob", models.WatchAll)}

	got := ResolveRecipients(watchers, []string{"actor"}, "actor", []string{"bob"})
	assert.Equal(t, []Recipient{{UserID: "alice", Reason: ReasonWatcher}}, got)

	assert.Empty(t, ResolveRecipients(nil, nil, "actor", nil))
}

func quietPref(start, end string, days ...int64) *models.NotificationPreference {
	return &models.NotificationPreference{
		QuietHoursStart: &start,
		QuietHoursEnd:   &end,
		QuietDays:       pq.Int64Array(days),
		Timezone:        "UTC",
	}
}

func TestInQuietHours_OvernightWindow(t *testing.T) {
	pref := quietPref("22:00", "07:00")

	assert.True(t, InQuietHours(pref, time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)))
	assert.True(t, InQuietHours(pref, time.Date(2026, 3, 10, 6, 59, 0, 0, time.UTC)))
	assert.False(t, InQuietHours(pref, time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)))
	assert.False(t, InQuietHours(pref, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)))
}

func TestInQuietHours_SameDayWindow(t *testing.T) {
	pref := quietPref("13:00", "15:00")
	assert.True(t, InQuietHours(pref, time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)))
	assert.False(t, InQuietHours(pref, time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)))
}

func TestInQuietHours_QuietDay(t *testing.T) {
	// Saturday and Sunday
	pref := &models.NotificationPreference{QuietDays: pq.Int64Array{0, 6}, Timezone: "UTC"}
	assert.True(t, InQuietHours(pref, time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)))
	assert.False(t, InQuietHours(pref, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)))
}

func TestInQuietHours_Timezone(t *testing.T) {
	pref := quietPref("22:00", "07:00")
	pref.Timezone = "America/New_York"
	// 03:30 UTC is 23:30 in New York (EDT, UTC-4)
	assert.True(t, InQuietHours(pref, time.Date(2026, 6, 10, 3, 30, 0, 0, time.UTC)))
	assert.False(t, InQuietHours(pref, time.Date(2026, 6, 10, 16, 0, 0, 0, time.UTC)))
}

func TestInQuietHours_FailsOpen(t *testing.T) {
	at := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)

	bad := quietPref("22:00", "07:00")
	bad.Timezone = "Mars/Olympus"
	assert.False(t, InQuietHours(bad, at))

	assert.False(t, InQuietHours(quietPref("late", "07:00"), at))
	assert.False(t, InQuietHours(nil, at))
	assert.False(t, InQuietHours(&models.NotificationPreference{Timezone: "UTC"}, at))
}

func TestParseClock(t *testing.T) {
	m, err := ParseClock("07:30")
	require.NoError(t, err)
	assert.Equal(t, 450, m)

	m, err = ParseClock("22:00:00")
	require.NoError(t, err)
	assert.Equal(t, 1320, m)

	for _, bad := range []string{"", "7", "24:00", "12:60", "ab:cd"} {
		_, err := ParseClock(bad)
		assert.ErrorIs(t, err, ErrInvalidArgument, bad)
	}
}

func TestNotifyEntity_PersistsPerRecipient(t *testing.T) {
	ch := &recordingChannel{}
	f := newFixture(t, func(d *Deps) { d.Channels = []DeliveryChannel{ch} })
	actor, alice, bob := newUserID(), newUserID(), newUserID()
	ns := f.svc.Notifications

	require.NoError(t, ns.EnsureWatching(f.ctx, "task", "t1", actor, ""))
	require.NoError(t, ns.EnsureWatching(f.ctx, "task", "t1", alice, models.WatchAll))
	require.NoError(t, ns.EnsureWatching(f.ctx, "task", "t1", bob, models.WatchMentionsOnly))

	res, err := ns.NotifyEntity(f.ctx, NotifyRequest{
		EventType:  EventComment,
		EntityType: "task",
		EntityID:   "t1",
		ActorID:    actor,
		Title:      "New comment",
		Body:       "looks good",
	})
	require.NoError(t, err)
	require.Len(t, res.Notifications, 1)

	n := res.Notifications[0]
	assert.Equal(t, alice, n.UserID)
	assert.Equal(t, "comment:t1", n.GroupKey)
	assert.Equal(t, ReasonWatcher, n.Metadata["reason"])
	assert.Equal(t, actor, n.Metadata["actor_id"])
	require.NotNil(t, n.Body)
	assert.Equal(t, "looks good", *n.Body)

	assert.Len(t, f.notificationsFor(t, alice), 1)
	assert.Empty(t, f.notificationsFor(t, bob))
	assert.Empty(t, f.notificationsFor(t, actor))
	assert.Len(t, ch.delivered, 1)
}

func TestNotifyEntity_MutedMentionGetsNothing(t *testing.T) {
	f := newFixture(t)
	actor, muted := newUserID(), newUserID()
	ns := f.svc.Notifications
	_, err := ns.SetWatchLevel(f.ctx, "goal", "g1", muted, models.WatchMuted)
	require.NoError(t, err)

	res, err := ns.NotifyEntity(f.ctx, NotifyRequest{
		EventType:        EventComment,
		EntityType:       "goal",
		EntityID:         "g1",
		ActorID:          actor,
		Title:            "hey",
		MentionedUserIDs: []string{muted},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Notifications)
	assert.Empty(t, f.notificationsFor(t, muted))
}

func TestNotifyEntity_FilterSuppresses(t *testing.T) {
	f := newFixture(t)
	actor, unsubscribed, sleeping := newUserID(), newUserID(), newUserID()
	ns := f.svc.Notifications
	for _, u := range []string{unsubscribed, sleeping} {
		require.NoError(t, ns.EnsureWatching(f.ctx, "task", "t9", u, models.WatchAll))
	}

	_, err := ns.SetSubscription(f.ctx, unsubscribed, EventComment, false)
	require.NoError(t, err)
	// testEpoch is 09:00 UTC
	_, err = ns.UpsertPreferences(f.ctx, sleeping, PreferenceInput{
		QuietHoursStart: strPtr("08:00"),
		QuietHoursEnd:   strPtr("10:00"),
	})
	require.NoError(t, err)

	res, err := ns.NotifyEntity(f.ctx, NotifyRequest{
		EventType: EventComment, EntityType: "task", EntityID: "t9", ActorID: actor, Title: "hi",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Notifications)
	assert.ElementsMatch(t, []Suppressed{
		{UserID: unsubscribed, Reason: SuppressedUnsubscribed},
		{UserID: sleeping, Reason: SuppressedQuietHours},
	}, res.Suppressed)

	// other event types still go through for the unsubscribed user
	res, err = ns.NotifyEntity(f.ctx, NotifyRequest{
		EventType: EventTaskCompleted, EntityType: "task", EntityID: "t9", ActorID: actor, Title: "done",
	})
	require.NoError(t, err)
	require.Len(t, res.Notifications, 1)
	assert.Equal(t, unsubscribed, res.Notifications[0].UserID)
}

func TestNotifyEntity_RequiresEntity(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Notifications.NotifyEntity(f.ctx, NotifyRequest{EventType: EventComment})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestFanoutErrorsAreLogged(t *testing.T) {
	ch := &recordingChannel{err: errors.New("webhook down")}
	f := newFixture(t, func(d *Deps) { d.Channels = []DeliveryChannel{ch} })
	user := newUserID()

	res, err := f.svc.Notifications.NotifyUser(f.ctx, DirectNotification{UserID: user, EventType: EventLevelUp, Title: "Level 2"})
	require.NoError(t, err)
	assert.Len(t, res.Notifications, 1)
	assert.Len(t, ch.delivered, 1)
	assert.Equal(t, 1, f.logs.FilterMessage("inline task failed").Len())
}

func TestEnsureWatching_KeepsExistingLevel(t *testing.T) {
	f := newFixture(t)
	user := newUserID()
	ns := f.svc.Notifications

	_, err := ns.SetWatchLevel(f.ctx, "task", "t1", user, models.WatchMuted)
	require.NoError(t, err)
	require.NoError(t, ns.EnsureWatching(f.ctx, "task", "t1", user, models.WatchAll))

	list, err := ns.ListWatchers(f.ctx, "task", "t1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.WatchMuted, list[0].WatchLevel)

	_, err = ns.SetWatchLevel(f.ctx, "task", "t1", user, models.WatchMentionsOnly)
	require.NoError(t, err)
	list, err = ns.ListWatchers(f.ctx, "task", "t1")
	require.NoError(t, err)
	assert.Equal(t, models.WatchMentionsOnly, list[0].WatchLevel)

	require.NoError(t, ns.Unwatch(f.ctx, "task", "t1", user))
	list, err = ns.ListWatchers(f.ctx, "task", "t1")
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, ns.EnsureWatching(f.ctx, "task", "t1", user, "loud"), ErrInvalidArgument)
}

func TestListAndMarkRead(t *testing.T) {
	f := newFixture(t)
	user := newUserID()
	ns := f.svc.Notifications

	for i := 0; i < 3; i++ {
		_, err := ns.NotifyUser(f.ctx, DirectNotification{UserID: user, EventType: EventComment, Title: "n"})
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}

	rows, unread, err := ns.List(f.ctx, user, ListOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(3), unread)
	assert.True(t, rows[0].CreatedAt.After(rows[2].CreatedAt))

	require.NoError(t, ns.MarkRead(f.ctx, user, rows[0].ID))
	require.NoError(t, ns.MarkRead(f.ctx, user, rows[0].ID))
	assert.ErrorIs(t, ns.MarkRead(f.ctx, newUserID(), rows[0].ID), ErrNotFound)

	unreadRows, unread, err := ns.List(f.ctx, user, ListOptions{UnreadOnly: true})
	require.NoError(t, err)
	assert.Len(t, unreadRows, 2)
	assert.Equal(t, int64(2), unread)

	n, err := ns.MarkAllRead(f.ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestPreferences(t *testing.T) {
	f := newFixture(t)
	user := newUserID()
	ns := f.svc.Notifications

	def, err := ns.GetPreferences(f.ctx, user)
	require.NoError(t, err)
	assert.Equal(t, "UTC", def.Timezone)

	_, err = ns.UpsertPreferences(f.ctx, user, PreferenceInput{QuietHoursStart: strPtr("22:00")})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ns.UpsertPreferences(f.ctx, user, PreferenceInput{Timezone: "Nowhere/Special"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ns.UpsertPreferences(f.ctx, user, PreferenceInput{DiscordEnabled: true})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ns.UpsertPreferences(f.ctx, user, PreferenceInput{
		QuietHoursStart: strPtr("22:00"),
		QuietHoursEnd:   strPtr("07:00"),
		QuietDays:       []int64{0, 6},
		Timezone:        "Europe/Berlin",
	})
	require.NoError(t, err)
	_, err = ns.UpsertPreferences(f.ctx, user, PreferenceInput{
		QuietHoursStart: strPtr("23:00"),
		QuietHoursEnd:   strPtr("06:00"),
		QuietDays:       []int64{0},
		Timezone:        "Europe/Berlin",
	})
	require.NoError(t, err)

	got, err := ns.GetPreferences(f.ctx, user)
	require.NoError(t, err)
	require.NotNil(t, got.QuietHoursStart)
	assert.Equal(t, "23:00", *got.QuietHoursStart)
	assert.Equal(t, pq.Int64Array{0}, got.QuietDays)
	assert.Equal(t, "Europe/Berlin", got.Timezone)
}
