package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"desperado-club/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// 2026-03-10 is a Tuesday
var testEpoch = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	db    *gorm.DB
	clock *clockwork.FakeClock
	logs  *observer.ObservedLogs
	svc   *Services
	pick  func(n int) int
	ctx   context.Context
}

// newFixture wires every service against a private in-memory sqlite database. Detached work runs
// inline so tests can assert on its effects.
func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db))
	require.NoError(t, models.SeedFloors(db))

	core, logs := observer.New(zapcore.DebugLevel)
	f := &fixture{
		db:    db,
		clock: clockwork.NewFakeClockAt(testEpoch),
		logs:  logs,
		pick:  func(int) int { return 0 },
		ctx:   context.Background(),
	}
	deps := Deps{
		DB:    db,
		Log:   zap.New(core),
		Clock: f.clock,
		Pick:  func(n int) int { return f.pick(n) },
	}
	for _, o := range opts {
		o(&deps)
	}
	f.svc = New(deps)
	return f
}

func newUserID() string { return uuid.NewString() }

func (f *fixture) award(t *testing.T, userID string, amount int64) *AwardResult {
	t.Helper()
	action := models.ActionAdminGrant
	if amount < 0 {
		action = models.ActionPenalty
	}
	res, err := f.svc.Progression.AwardXP(f.ctx, AwardRequest{UserID: userID, Amount: amount, ActionType: action})
	require.NoError(t, err)
	return res
}

func (f *fixture) profile(t *testing.T, userID string) *models.Profile {
	t.Helper()
	prof, err := f.svc.Progression.GetProfile(f.ctx, userID)
	require.NoError(t, err)
	return prof
}

func (f *fixture) definition(t *testing.T, in DefinitionInput) *models.AchievementDefinition {
	t.Helper()
	def, err := f.svc.Achievements.CreateDefinition(f.ctx, in)
	require.NoError(t, err)
	return def
}

func (f *fixture) notificationsFor(t *testing.T, userID string) []models.Notification {
	t.Helper()
	var rows []models.Notification
	require.NoError(t, f.db.Where("user_id = ?", userID).Order("created_at ASC").Order("id ASC").Find(&rows).Error)
	return rows
}

func strPtr(s string) *string { return &s }

// failCreates makes inserts into table fail until the returned flag is cleared
func (f *fixture) failCreates(t *testing.T, table string) *atomic.Bool {
	t.Helper()
	var on atomic.Bool
	on.Store(true)
	require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register("test:fail_"+table, func(tx *gorm.DB) {
		if on.Load() && tx.Statement.Schema != nil && tx.Statement.Schema.Table == table {
			_ = tx.AddError(errors.New(table + " unavailable"))
		}
	}))
	return &on
}

// beforeUpdate runs fn inside the updating transaction right before every UPDATE on table
func (f *fixture) beforeUpdate(t *testing.T, table string, fn func(tx *gorm.DB)) {
	t.Helper()
	require.NoError(t, f.db.Callback().Update().Before("gorm:update").Register("test:before_update_"+table, func(tx *gorm.DB) {
		if tx.Statement.Schema != nil && tx.Statement.Schema.Table == table {
			fn(tx.Session(&gorm.Session{NewDB: true}))
		}
	}))
}

func (f *fixture) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Where(query, args...).Count(&n).Error)
	return n
}

// recordingChannel captures deliveries
type recordingChannel struct {
	delivered []models.Notification
	err       error
}

func (r *recordingChannel) Name() string { return "recording" }

func (r *recordingChannel) Deliver(_ context.Context, _ *models.NotificationPreference, n models.Notification) error {
	r.delivered = append(r.delivered, n)
	return r.err
}
