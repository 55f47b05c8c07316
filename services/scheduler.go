// services/scheduler.go
package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Scheduler runs the periodic jobs that drive time-based transitions
type Scheduler struct {
	sched gocron.Scheduler
	log   *zap.Logger
}

// StartScheduler registers the onboarding window advancement (hourly) and the login streak expiry
// sweep (daily, 00:05 UTC) and starts them. The clock is shared with the services so tests can drive it.
func StartScheduler(svc *Services, log *zap.Logger, clock clockwork.Clock) (*Scheduler, error) {
	sched, err := gocron.NewScheduler(
		gocron.WithClock(clock),
		gocron.WithLocation(time.UTC),
	)
	if err != nil {
		return nil, err
	}

	if _, err := sched.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if _, err := svc.Onboarding.AdvanceObservation(ctx); err != nil {
				log.Error("advance observation failed", zap.Error(err))
			}
		}),
		gocron.WithName("onboarding-advance-observation"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, err
	}

	if _, err := sched.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 5, 0))),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			n, err := svc.Progression.ExpireLoginStreaks(ctx)
			if err != nil {
				log.Error("login streak sweep failed", zap.Error(err))
				return
			}
			log.Info("login streaks expired", zap.Int64("count", n))
		}),
		gocron.WithName("login-streak-expiry"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, err
	}

	sched.Start()
	log.Info("scheduler started", zap.Int("jobs", len(sched.Jobs())))
	return &Scheduler{sched: sched, log: log}, nil
}

func (s *Scheduler) Shutdown() {
	if err := s.sched.Shutdown(); err != nil {
		s.log.Warn("scheduler shutdown", zap.Error(err))
	}
}
