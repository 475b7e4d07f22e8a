package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jortega/vitalwatch-server/internal/pipeline"
	"github.com/jortega/vitalwatch-server/internal/series"
	"github.com/jortega/vitalwatch-server/internal/timer"
)

const dailyTaskID = "daily-rollup"

// SubjectSource enumerates subjects that produced raw data in a window.
type SubjectSource interface {
	SubjectsWithin(ctx context.Context, measurement string, start, end time.Time) ([]string, error)
}

// DayProcessor runs the rollup for one subject-day.
type DayProcessor interface {
	ProcessDay(ctx context.Context, subjectID string, day time.Time) (*pipeline.DayResult, error)
}

// SyncRunner is the periodic cache-to-store loop.
type SyncRunner interface {
	Run(ctx context.Context) error
}

// Scheduler drives the two independent loops: the fixed-interval sync
// worker and the wall-clock daily rollup. Both observe the context and
// exit before their next tick once it is cancelled.
type Scheduler struct {
	timers   *timer.Manager
	pipeline DayProcessor
	subjects SubjectSource
	sync     SyncRunner
	runAt    string
	backoff  time.Duration
	logger   *zap.Logger
}

// New creates a scheduler. runAt is the local wall-clock "HH:MM" of
// the daily rollup; backoff is the retry delay after a failed run.
func New(timers *timer.Manager, p DayProcessor, subjects SubjectSource, sync SyncRunner, runAt string, backoff time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		timers:   timers,
		pipeline: p,
		subjects: subjects,
		sync:     sync,
		runAt:    runAt,
		backoff:  backoff,
		logger:   logger,
	}
}

// Start launches both loops. It returns after scheduling; the loops
// run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	next, err := NextDailyRun(time.Now(), s.runAt)
	if err != nil {
		return fmt.Errorf("invalid daily run time: %w", err)
	}

	go func() {
		if err := s.sync.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sync loop exited", zap.Error(err))
		}
	}()

	s.scheduleDaily(ctx, next)
	return nil
}

func (s *Scheduler) scheduleDaily(ctx context.Context, at time.Time) {
	s.logger.Info("next daily rollup scheduled", zap.Time("run_at", at))

	err := s.timers.Schedule(dailyTaskID, at, func() {
		if ctx.Err() != nil {
			return
		}

		if err := s.RunDaily(ctx); err != nil {
			s.logger.Error("daily rollup failed, will retry",
				zap.Duration("backoff", s.backoff),
				zap.Error(err))
			s.scheduleDaily(ctx, time.Now().Add(s.backoff))
			return
		}

		next, err := NextDailyRun(time.Now(), s.runAt)
		if err != nil {
			// runAt was validated at Start; keep the loop alive anyway.
			next = time.Now().Add(24 * time.Hour)
		}
		s.scheduleDaily(ctx, next)
	})
	if err != nil {
		s.logger.Error("failed to schedule daily rollup", zap.Error(err))
	}
}

// RunDaily processes the previous full UTC day for every subject that
// produced vitals in that window. Per-subject failures are logged and
// do not abort the run; only a failure to enumerate subjects fails the
// run as a whole.
func (s *Scheduler) RunDaily(ctx context.Context) error {
	day := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -1)
	end := day.Add(24 * time.Hour)

	subjects, err := s.subjects.SubjectsWithin(ctx, series.MeasurementVitals, day, end)
	if err != nil {
		return fmt.Errorf("failed to enumerate subjects: %w", err)
	}

	s.logger.Info("starting daily rollup",
		zap.Time("day", day),
		zap.Int("subjects", len(subjects)))

	for _, subjectID := range subjects {
		result, err := s.pipeline.ProcessDay(ctx, subjectID, day)
		if err != nil {
			s.logger.Error("subject-day rollup failed",
				zap.String("subject_id", subjectID),
				zap.Error(err))
			continue
		}
		if result.NoData {
			s.logger.Info("subject-day had no vitals",
				zap.String("subject_id", subjectID),
				zap.Time("day", day))
		}
	}

	return nil
}

// NextDailyRun returns the next occurrence of the "HH:MM" wall-clock
// time at or after now, in now's location.
func NextDailyRun(now time.Time, timeOfDay string) (time.Time, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(timeOfDay, "%d:%d", &hour, &minute); err != nil {
		return time.Time{}, fmt.Errorf("invalid time format: %s (expected HH:MM)", timeOfDay)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("time of day out of range: %s", timeOfDay)
	}

	todayRun := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())

	if now.After(todayRun) {
		return todayRun.AddDate(0, 0, 1), nil
	}

	return todayRun, nil
}
