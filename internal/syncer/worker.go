package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jortega/vitalwatch-server/internal/cache"
	"github.com/jortega/vitalwatch-server/internal/series"
)

// LatestCache is the slice of the hot cache the worker needs.
type LatestCache interface {
	ListSubjects(ctx context.Context) ([]string, error)
	GetLatest(ctx context.Context, subjectID string) (*cache.Latest, error)
}

// SeriesAppender is the slice of the durable store the worker needs.
type SeriesAppender interface {
	Append(ctx context.Context, points []series.Point) error
}

// Stats summarizes one sync cycle.
type Stats struct {
	Synced  int
	Skipped int
	Failed  int
}

// Worker periodically copies every subject's latest cached sample into
// the durable series store. Each cycle is independent and each subject
// within a cycle is independent: one failed write is logged and counted
// without aborting the rest.
type Worker struct {
	cache    LatestCache
	store    SeriesAppender
	interval time.Duration
	logger   *zap.Logger

	// When dedup is enabled, a subject whose cached record has not been
	// refreshed since the previous cycle is skipped instead of being
	// re-written as a heartbeat.
	dedup      bool
	lastSynced map[string]time.Time
}

// NewWorker creates a sync worker.
func NewWorker(latest LatestCache, store SeriesAppender, interval time.Duration, dedup bool, logger *zap.Logger) *Worker {
	return &Worker{
		cache:      latest,
		store:      store,
		interval:   interval,
		dedup:      dedup,
		lastSynced: make(map[string]time.Time),
		logger:     logger,
	}
}

// Run executes sync cycles on the configured interval until the
// context is cancelled. The shutdown signal is observed before each
// tick; an in-flight cycle completes its writes.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("sync worker started", zap.Duration("interval", w.interval), zap.Bool("dedup", w.dedup))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("sync worker stopping")
			return ctx.Err()
		case <-ticker.C:
			stats := w.SyncOnce(ctx)
			w.logger.Info("sync cycle complete",
				zap.Int("synced", stats.Synced),
				zap.Int("skipped", stats.Skipped),
				zap.Int("failed", stats.Failed))
		}
	}
}

// SyncOnce runs a single sync cycle over all cached subjects.
func (w *Worker) SyncOnce(ctx context.Context) Stats {
	var stats Stats

	subjects, err := w.cache.ListSubjects(ctx)
	if err != nil {
		w.logger.Error("failed to list cached subjects", zap.Error(err))
		return stats
	}

	for _, subjectID := range subjects {
		switch w.syncSubject(ctx, subjectID) {
		case outcomeSynced:
			stats.Synced++
		case outcomeSkipped:
			stats.Skipped++
		case outcomeFailed:
			stats.Failed++
		}
	}

	return stats
}

type outcome int

const (
	outcomeSynced outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (w *Worker) syncSubject(ctx context.Context, subjectID string) outcome {
	latest, err := w.cache.GetLatest(ctx, subjectID)
	if err != nil {
		w.logger.Error("failed to read cached sample", zap.String("subject_id", subjectID), zap.Error(err))
		return outcomeFailed
	}
	if latest == nil {
		// Expired between listing and read.
		return outcomeSkipped
	}

	if w.dedup {
		if prev, ok := w.lastSynced[subjectID]; ok && prev.Equal(latest.LastUpdated) {
			return outcomeSkipped
		}
	}

	if err := w.store.Append(ctx, pointsFor(latest)); err != nil {
		w.logger.Error("failed to append sample points", zap.String("subject_id", subjectID), zap.Error(err))
		return outcomeFailed
	}

	w.lastSynced[subjectID] = latest.LastUpdated
	return outcomeSynced
}

// pointsFor builds one "vitals" point and, when the cached record
// carries coordinates, one "location" point, both stamped with the
// sample's own timestamp.
func pointsFor(latest *cache.Latest) []series.Point {
	points := []series.Point{
		{
			Measurement: series.MeasurementVitals,
			SubjectID:   latest.SubjectID,
			Timestamp:   latest.Timestamp,
			Fields: map[string]any{
				"heart_rate":   float64(latest.HeartRate),
				"systolic_bp":  float64(latest.Systolic),
				"diastolic_bp": float64(latest.Diastolic),
			},
		},
	}

	if latest.Latitude != nil && latest.Longitude != nil {
		points = append(points, series.Point{
			Measurement: series.MeasurementLocation,
			SubjectID:   latest.SubjectID,
			Timestamp:   latest.Timestamp,
			Fields: map[string]any{
				"lat": *latest.Latitude,
				"lon": *latest.Longitude,
			},
		})
	}

	return points
}
