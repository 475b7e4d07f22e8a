package aggregation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jortega/vitalwatch-server/internal/geo"
	"github.com/jortega/vitalwatch-server/internal/series"
)

// Defaults applied when a day has heart-rate samples but no blood
// pressure readings.
const (
	defaultSystolic  = 120.0
	defaultDiastolic = 80.0
)

// movementThresholdM separates an "active" pair of consecutive
// location samples from a "sedentary" one.
const movementThresholdM = 10.0

// minutesPerPair is the contribution of one classified sample pair to
// its activity bucket (samples arrive on a ~30s cadence).
const minutesPerPair = 0.5

// DailySummary is the statistical rollup of one subject's samples over
// a single UTC day window. Computed, never mutated; recomputation
// replaces the stored copy.
type DailySummary struct {
	SubjectID           string
	Day                 time.Time // window start, UTC midnight
	AvgHeartRate        float64
	TotalDistanceM      float64
	HighHeartRatePct    float64
	AvgArterialPressure float64
	AlertCount          int
	TimeActiveMin       float64
	TimeSedentaryMin    float64

	// Source averages kept for the risk classifier, which evaluates
	// systolic pressure against its own threshold.
	AvgSystolic  float64
	AvgDiastolic float64
}

// SeriesReader is the slice of the durable store the aggregator needs.
type SeriesReader interface {
	Query(ctx context.Context, measurement, subjectID string, start, end time.Time) ([]series.Record, error)
}

// DailyAggregator computes day-window summaries from raw points.
type DailyAggregator struct {
	store  SeriesReader
	logger *zap.Logger
}

// NewDailyAggregator creates a new daily aggregator.
func NewDailyAggregator(store SeriesReader, logger *zap.Logger) *DailyAggregator {
	return &DailyAggregator{store: store, logger: logger}
}

// Aggregate computes the summary for the day starting at the given UTC
// midnight. A day without a single heart-rate sample yields (nil, nil):
// nothing to report, not an error. Missing location data degrades the
// distance and activity figures to zero but does not suppress the
// summary.
func (d *DailyAggregator) Aggregate(ctx context.Context, subjectID string, day time.Time) (*DailySummary, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	heartRates, systolics, diastolics, err := d.fetchVitals(ctx, subjectID, start, end)
	if err != nil {
		return nil, err
	}

	if len(heartRates) == 0 {
		d.logger.Info("no heart-rate samples in window, skipping summary",
			zap.String("subject_id", subjectID),
			zap.Time("day", start))
		return nil, nil
	}

	coords, err := d.fetchCoordinates(ctx, subjectID, start, end)
	if err != nil {
		// A location query failure degrades movement figures to zero,
		// same as a day without GPS.
		d.logger.Warn("failed to fetch location samples, movement metrics default to zero",
			zap.String("subject_id", subjectID),
			zap.Error(err))
		coords = nil
	}

	summary := &DailySummary{
		SubjectID: subjectID,
		Day:       start,
	}

	var hrSum float64
	for _, hr := range heartRates {
		hrSum += hr
		if hr > 100 {
			summary.AlertCount++
		}
	}
	summary.AvgHeartRate = hrSum / float64(len(heartRates))
	summary.HighHeartRatePct = float64(summary.AlertCount) / float64(len(heartRates)) * 100

	summary.AvgSystolic = meanOrDefault(systolics, defaultSystolic)
	summary.AvgDiastolic = meanOrDefault(diastolics, defaultDiastolic)
	summary.AvgArterialPressure = (summary.AvgSystolic + 2*summary.AvgDiastolic) / 3

	for i := 1; i < len(coords); i++ {
		dist := geo.Haversine(coords[i-1].lat, coords[i-1].lon, coords[i].lat, coords[i].lon)
		summary.TotalDistanceM += dist

		if dist > movementThresholdM {
			summary.TimeActiveMin += minutesPerPair
		} else {
			summary.TimeSedentaryMin += minutesPerPair
		}
	}

	return summary, nil
}

func (d *DailyAggregator) fetchVitals(ctx context.Context, subjectID string, start, end time.Time) (heartRates, systolics, diastolics []float64, err error) {
	records, err := d.store.Query(ctx, series.MeasurementVitals, subjectID, start, end)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to query vitals: %w", err)
	}

	for _, rec := range records {
		if hr, ok := rec.Float("heart_rate"); ok {
			heartRates = append(heartRates, hr)
		}
		if sbp, ok := rec.Float("systolic_bp"); ok {
			systolics = append(systolics, sbp)
		}
		if dbp, ok := rec.Float("diastolic_bp"); ok {
			diastolics = append(diastolics, dbp)
		}
	}

	return heartRates, systolics, diastolics, nil
}

type coordinate struct {
	lat float64
	lon float64
}

// fetchCoordinates returns the ordered coordinate samples of the
// window. The store already merges lat/lon written at the same
// timestamp into one record; records missing either coordinate are
// dropped.
func (d *DailyAggregator) fetchCoordinates(ctx context.Context, subjectID string, start, end time.Time) ([]coordinate, error) {
	records, err := d.store.Query(ctx, series.MeasurementLocation, subjectID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query location: %w", err)
	}

	var coords []coordinate
	for _, rec := range records {
		lat, okLat := rec.Float("lat")
		lon, okLon := rec.Float("lon")
		if !okLat || !okLon {
			continue
		}
		coords = append(coords, coordinate{lat: lat, lon: lon})
	}

	return coords, nil
}

func meanOrDefault(values []float64, def float64) float64 {
	if len(values) == 0 {
		return def
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
