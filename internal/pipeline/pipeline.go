package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jortega/vitalwatch-server/internal/aggregation"
	"github.com/jortega/vitalwatch-server/internal/protocol"
	"github.com/jortega/vitalwatch-server/internal/risk"
	"github.com/jortega/vitalwatch-server/internal/series"
)

// SeriesAppender is the write side of the durable store.
type SeriesAppender interface {
	Append(ctx context.Context, points []series.Point) error
}

// AlertPublisher publishes high-risk notifications. Optional.
type AlertPublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// DayResult is the outcome of processing one subject-day. Exactly one
// of three states holds: an error occurred, the day had no data, or a
// summary and assessment were produced and stored.
type DayResult struct {
	SubjectID  string
	Day        time.Time
	NoData     bool
	Summary    *aggregation.DailySummary
	Assessment *risk.Assessment
	Err        error
}

// Pipeline is the single implementation of the daily rollup used by
// both the scheduler and on-demand callers, so the formulas cannot
// diverge between the two paths.
type Pipeline struct {
	aggregator *aggregation.DailyAggregator
	classifier *risk.Classifier
	store      SeriesAppender
	alerts     AlertPublisher
	logger     *zap.Logger
}

// New creates a pipeline. alerts may be nil when no notification path
// is wired.
func New(aggregator *aggregation.DailyAggregator, classifier *risk.Classifier, store SeriesAppender, alerts AlertPublisher, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		aggregator: aggregator,
		classifier: classifier,
		store:      store,
		alerts:     alerts,
		logger:     logger,
	}
}

// ProcessDay aggregates and classifies one subject-day and persists
// the results. Re-running replaces the stored summary and assessment
// for that day. A day without heart-rate data reports NoData and
// writes nothing.
func (p *Pipeline) ProcessDay(ctx context.Context, subjectID string, day time.Time) (*DayResult, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)
	result := &DayResult{SubjectID: subjectID, Day: dayStart}

	summary, err := p.aggregator.Aggregate(ctx, subjectID, dayStart)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate %s for %s: %w", dayStart.Format("2006-01-02"), subjectID, err)
	}
	if summary == nil {
		result.NoData = true
		return result, nil
	}

	assessment := p.classifier.Classify(summary)

	points := []series.Point{summaryPoint(summary), assessmentPoint(assessment)}
	if err := p.store.Append(ctx, points); err != nil {
		return nil, fmt.Errorf("failed to store summary for %s: %w", subjectID, err)
	}

	p.logger.Info("processed subject-day",
		zap.String("subject_id", subjectID),
		zap.Time("day", dayStart),
		zap.Float64("avg_heart_rate", summary.AvgHeartRate),
		zap.Float64("risk_score", assessment.RiskScore),
		zap.String("risk_label", assessment.RiskLabel))

	if assessment.RiskLabel == risk.LabelHigh {
		p.publishAlert(ctx, summary, assessment)
	}

	result.Summary = summary
	result.Assessment = assessment
	return result, nil
}

// ProcessPreviousDay processes yesterday's full UTC day window.
func (p *Pipeline) ProcessPreviousDay(ctx context.Context, subjectID string) (*DayResult, error) {
	yesterday := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -1)
	return p.ProcessDay(ctx, subjectID, yesterday)
}

// ProcessTrailingDays processes the last n full day windows, oldest
// first. A failed day is captured in its result entry and does not
// abort the rest of the batch.
func (p *Pipeline) ProcessTrailingDays(ctx context.Context, subjectID string, n int) []DayResult {
	today := time.Now().UTC().Truncate(24 * time.Hour)

	results := make([]DayResult, 0, n)
	for i := n; i >= 1; i-- {
		day := today.AddDate(0, 0, -i)

		result, err := p.ProcessDay(ctx, subjectID, day)
		if err != nil {
			p.logger.Error("failed to process subject-day",
				zap.String("subject_id", subjectID),
				zap.Time("day", day),
				zap.Error(err))
			results = append(results, DayResult{SubjectID: subjectID, Day: day, Err: err})
			continue
		}
		results = append(results, *result)
	}

	return results
}

// publishAlert is best effort: a notification failure never fails the
// day's processing.
func (p *Pipeline) publishAlert(ctx context.Context, summary *aggregation.DailySummary, assessment *risk.Assessment) {
	if p.alerts == nil {
		return
	}

	alert := &protocol.RiskAlert{
		SubjectID:    assessment.SubjectID,
		Day:          assessment.Day,
		RiskScore:    assessment.RiskScore,
		RiskLabel:    assessment.RiskLabel,
		RiskLevel:    assessment.RiskLevel,
		ModelName:    assessment.ModelName,
		ModelVersion: assessment.ModelVersion,
		AvgHeartRate: summary.AvgHeartRate,
		AlertCount:   summary.AlertCount,
	}

	data, err := protocol.EncodeRiskAlert(alert)
	if err != nil {
		p.logger.Error("failed to encode risk alert", zap.Error(err))
		return
	}

	if err := p.alerts.Publish(ctx, assessment.SubjectID, data); err != nil {
		p.logger.Error("failed to publish risk alert",
			zap.String("subject_id", assessment.SubjectID),
			zap.Error(err))
	}
}

func summaryPoint(s *aggregation.DailySummary) series.Point {
	return series.Point{
		Measurement: series.MeasurementSummary,
		SubjectID:   s.SubjectID,
		Timestamp:   s.Day,
		Fields: map[string]any{
			"avg_heart_rate":        s.AvgHeartRate,
			"total_distance_m":      s.TotalDistanceM,
			"high_heart_rate_pct":   s.HighHeartRatePct,
			"avg_arterial_pressure": s.AvgArterialPressure,
			"alert_count":           float64(s.AlertCount),
			"time_active_min":       s.TimeActiveMin,
			"time_sedentary_min":    s.TimeSedentaryMin,
		},
	}
}

func assessmentPoint(a *risk.Assessment) series.Point {
	return series.Point{
		Measurement: series.MeasurementAssessment,
		SubjectID:   a.SubjectID,
		Timestamp:   a.Day,
		Fields: map[string]any{
			"risk_score":    a.RiskScore,
			"risk_level":    float64(a.RiskLevel),
			"risk_label":    a.RiskLabel,
			"model_name":    a.ModelName,
			"model_version": a.ModelVersion,
		},
	}
}
