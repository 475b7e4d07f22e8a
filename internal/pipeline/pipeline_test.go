package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jortega/vitalwatch-server/internal/aggregation"
	"github.com/jortega/vitalwatch-server/internal/protocol"
	"github.com/jortega/vitalwatch-server/internal/risk"
	"github.com/jortega/vitalwatch-server/internal/series"
)

// readerFunc adapts a function to aggregation.SeriesReader.
type readerFunc func(measurement string, start time.Time) []series.Record

func (f readerFunc) Query(_ context.Context, measurement, _ string, start, _ time.Time) ([]series.Record, error) {
	return f(measurement, start), nil
}

type captureAppender struct {
	points []series.Point
	err    error
}

func (c *captureAppender) Append(_ context.Context, points []series.Point) error {
	if c.err != nil {
		return c.err
	}
	c.points = append(c.points, points...)
	return nil
}

type capturePublisher struct {
	published [][]byte
	err       error
}

func (c *capturePublisher) Publish(_ context.Context, _ string, value []byte) error {
	if c.err != nil {
		return c.err
	}
	c.published = append(c.published, value)
	return nil
}

func vitalsAt(at time.Time, hr float64) series.Record {
	return series.Record{
		Timestamp: at,
		Fields: map[string]any{
			"heart_rate":   hr,
			"systolic_bp":  120.0,
			"diastolic_bp": 80.0,
		},
	}
}

// calmDay serves a fixed set of normal vitals for whatever window is
// asked for.
func calmDay() readerFunc {
	return func(measurement string, start time.Time) []series.Record {
		if measurement != series.MeasurementVitals {
			return nil
		}
		return []series.Record{
			vitalsAt(start.Add(1*time.Minute), 72),
			vitalsAt(start.Add(2*time.Minute), 75),
		}
	}
}

// feverishDay serves vitals that trip every heart-rate factor.
func feverishDay() readerFunc {
	return func(measurement string, start time.Time) []series.Record {
		if measurement != series.MeasurementVitals {
			return nil
		}
		return []series.Record{
			vitalsAt(start.Add(1*time.Minute), 120),
			vitalsAt(start.Add(2*time.Minute), 130),
		}
	}
}

func newPipeline(reader aggregation.SeriesReader, store SeriesAppender, alerts AlertPublisher) *Pipeline {
	logger := zap.NewNop()
	return New(
		aggregation.NewDailyAggregator(reader, logger),
		risk.NewClassifier(risk.DefaultPolicy()),
		store,
		alerts,
		logger,
	)
}

func TestProcessDay_WritesSummaryAndAssessment(t *testing.T) {
	store := &captureAppender{}
	p := newPipeline(calmDay(), store, nil)

	day := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	result, err := p.ProcessDay(context.Background(), "s-1", day)
	require.NoError(t, err)
	require.NotNil(t, result.Summary)
	require.NotNil(t, result.Assessment)
	assert.False(t, result.NoData)

	require.Len(t, store.points, 2)

	summary := store.points[0]
	assert.Equal(t, series.MeasurementSummary, summary.Measurement)
	assert.True(t, summary.Timestamp.Equal(day))
	assert.Equal(t, 73.5, summary.Fields["avg_heart_rate"])
	assert.Equal(t, 0.0, summary.Fields["alert_count"])

	assessment := store.points[1]
	assert.Equal(t, series.MeasurementAssessment, assessment.Measurement)
	assert.True(t, assessment.Timestamp.Equal(day))
	assert.Equal(t, 0.2, assessment.Fields["risk_score"])
	assert.Equal(t, "low", assessment.Fields["risk_label"])
	assert.Equal(t, "daily-risk-model", assessment.Fields["model_name"])
}

func TestProcessDay_NoDataWritesNothing(t *testing.T) {
	store := &captureAppender{}
	empty := readerFunc(func(string, time.Time) []series.Record { return nil })
	p := newPipeline(empty, store, nil)

	result, err := p.ProcessDay(context.Background(), "s-1", time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, result.NoData)
	assert.Nil(t, result.Summary)
	assert.Empty(t, store.points)
}

func TestProcessDay_HighRiskPublishesAlert(t *testing.T) {
	store := &captureAppender{}
	alerts := &capturePublisher{}

	// Feverish vitals trip avg>100 and pct>10: score 0.6. Add a long
	// sedentary day to cross 0.7 via a third factor.
	reader := readerFunc(func(measurement string, start time.Time) []series.Record {
		if measurement == series.MeasurementVitals {
			return feverishDay()(measurement, start)
		}
		// 1443 stationary samples make 1442 pairs, 721 sedentary
		// minutes, just past the 720 threshold.
		var records []series.Record
		for i := 0; i < 1443; i++ {
			records = append(records, series.Record{
				Timestamp: start.Add(time.Duration(i) * 30 * time.Second),
				Fields:    map[string]any{"lat": 19.43, "lon": -99.13},
			})
		}
		return records
	})
	p := newPipeline(reader, store, alerts)

	result, err := p.ProcessDay(context.Background(), "s-1", time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, result.Assessment)
	assert.Equal(t, risk.LabelHigh, result.Assessment.RiskLabel)
	assert.Equal(t, risk.LevelHigh, result.Assessment.RiskLevel)

	require.Len(t, alerts.published, 1)
	alert, err := protocol.DecodeRiskAlert(alerts.published[0])
	require.NoError(t, err)
	assert.Equal(t, "s-1", alert.SubjectID)
	assert.Equal(t, risk.LabelHigh, alert.RiskLabel)
}

func TestProcessDay_AlertPublishFailureIsNotFatal(t *testing.T) {
	store := &captureAppender{}
	alerts := &capturePublisher{err: errors.New("broker unreachable")}

	reader := readerFunc(func(measurement string, start time.Time) []series.Record {
		if measurement != series.MeasurementVitals {
			return nil
		}
		return []series.Record{vitalsAt(start, 120), vitalsAt(start.Add(time.Minute), 130)}
	})
	p := newPipeline(reader, store, alerts)

	_, err := p.ProcessDay(context.Background(), "s-1", time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC))
	assert.NoError(t, err)
	assert.Len(t, store.points, 2)
}

func TestProcessDay_StoreFailureIsAnError(t *testing.T) {
	store := &captureAppender{err: errors.New("connection refused")}
	p := newPipeline(calmDay(), store, nil)

	result, err := p.ProcessDay(context.Background(), "s-1", time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC))
	assert.Error(t, err)
	assert.Nil(t, result)
}

func TestProcessTrailingDays_CapturesPerDayFailures(t *testing.T) {
	calls := 0
	reader := readerFunc(func(measurement string, start time.Time) []series.Record {
		if measurement != series.MeasurementVitals {
			return nil
		}
		calls++
		return []series.Record{vitalsAt(start.Add(time.Minute), 80)}
	})

	// The store fails only the second day's write.
	store := &flakyAppender{failOnCall: 2}
	p := newPipeline(reader, store, nil)

	results := p.ProcessTrailingDays(context.Background(), "s-1", 3)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)

	// Days are processed oldest first.
	assert.True(t, results[0].Day.Before(results[1].Day))
	assert.True(t, results[1].Day.Before(results[2].Day))
}

type flakyAppender struct {
	calls      int
	failOnCall int
}

func (f *flakyAppender) Append(_ context.Context, _ []series.Point) error {
	f.calls++
	if f.calls == f.failOnCall {
		return errors.New("connection reset")
	}
	return nil
}

func TestProcessDay_RerunOverwritesSameTimestamp(t *testing.T) {
	store := &captureAppender{}
	p := newPipeline(calmDay(), store, nil)

	day := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	_, err := p.ProcessDay(context.Background(), "s-1", day)
	require.NoError(t, err)
	_, err = p.ProcessDay(context.Background(), "s-1", day)
	require.NoError(t, err)

	// Both runs address the same (measurement, subject, ts) identity,
	// which the store upserts into a single stored record.
	require.Len(t, store.points, 4)
	assert.Equal(t, store.points[0].Measurement, store.points[2].Measurement)
	assert.Equal(t, store.points[0].SubjectID, store.points[2].SubjectID)
	assert.True(t, store.points[0].Timestamp.Equal(store.points[2].Timestamp))
}
