package aggregation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jortega/vitalwatch-server/internal/series"
)

type fakeReader struct {
	vitals      []series.Record
	locations   []series.Record
	vitalsErr   error
	locationErr error
}

func (f *fakeReader) Query(_ context.Context, measurement, _ string, _, _ time.Time) ([]series.Record, error) {
	switch measurement {
	case series.MeasurementVitals:
		return f.vitals, f.vitalsErr
	case series.MeasurementLocation:
		return f.locations, f.locationErr
	}
	return nil, nil
}

func day() time.Time {
	return time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
}

func vitalsRecord(at time.Time, hr, sbp, dbp float64) series.Record {
	return series.Record{
		Timestamp: at,
		Fields: map[string]any{
			"heart_rate":   hr,
			"systolic_bp":  sbp,
			"diastolic_bp": dbp,
		},
	}
}

func locationRecord(at time.Time, lat, lon float64) series.Record {
	return series.Record{
		Timestamp: at,
		Fields:    map[string]any{"lat": lat, "lon": lon},
	}
}

func TestAggregate_NoHeartRateYieldsNoSummary(t *testing.T) {
	reader := &fakeReader{
		// Plenty of location data, but not a single vitals point.
		locations: []series.Record{
			locationRecord(day().Add(time.Minute), 19.43, -99.13),
			locationRecord(day().Add(2*time.Minute), 19.44, -99.14),
		},
	}
	agg := NewDailyAggregator(reader, zap.NewNop())

	summary, err := agg.Aggregate(context.Background(), "s-1", day())
	require.NoError(t, err)
	assert.Nil(t, summary)
}

func TestAggregate_HeartRateStats(t *testing.T) {
	rates := []float64{90, 95, 105, 110, 85}
	var vitals []series.Record
	for i, hr := range rates {
		vitals = append(vitals, vitalsRecord(day().Add(time.Duration(i)*time.Minute), hr, 125, 80))
	}
	agg := NewDailyAggregator(&fakeReader{vitals: vitals}, zap.NewNop())

	summary, err := agg.Aggregate(context.Background(), "s-1", day())
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.InDelta(t, 97, summary.AvgHeartRate, 1e-9)
	assert.Equal(t, 2, summary.AlertCount)
	assert.InDelta(t, 40, summary.HighHeartRatePct, 1e-9)
	assert.InDelta(t, 125, summary.AvgSystolic, 1e-9)
}

func TestAggregate_ArterialPressureFormula(t *testing.T) {
	vitals := []series.Record{
		vitalsRecord(day().Add(time.Minute), 80, 120, 90),
		vitalsRecord(day().Add(2*time.Minute), 82, 130, 70),
	}
	agg := NewDailyAggregator(&fakeReader{vitals: vitals}, zap.NewNop())

	summary, err := agg.Aggregate(context.Background(), "s-1", day())
	require.NoError(t, err)
	require.NotNil(t, summary)

	// (125 + 2*80) / 3
	assert.InDelta(t, (125.0+2*80.0)/3.0, summary.AvgArterialPressure, 1e-9)
}

func TestAggregate_BloodPressureDefaults(t *testing.T) {
	// Heart rate only, no pressure fields at all.
	vitals := []series.Record{
		{Timestamp: day().Add(time.Minute), Fields: map[string]any{"heart_rate": 72.0}},
	}
	agg := NewDailyAggregator(&fakeReader{vitals: vitals}, zap.NewNop())

	summary, err := agg.Aggregate(context.Background(), "s-1", day())
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.InDelta(t, 120, summary.AvgSystolic, 1e-9)
	assert.InDelta(t, 80, summary.AvgDiastolic, 1e-9)
	assert.InDelta(t, (120.0+2*80.0)/3.0, summary.AvgArterialPressure, 1e-9)
}

func TestAggregate_ActivityMinutesSplitPairs(t *testing.T) {
	vitals := []series.Record{vitalsRecord(day().Add(time.Minute), 70, 120, 80)}

	// Five samples: four consecutive pairs, each worth 0.5 minutes.
	// A 0.001 degree hop (~111 m) is active; a repeat position is sedentary.
	locations := []series.Record{
		locationRecord(day().Add(1*time.Minute), 19.4320, -99.1330),
		locationRecord(day().Add(2*time.Minute), 19.4330, -99.1330), // active
		locationRecord(day().Add(3*time.Minute), 19.4330, -99.1330), // sedentary
		locationRecord(day().Add(4*time.Minute), 19.4340, -99.1330), // active
		locationRecord(day().Add(5*time.Minute), 19.4340, -99.1330), // sedentary
	}
	agg := NewDailyAggregator(&fakeReader{vitals: vitals, locations: locations}, zap.NewNop())

	summary, err := agg.Aggregate(context.Background(), "s-1", day())
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.InDelta(t, 1.0, summary.TimeActiveMin, 1e-9)
	assert.InDelta(t, 1.0, summary.TimeSedentaryMin, 1e-9)
	// n samples produce 0.5*(n-1) classified minutes in total.
	assert.InDelta(t, 0.5*float64(len(locations)-1), summary.TimeActiveMin+summary.TimeSedentaryMin, 1e-9)
	assert.Greater(t, summary.TotalDistanceM, 0.0)
}

func TestAggregate_SingleLocationSampleHasNoMovement(t *testing.T) {
	vitals := []series.Record{vitalsRecord(day().Add(time.Minute), 70, 120, 80)}
	locations := []series.Record{locationRecord(day().Add(time.Minute), 19.43, -99.13)}
	agg := NewDailyAggregator(&fakeReader{vitals: vitals, locations: locations}, zap.NewNop())

	summary, err := agg.Aggregate(context.Background(), "s-1", day())
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.Zero(t, summary.TotalDistanceM)
	assert.Zero(t, summary.TimeActiveMin)
	assert.Zero(t, summary.TimeSedentaryMin)
}

func TestAggregate_DropsIncompleteCoordinates(t *testing.T) {
	vitals := []series.Record{vitalsRecord(day().Add(time.Minute), 70, 120, 80)}
	locations := []series.Record{
		locationRecord(day().Add(1*time.Minute), 19.4320, -99.1330),
		{Timestamp: day().Add(2 * time.Minute), Fields: map[string]any{"lat": 19.4500}}, // no lon
		locationRecord(day().Add(3*time.Minute), 19.4320, -99.1330),
	}
	agg := NewDailyAggregator(&fakeReader{vitals: vitals, locations: locations}, zap.NewNop())

	summary, err := agg.Aggregate(context.Background(), "s-1", day())
	require.NoError(t, err)
	require.NotNil(t, summary)

	// The incomplete sample is discarded, leaving one stationary pair.
	assert.Zero(t, summary.TotalDistanceM)
	assert.InDelta(t, 0.5, summary.TimeSedentaryMin, 1e-9)
}

func TestAggregate_LocationQueryFailureDegradesToZero(t *testing.T) {
	vitals := []series.Record{vitalsRecord(day().Add(time.Minute), 70, 120, 80)}
	agg := NewDailyAggregator(&fakeReader{
		vitals:      vitals,
		locationErr: errors.New("connection refused"),
	}, zap.NewNop())

	summary, err := agg.Aggregate(context.Background(), "s-1", day())
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Zero(t, summary.TotalDistanceM)
}

func TestAggregate_VitalsQueryFailureIsAnError(t *testing.T) {
	agg := NewDailyAggregator(&fakeReader{vitalsErr: errors.New("connection refused")}, zap.NewNop())

	summary, err := agg.Aggregate(context.Background(), "s-1", day())
	assert.Error(t, err)
	assert.Nil(t, summary)
}
