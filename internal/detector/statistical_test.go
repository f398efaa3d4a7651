package detector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seowatch/seowatch-backend/internal/models"
)

func testConfig() Config {
	return Config{
		WindowDays:        30,
		MinWindowPoints:   7,
		ZThreshold:        3.0,
		ZCeiling:          6.0,
		OutlierPercentile: 0.95,
		SeasonCycleDays:   7,
	}
}

// makeSeries builds a daily series ending with the given tail values appended
// after len(base) alternating-baseline days.
func makeSeries(entity string, metric models.MetricName, values []float64) []models.MetricPoint {
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	series := make([]models.MetricPoint, len(values))
	for i, v := range values {
		series[i] = models.MetricPoint{
			EntityID: entity,
			Metric:   metric,
			Date:     start.AddDate(0, 0, i),
			Value:    v,
		}
	}
	return series
}

// baselineValues alternates around 100 with amplitude 10, giving mean 100 and
// a sample stddev close to 10.
func baselineValues(n int) []float64 {
	values := make([]float64, n)
	for i := range values {
		if i%2 == 0 {
			values[i] = 90
		} else {
			values[i] = 110
		}
	}
	return values
}

func TestStatistical_FlagsHighZScore(t *testing.T) {
	// Baseline mean 100, stddev ~10; final point 135 gives z ~3.5 with a
	// threshold of 3.0, so a candidate must be emitted.
	values := append(baselineValues(30), 135)
	series := makeSeries("page-1", models.MetricSearchClicks, values)

	d := NewStatistical(testConfig(), nil)
	candidates := d.Detect(series)

	require.Len(t, candidates, 1)
	c := candidates[0]
	assert.Equal(t, models.DetectorStatistical, c.Detector)
	assert.Equal(t, models.DirectionAbove, c.Direction)
	assert.Greater(t, c.RawScore, 3.0)
	assert.Greater(t, c.Confidence, 0.5)
	assert.LessOrEqual(t, c.Confidence, 1.0)
	assert.Equal(t, models.Day(series[len(series)-1].Date), c.Date)
}

func TestStatistical_BelowBaselineDirection(t *testing.T) {
	values := append(baselineValues(30), 55)
	series := makeSeries("page-1", models.MetricSearchClicks, values)

	d := NewStatistical(testConfig(), nil)
	candidates := d.Detect(series)

	require.Len(t, candidates, 1)
	assert.Equal(t, models.DirectionBelow, candidates[0].Direction)
}

func TestStatistical_InsufficientHistoryIsNotAnError(t *testing.T) {
	series := makeSeries("page-1", models.MetricSearchClicks, []float64{100, 101, 350})

	d := NewStatistical(testConfig(), nil)
	candidates := d.Detect(series)

	assert.Empty(t, candidates)
}

func TestStatistical_WithinBandEmitsNothing(t *testing.T) {
	values := append(baselineValues(30), 104)
	series := makeSeries("page-1", models.MetricSearchClicks, values)

	d := NewStatistical(testConfig(), nil)
	assert.Empty(t, d.Detect(series))
}

func TestStatistical_PerMetricThresholdOverride(t *testing.T) {
	// z ~2.3: below the default 3.0 threshold but above a 2.0 override.
	values := append(baselineValues(30), 123)
	series := makeSeries("kw-1", models.MetricKeywordRank, values)

	d := NewStatistical(testConfig(), nil)
	assert.Empty(t, d.Detect(series))

	override := NewStatistical(testConfig(), func(metric string) float64 {
		if metric == string(models.MetricKeywordRank) {
			return 2.0
		}
		return 3.0
	})
	assert.Len(t, override.Detect(series), 1)
}

func TestStatistical_ConfidenceSaturates(t *testing.T) {
	// z far beyond the ceiling of 6.0 saturates confidence at 1.0.
	values := append(baselineValues(30), 300)
	series := makeSeries("page-1", models.MetricSearchClicks, values)

	d := NewStatistical(testConfig(), nil)
	candidates := d.Detect(series)

	require.Len(t, candidates, 1)
	assert.Equal(t, 1.0, candidates[0].Confidence)
}

func TestStatistical_FlatBaselineSkipped(t *testing.T) {
	values := make([]float64, 31)
	for i := range values {
		values[i] = 100
	}
	values[30] = 500
	series := makeSeries("page-1", models.MetricSearchClicks, values)

	d := NewStatistical(testConfig(), nil)
	assert.Empty(t, d.Detect(series))
}
