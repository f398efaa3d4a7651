package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seowatch/seowatch-backend/internal/models"
)

func TestOutlier_FlagsSpike(t *testing.T) {
	values := append(baselineValues(40), 400)
	series := makeSeries("page-1", models.MetricSearchClicks, values)

	d := NewOutlier(testConfig(), nil)
	candidates := d.Detect(series)

	require.NotEmpty(t, candidates)
	spike := candidates[len(candidates)-1]
	assert.Equal(t, models.DetectorOutlier, spike.Detector)
	assert.Equal(t, models.Day(series[len(series)-1].Date), spike.Date)
	assert.Equal(t, models.DirectionAbove, spike.Direction)
	assert.Greater(t, spike.Confidence, 0.5) // spike carries the max score
}

func TestOutlier_QuietSeriesEmitsNothing(t *testing.T) {
	series := makeSeries("page-1", models.MetricSearchClicks, baselineValues(40))

	d := NewOutlier(testConfig(), nil)

	// A normal series always has a highest-scored point; the absolute floor
	// keeps it from becoming a candidate run after run.
	assert.Empty(t, d.Detect(series))
}

func TestOutlier_ConfidenceNotMaxedByConstruction(t *testing.T) {
	values := baselineValues(40)
	series := makeSeries("page-1", models.MetricSearchClicks, values)

	// One score just over the floor must not score full confidence merely for
	// being the series maximum.
	scores := make([]float64, len(values))
	for i := range scores {
		scores[i] = 1.0
	}
	scores[len(scores)-1] = 3.5

	d := NewOutlier(testConfig(), &fixedScorer{scores: scores})
	candidates := d.Detect(series)

	require.Len(t, candidates, 1)
	assert.Less(t, candidates[0].Confidence, 0.5)
	assert.Greater(t, candidates[0].Confidence, 0.0)
}

func TestOutlier_TooFewPointsSkips(t *testing.T) {
	series := makeSeries("page-1", models.MetricSearchClicks, []float64{100, 200, 300})

	d := NewOutlier(testConfig(), nil)
	assert.Empty(t, d.Detect(series))
}

// fixedScorer always returns the provided scores, for exercising the
// percentile cutoff independent of the distance model.
type fixedScorer struct{ scores []float64 }

func (s *fixedScorer) Score(_ []models.MetricPoint, i int) float64 { return s.scores[i] }

func TestOutlier_PercentileCutoff(t *testing.T) {
	values := baselineValues(20)
	series := makeSeries("page-1", models.MetricSearchClicks, values)

	scores := make([]float64, 20)
	for i := range scores {
		scores[i] = 1.0
	}
	scores[19] = 10.0 // single clear outlier

	d := NewOutlier(testConfig(), &fixedScorer{scores: scores})
	candidates := d.Detect(series)

	require.Len(t, candidates, 1)
	assert.Equal(t, 10.0, candidates[0].RawScore)
	assert.Equal(t, 1.0, candidates[0].Confidence)
}
