// Package detector implements the three independent anomaly detection
// methods: statistical (rolling z-score), outlier (multivariate distance
// scorer), and forecast (seasonal confidence band).
//
// A detector that cannot evaluate a series (insufficient history, unusable
// scorer) returns an empty slice: absence of a candidate is a valid outcome,
// never an error. Fusion tolerates any subset of methods reporting.
package detector

import (
	"math"

	"github.com/seowatch/seowatch-backend/internal/models"
)

// Detector is one detection method over an ordered daily series.
type Detector interface {
	Kind() models.DetectorKind
	// Detect scores the series and returns zero or more candidates.
	// The series must be ordered by date ascending; missing days are absent,
	// not zero.
	Detect(series []models.MetricPoint) []models.AnomalyCandidate
}

// Config carries the tunables shared by the detection methods.
type Config struct {
	// WindowDays is the trailing window for the statistical baseline.
	WindowDays int
	// MinWindowPoints is the minimum trailing population; below it the
	// statistical detector emits nothing for that point.
	MinWindowPoints int
	// ZThreshold flags a point when |value-mean|/stddev exceeds it.
	ZThreshold float64
	// ZCeiling is the z-score at which confidence saturates to 1.0.
	ZCeiling float64
	// OutlierPercentile marks points whose score exceeds this percentile of
	// the series' historical scores.
	OutlierPercentile float64
	// OutlierMinScore is the absolute score floor below which no point is a
	// candidate regardless of percentile rank. Zero means the default.
	OutlierMinScore float64
	// SeasonCycleDays is the forecast seasonality period (7 = weekly).
	SeasonCycleDays int
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64, m float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var ss float64
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

// slope fits a least-squares line over the values (x = index) and returns its
// gradient, used as the recent-trend feature.
func slope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// direction classifies which side of the baseline the value landed on.
func direction(value, baseline float64) models.Direction {
	if value >= baseline {
		return models.DirectionAbove
	}
	return models.DirectionBelow
}

// magnitudePct is the relative deviation from baseline in percent. A zero
// baseline yields 0 rather than an infinity.
func magnitudePct(value, baseline float64) float64 {
	if baseline == 0 {
		return 0
	}
	return math.Abs(value-baseline) / math.Abs(baseline) * 100
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
