package detector

import (
	"math"
	"sort"

	"github.com/seowatch/seowatch-backend/internal/models"
)

// Scorer rates how abnormal one point is against its multivariate context.
// The production scorer is retrained offline; any implementation scoring
// normal-vs-anomalous works here, which keeps the fusion contract independent
// of the model internals.
type Scorer interface {
	// Score returns a non-negative abnormality score for the point at index i.
	Score(series []models.MetricPoint, i int) float64
}

// defaultOutlierMinScore is the absolute floor (in combined sigma units) a
// score must clear before the percentile cutoff even applies. Without it a
// quiet series would flag its own least-quiet point every run.
const defaultOutlierMinScore = 3.0

// Outlier flags points whose scorer rating exceeds both an absolute floor and
// a configured percentile of the series' own historical scores. The scorer is
// stateful and injected.
type Outlier struct {
	cfg    Config
	scorer Scorer
}

func NewOutlier(cfg Config, scorer Scorer) *Outlier {
	if scorer == nil {
		scorer = &DistanceScorer{}
	}
	return &Outlier{cfg: cfg, scorer: scorer}
}

func (d *Outlier) Kind() models.DetectorKind {
	return models.DetectorOutlier
}

func (d *Outlier) Detect(series []models.MetricPoint) []models.AnomalyCandidate {
	var out []models.AnomalyCandidate
	if len(series) < d.cfg.MinWindowPoints {
		return out
	}

	scores := make([]float64, len(series))
	for i := range series {
		scores[i] = d.scorer.Score(series, i)
	}

	// The floor is absolute: the percentile cutoff only ranks points within
	// the series, so on its own it would promote the top of a perfectly
	// normal series to a candidate.
	floor := percentile(scores, d.cfg.OutlierPercentile)
	minScore := d.cfg.OutlierMinScore
	if minScore <= 0 {
		minScore = defaultOutlierMinScore
	}
	if minScore > floor {
		floor = minScore
	}

	values := make([]float64, len(series))
	for i, p := range series {
		values[i] = p.Value
	}
	baseline := mean(values)

	for i := range series {
		if scores[i] <= floor {
			continue
		}
		out = append(out, models.AnomalyCandidate{
			EntityID:     series[i].EntityID,
			Metric:       series[i].Metric,
			Date:         models.Day(series[i].Date),
			Detector:     models.DetectorOutlier,
			Direction:    direction(series[i].Value, baseline),
			RawScore:     scores[i],
			Confidence:   outlierConfidence(scores[i], floor),
			MagnitudePct: magnitudePct(series[i].Value, baseline),
		})
	}
	return out
}

// outlierConfidence normalizes a score against the absolute floor rather than
// the run's own maximum, so a series' top score is not full confidence by
// construction. Saturates at twice the floor.
func outlierConfidence(score, floor float64) float64 {
	if floor <= 0 {
		return 1
	}
	return clamp01((score - floor) / floor)
}

// percentile returns the p-quantile (0..1) of the values.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// DistanceScorer is the reference scorer: a Mahalanobis-style distance over
// (value, day-of-week deviation, trend slope) with a diagonal covariance.
type DistanceScorer struct{}

func (s *DistanceScorer) Score(series []models.MetricPoint, i int) float64 {
	values := make([]float64, len(series))
	for j, p := range series {
		values[j] = p.Value
	}
	mu := mean(values)
	sigma := stddev(values, mu)

	// Feature 1: standardized value.
	var f1 float64
	if sigma > 0 {
		f1 = (series[i].Value - mu) / sigma
	}

	// Feature 2: deviation from this weekday's own mean.
	wd := series[i].Date.Weekday()
	var wdVals []float64
	for j, p := range series {
		if j != i && p.Date.Weekday() == wd {
			wdVals = append(wdVals, p.Value)
		}
	}
	var f2 float64
	if len(wdVals) >= 2 {
		wdMu := mean(wdVals)
		wdSigma := stddev(wdVals, wdMu)
		if wdSigma > 0 {
			f2 = (series[i].Value - wdMu) / wdSigma
		}
	}

	// Feature 3: break against the recent trend over the trailing week.
	start := i - 7
	if start < 0 {
		start = 0
	}
	trail := values[start:i]
	var f3 float64
	if len(trail) >= 3 && sigma > 0 {
		sl := slope(trail)
		expected := trail[len(trail)-1] + sl
		f3 = (series[i].Value - expected) / sigma
	}

	return math.Sqrt(f1*f1 + f2*f2 + f3*f3)
}
