package detector

import (
	"math"

	"github.com/seowatch/seowatch-backend/internal/models"
)

// Statistical flags points deviating from a rolling mean/stddev baseline
// beyond a z-score threshold. The point under test is excluded from its own
// baseline.
type Statistical struct {
	cfg Config
	// thresholdFor resolves the per-metric z threshold override.
	thresholdFor func(metric string) float64
}

// NewStatistical builds the detector. thresholdFor may be nil, in which case
// the config default applies to every metric.
func NewStatistical(cfg Config, thresholdFor func(metric string) float64) *Statistical {
	if thresholdFor == nil {
		thresholdFor = func(string) float64 { return cfg.ZThreshold }
	}
	return &Statistical{cfg: cfg, thresholdFor: thresholdFor}
}

func (d *Statistical) Kind() models.DetectorKind {
	return models.DetectorStatistical
}

func (d *Statistical) Detect(series []models.MetricPoint) []models.AnomalyCandidate {
	var out []models.AnomalyCandidate
	if len(series) == 0 {
		return out
	}
	threshold := d.thresholdFor(string(series[0].Metric))

	for i := range series {
		start := i - d.cfg.WindowDays
		if start < 0 {
			start = 0
		}
		window := series[start:i] // excludes the point under test
		if len(window) < d.cfg.MinWindowPoints {
			continue
		}

		values := make([]float64, len(window))
		for j, p := range window {
			values[j] = p.Value
		}
		mu := mean(values)
		sigma := stddev(values, mu)
		if sigma == 0 {
			// Flat baseline: any change is a shift, but z is undefined. Skip.
			continue
		}

		z := math.Abs(series[i].Value-mu) / sigma
		if z <= threshold {
			continue
		}

		out = append(out, models.AnomalyCandidate{
			EntityID:     series[i].EntityID,
			Metric:       series[i].Metric,
			Date:         models.Day(series[i].Date),
			Detector:     models.DetectorStatistical,
			Direction:    direction(series[i].Value, mu),
			RawScore:     z,
			Confidence:   d.confidence(z, threshold),
			MagnitudePct: magnitudePct(series[i].Value, mu),
		})
	}
	return out
}

// confidence scales with the z-score above the threshold and saturates at 1.0
// once z reaches the configured ceiling. A just-over-threshold point starts at
// 0.5 so that even a single marginal detection carries signal into fusion.
func (d *Statistical) confidence(z, threshold float64) float64 {
	ceiling := d.cfg.ZCeiling
	if ceiling <= threshold {
		return 1.0
	}
	frac := clamp01((z - threshold) / (ceiling - threshold))
	return 0.5 + 0.5*frac
}
