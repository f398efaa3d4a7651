package detector

import (
	"math"
	"time"

	"github.com/seowatch/seowatch-backend/internal/models"
)

// Forecast flags points falling outside a seasonal forecast's confidence
// band. The forecast is a per-season-slot mean with a 95% band; it needs at
// least two full seasonal cycles of history or it skips the series.
type Forecast struct {
	cfg Config
}

// bandZ is the 95% confidence interval half-width in standard deviations.
const bandZ = 1.96

func NewForecast(cfg Config) *Forecast {
	return &Forecast{cfg: cfg}
}

func (d *Forecast) Kind() models.DetectorKind {
	return models.DetectorForecast
}

func (d *Forecast) Detect(series []models.MetricPoint) []models.AnomalyCandidate {
	var out []models.AnomalyCandidate
	cycle := d.cfg.SeasonCycleDays
	if cycle <= 0 {
		cycle = 7
	}
	if len(series) < 2*cycle {
		return out
	}

	for i := range series {
		history := series[:i]
		if len(history) < 2*cycle {
			continue
		}

		lo, hi, ok := d.band(history, series[i].Date)
		if !ok {
			continue
		}
		v := series[i].Value
		if v >= lo && v <= hi {
			continue
		}

		center := (lo + hi) / 2
		width := hi - lo
		var overshoot float64
		if v > hi {
			overshoot = v - hi
		} else {
			overshoot = lo - v
		}
		var conf float64
		if width > 0 {
			conf = clamp01(overshoot / width)
		} else {
			conf = 1.0
		}

		out = append(out, models.AnomalyCandidate{
			EntityID:     series[i].EntityID,
			Metric:       series[i].Metric,
			Date:         models.Day(series[i].Date),
			Detector:     models.DetectorForecast,
			Direction:    direction(v, center),
			RawScore:     overshoot,
			Confidence:   conf,
			MagnitudePct: magnitudePct(v, center),
		})
	}
	return out
}

// band forecasts the confidence interval for a date from the history's
// same-season-slot observations (same weekday for a 7-day cycle). Needs at
// least two observations in the slot.
func (d *Forecast) band(history []models.MetricPoint, date time.Time) (float64, float64, bool) {
	cycle := d.cfg.SeasonCycleDays
	if cycle <= 0 {
		cycle = 7
	}
	slot := seasonSlot(date, cycle)

	var vals []float64
	for _, p := range history {
		if seasonSlot(p.Date, cycle) == slot {
			vals = append(vals, p.Value)
		}
	}
	if len(vals) < 2 {
		return 0, 0, false
	}
	mu := mean(vals)
	sigma := stddev(vals, mu)
	if sigma == 0 {
		// Degenerate band: widen slightly so identical history tolerates
		// floating-point noise without flagging.
		eps := math.Abs(mu) * 1e-9
		return mu - eps, mu + eps, true
	}
	return mu - bandZ*sigma, mu + bandZ*sigma, true
}

// seasonSlot maps a date onto its position within the seasonal cycle.
// For the default 7-day cycle this is the weekday.
func seasonSlot(date time.Time, cycle int) int {
	if cycle == 7 {
		return int(date.Weekday())
	}
	return int(date.UTC().Unix()/86400) % cycle
}
