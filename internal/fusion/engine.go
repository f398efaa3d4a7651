// Package fusion merges per-detector anomaly candidates into canonical,
// deduplicated Anomaly records with a combined confidence and severity.
package fusion

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/seowatch/seowatch-backend/internal/models"
	"github.com/seowatch/seowatch-backend/internal/pkg/metrics"
	"github.com/seowatch/seowatch-backend/internal/repository"
)

// Weights scales each detector kind's contribution to the combined
// confidence. Weights need not sum to 1; each scales its detector's trust.
type Weights map[models.DetectorKind]float64

// DefaultWeights mirrors the documented defaults.
func DefaultWeights() Weights {
	return Weights{
		models.DetectorStatistical: 0.4,
		models.DetectorOutlier:     0.3,
		models.DetectorForecast:    0.3,
	}
}

// Bands maps combined confidence onto severity. Total and non-overlapping:
// [0, Medium) low, [Medium, High) medium, [High, 1] high.
type Bands struct {
	Medium float64
	High   float64
}

// Engine fuses candidates and upserts canonical anomalies.
type Engine struct {
	repo    repository.AnomalyRepository
	weights Weights
	bands   Bands
	log     *slog.Logger

	// locks serializes upserts per anomaly id; two runs racing for the same
	// id must merge, not overwrite.
	mu    sync.Mutex
	locks map[string]*idLock
}

// idLock is a per-anomaly-id mutex with a waiter count, so entries leave the
// map once released instead of accumulating per id forever.
type idLock struct {
	mu   sync.Mutex
	refs int
}

func NewEngine(repo repository.AnomalyRepository, weights Weights, bands Bands, log *slog.Logger) *Engine {
	if weights == nil {
		weights = DefaultWeights()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		repo:    repo,
		weights: weights,
		bands:   bands,
		log:     log,
		locks:   make(map[string]*idLock),
	}
}

// Fuse groups the run's candidates by (entity, metric, day, direction),
// combines each group's confidence, and upserts one canonical Anomaly per
// group. Direction is part of the identity: an "above" and a "below" opinion
// for the same day stay separate findings.
func (e *Engine) Fuse(ctx context.Context, candidates []models.AnomalyCandidate) ([]*models.Anomaly, error) {
	groups := make(map[string][]models.AnomalyCandidate)
	for _, c := range candidates {
		id := models.AnomalyID(c.EntityID, c.Metric, c.Date, c.Direction)
		groups[id] = append(groups[id], c)
	}

	// Stable iteration keeps re-runs deterministic.
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []*models.Anomaly
	for _, id := range ids {
		group := groups[id]
		a := e.combine(id, group)

		unlock := e.lock(id)
		outcome, err := e.repo.UpsertAnomaly(ctx, a)
		unlock()
		if err != nil {
			return out, fmt.Errorf("upsert anomaly %s: %w", id, err)
		}
		metrics.AnomaliesUpsertedTotal.WithLabelValues(string(outcome)).Inc()
		if outcome != repository.UpsertUnchanged {
			e.log.Debug("anomaly upserted",
				"id", a.ID, "entity", a.EntityID, "metric", a.Metric,
				"severity", a.Severity, "confidence", a.Confidence, "outcome", string(outcome))
		}
		out = append(out, a)
	}
	return out, nil
}

// combine applies weighted noisy-OR fusion over the group's candidates:
// combined = 1 - Π(1 - w_i*c_i). Adding an agreeing detector can only raise
// the result, which is what keeps confidence monotonic in agreement.
func (e *Engine) combine(id string, group []models.AnomalyCandidate) *models.Anomaly {
	// One opinion per detector kind: keep each kind's strongest candidate.
	best := make(map[models.DetectorKind]models.AnomalyCandidate)
	for _, c := range group {
		if prev, ok := best[c.Detector]; !ok || c.Confidence > prev.Confidence {
			best[c.Detector] = c
		}
	}

	survival := 1.0
	var kinds []models.DetectorKind
	var magnitude float64
	for kind, c := range best {
		conf := clamp01(c.Confidence)
		survival *= 1 - e.weights[kind]*conf
		kinds = append(kinds, kind)
		if c.MagnitudePct > magnitude {
			magnitude = c.MagnitudePct
		}
	}
	combined := 1 - survival

	first := group[0]
	return &models.Anomaly{
		ID:           id,
		EntityID:     first.EntityID,
		Metric:       first.Metric,
		Date:         models.Day(first.Date),
		Direction:    first.Direction,
		Severity:     e.severity(combined),
		Confidence:   combined,
		Detectors:    kinds,
		MagnitudePct: magnitude,
	}
}

// severity maps combined confidence to its configured band.
func (e *Engine) severity(confidence float64) models.Severity {
	switch {
	case confidence >= e.bands.High:
		return models.SeverityHigh
	case confidence >= e.bands.Medium:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// ResolveStale transitions anomalies older than the cutoff to resolved when
// their metric has returned inside the statistical baseline, reported by
// backToBaseline.
func (e *Engine) ResolveStale(ctx context.Context, cutoff time.Time, backToBaseline func(ctx context.Context, a *models.Anomaly) (bool, error)) (int, error) {
	stale, err := e.repo.ListActiveBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale anomalies: %w", err)
	}
	resolved := 0
	for _, a := range stale {
		ok, err := backToBaseline(ctx, a)
		if err != nil {
			// Isolation per anomaly: one unreadable series must not abort
			// the sweep for the rest.
			e.log.Warn("retention sweep: baseline check failed", "anomaly", a.ID, "err", err)
			continue
		}
		if !ok {
			continue
		}
		if err := e.repo.UpdateAnomalyStatus(ctx, a.ID, models.AnomalyStatusResolved); err != nil {
			e.log.Warn("retention sweep: resolve failed", "anomaly", a.ID, "err", err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

func (e *Engine) lock(id string) func() {
	e.mu.Lock()
	l, ok := e.locks[id]
	if !ok {
		l = &idLock{}
		e.locks[id] = l
	}
	l.refs++
	e.mu.Unlock()
	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, id)
		}
		e.mu.Unlock()
	}
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
