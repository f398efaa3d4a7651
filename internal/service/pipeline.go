package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/seowatch/seowatch-backend/internal/alerting"
	"github.com/seowatch/seowatch-backend/internal/config"
	"github.com/seowatch/seowatch-backend/internal/detector"
	"github.com/seowatch/seowatch-backend/internal/fusion"
	"github.com/seowatch/seowatch-backend/internal/metricstore"
	"github.com/seowatch/seowatch-backend/internal/models"
	"github.com/seowatch/seowatch-backend/internal/pkg/metrics"
	"github.com/seowatch/seowatch-backend/internal/repository"
)

// seriesCacheSize bounds the per-process series cache. Entries are one
// (entity, metric, day) window each.
const seriesCacheSize = 512

// AlertHook observes every suppression decision, for the live dashboard feed.
type AlertHook func(alert *models.Alert, outcome alerting.AdmitOutcome)

// RunSummary reports what one detection run did.
type RunSummary struct {
	SeriesScanned    int           `json:"series_scanned"`
	SeriesFailed     int           `json:"series_failed,omitempty"`
	Candidates       int           `json:"candidates"`
	Anomalies        int           `json:"anomalies"`
	AlertsCreated    int           `json:"alerts_created"`
	AlertsSuppressed int           `json:"alerts_suppressed"`
	Duration         time.Duration `json:"duration"`
	StartedAt        time.Time     `json:"started_at"`
}

// PipelineService runs the full detection pass: read series, run the three
// detectors, fuse candidates into canonical anomalies, evaluate alert rules,
// admit alerts through suppression, and enqueue delivery jobs.
type PipelineService struct {
	reader     metricstore.Reader
	detectors  []detector.Detector
	fuser      *fusion.Engine
	evaluator  *alerting.Engine
	suppressor *alerting.Suppressor
	enqueuer   Enqueuer
	rules      *alerting.RuleSet
	anomalies  repository.AnomalyRepository
	alerts     repository.AlertRepository
	cfg        *config.Config
	log        *slog.Logger
	onAlert    AlertHook

	// cache keeps recently read series so the retention sweep doesn't re-read
	// what the run just fetched.
	cache *lru.Cache[string, []models.MetricPoint]

	// runMu serializes detection runs; overlapping passes would race the
	// anomaly ratchet for no benefit.
	runMu sync.Mutex
}

// Enqueuer is the slice of the notification layer the pipeline needs.
type Enqueuer interface {
	EnqueueAlert(ctx context.Context, rule models.AlertRule, alert *models.Alert) (int, error)
}

func NewPipelineService(
	reader metricstore.Reader,
	detectors []detector.Detector,
	fuser *fusion.Engine,
	evaluator *alerting.Engine,
	suppressor *alerting.Suppressor,
	enqueuer Enqueuer,
	rules *alerting.RuleSet,
	anomalies repository.AnomalyRepository,
	alerts repository.AlertRepository,
	cfg *config.Config,
	log *slog.Logger,
) *PipelineService {
	if log == nil {
		log = slog.Default()
	}
	cache, _ := lru.New[string, []models.MetricPoint](seriesCacheSize)
	return &PipelineService{
		reader:     reader,
		detectors:  detectors,
		fuser:      fuser,
		evaluator:  evaluator,
		suppressor: suppressor,
		enqueuer:   enqueuer,
		rules:      rules,
		anomalies:  anomalies,
		alerts:     alerts,
		cfg:        cfg,
		log:        log,
		cache:      cache,
	}
}

// SetAlertHook installs the dashboard broadcast callback.
func (s *PipelineService) SetAlertHook(hook AlertHook) {
	s.onAlert = hook
}

// Run executes one detection pass over every known series.
func (s *PipelineService) Run(ctx context.Context) (*RunSummary, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	tracer := otel.Tracer("seowatch/pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()

	// A fresh run always sees fresh data; cached windows only serve the
	// sweep that follows.
	s.cache.Purge()

	start := time.Now()
	summary := &RunSummary{StartedAt: start.UTC()}

	keys, err := s.reader.SeriesKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list series keys: %w", err)
	}
	summary.SeriesScanned = len(keys)

	candidates, failed, err := s.detect(ctx, keys)
	if err != nil {
		return nil, err
	}
	summary.SeriesFailed = failed
	summary.Candidates = len(candidates)

	anomalies, err := s.fuser.Fuse(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("fuse candidates: %w", err)
	}
	summary.Anomalies = len(anomalies)

	for _, anomaly := range anomalies {
		created, suppressed, err := s.alert(ctx, anomaly)
		if err != nil {
			// One bad anomaly must not abort the rest of the run.
			s.log.Error("alerting failed", "anomaly", anomaly.ID, "error", err)
			continue
		}
		summary.AlertsCreated += created
		summary.AlertsSuppressed += suppressed
	}

	summary.Duration = time.Since(start)
	metrics.PipelineRunDurationSeconds.Observe(summary.Duration.Seconds())
	span.SetAttributes(
		attribute.Int("series", summary.SeriesScanned),
		attribute.Int("candidates", summary.Candidates),
		attribute.Int("anomalies", summary.Anomalies),
		attribute.Int("alerts", summary.AlertsCreated),
	)
	s.log.Info("detection run finished",
		"series", summary.SeriesScanned,
		"candidates", summary.Candidates,
		"anomalies", summary.Anomalies,
		"alerts_created", summary.AlertsCreated,
		"alerts_suppressed", summary.AlertsSuppressed,
		"duration", summary.Duration)
	return summary, nil
}

// detect fans the detectors out over every series, bounded by the worker
// count. Detectors are pure, so only the shared state needs guarding.
// A failed series read is logged and skipped; only the metric store being
// unavailable for every series fails the run.
func (s *PipelineService) detect(ctx context.Context, keys []repository.SeriesKey) ([]models.AnomalyCandidate, int, error) {
	var (
		mu         sync.Mutex
		candidates []models.AnomalyCandidate
		failed     int
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.WorkerCount)

	for _, key := range keys {
		key := key
		g.Go(func() error {
			series, err := s.series(ctx, key.EntityID, key.Metric)
			if err != nil {
				s.log.Error("series read failed",
					"entity", key.EntityID, "metric", key.Metric, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			for _, d := range s.detectors {
				found := d.Detect(series)
				result := "ok"
				if len(found) == 0 {
					result = "empty"
				}
				metrics.DetectorRunsTotal.WithLabelValues(string(d.Kind()), result).Inc()
				if len(found) == 0 {
					continue
				}
				metrics.CandidatesEmittedTotal.WithLabelValues(string(d.Kind())).Add(float64(len(found)))
				mu.Lock()
				candidates = append(candidates, found...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, failed, err
	}
	if failed > 0 && failed == len(keys) {
		return nil, failed, fmt.Errorf("metric store unavailable: all %d series reads failed", failed)
	}
	return candidates, failed, nil
}

// alert evaluates rules for one anomaly and pushes matches through
// suppression and the delivery queue.
func (s *PipelineService) alert(ctx context.Context, anomaly *models.Anomaly) (created, suppressed int, err error) {
	// Resolved is terminal. Re-detection hands the record back unchanged, and
	// it must not re-enter rule evaluation or have its status rewritten.
	if anomaly.Status == models.AnomalyStatusResolved {
		return 0, 0, nil
	}

	matched := s.evaluator.Evaluate(anomaly)
	if len(matched) == 0 {
		return 0, 0, nil
	}

	anyNew := false
	for _, alert := range matched {
		if err := s.alerts.CreateAlert(ctx, alert); err != nil {
			return created, suppressed, fmt.Errorf("create alert: %w", err)
		}

		outcome, err := s.suppressor.Admit(ctx, alert)
		if err != nil {
			return created, suppressed, fmt.Errorf("admit alert %s: %w", alert.ID, err)
		}
		switch outcome {
		case alerting.AdmitNew:
			anyNew = true
			created++
			rule, ok := s.rules.Find(alert.RuleID)
			if !ok {
				return created, suppressed, fmt.Errorf("rule %s vanished", alert.RuleID)
			}
			if _, err := s.enqueuer.EnqueueAlert(ctx, rule, alert); err != nil {
				return created, suppressed, fmt.Errorf("enqueue alert %s: %w", alert.ID, err)
			}
		default:
			suppressed++
			status := models.AlertStatusSuppressed
			if outcome == alerting.AdmitAggregated {
				status = models.AlertStatusAggregated
			}
			if err := s.alerts.UpdateAlertStatus(ctx, alert.ID, status); err != nil {
				return created, suppressed, fmt.Errorf("mark alert %s: %w", alert.ID, err)
			}
			alert.Status = status
		}
		if s.onAlert != nil {
			s.onAlert(alert, outcome)
		}
	}

	status := models.AnomalyStatusSuppressed
	if anyNew {
		status = models.AnomalyStatusAlerted
	}
	if err := s.anomalies.UpdateAnomalyStatus(ctx, anomaly.ID, status); err != nil {
		return created, suppressed, fmt.Errorf("mark anomaly %s: %w", anomaly.ID, err)
	}
	return created, suppressed, nil
}

// Sweep resolves anomalies past retention whose metric has settled back
// inside its statistical baseline.
func (s *PipelineService) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays)
	return s.fuser.ResolveStale(ctx, cutoff, s.backToBaseline)
}

// FlushDigests closes out suppression windows whose end has passed.
func (s *PipelineService) FlushDigests(ctx context.Context) error {
	return s.suppressor.FlushDue(ctx)
}

// backToBaseline re-reads the anomaly's series and checks whether its latest
// point sits inside the z-score threshold again.
func (s *PipelineService) backToBaseline(ctx context.Context, a *models.Anomaly) (bool, error) {
	series, err := s.series(ctx, a.EntityID, a.Metric)
	if err != nil {
		return false, err
	}
	if len(series) < s.cfg.MinWindowPoints+1 {
		return false, nil
	}

	last := series[len(series)-1]
	window := series[:len(series)-1]
	if len(window) > s.cfg.WindowDays {
		window = window[len(window)-s.cfg.WindowDays:]
	}

	var sum float64
	for _, p := range window {
		sum += p.Value
	}
	mean := sum / float64(len(window))
	var ss float64
	for _, p := range window {
		d := p.Value - mean
		ss += d * d
	}
	sigma := math.Sqrt(ss / float64(len(window)-1))
	if sigma == 0 {
		return last.Value == mean, nil
	}
	z := math.Abs(last.Value-mean) / sigma
	return z <= s.cfg.ZThresholdFor(string(a.Metric)), nil
}

// series reads one (entity, metric) window through the LRU cache. The cache
// key includes today so a new day naturally invalidates yesterday's reads.
func (s *PipelineService) series(ctx context.Context, entityID string, metric models.MetricName) ([]models.MetricPoint, error) {
	to := models.Day(time.Now().UTC())
	lookback := s.cfg.WindowDays + 2*s.cfg.SeasonCycleDays
	from := to.AddDate(0, 0, -lookback)

	key := fmt.Sprintf("%s|%s|%s", entityID, metric, models.DayKey(to))
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	series, err := s.reader.Series(ctx, entityID, metric, from, to)
	if err != nil {
		return nil, err
	}
	s.cache.Add(key, series)
	return series, nil
}
