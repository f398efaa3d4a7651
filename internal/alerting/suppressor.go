package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seowatch/seowatch-backend/internal/models"
	"github.com/seowatch/seowatch-backend/internal/pkg/metrics"
	"github.com/seowatch/seowatch-backend/internal/repository"
)

// AdmitOutcome is the suppressor's decision for one alert.
type AdmitOutcome string

const (
	AdmitNew        AdmitOutcome = "new"
	AdmitSuppressed AdmitOutcome = "suppressed"
	AdmitAggregated AdmitOutcome = "aggregated"
)

// DigestSummary is one suppressed alert's entry in a digest accumulator.
type DigestSummary struct {
	AlertID  string          `json:"alert_id"`
	Title    string          `json:"title"`
	Severity models.Severity `json:"severity"`
	At       time.Time       `json:"at"`
}

// FlushFunc delivers a digest for a closed window: one combined notification
// covering the window's suppressed alerts.
type FlushFunc func(ctx context.Context, rule models.AlertRule, s *models.Suppression) error

// Suppressor deduplicates repeat alerts per dedup key inside a time window
// and drives digest aggregation. Concurrent admits for the same key are
// serialized so only one caller can be the first admitter.
type Suppressor struct {
	repo  repository.SuppressionRepository
	rules *RuleSet
	flush FlushFunc
	log   *slog.Logger
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*keyLock
}

// keyLock is a per-dedup-key mutex with a waiter count, so entries can leave
// the map once nobody holds or wants them.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

func NewSuppressor(repo repository.SuppressionRepository, rules *RuleSet, flush FlushFunc, log *slog.Logger) *Suppressor {
	if log == nil {
		log = slog.Default()
	}
	return &Suppressor{
		repo:  repo,
		rules: rules,
		flush: flush,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
		locks: make(map[string]*keyLock),
	}
}

// SetClock overrides the time source, for tests.
func (s *Suppressor) SetClock(now func() time.Time) {
	s.now = now
}

// Admit decides whether the alert opens a new window (deliver it), lands in
// an active window (suppress it), or is folded into a digest.
func (s *Suppressor) Admit(ctx context.Context, alert *models.Alert) (AdmitOutcome, error) {
	rule, ok := s.rules.Find(alert.RuleID)
	if !ok {
		return AdmitNew, fmt.Errorf("unknown rule %s for alert %s", alert.RuleID, alert.ID)
	}

	unlock := s.lock(alert.DedupKey)
	defer unlock()

	now := s.now()
	existing, err := s.repo.GetSuppression(ctx, alert.DedupKey)
	if err != nil {
		return AdmitNew, fmt.Errorf("get suppression: %w", err)
	}

	if existing != nil && existing.WindowEnd.After(now) {
		// Active window: count it, never deliver separately.
		summary := ""
		if rule.Aggregation == models.AggregationDigest {
			raw, _ := json.Marshal(DigestSummary{
				AlertID:  alert.ID,
				Title:    alert.Title,
				Severity: alert.Severity,
				At:       alert.CreatedAt,
			})
			summary = string(raw)
		}
		if err := s.repo.IncrementSuppression(ctx, alert.DedupKey, summary); err != nil {
			return AdmitSuppressed, fmt.Errorf("increment suppression: %w", err)
		}

		outcome := AdmitSuppressed
		if rule.Aggregation == models.AggregationDigest {
			outcome = AdmitAggregated
			if rule.BurstThreshold > 0 {
				if err := s.maybeBurstFlush(ctx, rule, alert.DedupKey); err != nil {
					s.log.Warn("burst flush failed", "dedup_key", alert.DedupKey, "err", err)
				}
			}
		}
		metrics.AlertsTotal.WithLabelValues(string(outcome)).Inc()
		return outcome, nil
	}

	// Window missing or expired: this alert is the first admitter.
	if existing != nil {
		// An expired digest window with unflushed content flushes before the
		// new window opens, so nothing accumulated is lost.
		if !existing.Flushed && rule.Aggregation == models.AggregationDigest && existing.SuppressedCount > 0 && s.flush != nil {
			if err := s.flush(ctx, rule, existing); err != nil {
				return AdmitNew, fmt.Errorf("flush expired digest: %w", err)
			}
		}
		if err := s.repo.DeleteSuppression(ctx, alert.DedupKey); err != nil {
			return AdmitNew, fmt.Errorf("delete expired suppression: %w", err)
		}
	}

	window := rule.SuppressionWindow.Std()
	if err := s.repo.CreateSuppression(ctx, &models.Suppression{
		DedupKey:    alert.DedupKey,
		RuleID:      rule.ID,
		WindowStart: now,
		WindowEnd:   now.Add(window),
	}); err != nil {
		return AdmitNew, fmt.Errorf("create suppression: %w", err)
	}
	metrics.AlertsTotal.WithLabelValues(string(AdmitNew)).Inc()
	return AdmitNew, nil
}

// maybeBurstFlush flushes a digest early once the suppressed count crosses
// the rule's burst threshold, bounding alerting latency for hot windows.
func (s *Suppressor) maybeBurstFlush(ctx context.Context, rule models.AlertRule, dedupKey string) error {
	if s.flush == nil {
		return nil
	}
	cur, err := s.repo.GetSuppression(ctx, dedupKey)
	if err != nil || cur == nil {
		return err
	}
	if cur.Flushed || cur.SuppressedCount < rule.BurstThreshold {
		return nil
	}
	if err := s.flush(ctx, rule, cur); err != nil {
		return err
	}
	return s.repo.MarkFlushed(ctx, dedupKey)
}

// FlushDue closes out windows that have ended: digests with content are
// delivered once, and spent windows are removed so new ones can open.
func (s *Suppressor) FlushDue(ctx context.Context) error {
	due, err := s.repo.ListFlushable(ctx, s.now())
	if err != nil {
		return fmt.Errorf("list flushable: %w", err)
	}
	for _, sup := range due {
		unlock := s.lock(sup.DedupKey)
		rule, ok := s.rules.Find(sup.RuleID)
		// A burst-flushed window already delivered its digest; it only needs
		// deleting here.
		if !sup.Flushed && ok && rule.Aggregation == models.AggregationDigest && sup.SuppressedCount > 0 && s.flush != nil {
			if err := s.flush(ctx, rule, sup); err != nil {
				s.log.Warn("digest flush failed", "dedup_key", sup.DedupKey, "err", err)
				unlock()
				continue
			}
		}
		if err := s.repo.MarkFlushed(ctx, sup.DedupKey); err != nil {
			s.log.Warn("mark flushed failed", "dedup_key", sup.DedupKey, "err", err)
			unlock()
			continue
		}
		if err := s.repo.DeleteSuppression(ctx, sup.DedupKey); err != nil {
			s.log.Warn("delete spent suppression failed", "dedup_key", sup.DedupKey, "err", err)
		}
		unlock()
	}
	return nil
}

func (s *Suppressor) lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()
	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}
