package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/seowatch/seowatch-backend/internal/models"
	"github.com/seowatch/seowatch-backend/internal/repository"
)

// NotificationPayload is the rendered body stored on a job and interpreted by
// the channel adapters. Kind is "alert" for a single delivery and "digest"
// for an aggregated window summary.
type NotificationPayload struct {
	Kind            string            `json:"kind"`
	AlertID         string            `json:"alert_id,omitempty"`
	RuleID          string            `json:"rule_id"`
	EntityID        string            `json:"entity_id,omitempty"`
	Metric          models.MetricName `json:"metric,omitempty"`
	Severity        models.Severity   `json:"severity"`
	Title           string            `json:"title"`
	Message         string            `json:"message"`
	Snapshot        json.RawMessage   `json:"snapshot,omitempty"`
	SuppressedCount int               `json:"suppressed_count,omitempty"`
	Alerts          []json.RawMessage `json:"alerts,omitempty"`
	At              time.Time         `json:"at"`
}

// Enqueuer fans an admitted alert out to its rule's channels as durable jobs.
// Enqueue is idempotent per (alert, channel): replays of the same alert do
// not create duplicate work.
type Enqueuer struct {
	repo repository.NotificationRepository
	log  *slog.Logger
}

func NewEnqueuer(repo repository.NotificationRepository, log *slog.Logger) *Enqueuer {
	if log == nil {
		log = slog.Default()
	}
	return &Enqueuer{repo: repo, log: log}
}

// EnqueueAlert creates one job per rule channel. Returns how many jobs were
// newly created (already-enqueued pairs are skipped, not errors).
func (e *Enqueuer) EnqueueAlert(ctx context.Context, rule models.AlertRule, alert *models.Alert) (int, error) {
	payload := NotificationPayload{
		Kind:     "alert",
		AlertID:  alert.ID,
		RuleID:   rule.ID,
		EntityID: alert.EntityID,
		Metric:   alert.Metric,
		Severity: alert.Severity,
		Title:    alert.Title,
		Message:  alert.Message,
		Snapshot: json.RawMessage(alert.Snapshot),
		At:       time.Now().UTC(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}

	created := 0
	for _, target := range rule.Channels {
		ok, err := e.repo.CreateJob(ctx, &models.NotificationJob{
			AlertID:     alert.ID,
			Channel:     target.Channel,
			Destination: target.Destination,
			Payload:     string(raw),
			Severity:    alert.Severity,
		})
		if err != nil {
			return created, fmt.Errorf("enqueue %s job for alert %s: %w", target.Channel, alert.ID, err)
		}
		if ok {
			created++
		} else {
			e.log.Debug("job already enqueued", "alert_id", alert.ID, "channel", target.Channel)
		}
	}
	return created, nil
}

// EnqueueDigest creates the combined notification for a closed suppression
// window. The synthetic alert id keys idempotency per window.
func (e *Enqueuer) EnqueueDigest(ctx context.Context, rule models.AlertRule, sup *models.Suppression) (int, error) {
	var summaries []json.RawMessage
	if sup.DigestRaw != "" {
		if err := json.Unmarshal([]byte(sup.DigestRaw), &summaries); err != nil {
			return 0, fmt.Errorf("decode digest: %w", err)
		}
	}

	severity := highestDigestSeverity(summaries)
	payload := NotificationPayload{
		Kind:            "digest",
		RuleID:          rule.ID,
		Severity:        severity,
		Title:           fmt.Sprintf("%s: %d suppressed alerts", rule.Name, sup.SuppressedCount),
		Message:         fmt.Sprintf("%d alerts were suppressed between %s and %s.", sup.SuppressedCount, sup.WindowStart.Format(time.RFC3339), sup.WindowEnd.Format(time.RFC3339)),
		SuppressedCount: sup.SuppressedCount,
		Alerts:          summaries,
		At:              time.Now().UTC(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}

	// One digest per (dedup key, window start) no matter how often flush runs.
	digestID := fmt.Sprintf("digest:%s:%d", sup.DedupKey, sup.WindowStart.Unix())

	created := 0
	for _, target := range rule.Channels {
		ok, err := e.repo.CreateJob(ctx, &models.NotificationJob{
			AlertID:     digestID,
			Channel:     target.Channel,
			Destination: target.Destination,
			Payload:     string(raw),
			Severity:    severity,
		})
		if err != nil {
			return created, fmt.Errorf("enqueue %s digest for %s: %w", target.Channel, sup.DedupKey, err)
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// highestDigestSeverity scans the accumulated summaries so a digest inherits
// the most severe suppressed alert's priority in the queue.
func highestDigestSeverity(summaries []json.RawMessage) models.Severity {
	highest := models.SeverityLow
	for _, raw := range summaries {
		var entry struct {
			Severity models.Severity `json:"severity"`
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		if entry.Severity.Rank() > highest.Rank() {
			highest = entry.Severity
		}
	}
	return highest
}
