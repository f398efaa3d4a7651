package alerting

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/seowatch/seowatch-backend/internal/models"
)

// Engine evaluates the loaded rule set against canonical anomalies.
// Evaluation is pure: given the same rule set and trigger it always produces
// the same alerts and touches nothing else.
type Engine struct {
	rules *RuleSet
}

func NewEngine(rules *RuleSet) *Engine {
	return &Engine{rules: rules}
}

// Evaluate returns one Alert per matching rule. No rule matching is a normal
// outcome and yields an empty slice.
func (e *Engine) Evaluate(anomaly *models.Anomaly) []*models.Alert {
	var alerts []*models.Alert
	for _, rule := range e.rules.Valid() {
		if !matchesScope(rule.Scope, anomaly.EntityID) {
			continue
		}
		if !matchesCondition(rule.Condition, anomaly) {
			continue
		}
		alerts = append(alerts, buildAlert(rule, anomaly))
	}
	return alerts
}

func matchesScope(scope models.RuleScope, entityID string) bool {
	if len(scope.Entities) == 0 && len(scope.Prefixes) == 0 {
		return true
	}
	for _, e := range scope.Entities {
		if e == entityID {
			return true
		}
	}
	for _, p := range scope.Prefixes {
		if strings.HasPrefix(entityID, p) {
			return true
		}
	}
	return false
}

func matchesCondition(cond models.RuleCondition, a *models.Anomaly) bool {
	if cond.MinSeverity != "" && a.Severity.Rank() < cond.MinSeverity.Rank() {
		return false
	}
	if cond.MinConfidence > 0 && a.Confidence < cond.MinConfidence {
		return false
	}
	if cond.MinMagnitudePct > 0 && a.MagnitudePct < cond.MinMagnitudePct {
		return false
	}
	if len(cond.Metrics) > 0 && !containsMetric(cond.Metrics, a.Metric) {
		return false
	}
	if len(cond.Directions) > 0 && !containsDirection(cond.Directions, a.Direction) {
		return false
	}
	return true
}

func buildAlert(rule models.AlertRule, a *models.Anomaly) *models.Alert {
	snapshot, _ := json.Marshal(map[string]interface{}{
		"anomaly_id":    a.ID,
		"metric":        a.Metric,
		"date":          models.DayKey(a.Date),
		"direction":     a.Direction,
		"confidence":    a.Confidence,
		"magnitude_pct": a.MagnitudePct,
		"detectors":     a.Detectors,
	})
	return &models.Alert{
		RuleID:    rule.ID,
		AnomalyID: a.ID,
		EntityID:  a.EntityID,
		Metric:    a.Metric,
		Severity:  a.Severity,
		Title:     fmt.Sprintf("%s: %s %s baseline for %s", rule.Name, a.Metric, a.Direction, a.EntityID),
		Message: fmt.Sprintf("%s for %s moved %s its baseline on %s by %.1f%% (confidence %.2f, detectors: %s)",
			a.Metric, a.EntityID, a.Direction, models.DayKey(a.Date), a.MagnitudePct, a.Confidence, joinDetectors(a.Detectors)),
		Snapshot: string(snapshot),
		DedupKey: models.DedupKey(rule.ID, a.EntityID, a.Metric, a.Severity),
	}
}

func joinDetectors(kinds []models.DetectorKind) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}

func containsMetric(list []models.MetricName, m models.MetricName) bool {
	for _, v := range list {
		if v == m {
			return true
		}
	}
	return false
}

func containsDirection(list []models.Direction, d models.Direction) bool {
	for _, v := range list {
		if v == d {
			return true
		}
	}
	return false
}
