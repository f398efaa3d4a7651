// Package alerting evaluates operator-defined rules against canonical
// anomalies and controls notification volume through suppression windows and
// digest aggregation.
package alerting

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seowatch/seowatch-backend/internal/models"
)

// RuleSet is the validated collection of alert rules. Invalid rules are
// excluded from evaluation but kept visible for the operational surface.
type RuleSet struct {
	valid    []models.AlertRule
	statuses []models.RuleLoadStatus
}

type rulesFile struct {
	Rules []models.AlertRule `yaml:"rules"`
}

// LoadRules reads and validates the rules file. An unreadable or unparsable
// file is a configuration error and fails the load; an individually malformed
// rule is excluded and logged, and the rest of the set still loads.
func LoadRules(path string, defaultWindow time.Duration, log *slog.Logger) (*RuleSet, error) {
	if log == nil {
		log = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	var file rulesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules file: %w", err)
	}
	return NewRuleSet(file.Rules, defaultWindow, log), nil
}

// NewRuleSet validates rules and partitions them into loaded and excluded.
func NewRuleSet(rules []models.AlertRule, defaultWindow time.Duration, log *slog.Logger) *RuleSet {
	if log == nil {
		log = slog.Default()
	}
	rs := &RuleSet{}
	seen := make(map[string]bool)
	for _, rule := range rules {
		if rule.SuppressionWindow <= 0 {
			rule.SuppressionWindow = models.Duration(defaultWindow)
		}
		if rule.Aggregation == "" {
			rule.Aggregation = models.AggregationNone
		}
		reason := validateRule(rule, seen)
		status := models.RuleLoadStatus{Rule: rule, Valid: reason == ""}
		if reason != "" {
			status.Reason = reason
			log.Warn("alert rule excluded", "rule_id", rule.ID, "name", rule.Name, "reason", reason)
		} else {
			seen[rule.ID] = true
			rs.valid = append(rs.valid, rule)
		}
		rs.statuses = append(rs.statuses, status)
	}
	return rs
}

// Valid returns the rules that passed validation.
func (rs *RuleSet) Valid() []models.AlertRule {
	return rs.valid
}

// Statuses returns every rule with its load status, for the API.
func (rs *RuleSet) Statuses() []models.RuleLoadStatus {
	return rs.statuses
}

// Find returns a valid rule by id.
func (rs *RuleSet) Find(id string) (models.AlertRule, bool) {
	for _, r := range rs.valid {
		if r.ID == id {
			return r, true
		}
	}
	return models.AlertRule{}, false
}

func validateRule(rule models.AlertRule, seen map[string]bool) string {
	if strings.TrimSpace(rule.ID) == "" {
		return "missing rule id"
	}
	if seen[rule.ID] {
		return "duplicate rule id"
	}
	if strings.TrimSpace(rule.Name) == "" {
		return "missing rule name"
	}
	if s := rule.Condition.MinSeverity; s != "" {
		if s != models.SeverityLow && s != models.SeverityMedium && s != models.SeverityHigh {
			return fmt.Sprintf("unknown min_severity %q", s)
		}
	}
	if c := rule.Condition.MinConfidence; c < 0 || c > 1 {
		return fmt.Sprintf("min_confidence %v outside [0,1]", c)
	}
	if rule.Condition.MinMagnitudePct < 0 {
		return "min_magnitude_pct must be non-negative"
	}
	for _, d := range rule.Condition.Directions {
		if d != models.DirectionAbove && d != models.DirectionBelow {
			return fmt.Sprintf("unknown direction %q", d)
		}
	}
	if len(rule.Channels) == 0 {
		return "rule has no target channels"
	}
	for _, ch := range rule.Channels {
		switch ch.Channel {
		case models.ChannelWebhook, models.ChannelSlack, models.ChannelEmail:
		default:
			return fmt.Sprintf("unknown channel %q", ch.Channel)
		}
		if strings.TrimSpace(ch.Destination) == "" {
			return fmt.Sprintf("channel %s has no destination", ch.Channel)
		}
	}
	switch rule.Aggregation {
	case models.AggregationNone, models.AggregationDigest:
	default:
		return fmt.Sprintf("unknown aggregation mode %q", rule.Aggregation)
	}
	if rule.BurstThreshold < 0 {
		return "burst_threshold must be non-negative"
	}
	return ""
}
