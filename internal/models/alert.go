package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "24h".
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", time.Duration(d).String())), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"24h\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// AggregationMode controls how repeated alerts inside a suppression window are
// handled: dropped entirely, or rolled into one digest notification.
type AggregationMode string

const (
	AggregationNone   AggregationMode = "none"
	AggregationDigest AggregationMode = "digest"
)

// AlertRule is an operator-defined trigger condition, loaded from the rules
// file at startup. Rules are read-only to the pipeline at evaluation time.
type AlertRule struct {
	ID       string `yaml:"id"   json:"id"`
	Name     string `yaml:"name" json:"name"`
	// Scope restricts which entities the rule applies to. Empty means all.
	Scope RuleScope `yaml:"scope" json:"scope"`
	// Condition is the threshold expression over anomaly fields.
	Condition RuleCondition `yaml:"condition" json:"condition"`
	// Channels are the delivery targets for alerts this rule fires.
	Channels []ChannelTarget `yaml:"channels" json:"channels"`
	// SuppressionWindow is how long repeat alerts for the same dedup key are
	// collapsed. Zero means the configured default.
	SuppressionWindow Duration `yaml:"suppression_window" json:"suppression_window"`
	Aggregation       AggregationMode `yaml:"aggregation" json:"aggregation"`
	// BurstThreshold flushes a digest early once this many alerts accumulate.
	// Zero means no early flush.
	BurstThreshold int `yaml:"burst_threshold" json:"burst_threshold"`
}

// RuleScope is an entity filter: exact ids and/or id prefixes. A rule with an
// empty scope matches every entity.
type RuleScope struct {
	Entities []string `yaml:"entities" json:"entities,omitempty"`
	Prefixes []string `yaml:"prefixes" json:"prefixes,omitempty"`
}

// RuleCondition is the set of thresholds an anomaly must meet for the rule to
// fire. Zero values mean "not constrained".
type RuleCondition struct {
	MinSeverity     Severity     `yaml:"min_severity"      json:"min_severity,omitempty"`
	MinConfidence   float64      `yaml:"min_confidence"    json:"min_confidence,omitempty"`
	MinMagnitudePct float64      `yaml:"min_magnitude_pct" json:"min_magnitude_pct,omitempty"`
	Metrics         []MetricName `yaml:"metrics"           json:"metrics,omitempty"`
	Directions      []Direction  `yaml:"directions"        json:"directions,omitempty"`
}

// RuleLoadStatus describes whether a rule passed validation at load time.
type RuleLoadStatus struct {
	Rule   AlertRule `json:"rule"`
	Valid  bool      `json:"valid"`
	Reason string    `json:"reason,omitempty"`
}

// AlertStatus records what suppression decided for an alert.
type AlertStatus string

const (
	AlertStatusNew        AlertStatus = "new"
	AlertStatusSuppressed AlertStatus = "suppressed"
	AlertStatusAggregated AlertStatus = "aggregated"
)

// Alert is one rule match instance. Immutable after creation except Status.
type Alert struct {
	ID       string `json:"id"       db:"id"`
	RuleID   string `json:"rule_id"  db:"rule_id"`
	// AnomalyID is empty for non-anomaly trigger sources.
	AnomalyID string     `json:"anomaly_id,omitempty" db:"anomaly_id"`
	EntityID  string     `json:"entity_id"            db:"entity_id"`
	Metric    MetricName `json:"metric"               db:"metric"`
	Severity  Severity   `json:"severity"             db:"severity"`
	Title     string     `json:"title"                db:"title"`
	Message   string     `json:"message"              db:"message"`
	// Snapshot is a JSON record of the triggering metric context.
	Snapshot  string      `json:"snapshot"   db:"snapshot"`
	DedupKey  string      `json:"dedup_key"  db:"dedup_key"`
	Status    AlertStatus `json:"status"     db:"status"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

// DedupKey collapses repeat alerts for the same condition into one suppression
// window: same rule, entity, metric and severity bucket share a key.
func DedupKey(ruleID, entityID string, metric MetricName, sev Severity) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", ruleID, entityID, metric, sev)))
	return hex.EncodeToString(sum[:])[:32]
}

// Suppression is the active dedup window for one dedup key.
type Suppression struct {
	DedupKey    string    `json:"dedup_key"    db:"dedup_key"`
	RuleID      string    `json:"rule_id"      db:"rule_id"`
	WindowStart time.Time `json:"window_start" db:"window_start"`
	WindowEnd   time.Time `json:"window_end"   db:"window_end"`
	// SuppressedCount is how many alerts after the first landed in the window.
	SuppressedCount int `json:"suppressed_count" db:"suppressed_count"`
	// DigestRaw accumulates JSON summaries of suppressed alerts when the
	// rule's aggregation mode is digest.
	DigestRaw string `json:"-" db:"digest"`
	Flushed   bool   `json:"flushed" db:"-"`
	FlushedDB int    `json:"-"       db:"flushed"` // 0/1 in SQLite
}
