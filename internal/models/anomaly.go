package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Direction says which side of the baseline the metric moved to.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// DetectorKind identifies one of the independent detection methods.
type DetectorKind string

const (
	DetectorStatistical DetectorKind = "statistical"
	DetectorOutlier     DetectorKind = "outlier"
	DetectorForecast    DetectorKind = "forecast"
)

// Severity buckets an anomaly's combined confidence.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities for priority comparisons (higher is more severe).
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// AnomalyStatus is the canonical anomaly lifecycle.
type AnomalyStatus string

const (
	AnomalyStatusNew        AnomalyStatus = "new"
	AnomalyStatusSuppressed AnomalyStatus = "suppressed"
	AnomalyStatusAlerted    AnomalyStatus = "alerted"
	AnomalyStatusResolved   AnomalyStatus = "resolved"
)

// AnomalyCandidate is a single detector's unconfirmed opinion about one point.
// Candidates only live inside a pipeline run; fusion consumes and discards them.
type AnomalyCandidate struct {
	EntityID   string       `json:"entity_id"`
	Metric     MetricName   `json:"metric"`
	Date       time.Time    `json:"date"`
	Detector   DetectorKind `json:"detector"`
	Direction  Direction    `json:"direction"`
	RawScore   float64      `json:"raw_score"`
	Confidence float64      `json:"confidence"` // in [0,1]
	// MagnitudePct is the relative deviation from baseline, in percent.
	MagnitudePct float64 `json:"magnitude_pct"`
}

// Anomaly is the canonical merged finding for one (entity, metric, day, direction).
type Anomaly struct {
	ID         string        `json:"id"         db:"id"`
	EntityID   string        `json:"entity_id"  db:"entity_id"`
	Metric     MetricName    `json:"metric"     db:"metric"`
	Date       time.Time     `json:"date"       db:"date"`
	Direction  Direction     `json:"direction"  db:"direction"`
	Severity   Severity      `json:"severity"   db:"severity"`
	Confidence float64       `json:"confidence" db:"confidence"`
	// Detectors is the set of detector kinds that contributed.
	Detectors    []DetectorKind `json:"detectors"      db:"-"`
	DetectorsRaw string         `json:"-"              db:"detectors"` // JSON-encoded, stored in DB
	MagnitudePct float64        `json:"magnitude_pct"  db:"magnitude_pct"`
	Status       AnomalyStatus  `json:"status"         db:"status"`
	CreatedAt    time.Time      `json:"created_at"     db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"     db:"updated_at"`
}

// AnomalyID derives the deterministic identity of an anomaly. Direction is part
// of the key: an "above" and a "below" finding on the same day are distinct.
func AnomalyID(entityID string, metric MetricName, date time.Time, dir Direction) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", entityID, metric, DayKey(date), dir)))
	return hex.EncodeToString(sum[:])[:32]
}

// EncodeDetectors fills DetectorsRaw from Detectors, sorted for stable storage.
func (a *Anomaly) EncodeDetectors() error {
	kinds := append([]DetectorKind(nil), a.Detectors...)
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	raw, err := json.Marshal(kinds)
	if err != nil {
		return err
	}
	a.DetectorsRaw = string(raw)
	return nil
}

// DecodeDetectors fills Detectors from DetectorsRaw after a DB read.
func (a *Anomaly) DecodeDetectors() error {
	if a.DetectorsRaw == "" {
		a.Detectors = nil
		return nil
	}
	return json.Unmarshal([]byte(a.DetectorsRaw), &a.Detectors)
}

// HasDetector reports whether kind already contributed to this anomaly.
func (a *Anomaly) HasDetector(kind DetectorKind) bool {
	for _, k := range a.Detectors {
		if k == kind {
			return true
		}
	}
	return false
}
