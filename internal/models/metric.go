package models

import "time"

// MetricName identifies a tracked per-entity time series.
type MetricName string

const (
	MetricSearchClicks MetricName = "search_clicks"
	MetricKeywordRank  MetricName = "keyword_rank"
	MetricLoadQuality  MetricName = "load_quality"
)

// MetricPoint is one daily observation for an (entity, metric) pair.
// Points are produced by the collection connectors and are read-only here.
type MetricPoint struct {
	EntityID string     `json:"entity_id" db:"entity_id"`
	Metric   MetricName `json:"metric"    db:"metric"`
	// Date is truncated to day granularity (UTC midnight).
	Date  time.Time `json:"date"  db:"date"`
	Value float64   `json:"value" db:"value"`
}

// Day normalizes a timestamp to UTC midnight, the granularity all pipeline
// identity keys use.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayKey formats a day for identity hashing and DB keys (YYYY-MM-DD).
func DayKey(t time.Time) string {
	return Day(t).Format("2006-01-02")
}
