package repository

import (
	"context"
	"time"

	"github.com/seowatch/seowatch-backend/internal/models"
)

// AnomalyRepository defines canonical anomaly data access.
type AnomalyRepository interface {
	// UpsertAnomaly applies the monotonic ratchet: it creates the anomaly if
	// absent, and otherwise only raises confidence/severity and unions the
	// contributing detector set. It never downgrades a non-resolved anomaly.
	UpsertAnomaly(ctx context.Context, a *models.Anomaly) (UpsertOutcome, error)
	GetAnomaly(ctx context.Context, id string) (*models.Anomaly, error)
	ListAnomalies(ctx context.Context, f AnomalyFilter) ([]*models.Anomaly, error)
	UpdateAnomalyStatus(ctx context.Context, id string, status models.AnomalyStatus) error
	// ListActiveBefore returns non-resolved anomalies dated before cutoff,
	// for the retention sweep.
	ListActiveBefore(ctx context.Context, cutoff time.Time) ([]*models.Anomaly, error)
}

// AlertRepository defines alert data access.
type AlertRepository interface {
	CreateAlert(ctx context.Context, a *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	ListAlerts(ctx context.Context, f AlertFilter) ([]*models.Alert, error)
	UpdateAlertStatus(ctx context.Context, id string, status models.AlertStatus) error
}

// SuppressionRepository defines suppression window bookkeeping.
type SuppressionRepository interface {
	GetSuppression(ctx context.Context, dedupKey string) (*models.Suppression, error)
	CreateSuppression(ctx context.Context, s *models.Suppression) error
	// IncrementSuppression bumps the suppressed counter and appends an alert
	// summary to the digest accumulator.
	IncrementSuppression(ctx context.Context, dedupKey string, summary string) error
	// ListFlushable returns suppressions whose window has ended, including
	// already-flushed ones that only need deleting.
	ListFlushable(ctx context.Context, now time.Time) ([]*models.Suppression, error)
	MarkFlushed(ctx context.Context, dedupKey string) error
	DeleteSuppression(ctx context.Context, dedupKey string) error
}

// NotificationRepository defines the durable queue and delivery log.
type NotificationRepository interface {
	// CreateJob enqueues a job. At most one job exists per (alert, channel);
	// a duplicate enqueue is a no-op and returns false.
	CreateJob(ctx context.Context, job *models.NotificationJob) (bool, error)
	GetJob(ctx context.Context, id string) (*models.NotificationJob, error)
	// ClaimNextJob atomically moves the highest-priority ready job to
	// in_flight and returns it, or nil when the queue is empty.
	ClaimNextJob(ctx context.Context, now time.Time) (*models.NotificationJob, error)
	MarkDelivered(ctx context.Context, id string) error
	// RequeueJob schedules a retry after a transient failure.
	RequeueJob(ctx context.Context, id string, attemptCount int, nextAttemptAt time.Time) error
	MarkDead(ctx context.Context, id string, attemptCount int) error
	ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]*models.NotificationJob, error)
	// ReplayDeadJob requeues a dead-lettered job with its attempt count reset.
	ReplayDeadJob(ctx context.Context, id string) error
	// ReclaimStaleJobs requeues in_flight jobs with no progress since cutoff;
	// they were orphaned by a crash or an interrupted worker.
	ReclaimStaleJobs(ctx context.Context, cutoff time.Time) (int, error)
	CountByStatus(ctx context.Context, status models.JobStatus) (int, error)

	AppendAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error
	ListAttempts(ctx context.Context, jobID string) ([]*models.DeliveryAttempt, error)
}

// MetricRepository stores and reads metric points in the local database.
// In deployments with a separate analytics store the reader side is served by
// the metricstore package instead.
type MetricRepository interface {
	InsertMetricPoints(ctx context.Context, points []models.MetricPoint) error
	GetSeries(ctx context.Context, entityID string, metric models.MetricName, from, to time.Time) ([]models.MetricPoint, error)
	ListSeriesKeys(ctx context.Context) ([]SeriesKey, error)
}

// UpsertOutcome says what an anomaly upsert did.
type UpsertOutcome string

const (
	UpsertCreated   UpsertOutcome = "created"
	UpsertRaised    UpsertOutcome = "raised"
	UpsertUnchanged UpsertOutcome = "unchanged"
)

// SeriesKey identifies one (entity, metric) time series.
type SeriesKey struct {
	EntityID string            `db:"entity_id"`
	Metric   models.MetricName `db:"metric"`
}

// AnomalyFilter narrows ListAnomalies. Zero values mean "not filtered".
type AnomalyFilter struct {
	EntityID string
	Metric   models.MetricName
	Status   models.AnomalyStatus
	Since    *time.Time
	Until    *time.Time
	Limit    int
}

// AlertFilter narrows ListAlerts. Zero values mean "not filtered".
type AlertFilter struct {
	RuleID   string
	EntityID string
	Status   models.AlertStatus
	Since    *time.Time
	Limit    int
}

// Repository aggregates all repositories.
type Repository interface {
	AnomalyRepository
	AlertRepository
	SuppressionRepository
	NotificationRepository
	MetricRepository
	Close() error
}
