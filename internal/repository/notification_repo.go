package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/seowatch/seowatch-backend/internal/models"
)

// CreateJob enqueues a notification job. The UNIQUE (alert_id, channel)
// constraint makes enqueue idempotent: the second insert for the same pair is
// ignored and reported as not-created.
func (r *SQLiteRepository) CreateJob(ctx context.Context, job *models.NotificationJob) (bool, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = models.JobStatusQueued
	}
	if job.NextAttemptAt.IsZero() {
		job.NextAttemptAt = now
	}

	query := `
		INSERT OR IGNORE INTO notification_jobs (id, alert_id, channel, destination, payload, severity, attempt_count, next_attempt_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(ctx, query,
		job.ID, job.AlertID, job.Channel, job.Destination, job.Payload, job.Severity,
		job.AttemptCount, job.NextAttemptAt, job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*models.NotificationJob, error) {
	var job models.NotificationJob
	err := r.db.GetContext(ctx, &job, `SELECT * FROM notification_jobs WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("notification job not found: %s", id)
	}
	return &job, err
}

// ClaimNextJob picks the highest-severity ready job (FIFO within a severity)
// and CAS-moves it to in_flight. Returns nil when nothing is ready.
func (r *SQLiteRepository) ClaimNextJob(ctx context.Context, now time.Time) (*models.NotificationJob, error) {
	for {
		var job models.NotificationJob
		err := r.db.GetContext(ctx, &job, `
			SELECT * FROM notification_jobs
			WHERE status = 'queued' AND next_attempt_at <= ?
			ORDER BY CASE severity WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, created_at
			LIMIT 1
		`, now)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		res, err := r.db.ExecContext(ctx, `
			UPDATE notification_jobs
			SET status = 'in_flight', updated_at = ?
			WHERE id = ? AND status = 'queued' AND attempt_count = ?
		`, time.Now().UTC(), job.ID, job.AttemptCount)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			job.Status = models.JobStatusInFlight
			return &job, nil
		}
		// Lost the race to another worker; pick again.
	}
}

func (r *SQLiteRepository) MarkDelivered(ctx context.Context, id string) error {
	return r.transitionJob(ctx, id, models.JobStatusInFlight, models.JobStatusDelivered, nil, nil)
}

func (r *SQLiteRepository) RequeueJob(ctx context.Context, id string, attemptCount int, nextAttemptAt time.Time) error {
	return r.transitionJob(ctx, id, models.JobStatusInFlight, models.JobStatusQueued, &attemptCount, &nextAttemptAt)
}

func (r *SQLiteRepository) MarkDead(ctx context.Context, id string, attemptCount int) error {
	return r.transitionJob(ctx, id, models.JobStatusInFlight, models.JobStatusDead, &attemptCount, nil)
}

func (r *SQLiteRepository) transitionJob(ctx context.Context, id string, from, to models.JobStatus, attemptCount *int, nextAttemptAt *time.Time) error {
	query := `UPDATE notification_jobs SET status = ?, updated_at = ?`
	args := []interface{}{to, time.Now().UTC()}
	if attemptCount != nil {
		query += `, attempt_count = ?`
		args = append(args, *attemptCount)
	}
	if nextAttemptAt != nil {
		query += `, next_attempt_at = ?`
		args = append(args, *nextAttemptAt)
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, from)

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s not in %s state", id, from)
	}
	return nil
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]*models.NotificationJob, error) {
	if limit <= 0 {
		limit = 100
	}
	var jobs []*models.NotificationJob
	err := r.db.SelectContext(ctx, &jobs, `
		SELECT * FROM notification_jobs
		WHERE status = ?
		ORDER BY updated_at DESC
		LIMIT ?
	`, status, limit)
	return jobs, err
}

// ReplayDeadJob requeues a dead job for operator-driven replay. Attempt count
// resets; the prior DeliveryAttempt history is preserved.
func (r *SQLiteRepository) ReplayDeadJob(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE notification_jobs
		SET status = 'queued', attempt_count = 0, next_attempt_at = ?, updated_at = ?
		WHERE id = ? AND status = 'dead'
	`, time.Now().UTC(), time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("job %s is not dead-lettered", id)
	}
	return nil
}

// ReclaimStaleJobs puts orphaned in_flight jobs back on the queue. A job is
// stale when nothing has touched it since cutoff: the worker that claimed it
// died before recording an outcome.
func (r *SQLiteRepository) ReclaimStaleJobs(ctx context.Context, cutoff time.Time) (int, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE notification_jobs
		SET status = 'queued', next_attempt_at = ?, updated_at = ?
		WHERE status = 'in_flight' AND updated_at <= ?
	`, now, now, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *SQLiteRepository) CountByStatus(ctx context.Context, status models.JobStatus) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM notification_jobs WHERE status = ?`, status)
	return count, err
}

func (r *SQLiteRepository) AppendAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = time.Now().UTC()
	}
	query := `
		INSERT INTO delivery_attempts (id, job_id, attempt, channel, outcome, error_detail, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		attempt.ID, attempt.JobID, attempt.Attempt, attempt.Channel,
		attempt.Outcome, attempt.ErrorDetail, attempt.Timestamp)
	return err
}

func (r *SQLiteRepository) ListAttempts(ctx context.Context, jobID string) ([]*models.DeliveryAttempt, error) {
	var attempts []*models.DeliveryAttempt
	err := r.db.SelectContext(ctx, &attempts,
		`SELECT * FROM delivery_attempts WHERE job_id = ? ORDER BY attempt`, jobID)
	return attempts, err
}
