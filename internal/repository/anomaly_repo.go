package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/seowatch/seowatch-backend/internal/models"
)

// UpsertAnomaly implements the monotonic ratchet inside one transaction:
// a concurrent upsert for the same id merges rather than overwrites, and an
// existing anomaly is never downgraded while non-resolved.
func (r *SQLiteRepository) UpsertAnomaly(ctx context.Context, a *models.Anomaly) (UpsertOutcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return UpsertUnchanged, fmt.Errorf("begin upsert tx: %w", err)
	}
	defer tx.Rollback()

	var existing models.Anomaly
	err = tx.GetContext(ctx, &existing, `SELECT * FROM anomalies WHERE id = ?`, a.ID)
	switch {
	case err == sql.ErrNoRows:
		now := time.Now().UTC()
		a.Status = models.AnomalyStatusNew
		a.CreatedAt = now
		a.UpdatedAt = now
		if err := a.EncodeDetectors(); err != nil {
			return UpsertUnchanged, fmt.Errorf("encode detectors: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO anomalies (id, entity_id, metric, date, direction, severity, confidence, detectors, magnitude_pct, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, a.ID, a.EntityID, a.Metric, models.Day(a.Date), a.Direction, a.Severity, a.Confidence, a.DetectorsRaw, a.MagnitudePct, a.Status, a.CreatedAt, a.UpdatedAt)
		if err != nil {
			return UpsertUnchanged, fmt.Errorf("insert anomaly: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return UpsertUnchanged, err
		}
		return UpsertCreated, nil

	case err != nil:
		return UpsertUnchanged, fmt.Errorf("get anomaly: %w", err)
	}

	// Resolved anomalies stay resolved; re-detection does not resurrect them.
	if existing.Status == models.AnomalyStatusResolved {
		*a = existing
		_ = a.DecodeDetectors()
		return UpsertUnchanged, nil
	}
	if err := existing.DecodeDetectors(); err != nil {
		return UpsertUnchanged, fmt.Errorf("decode detectors: %w", err)
	}

	// Union the contributing set; raise numbers only when strictly higher.
	merged := existing
	for _, kind := range a.Detectors {
		if !merged.HasDetector(kind) {
			merged.Detectors = append(merged.Detectors, kind)
		}
	}
	raised := false
	if a.Confidence > existing.Confidence {
		merged.Confidence = a.Confidence
		raised = true
	}
	if a.Severity.Rank() > existing.Severity.Rank() {
		merged.Severity = a.Severity
		raised = true
	}
	if a.MagnitudePct > existing.MagnitudePct {
		merged.MagnitudePct = a.MagnitudePct
	}
	if !raised && len(merged.Detectors) == len(existing.Detectors) {
		*a = existing
		return UpsertUnchanged, nil
	}

	merged.UpdatedAt = time.Now().UTC()
	if err := merged.EncodeDetectors(); err != nil {
		return UpsertUnchanged, fmt.Errorf("encode detectors: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE anomalies
		SET severity = ?, confidence = ?, detectors = ?, magnitude_pct = ?, updated_at = ?
		WHERE id = ? AND status != 'resolved'
	`, merged.Severity, merged.Confidence, merged.DetectorsRaw, merged.MagnitudePct, merged.UpdatedAt, merged.ID)
	if err != nil {
		return UpsertUnchanged, fmt.Errorf("update anomaly: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return UpsertUnchanged, err
	}
	*a = merged
	if raised {
		return UpsertRaised, nil
	}
	return UpsertUnchanged, nil
}

func (r *SQLiteRepository) GetAnomaly(ctx context.Context, id string) (*models.Anomaly, error) {
	var a models.Anomaly
	err := r.db.GetContext(ctx, &a, `SELECT * FROM anomalies WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("anomaly not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	if err := a.DecodeDetectors(); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *SQLiteRepository) ListAnomalies(ctx context.Context, f AnomalyFilter) ([]*models.Anomaly, error) {
	query := `SELECT * FROM anomalies WHERE 1=1`
	args := []interface{}{}

	if f.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, f.EntityID)
	}
	if f.Metric != "" {
		query += " AND metric = ?"
		args = append(args, f.Metric)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.Since != nil {
		query += " AND date >= ?"
		args = append(args, *f.Since)
	}
	if f.Until != nil {
		query += " AND date <= ?"
		args = append(args, *f.Until)
	}
	query += " ORDER BY date DESC, entity_id"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var anomalies []*models.Anomaly
	if err := r.db.SelectContext(ctx, &anomalies, query, args...); err != nil {
		return nil, err
	}
	for _, a := range anomalies {
		if err := a.DecodeDetectors(); err != nil {
			return nil, err
		}
	}
	return anomalies, nil
}

func (r *SQLiteRepository) UpdateAnomalyStatus(ctx context.Context, id string, status models.AnomalyStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE anomalies SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("anomaly not found: %s", id)
	}
	return nil
}

func (r *SQLiteRepository) ListActiveBefore(ctx context.Context, cutoff time.Time) ([]*models.Anomaly, error) {
	var anomalies []*models.Anomaly
	err := r.db.SelectContext(ctx, &anomalies,
		`SELECT * FROM anomalies WHERE status != 'resolved' AND date < ? ORDER BY date ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	for _, a := range anomalies {
		if err := a.DecodeDetectors(); err != nil {
			return nil, err
		}
	}
	return anomalies, nil
}
