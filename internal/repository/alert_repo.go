package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/seowatch/seowatch-backend/internal/models"
)

func (r *SQLiteRepository) CreateAlert(ctx context.Context, a *models.Alert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Status == "" {
		a.Status = models.AlertStatusNew
	}
	if a.Snapshot == "" {
		a.Snapshot = "{}"
	}

	query := `
		INSERT INTO alerts (id, rule_id, anomaly_id, entity_id, metric, severity, title, message, snapshot, dedup_key, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.RuleID, a.AnomalyID, a.EntityID, a.Metric, a.Severity,
		a.Title, a.Message, a.Snapshot, a.DedupKey, a.Status, a.CreatedAt)
	return err
}

func (r *SQLiteRepository) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	var a models.Alert
	err := r.db.GetContext(ctx, &a, `SELECT * FROM alerts WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alert not found: %s", id)
	}
	return &a, err
}

func (r *SQLiteRepository) ListAlerts(ctx context.Context, f AlertFilter) ([]*models.Alert, error) {
	query := `SELECT * FROM alerts WHERE 1=1`
	args := []interface{}{}

	if f.RuleID != "" {
		query += " AND rule_id = ?"
		args = append(args, f.RuleID)
	}
	if f.EntityID != "" {
		query += " AND entity_id = ?"
		args = append(args, f.EntityID)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, *f.Since)
	}
	query += " ORDER BY created_at DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var alerts []*models.Alert
	err := r.db.SelectContext(ctx, &alerts, query, args...)
	return alerts, err
}

func (r *SQLiteRepository) UpdateAlertStatus(ctx context.Context, id string, status models.AlertStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE alerts SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("alert not found: %s", id)
	}
	return nil
}
