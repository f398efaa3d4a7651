package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/seowatch/seowatch-backend/internal/models"
)

func (r *SQLiteRepository) GetSuppression(ctx context.Context, dedupKey string) (*models.Suppression, error) {
	var s models.Suppression
	err := r.db.GetContext(ctx, &s, `SELECT * FROM suppressions WHERE dedup_key = ?`, dedupKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Flushed = s.FlushedDB != 0
	return &s, nil
}

func (r *SQLiteRepository) CreateSuppression(ctx context.Context, s *models.Suppression) error {
	if s.DigestRaw == "" {
		s.DigestRaw = "[]"
	}
	query := `
		INSERT INTO suppressions (dedup_key, rule_id, window_start, window_end, suppressed_count, digest, flushed)
		VALUES (?, ?, ?, ?, ?, ?, 0)
	`
	_, err := r.db.ExecContext(ctx, query,
		s.DedupKey, s.RuleID, s.WindowStart, s.WindowEnd, s.SuppressedCount, s.DigestRaw)
	return err
}

// IncrementSuppression bumps the suppressed counter and appends the alert
// summary (a JSON object) to the digest accumulator.
func (r *SQLiteRepository) IncrementSuppression(ctx context.Context, dedupKey string, summary string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var s models.Suppression
	if err := tx.GetContext(ctx, &s, `SELECT * FROM suppressions WHERE dedup_key = ?`, dedupKey); err != nil {
		return fmt.Errorf("suppression not found: %s: %w", dedupKey, err)
	}

	var digest []json.RawMessage
	if s.DigestRaw != "" {
		if err := json.Unmarshal([]byte(s.DigestRaw), &digest); err != nil {
			return fmt.Errorf("decode digest: %w", err)
		}
	}
	if summary != "" {
		digest = append(digest, json.RawMessage(summary))
	}
	raw, err := json.Marshal(digest)
	if err != nil {
		return fmt.Errorf("encode digest: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE suppressions SET suppressed_count = suppressed_count + 1, digest = ? WHERE dedup_key = ?`,
		string(raw), dedupKey)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ListFlushable returns every window that has ended, flushed or not: a
// burst-flushed window still needs its row removed once it expires.
func (r *SQLiteRepository) ListFlushable(ctx context.Context, now time.Time) ([]*models.Suppression, error) {
	var list []*models.Suppression
	err := r.db.SelectContext(ctx, &list,
		`SELECT * FROM suppressions WHERE window_end <= ? ORDER BY window_end`, now)
	if err != nil {
		return nil, err
	}
	for _, s := range list {
		s.Flushed = s.FlushedDB != 0
	}
	return list, nil
}

func (r *SQLiteRepository) MarkFlushed(ctx context.Context, dedupKey string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE suppressions SET flushed = 1 WHERE dedup_key = ?`, dedupKey)
	return err
}

func (r *SQLiteRepository) DeleteSuppression(ctx context.Context, dedupKey string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM suppressions WHERE dedup_key = ?`, dedupKey)
	return err
}
