package repository

import (
	"context"
	"time"

	"github.com/seowatch/seowatch-backend/internal/models"
)

func (r *SQLiteRepository) InsertMetricPoints(ctx context.Context, points []models.MetricPoint) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT OR REPLACE INTO metric_points (entity_id, metric, date, value)
		VALUES (?, ?, ?, ?)
	`
	for _, p := range points {
		if _, err := tx.ExecContext(ctx, query, p.EntityID, p.Metric, models.Day(p.Date), p.Value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) GetSeries(ctx context.Context, entityID string, metric models.MetricName, from, to time.Time) ([]models.MetricPoint, error) {
	var points []models.MetricPoint
	err := r.db.SelectContext(ctx, &points, `
		SELECT * FROM metric_points
		WHERE entity_id = ? AND metric = ? AND date >= ? AND date <= ?
		ORDER BY date
	`, entityID, metric, models.Day(from), models.Day(to))
	return points, err
}

func (r *SQLiteRepository) ListSeriesKeys(ctx context.Context) ([]SeriesKey, error) {
	var keys []SeriesKey
	err := r.db.SelectContext(ctx, &keys,
		`SELECT DISTINCT entity_id, metric FROM metric_points ORDER BY entity_id, metric`)
	return keys, err
}
