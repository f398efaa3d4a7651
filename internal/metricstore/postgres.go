package metricstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/seowatch/seowatch-backend/internal/models"
	"github.com/seowatch/seowatch-backend/internal/repository"
)

// PostgresReader reads series from the analytics Postgres database the
// collection connectors write into. Read-only: the pipeline never writes here.
type PostgresReader struct {
	db *sqlx.DB
}

// NewPostgresReader connects to the analytics store.
func NewPostgresReader(dsn string) (*PostgresReader, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to metric store: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &PostgresReader{db: db}, nil
}

func (r *PostgresReader) Close() error {
	return r.db.Close()
}

func (r *PostgresReader) Series(ctx context.Context, entityID string, metric models.MetricName, from, to time.Time) ([]models.MetricPoint, error) {
	var points []models.MetricPoint
	err := r.db.SelectContext(ctx, &points, `
		SELECT entity_id, metric, date, value FROM metric_points
		WHERE entity_id = $1 AND metric = $2 AND date >= $3 AND date <= $4
		ORDER BY date
	`, entityID, metric, models.Day(from), models.Day(to))
	return points, err
}

func (r *PostgresReader) SeriesKeys(ctx context.Context) ([]repository.SeriesKey, error) {
	var keys []repository.SeriesKey
	err := r.db.SelectContext(ctx, &keys,
		`SELECT DISTINCT entity_id, metric FROM metric_points ORDER BY entity_id, metric`)
	return keys, err
}
