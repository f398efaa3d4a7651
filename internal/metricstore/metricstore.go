// Package metricstore is the read contract over the per-entity metric time
// series. The collection connectors own the data; the pipeline only reads
// ordered series through this seam.
package metricstore

import (
	"context"
	"time"

	"github.com/seowatch/seowatch-backend/internal/models"
	"github.com/seowatch/seowatch-backend/internal/repository"
)

// Reader exposes ordered time series per (entity, metric) pair. Missing days
// are simply absent from the slice, never zero-filled.
type Reader interface {
	// Series returns points for one (entity, metric) ordered by date ascending.
	Series(ctx context.Context, entityID string, metric models.MetricName, from, to time.Time) ([]models.MetricPoint, error)
	// SeriesKeys lists every (entity, metric) pair with data.
	SeriesKeys(ctx context.Context) ([]repository.SeriesKey, error)
}

// LocalReader serves series from the pipeline's own database. Used in
// single-node deployments and tests.
type LocalReader struct {
	repo repository.MetricRepository
}

func NewLocalReader(repo repository.MetricRepository) *LocalReader {
	return &LocalReader{repo: repo}
}

func (r *LocalReader) Series(ctx context.Context, entityID string, metric models.MetricName, from, to time.Time) ([]models.MetricPoint, error) {
	return r.repo.GetSeries(ctx, entityID, metric, from, to)
}

func (r *LocalReader) SeriesKeys(ctx context.Context) ([]repository.SeriesKey, error) {
	return r.repo.ListSeriesKeys(ctx)
}
