package fusion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seowatch/seowatch-backend/internal/models"
	"github.com/seowatch/seowatch-backend/internal/repository"
	"github.com/seowatch/seowatch-backend/migrations"
)

func setupEngine(t *testing.T) (*Engine, *repository.SQLiteRepository) {
	t.Helper()
	repo, err := repository.NewSQLiteRepository(":memory:")
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrationsFS(migrations.FS))
	t.Cleanup(func() { repo.Close() })

	engine := NewEngine(repo, DefaultWeights(), Bands{Medium: 0.5, High: 0.8}, nil)
	return engine, repo
}

func candidate(kind models.DetectorKind, conf float64, dir models.Direction) models.AnomalyCandidate {
	return models.AnomalyCandidate{
		EntityID:     "page-1",
		Metric:       models.MetricSearchClicks,
		Date:         time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		Detector:     kind,
		Direction:    dir,
		RawScore:     3.5,
		Confidence:   conf,
		MagnitudePct: 35,
	}
}

func TestFuse_WeightedCombination(t *testing.T) {
	engine, _ := setupEngine(t)

	// statistical 0.6 at weight 0.4, forecast 0.5 at weight 0.3:
	// combined = 1 - (1-0.24)(1-0.15) = 0.354, mapped to "low" under a
	// medium cutoff of 0.5.
	anomalies, err := engine.Fuse(context.Background(), []models.AnomalyCandidate{
		candidate(models.DetectorStatistical, 0.6, models.DirectionAbove),
		candidate(models.DetectorForecast, 0.5, models.DirectionAbove),
	})
	require.NoError(t, err)
	require.Len(t, anomalies, 1)

	a := anomalies[0]
	assert.InDelta(t, 0.354, a.Confidence, 1e-9)
	assert.Equal(t, models.SeverityLow, a.Severity)
	assert.ElementsMatch(t, []models.DetectorKind{models.DetectorStatistical, models.DetectorForecast}, a.Detectors)
}

func TestFuse_Idempotent(t *testing.T) {
	engine, repo := setupEngine(t)
	ctx := context.Background()

	input := []models.AnomalyCandidate{
		candidate(models.DetectorStatistical, 0.6, models.DirectionAbove),
		candidate(models.DetectorForecast, 0.5, models.DirectionAbove),
	}

	first, err := engine.Fuse(ctx, input)
	require.NoError(t, err)
	second, err := engine.Fuse(ctx, input)
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, first[0].Confidence, second[0].Confidence)

	list, err := repo.ListAnomalies(ctx, repository.AnomalyFilter{EntityID: "page-1"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFuse_MonotonicConfidence(t *testing.T) {
	engine, repo := setupEngine(t)
	ctx := context.Background()

	one, err := engine.Fuse(ctx, []models.AnomalyCandidate{
		candidate(models.DetectorStatistical, 0.6, models.DirectionAbove),
	})
	require.NoError(t, err)
	require.Len(t, one, 1)
	soloConfidence := one[0].Confidence

	// An agreeing second detector must never lower confidence or severity.
	two, err := engine.Fuse(ctx, []models.AnomalyCandidate{
		candidate(models.DetectorStatistical, 0.6, models.DirectionAbove),
		candidate(models.DetectorOutlier, 0.9, models.DirectionAbove),
	})
	require.NoError(t, err)
	require.Len(t, two, 1)
	assert.Greater(t, two[0].Confidence, soloConfidence)

	stored, err := repo.GetAnomaly(ctx, one[0].ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stored.Confidence, soloConfidence)
	assert.Len(t, stored.Detectors, 2)
}

func TestFuse_DisagreeingDirectionsStaySeparate(t *testing.T) {
	engine, _ := setupEngine(t)

	anomalies, err := engine.Fuse(context.Background(), []models.AnomalyCandidate{
		candidate(models.DetectorStatistical, 0.6, models.DirectionAbove),
		candidate(models.DetectorForecast, 0.5, models.DirectionBelow),
	})
	require.NoError(t, err)
	require.Len(t, anomalies, 2)
	assert.NotEqual(t, anomalies[0].ID, anomalies[1].ID)
}

func TestFuse_ThreeDetectorsReachHigh(t *testing.T) {
	engine, _ := setupEngine(t)

	anomalies, err := engine.Fuse(context.Background(), []models.AnomalyCandidate{
		candidate(models.DetectorStatistical, 1.0, models.DirectionAbove),
		candidate(models.DetectorOutlier, 1.0, models.DirectionAbove),
		candidate(models.DetectorForecast, 1.0, models.DirectionAbove),
	})
	require.NoError(t, err)
	require.Len(t, anomalies, 1)

	// 1 - 0.6*0.7*0.7 = 0.706: medium with the default bands.
	assert.InDelta(t, 0.706, anomalies[0].Confidence, 1e-9)
	assert.Equal(t, models.SeverityMedium, anomalies[0].Severity)
}

func TestFuse_PartialCoverage(t *testing.T) {
	engine, _ := setupEngine(t)

	// A single reporting detector is a valid fusion input.
	anomalies, err := engine.Fuse(context.Background(), []models.AnomalyCandidate{
		candidate(models.DetectorForecast, 0.8, models.DirectionBelow),
	})
	require.NoError(t, err)
	require.Len(t, anomalies, 1)
	assert.InDelta(t, 0.24, anomalies[0].Confidence, 1e-9)
}

func TestFuse_LockTableDrainsAfterUse(t *testing.T) {
	engine, _ := setupEngine(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Fuse(context.Background(), []models.AnomalyCandidate{
				candidate(models.DetectorStatistical, 0.7, models.DirectionAbove),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Per-id mutexes exist only while held or contended; the table must not
	// keep an entry per anomaly id ever fused.
	engine.mu.Lock()
	defer engine.mu.Unlock()
	assert.Empty(t, engine.locks)
}

func TestResolveStale(t *testing.T) {
	engine, repo := setupEngine(t)
	ctx := context.Background()

	old, err := engine.Fuse(ctx, []models.AnomalyCandidate{
		candidate(models.DetectorStatistical, 0.9, models.DirectionAbove),
	})
	require.NoError(t, err)
	require.Len(t, old, 1)

	cutoff := time.Date(2026, 9, 20, 0, 0, 0, 0, time.UTC)
	resolved, err := engine.ResolveStale(ctx, cutoff, func(ctx context.Context, a *models.Anomaly) (bool, error) {
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	got, err := repo.GetAnomaly(ctx, old[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.AnomalyStatusResolved, got.Status)
}

func TestResolveStale_KeepsActiveOnes(t *testing.T) {
	engine, repo := setupEngine(t)
	ctx := context.Background()

	a, err := engine.Fuse(ctx, []models.AnomalyCandidate{
		candidate(models.DetectorStatistical, 0.9, models.DirectionAbove),
	})
	require.NoError(t, err)

	cutoff := time.Date(2026, 9, 20, 0, 0, 0, 0, time.UTC)
	resolved, err := engine.ResolveStale(ctx, cutoff, func(ctx context.Context, an *models.Anomaly) (bool, error) {
		return false, nil // metric still deviating
	})
	require.NoError(t, err)
	assert.Equal(t, 0, resolved)

	got, err := repo.GetAnomaly(ctx, a[0].ID)
	require.NoError(t, err)
	assert.NotEqual(t, models.AnomalyStatusResolved, got.Status)
}
