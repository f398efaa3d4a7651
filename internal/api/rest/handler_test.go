package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seowatch/seowatch-backend/internal/alerting"
	"github.com/seowatch/seowatch-backend/internal/models"
	"github.com/seowatch/seowatch-backend/internal/repository"
	"github.com/seowatch/seowatch-backend/internal/service"
	"github.com/seowatch/seowatch-backend/migrations"
)

type stubRunner struct {
	summary *service.RunSummary
	calls   int
}

func (s *stubRunner) Run(_ context.Context) (*service.RunSummary, error) {
	s.calls++
	return s.summary, nil
}

func setupAPI(t *testing.T) (*mux.Router, *repository.SQLiteRepository, *stubRunner) {
	t.Helper()

	repo, err := repository.NewSQLiteRepository(":memory:")
	require.NoError(t, err)
	require.NoError(t, repo.RunMigrationsFS(migrations.FS))
	t.Cleanup(func() { repo.Close() })

	rules := alerting.NewRuleSet([]models.AlertRule{{
		ID:   "r1",
		Name: "clicks drop",
		Condition: models.RuleCondition{
			MinSeverity: models.SeverityMedium,
		},
		Channels: []models.ChannelTarget{
			{Channel: models.ChannelWebhook, Destination: "http://hooks.example/x"},
		},
	}}, 24*time.Hour, nil)

	runner := &stubRunner{summary: &service.RunSummary{SeriesScanned: 3, Anomalies: 1}}

	router := mux.NewRouter()
	SetupRoutes(router, NewHandler(repo, rules, runner))
	return router, repo, runner
}

func seedAnomaly(t *testing.T, repo *repository.SQLiteRepository) *models.Anomaly {
	t.Helper()
	date := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	a := &models.Anomaly{
		ID:           models.AnomalyID("site-a", models.MetricSearchClicks, date, models.DirectionBelow),
		EntityID:     "site-a",
		Metric:       models.MetricSearchClicks,
		Date:         date,
		Direction:    models.DirectionBelow,
		Severity:     models.SeverityHigh,
		Confidence:   0.9,
		Detectors:    []models.DetectorKind{models.DetectorStatistical},
		MagnitudePct: 25,
	}
	_, err := repo.UpsertAnomaly(context.Background(), a)
	require.NoError(t, err)
	return a
}

func doRequest(router *mux.Router, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListAnomalies_FiltersAndEmptyList(t *testing.T) {
	router, repo, _ := setupAPI(t)
	a := seedAnomaly(t, repo)

	rec := doRequest(router, http.MethodGet, "/anomalies?entity_id=site-a")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []models.Anomaly
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)

	// No match still returns a JSON array, not null.
	rec = doRequest(router, http.MethodGet, "/anomalies?entity_id=site-unknown")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = doRequest(router, http.MethodGet, "/anomalies?since=not-a-date")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAnomaly_FoundAndMissing(t *testing.T) {
	router, repo, _ := setupAPI(t)
	a := seedAnomaly(t, repo)

	rec := doRequest(router, http.MethodGet, "/anomalies/"+a.ID)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(router, http.MethodGet, "/anomalies/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolveAnomaly_ForcesTerminalState(t *testing.T) {
	router, repo, _ := setupAPI(t)
	a := seedAnomaly(t, repo)

	rec := doRequest(router, http.MethodPost, "/anomalies/"+a.ID+"/resolve")
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := repo.GetAnomaly(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AnomalyStatusResolved, got.Status)
}

func TestListRules_ReportsValidationStatus(t *testing.T) {
	router, _, _ := setupAPI(t)

	rec := doRequest(router, http.MethodGet, "/rules")
	require.Equal(t, http.StatusOK, rec.Code)

	var statuses []models.RuleLoadStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].Valid)
	assert.Equal(t, "r1", statuses[0].Rule.ID)
}

func TestJobEndpoints_DeadLetterAndReplay(t *testing.T) {
	router, repo, _ := setupAPI(t)
	ctx := context.Background()

	job := &models.NotificationJob{
		AlertID:     "alert-1",
		Channel:     models.ChannelWebhook,
		Destination: "http://hooks.example/x",
		Payload:     `{"kind":"alert"}`,
		Severity:    models.SeverityHigh,
	}
	created, err := repo.CreateJob(ctx, job)
	require.NoError(t, err)
	require.True(t, created)

	// Drive the job to dead through the queue's own state machine.
	claimed, err := repo.ClaimNextJob(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, repo.MarkDead(ctx, claimed.ID, 5))

	rec := doRequest(router, http.MethodGet, "/jobs/dead")
	require.Equal(t, http.StatusOK, rec.Code)
	var dead []models.NotificationJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dead))
	require.Len(t, dead, 1)

	rec = doRequest(router, http.MethodPost, "/jobs/"+job.ID+"/replay")
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := repo.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Equal(t, 0, got.AttemptCount)

	// Replaying a job that isn't dead conflicts.
	rec = doRequest(router, http.MethodPost, "/jobs/"+job.ID+"/replay")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetJob_IncludesAttemptHistory(t *testing.T) {
	router, repo, _ := setupAPI(t)
	ctx := context.Background()

	job := &models.NotificationJob{
		AlertID:     "alert-2",
		Channel:     models.ChannelSlack,
		Destination: "https://hooks.slack.example/T000",
		Payload:     `{"kind":"alert"}`,
		Severity:    models.SeverityMedium,
	}
	_, err := repo.CreateJob(ctx, job)
	require.NoError(t, err)
	require.NoError(t, repo.AppendAttempt(ctx, &models.DeliveryAttempt{
		JobID:   job.ID,
		Attempt: 1,
		Channel: models.ChannelSlack,
		Outcome: models.SendTransientFailure,
	}))

	rec := doRequest(router, http.MethodGet, "/jobs/"+job.ID)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Job      models.NotificationJob    `json:"job"`
		Attempts []models.DeliveryAttempt  `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, job.ID, body.Job.ID)
	require.Len(t, body.Attempts, 1)
	assert.Equal(t, models.SendTransientFailure, body.Attempts[0].Outcome)
}

func TestTriggerRun_ReturnsSummary(t *testing.T) {
	router, _, runner := setupAPI(t)

	rec := doRequest(router, http.MethodPost, "/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, runner.calls)

	var summary service.RunSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 3, summary.SeriesScanned)
}

func TestListJobs_RejectsUnknownStatus(t *testing.T) {
	router, _, _ := setupAPI(t)
	rec := doRequest(router, http.MethodGet, "/jobs?status=bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
