package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seowatch/seowatch-backend/internal/models"
)

func testJob(destination string) *models.NotificationJob {
	payload, _ := json.Marshal(NotificationPayload{
		Kind:     "alert",
		AlertID:  "a1",
		RuleID:   "r1",
		EntityID: "site-important",
		Severity: models.SeverityHigh,
		Title:    "clicks drop: search_clicks below baseline for site-important",
		Message:  "search_clicks for site-important moved below its baseline",
	})
	return &models.NotificationJob{
		ID:          "job-1",
		AlertID:     "a1",
		Channel:     models.ChannelWebhook,
		Destination: destination,
		Payload:     string(payload),
		Severity:    models.SeverityHigh,
	}
}

func TestWebhookSender_SuccessOn2xx(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewWebhookSender(5 * time.Second)
	outcome, err := s.Send(context.Background(), testJob(srv.URL))

	require.NoError(t, err)
	assert.Equal(t, models.SendSuccess, outcome)

	var payload NotificationPayload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "a1", payload.AlertID)
}

func TestWebhookSender_OutcomeClassification(t *testing.T) {
	tests := []struct {
		status int
		want   models.SendOutcome
	}{
		{http.StatusNoContent, models.SendSuccess},
		{http.StatusTooManyRequests, models.SendTransientFailure},
		{http.StatusInternalServerError, models.SendTransientFailure},
		{http.StatusBadGateway, models.SendTransientFailure},
		{http.StatusBadRequest, models.SendPermanentFailure},
		{http.StatusNotFound, models.SendPermanentFailure},
		{http.StatusUnauthorized, models.SendPermanentFailure},
	}

	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		s := NewWebhookSender(5 * time.Second)
		outcome, _ := s.Send(context.Background(), testJob(srv.URL))
		assert.Equal(t, tc.want, outcome, "status %d", tc.status)
		srv.Close()
	}
}

func TestWebhookSender_ConnectionErrorIsTransient(t *testing.T) {
	s := NewWebhookSender(time.Second)
	// Reserved TEST-NET address: nothing listens there.
	outcome, err := s.Send(context.Background(), testJob("http://192.0.2.1:1/hook"))

	assert.Error(t, err)
	assert.Equal(t, models.SendTransientFailure, outcome)
}

func TestSlackSender_WrapsPayloadInSlackSchema(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	job := testJob(srv.URL)
	job.Channel = models.ChannelSlack

	s := NewSlackSender(5 * time.Second)
	outcome, err := s.Send(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, models.SendSuccess, outcome)
	assert.Contains(t, got["text"], "clicks drop")
	attachments, ok := got["attachments"].([]interface{})
	require.True(t, ok)
	require.Len(t, attachments, 1)
	first := attachments[0].(map[string]interface{})
	assert.Equal(t, "danger", first["color"])
}

func TestSlackSender_GarbagePayloadIsPermanent(t *testing.T) {
	job := testJob("http://unused.example")
	job.Payload = "{not json"

	s := NewSlackSender(time.Second)
	outcome, err := s.Send(context.Background(), job)

	assert.Error(t, err)
	assert.Equal(t, models.SendPermanentFailure, outcome)
}

func TestEmailSender_BuildsRFCMessage(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	s := NewEmailSender("smtp.example:587", "alerts@seowatch.example")
	s.send = func(addr, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	job := testJob("oncall@example.com")
	job.Channel = models.ChannelEmail

	outcome, err := s.Send(context.Background(), job)

	require.NoError(t, err)
	assert.Equal(t, models.SendSuccess, outcome)
	assert.Equal(t, "smtp.example:587", gotAddr)
	assert.Equal(t, "alerts@seowatch.example", gotFrom)
	assert.Equal(t, []string{"oncall@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: [HIGH] clicks drop")
	assert.Contains(t, string(gotMsg), "To: oncall@example.com")
}

func TestEmailSender_UnconfiguredIsPermanent(t *testing.T) {
	s := NewEmailSender("", "")
	outcome, err := s.Send(context.Background(), testJob("oncall@example.com"))

	assert.Error(t, err)
	assert.Equal(t, models.SendPermanentFailure, outcome)
}
