package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/seowatch/seowatch-backend/internal/models"
)

// WebhookSender POSTs the job payload as JSON to the job's destination URL.
type WebhookSender struct {
	client *http.Client
}

func NewWebhookSender(timeout time.Duration) *WebhookSender {
	return &WebhookSender{client: &http.Client{Timeout: timeout}}
}

func (w *WebhookSender) Send(ctx context.Context, job *models.NotificationJob) (models.SendOutcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.Destination,
		bytes.NewBufferString(job.Payload))
	if err != nil {
		return models.SendPermanentFailure, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		// Network errors and timeouts are retryable.
		return models.SendTransientFailure, fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()

	return classifyStatus(resp.StatusCode)
}

// classifyStatus maps an HTTP response onto a send outcome. Throttling and
// server errors are transient; other client errors will not heal on retry.
func classifyStatus(code int) (models.SendOutcome, error) {
	switch {
	case code >= 200 && code < 300:
		return models.SendSuccess, nil
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return models.SendTransientFailure, fmt.Errorf("webhook returned %d", code)
	default:
		return models.SendPermanentFailure, fmt.Errorf("webhook returned %d", code)
	}
}

// SlackSender posts to a Slack incoming webhook. The job payload is wrapped
// into Slack's message schema with the alert title as the fallback text.
type SlackSender struct {
	client *http.Client
}

func NewSlackSender(timeout time.Duration) *SlackSender {
	return &SlackSender{client: &http.Client{Timeout: timeout}}
}

func (s *SlackSender) Send(ctx context.Context, job *models.NotificationJob) (models.SendOutcome, error) {
	var payload NotificationPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return models.SendPermanentFailure, fmt.Errorf("decode job payload: %w", err)
	}

	msg := map[string]interface{}{
		"text": payload.Title,
		"attachments": []map[string]interface{}{
			{
				"color": slackColor(payload.Severity),
				"text":  payload.Message,
				"fields": []map[string]interface{}{
					{"title": "Entity", "value": payload.EntityID, "short": true},
					{"title": "Severity", "value": string(payload.Severity), "short": true},
				},
			},
		},
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return models.SendPermanentFailure, fmt.Errorf("encode slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.Destination, bytes.NewReader(body))
	if err != nil {
		return models.SendPermanentFailure, fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return models.SendTransientFailure, fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	return classifyStatus(resp.StatusCode)
}

func slackColor(sev models.Severity) string {
	switch sev {
	case models.SeverityHigh:
		return "danger"
	case models.SeverityMedium:
		return "warning"
	}
	return "#439FE0"
}
