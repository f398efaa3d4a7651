package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/seowatch/seowatch-backend/internal/models"
)

// EmailSender delivers notifications over SMTP. The job destination is the
// recipient address; server and sender come from configuration.
type EmailSender struct {
	addr string // SMTP host:port
	from string
	send func(addr, from string, to []string, msg []byte) error
}

func NewEmailSender(addr, from string) *EmailSender {
	return &EmailSender{
		addr: addr,
		from: from,
		send: func(addr, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

func (e *EmailSender) Send(ctx context.Context, job *models.NotificationJob) (models.SendOutcome, error) {
	if e.addr == "" || e.from == "" {
		return models.SendPermanentFailure, fmt.Errorf("email channel not configured")
	}

	var payload NotificationPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return models.SendPermanentFailure, fmt.Errorf("decode job payload: %w", err)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.from)
	fmt.Fprintf(&msg, "To: %s\r\n", job.Destination)
	fmt.Fprintf(&msg, "Subject: [%s] %s\r\n", strings.ToUpper(string(payload.Severity)), payload.Title)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(payload.Message)
	msg.WriteString("\r\n")

	type result struct {
		err error
	}
	done := make(chan result, 1)
	go func() {
		done <- result{e.send(e.addr, e.from, []string{job.Destination}, []byte(msg.String()))}
	}()

	// net/smtp takes no context; honor cancellation by abandoning the wait.
	select {
	case <-ctx.Done():
		return models.SendTransientFailure, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return models.SendTransientFailure, fmt.Errorf("smtp send: %w", r.err)
		}
		return models.SendSuccess, nil
	}
}
