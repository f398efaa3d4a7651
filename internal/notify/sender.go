package notify

import (
	"context"
	"fmt"

	"github.com/seowatch/seowatch-backend/internal/models"
)

// Sender delivers one rendered notification over a single channel. Outcome
// classification drives retry behavior: transient failures are retried with
// backoff, permanent failures dead-letter the job immediately.
type Sender interface {
	Send(ctx context.Context, job *models.NotificationJob) (models.SendOutcome, error)
}

// Registry maps channels to their senders.
type Registry struct {
	senders map[models.Channel]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: make(map[models.Channel]Sender)}
}

func (r *Registry) Register(ch models.Channel, s Sender) {
	r.senders[ch] = s
}

// For returns the sender for a channel. An unknown channel is a permanent
// failure: retrying a job no adapter can handle only burns attempts.
func (r *Registry) For(ch models.Channel) (Sender, error) {
	s, ok := r.senders[ch]
	if !ok {
		return nil, fmt.Errorf("no sender registered for channel %q", ch)
	}
	return s, nil
}
