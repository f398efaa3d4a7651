package models

import "time"

// Channel identifies the transport a notification is delivered over.
type Channel string

const (
	ChannelWebhook Channel = "webhook"
	ChannelSlack   Channel = "slack"
	ChannelEmail   Channel = "email"
)

// JobStatus is the delivery state machine for one NotificationJob.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusInFlight  JobStatus = "in_flight"
	JobStatusDelivered JobStatus = "delivered"
	JobStatusDead      JobStatus = "dead"
)

// NotificationJob is one durable unit of delivery work. Terminal states are
// delivered and dead.
type NotificationJob struct {
	ID      string  `json:"id"       db:"id"`
	AlertID string  `json:"alert_id" db:"alert_id"`
	Channel Channel `json:"channel"  db:"channel"`
	// Destination is the channel-specific target (URL, Slack webhook, address).
	Destination string `json:"destination" db:"destination"`
	// Payload is the rendered notification body (JSON).
	Payload string `json:"payload" db:"payload"`
	// Severity orders dequeue priority across channels.
	Severity      Severity  `json:"severity"        db:"severity"`
	AttemptCount  int       `json:"attempt_count"   db:"attempt_count"`
	NextAttemptAt time.Time `json:"next_attempt_at" db:"next_attempt_at"`
	Status        JobStatus `json:"status"          db:"status"`
	CreatedAt     time.Time `json:"created_at"      db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"      db:"updated_at"`
}

// SendOutcome classifies one adapter send result.
type SendOutcome string

const (
	SendSuccess          SendOutcome = "success"
	SendTransientFailure SendOutcome = "transient_failure"
	SendPermanentFailure SendOutcome = "permanent_failure"
)

// DeliveryAttempt is the immutable audit record of one send try.
type DeliveryAttempt struct {
	ID          string      `json:"id"           db:"id"`
	JobID       string      `json:"job_id"       db:"job_id"`
	Attempt     int         `json:"attempt"      db:"attempt"`
	Channel     Channel     `json:"channel"      db:"channel"`
	Outcome     SendOutcome `json:"outcome"      db:"outcome"`
	ErrorDetail string      `json:"error_detail" db:"error_detail"`
	Timestamp   time.Time   `json:"timestamp"    db:"timestamp"`
}

// ChannelTarget binds a channel to a destination in a rule definition.
type ChannelTarget struct {
	Channel     Channel `yaml:"channel"     json:"channel"`
	Destination string  `yaml:"destination" json:"destination"`
}

// WebSocketMessage is the envelope broadcast to live dashboard clients.
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}
