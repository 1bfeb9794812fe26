package domain

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a message. Transitions only move forward:
// SCHEDULED → QUEUED → SENDING → SENT, with the retry loop
// SENDING → RETRYING → QUEUED and the terminal failure RETRYING/SENDING → FAILED.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusQueued    Status = "QUEUED"
	StatusSending   Status = "SENDING"
	StatusSent      Status = "SENT"
	StatusRetrying  Status = "RETRYING"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further automatic transition may occur.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// Recoverable reports whether a stale record in this status may be re-driven
// by the recovery job.
func (s Status) Recoverable() bool {
	return s == StatusScheduled || s == StatusQueued || s == StatusRetrying
}

// Message is a single scheduled notification and the engine's unit of work.
// Content is rendered once at creation time so retries stay deterministic;
// ScheduledAt is the only timezone-resolved field and is always UTC.
type Message struct {
	ID              string     `json:"id"`
	SubscriberID    string     `json:"subscriber_id"`
	Kind            string     `json:"kind"`
	RenderedContent string     `json:"rendered_content"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	ActualSentAt    *time.Time `json:"actual_sent_at,omitempty"`
	Status          Status     `json:"status"`
	RetryCount      int        `json:"retry_count"`
	LastRetryAt     *time.Time `json:"last_retry_at,omitempty"`
	LastError       *string    `json:"last_error,omitempty"`
	ResponseCode    *int       `json:"response_code,omitempty"`
	ResponseBody    *string    `json:"response_body,omitempty"`
	IdempotencyKey  string     `json:"idempotency_key"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IdempotencyKey builds the deterministic key that makes creation exactly-once:
// one message per (subscriber, kind, local calendar occurrence).
func IdempotencyKey(subscriberID, kind string, localDate time.Time) string {
	return fmt.Sprintf("%s:%s:%s", subscriberID, kind, localDate.Format("2006-01-02"))
}
