package domain

import (
	"encoding/json"
	"time"
)

// Push channel event types.
const (
	TypeSubscribeJob       = "subscribe_job"
	TypeUnsubscribeJob     = "unsubscribe_job"
	TypeJobUpdate          = "job_update"
	TypeMLProgress         = "ml_progress"
	TypeMLComplete         = "ml_complete"
	TypeMLError            = "ml_error"
	TypeSystemNotification = "system_notification"
)

// Envelope wraps every frame in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

// OutboundEnvelope is the encoding side of Envelope.
type OutboundEnvelope struct {
	Type      string `json:"type"`
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"`
}

func NewOutbound(eventType string, data any, now time.Time) OutboundEnvelope {
	return OutboundEnvelope{
		Type:      eventType,
		Data:      data,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}

// JobSubscription is the payload of subscribe_job and unsubscribe_job.
type JobSubscription struct {
	JobID string `json:"jobId"`
}

// JobUpdate is pushed whenever a job changes.
type JobUpdate struct {
	JobID    string          `json:"jobId"`
	Status   string          `json:"status"`
	Progress *float64        `json:"progress,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

type MLProgress struct {
	JobID    string  `json:"jobId"`
	Progress float64 `json:"progress"`
	Stage    string  `json:"stage,omitempty"`
	Message  string  `json:"message,omitempty"`
}

type MLComplete struct {
	JobID  string          `json:"jobId"`
	Type   string          `json:"type,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

type MLError struct {
	JobID string `json:"jobId"`
	Error string `json:"error"`
}

type SystemNotification struct {
	Level   string `json:"level,omitempty"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message"`
}
