package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// JobStatus is the lifecycle state of an analysis job as reported by the platform.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// ParseJobStatus accepts any casing of the four wire statuses.
func ParseJobStatus(s string) (JobStatus, bool) {
	switch st := JobStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case JobPending, JobProcessing, JobCompleted, JobFailed:
		return st, true
	}
	return "", false
}

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is the status record returned by the request/response API.
type Job struct {
	ID        string          `json:"id"`
	Type      string          `json:"type,omitempty"`
	Status    JobStatus       `json:"status"`
	Progress  *float64        `json:"progress,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Projection is the locally held, merged view of one job's status.
// PullErr is set when the initial pull failed; Status is empty then.
type Projection struct {
	JobID     string          `json:"jobId"`
	Status    JobStatus       `json:"status,omitempty"`
	Progress  *float64        `json:"progress,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	PullErr   error           `json:"-"`
}

func NewProjection(job *Job) Projection {
	return Projection{
		JobID:     job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		Result:    job.Result,
		Error:     job.Error,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
}

// Failed reports whether the projection is the error state of a failed pull.
func (p Projection) Failed() bool { return p.PullErr != nil }

// Apply merges a push update. Only status, progress, result and error are
// replaced; UpdatedAt becomes the receipt time.
func (p Projection) Apply(u JobUpdate, status JobStatus, receivedAt time.Time) Projection {
	p.Status = status
	p.Progress = u.Progress
	p.Result = u.Result
	p.Error = u.Error
	p.UpdatedAt = receivedAt
	return p
}

// JobPage is one page of the job listing.
type JobPage struct {
	Items []Job `json:"items"`
	Total int   `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

// MLStats aggregates processing statistics across the platform.
type MLStats struct {
	TotalJobs      int            `json:"totalJobs"`
	ActiveJobs     int            `json:"activeJobs"`
	CompletedJobs  int            `json:"completedJobs"`
	FailedJobs     int            `json:"failedJobs"`
	AverageSeconds float64        `json:"averageProcessingTime"`
	ByType         map[string]int `json:"jobsByType,omitempty"`
}

// JobAccepted is returned by upload endpoints that start a job.
type JobAccepted struct {
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
	Message string    `json:"message,omitempty"`
}

type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelSuccess NotificationLevel = "success"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// Notification is a user-facing message surfaced from push events and
// connection state.
type Notification struct {
	Level   NotificationLevel
	Title   string
	Message string
	JobID   string
	At      time.Time
}
