package models

import "time"

// JobState tracks an enqueued event through the delivery pipeline.
// Transitions are monotonic: pending → processing → {complete | failed}.
// A failed attempt below the retry ceiling moves the job back to pending.
type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateProcessing JobState = "processing"
	JobStateComplete   JobState = "complete"
	JobStateFailed     JobState = "failed"
)

// Job is the per-event processing record persisted in the durable queue.
type Job struct {
	ID          string         `json:"id"`
	Event       CanonicalEvent `json:"event"`
	State       JobState       `json:"state"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	LastError   string         `json:"last_error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// MarkProcessing records the start of a dispatch attempt.
func (j *Job) MarkProcessing() {
	now := time.Now()
	j.State = JobStateProcessing
	j.Attempts++
	j.ProcessedAt = &now
	j.UpdatedAt = now
}

// MarkComplete records a successful dispatch.
func (j *Job) MarkComplete() {
	now := time.Now()
	j.State = JobStateComplete
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// MarkFailed records a failed attempt. The job stays retryable until the
// attempt ceiling is reached.
func (j *Job) MarkFailed(errMsg string) {
	j.LastError = errMsg
	j.UpdatedAt = time.Now()
	if j.Retryable() {
		j.State = JobStatePending
	} else {
		j.State = JobStateFailed
	}
}

// Retryable reports whether another dispatch attempt is allowed.
func (j *Job) Retryable() bool {
	return j.Attempts < j.MaxAttempts
}
