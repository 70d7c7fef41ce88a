package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current state of a processing job.
type JobStatus string

// Possible job status values
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusTimedOut  JobStatus = "timed_out"
	JobStatusRejected  JobStatus = "rejected"
)

// IsTerminal reports whether the status is final. A job in a terminal
// state is immutable.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusTimedOut, JobStatusRejected:
		return true
	default:
		return false
	}
}

// Error codes attached to terminal job errors. These mirror the
// failure taxonomy surfaced to API clients.
const (
	ErrCodeNotFound      = "not_found"
	ErrCodeConflict      = "conflict"
	ErrCodeUnprocessable = "unprocessable_entity"
	ErrCodeExternalCall  = "external_call_failure"
	ErrCodePersistence   = "persistence_failure"
	ErrCodeTimedOut      = "timed_out"
	ErrCodeRejected      = "rejected"
	ErrCodeInternal      = "internal"
)

// JobError is the structured failure detail attached to a job that
// ended in Failed, TimedOut or Rejected.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// JobResult is the structured output reference attached to a job that
// ended in Succeeded.
type JobResult struct {
	NoteID               string            `json:"note_id"`
	NoteType             string            `json:"note_type"`
	Sections             []string          `json:"sections"`
	HistoricalVisitsUsed int               `json:"historical_visits_used"`
	Issues               []ProcessingIssue `json:"issues,omitempty"`
	Usage                UsageSummary      `json:"usage"`
}

// Job is one unit of note-processing work tracked from submission to
// terminal status. The job manager owns all mutation; callers only ever
// see snapshot copies.
type Job struct {
	ID          uuid.UUID
	NoteID      string
	Force       bool
	Status      JobStatus
	SubmittedAt time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	Error       *JobError
	Result      *JobResult
}

// Snapshot returns a copy of the job safe to hand to callers. The
// pointer fields reference immutable values once set, so a shallow copy
// is sufficient.
func (j *Job) Snapshot() Job {
	return *j
}
