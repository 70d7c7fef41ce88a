// Package api implements the HTTP surface of the service: job
// submission, job status, and operational statistics.
package api

import (
	"time"

	"github.com/careloop/notedigest/internal/domain"
	"github.com/careloop/notedigest/internal/job"
)

// ProcessNoteRequest is the body of POST /api/notes/process.
type ProcessNoteRequest struct {
	NoteID string `json:"note_id" validate:"required,min=1"`
	Force  bool   `json:"force"`
}

// ProcessBatchRequest is the body of POST /api/notes/process/batch.
type ProcessBatchRequest struct {
	NoteIDs []string `json:"note_ids" validate:"required,min=1,max=500,dive,min=1"`
	Force   bool     `json:"force"`
}

// JobResponse is the API view of one job.
type JobResponse struct {
	JobID       string            `json:"job_id"`
	NoteID      string            `json:"note_id"`
	Status      string            `json:"status"`
	SubmittedAt time.Time         `json:"submitted_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
	Error       *domain.JobError  `json:"error,omitempty"`
	Result      *domain.JobResult `json:"result,omitempty"`
}

// BatchEntryResponse reports the admission outcome for one batch entry.
type BatchEntryResponse struct {
	NoteID   string `json:"note_id"`
	JobID    string `json:"job_id"`
	Accepted bool   `json:"accepted"`
	Detail   string `json:"detail,omitempty"`
}

// BatchResponse is the body of a batch submission response.
type BatchResponse struct {
	Accepted int                  `json:"accepted"`
	Rejected int                  `json:"rejected"`
	Entries  []BatchEntryResponse `json:"entries"`
}

// JobListResponse is the body of GET /api/jobs.
type JobListResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Count int           `json:"count"`
}

func toJobResponse(j domain.Job) JobResponse {
	return JobResponse{
		JobID:       j.ID.String(),
		NoteID:      j.NoteID,
		Status:      string(j.Status),
		SubmittedAt: j.SubmittedAt,
		StartedAt:   j.StartedAt,
		FinishedAt:  j.FinishedAt,
		Error:       j.Error,
		Result:      j.Result,
	}
}

func toBatchResponse(results []job.BatchResult) BatchResponse {
	resp := BatchResponse{Entries: make([]BatchEntryResponse, 0, len(results))}
	for _, r := range results {
		entry := BatchEntryResponse{
			NoteID:   r.NoteID,
			JobID:    r.JobID.String(),
			Accepted: r.Accepted,
		}
		if r.Err != nil {
			entry.Detail = GetSafeErrorMessage(r.Err)
		}
		if r.Accepted {
			resp.Accepted++
		} else {
			resp.Rejected++
		}
		resp.Entries = append(resp.Entries, entry)
	}
	return resp
}
