package api

import (
	"net/http"

	"github.com/careloop/notedigest/internal/api/shared"
	"github.com/careloop/notedigest/internal/domain"
	"github.com/careloop/notedigest/internal/job"
	"github.com/google/uuid"
)

// JobService is the slice of the job manager the handlers need.
type JobService interface {
	Submit(noteID string, force bool) (domain.Job, error)
	SubmitBatch(noteIDs []string, force bool) []job.BatchResult
	GetStatus(id uuid.UUID) (domain.Job, error)
	ListJobs() []domain.Job
	Stats() job.Stats
}

// NoteHandler handles note processing submissions.
type NoteHandler struct {
	jobs JobService
}

// NewNoteHandler creates a NoteHandler.
func NewNoteHandler(jobs JobService) *NoteHandler {
	return &NoteHandler{jobs: jobs}
}

// ProcessNote handles POST /api/notes/process requests. Admission is
// asynchronous: a 202 carries the job to poll, regardless of whether
// processing will ultimately succeed.
func (h *NoteHandler) ProcessNote(w http.ResponseWriter, r *http.Request) {
	var req ProcessNoteRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	submitted, err := h.jobs.Submit(req.NoteID, req.Force)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, toJobResponse(submitted))
}

// ProcessBatch handles POST /api/notes/process/batch requests.
// Admission is partial: the response reports the outcome per entry and
// the status is 202 as long as at least one entry was admitted.
func (h *NoteHandler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	var req ProcessBatchRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	resp := toBatchResponse(h.jobs.SubmitBatch(req.NoteIDs, req.Force))
	status := http.StatusAccepted
	if resp.Accepted == 0 {
		status = http.StatusServiceUnavailable
	}
	shared.RespondWithJSON(w, r, status, resp)
}
