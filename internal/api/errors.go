package api

import (
	"errors"
	"net/http"

	"github.com/careloop/notedigest/internal/domain"
	"github.com/careloop/notedigest/internal/job"
	"github.com/careloop/notedigest/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status
// codes based on the error type. This prevents leaking internal error
// types or messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, job.ErrJobNotFound),
		errors.Is(err, domain.ErrNoteNotFound),
		errors.Is(err, store.ErrNoteNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, domain.ErrAlreadyProcessed):
		return http.StatusConflict

	// Unprocessable content
	case errors.Is(err, domain.ErrMissingRawText),
		errors.Is(err, domain.ErrUnknownNoteType):
		return http.StatusUnprocessableEntity

	// Capacity and lifecycle
	case errors.Is(err, job.ErrQueueFull),
		errors.Is(err, job.ErrShuttingDown):
		return http.StatusServiceUnavailable

	case errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		return "Job not found"
	case errors.Is(err, domain.ErrNoteNotFound), errors.Is(err, store.ErrNoteNotFound):
		return "Note not found"
	case errors.Is(err, domain.ErrAlreadyProcessed):
		return "Note already processed; submit with force to reprocess"
	case errors.Is(err, domain.ErrMissingRawText):
		return "Note has no raw text to process"
	case errors.Is(err, job.ErrQueueFull):
		return "Processing queue is full; retry later"
	case errors.Is(err, job.ErrShuttingDown):
		return "Service is shutting down"
	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request"
	default:
		return "An internal error occurred"
	}
}
