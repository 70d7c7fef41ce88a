// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrNoteNotFound is returned when the requested note does not exist
	// in the note repository.
	ErrNoteNotFound = errors.New("note not found")

	// ErrAlreadyProcessed is returned when processing is requested for a
	// note that has already reached the processed state and force was
	// not set.
	ErrAlreadyProcessed = errors.New("note already processed")

	// ErrMissingRawText is returned when a note exists but carries no
	// raw text to process.
	ErrMissingRawText = errors.New("note has no raw text")

	// ErrUnknownNoteType is returned when neither the stored document
	// nor model extraction could determine a note type.
	ErrUnknownNoteType = errors.New("could not determine note type")
)
