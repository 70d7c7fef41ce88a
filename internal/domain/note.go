package domain

import (
	"time"
)

// NoteStatus represents the processing state of a clinical note as
// persisted in the note repository.
type NoteStatus string

// Possible note status values
const (
	NoteStatusUnprocessed NoteStatus = "unprocessed"
	NoteStatusProcessing  NoteStatus = "processing"
	NoteStatusProcessed   NoteStatus = "processed"
	NoteStatusFailed      NoteStatus = "failed"
)

// Note is a clinical note as stored in the note repository.
type Note struct {
	// NoteID is the source system identifier for the note.
	NoteID string

	// MRN is the patient identifier. May be empty when the source
	// system did not capture one.
	MRN string

	// NoteType is the canonical note type (e.g. "progress_note").
	// Empty when the source system did not classify the note.
	NoteType string

	// RawText is the unprocessed note body.
	RawText string

	// VisitedAt is the service date of the visit the note documents.
	VisitedAt time.Time

	// Status tracks the note's processing lifecycle.
	Status NoteStatus

	CreatedAt time.Time
}

// Section is one structured output unit produced for a note, e.g. the
// templated rewrite, the SOAP sections, or the digest.
type Section struct {
	Name string
	Text string
}

// Canonical section names produced by the processing pipeline.
const (
	SectionNoteTypeMRN = "note_type_mrn_extraction"
	SectionTemplate    = "template_processing"
	SectionSOAP        = "soap_generation"
	SectionDigest      = "notes_digest"
)

// ProcessingIssue records a non-fatal problem encountered while
// processing a note. Issues are persisted alongside the note for audit.
type ProcessingIssue struct {
	Stage      string    `json:"stage"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// HistoricalVisit is a prior visit for the same patient, used as
// additional context during structured extraction.
type HistoricalVisit struct {
	NoteID    string
	NoteType  string
	VisitedAt time.Time
	Digest    string
}
