package store

import (
	"context"

	"github.com/careloop/notedigest/internal/domain"
)

// NoteStore is the note repository contract: read/write access to
// source notes, processed output and historical visits. Implementations
// live under internal/platform.
type NoteStore interface {
	// GetNote retrieves a note by its source identifier.
	// Returns ErrNoteNotFound if the note does not exist.
	GetNote(ctx context.Context, noteID string) (*domain.Note, error)

	// GetPriorVisits returns up to limit prior visits for the patient,
	// ordered by visit date descending, excluding the given note.
	// An empty result is not an error.
	GetPriorVisits(ctx context.Context, mrn string, limit int, excludeNoteID string) ([]domain.HistoricalVisit, error)

	// WriteProcessedNote persists the structured sections and derived
	// summary for a note. The write is atomic: either every section is
	// stored or none are. Re-running for the same note replaces any
	// sections from a previous attempt.
	WriteProcessedNote(ctx context.Context, noteID string, sections []domain.Section, summary domain.UsageSummary, visitsUsed int) error

	// UpdateNoteStatus transitions the note's processing status and
	// records any accumulated processing issues.
	// Returns ErrNoteNotFound if the note does not exist.
	UpdateNoteStatus(ctx context.Context, noteID string, status domain.NoteStatus, issues []domain.ProcessingIssue) error
}
