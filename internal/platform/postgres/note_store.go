// Package postgres implements the store interfaces on PostgreSQL using
// database/sql over the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/careloop/notedigest/internal/domain"
	"github.com/careloop/notedigest/internal/platform/logger"
	"github.com/careloop/notedigest/internal/store"
)

// NoteStore implements the store.NoteStore interface using PostgreSQL.
type NoteStore struct {
	db *sql.DB

	// batchSize chunks multi-row section inserts inside the write
	// transaction.
	batchSize int
}

// NewNoteStore creates a new NoteStore.
func NewNoteStore(db *sql.DB, batchSize int) *NoteStore {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &NoteStore{db: db, batchSize: batchSize}
}

// GetNote retrieves a note by its source identifier.
func (s *NoteStore) GetNote(ctx context.Context, noteID string) (*domain.Note, error) {
	query := `
		SELECT note_id, COALESCE(mrn, ''), COALESCE(note_type, ''),
		       COALESCE(raw_text, ''), visited_at, status, created_at
		FROM clinical_notes
		WHERE note_id = $1
	`

	var note domain.Note
	err := s.db.QueryRowContext(ctx, query, noteID).Scan(
		&note.NoteID,
		&note.MRN,
		&note.NoteType,
		&note.RawText,
		&note.VisitedAt,
		&note.Status,
		&note.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", store.ErrNoteNotFound, noteID)
		}
		return nil, MapError(err)
	}

	return &note, nil
}

// GetPriorVisits returns up to limit prior visits for the patient,
// ordered by visit date descending, excluding the given note. The
// digest of an already-processed prior note rides along as context.
func (s *NoteStore) GetPriorVisits(ctx context.Context, mrn string, limit int, excludeNoteID string) ([]domain.HistoricalVisit, error) {
	if mrn == "" || limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT n.note_id, COALESCE(n.note_type, ''), n.visited_at,
		       COALESCE(s.section_text, '')
		FROM clinical_notes n
		LEFT JOIN processed_note_sections s
		       ON s.note_id = n.note_id AND s.section_name = $1
		WHERE n.mrn = $2 AND n.note_id <> $3
		ORDER BY n.visited_at DESC
		LIMIT $4
	`

	rows, err := s.db.QueryContext(ctx, query, domain.SectionDigest, mrn, excludeNoteID, limit)
	if err != nil {
		return nil, MapError(err)
	}
	defer func() { _ = rows.Close() }()

	var visits []domain.HistoricalVisit
	for rows.Next() {
		var v domain.HistoricalVisit
		if err := rows.Scan(&v.NoteID, &v.NoteType, &v.VisitedAt, &v.Digest); err != nil {
			return nil, MapError(err)
		}
		visits = append(visits, v)
	}
	if err := rows.Err(); err != nil {
		return nil, MapError(err)
	}

	return visits, nil
}

// WriteProcessedNote stores the structured sections and derived summary
// for a note inside one transaction. Sections from a previous attempt
// are replaced, not appended, so re-processing after a failure is safe.
func (s *NoteStore) WriteProcessedNote(ctx context.Context, noteID string, sections []domain.Section, summary domain.UsageSummary, visitsUsed int) error {
	log := logger.FromContext(ctx)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", store.ErrTransactionFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM processed_note_sections WHERE note_id = $1`, noteID); err != nil {
		return MapError(err)
	}

	now := time.Now().UTC()
	for start := 0; start < len(sections); start += s.batchSize {
		end := start + s.batchSize
		if end > len(sections) {
			end = len(sections)
		}
		if err := insertSectionChunk(ctx, tx, noteID, sections[start:end], now); err != nil {
			log.Error("failed to write processed sections",
				"note_id", noteID,
				"section_count", len(sections),
				"error", err)
			return MapError(err)
		}
	}

	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal usage summary: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE clinical_notes
		SET token_usage_summary = $1, historical_visits_used = $2, updated_at = $3
		WHERE note_id = $4
	`, summaryJSON, visitsUsed, now, noteID)
	if err != nil {
		return MapError(err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: %s", store.ErrNoteNotFound, noteID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", store.ErrTransactionFailed, err)
	}

	return nil
}

// UpdateNoteStatus transitions the note's processing status and records
// accumulated processing issues.
func (s *NoteStore) UpdateNoteStatus(ctx context.Context, noteID string, status domain.NoteStatus, issues []domain.ProcessingIssue) error {
	issuesJSON, err := json.Marshal(issues)
	if err != nil {
		return fmt.Errorf("failed to marshal processing issues: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE clinical_notes
		SET status = $1, processing_issues = $2, updated_at = $3
		WHERE note_id = $4
	`, status, issuesJSON, time.Now().UTC(), noteID)
	if err != nil {
		return MapError(err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return MapError(err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", store.ErrNoteNotFound, noteID)
	}

	return nil
}

// insertSectionChunk writes one chunk of sections as a single
// multi-row insert. It takes a DBTX so it runs inside the write
// transaction here and against a plain connection in tests.
func insertSectionChunk(ctx context.Context, db store.DBTX, noteID string, sections []domain.Section, now time.Time) error {
	if len(sections) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO processed_note_sections (note_id, section_name, section_text, created_at) VALUES `)

	args := make([]any, 0, len(sections)*4)
	for i, section := range sections {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 4
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4)
		args = append(args, noteID, section.Name, section.Text, now)
	}

	_, err := db.ExecContext(ctx, sb.String(), args...)
	return err
}
