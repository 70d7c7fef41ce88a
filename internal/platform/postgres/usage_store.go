package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/careloop/notedigest/internal/store"
	"github.com/careloop/notedigest/internal/usage"
)

// UsageStore implements the usage.Store interface using PostgreSQL.
// Records are append-only; there is no update path.
type UsageStore struct {
	db        *sql.DB
	batchSize int
}

// NewUsageStore creates a new UsageStore.
func NewUsageStore(db *sql.DB, batchSize int) *UsageStore {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &UsageStore{db: db, batchSize: batchSize}
}

// SaveUsageRecords persists a batch of token usage records. Chunks are
// written as multi-row inserts.
func (s *UsageStore) SaveUsageRecords(ctx context.Context, records []usage.Record) error {
	for start := 0; start < len(records); start += s.batchSize {
		end := start + s.batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := insertUsageChunk(ctx, s.db, records[start:end]); err != nil {
			return MapError(err)
		}
	}
	return nil
}

func insertUsageChunk(ctx context.Context, db store.DBTX, records []usage.Record) error {
	if len(records) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO token_usage
		(id, job_id, note_id, section_name, input_tokens, output_tokens, model_id, cost_usd, flagged, recorded_at)
		VALUES `)

	args := make([]any, 0, len(records)*10)
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 10
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10)
		args = append(args,
			rec.ID, rec.JobID, rec.NoteID, rec.Section,
			rec.InputTokens, rec.OutputTokens, rec.ModelID,
			rec.CostUSD, rec.Flagged, rec.RecordedAt)
	}

	_, err := db.ExecContext(ctx, sb.String(), args...)
	return err
}
