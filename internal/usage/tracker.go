// Package usage accumulates per-call token counts and derived cost for
// every model invocation made while processing notes. Accounting is
// best-effort by contract: it must never fail the job that produced it.
package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/notedigest/internal/domain"
)

// Record is one append-only token usage entry, one per model invocation.
type Record struct {
	ID           uuid.UUID
	JobID        uuid.UUID
	NoteID       string
	Section      string
	InputTokens  int
	OutputTokens int
	ModelID      string
	CostUSD      float64
	// Flagged marks records whose model id had no price table entry;
	// their cost is recorded as zero.
	Flagged    bool
	RecordedAt time.Time
}

// Store persists usage records in batches.
type Store interface {
	SaveUsageRecords(ctx context.Context, records []Record) error
}

// Counters reports flush bookkeeping for observability endpoints.
type Counters struct {
	RecordsFlushed uint64 `json:"records_flushed"`
	FlushFailures  uint64 `json:"flush_failures"`
}

// Tracker is the process-wide usage accumulator. Workers write to it
// concurrently; records are buffered and flushed to the store in
// batches. A flush failure is logged and counted but never propagated
// to the job that produced the records.
type Tracker struct {
	mu      sync.Mutex
	byJob   map[uuid.UUID][]Record
	pending []Record

	store     Store
	prices    PriceTable
	batchSize int
	logger    *slog.Logger

	flushed       uint64
	flushFailures uint64
}

// NewTracker creates a tracker flushing to store every batchSize
// records. A nil store disables persistence (records stay queryable in
// memory for the life of their job).
func NewTracker(store Store, prices PriceTable, batchSize int, logger *slog.Logger) *Tracker {
	if batchSize <= 0 {
		batchSize = 100
	}
	if prices == nil {
		prices = DefaultPriceTable()
	}
	return &Tracker{
		byJob:     make(map[uuid.UUID][]Record),
		store:     store,
		prices:    prices,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Record appends a usage entry for one model invocation and computes
// its cost from the price table. Unknown model ids produce a flagged
// zero-cost record rather than an error.
func (t *Tracker) Record(ctx context.Context, jobID uuid.UUID, noteID, section string, inputTokens, outputTokens int, modelID string) Record {
	cost, known := t.prices.Cost(modelID, inputTokens, outputTokens)

	rec := Record{
		ID:           uuid.New(),
		JobID:        jobID,
		NoteID:       noteID,
		Section:      section,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		ModelID:      modelID,
		CostUSD:      cost,
		Flagged:      !known,
		RecordedAt:   time.Now().UTC(),
	}

	if !known {
		t.logger.Warn("unknown model id in usage record, cost set to zero",
			"model_id", modelID,
			"section", section,
			"job_id", jobID)
	}

	t.mu.Lock()
	t.byJob[jobID] = append(t.byJob[jobID], rec)
	t.pending = append(t.pending, rec)
	shouldFlush := len(t.pending) >= t.batchSize
	t.mu.Unlock()

	if shouldFlush {
		t.Flush(ctx)
	}

	return rec
}

// Summarize totals tokens and cost across all sections recorded for a
// job. Returns a zero summary for unknown jobs.
func (t *Tracker) Summarize(jobID uuid.UUID) domain.UsageSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	var summary domain.UsageSummary
	for _, rec := range t.byJob[jobID] {
		summary.InputTokens += rec.InputTokens
		summary.OutputTokens += rec.OutputTokens
		summary.CostUSD += rec.CostUSD
		summary.Sections++
	}
	summary.TotalTokens = summary.InputTokens + summary.OutputTokens
	return summary
}

// Records returns a copy of the per-section records for a job.
func (t *Tracker) Records(jobID uuid.UUID) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	recs := t.byJob[jobID]
	out := make([]Record, len(recs))
	copy(out, recs)
	return out
}

// Release drops the in-memory records for a finished job. Pending
// persistence is unaffected.
func (t *Tracker) Release(jobID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byJob, jobID)
}

// Flush persists all buffered records. Failures are logged and counted;
// the failed batch is retained for the next flush so records are never
// silently lost.
func (t *Tracker) Flush(ctx context.Context) {
	t.mu.Lock()
	if len(t.pending) == 0 || t.store == nil {
		t.pending = nil
		t.mu.Unlock()
		return
	}
	batch := t.pending
	t.pending = nil
	t.mu.Unlock()

	if err := t.store.SaveUsageRecords(ctx, batch); err != nil {
		t.logger.Error("failed to flush usage records",
			"count", len(batch),
			"error", err)
		t.mu.Lock()
		t.flushFailures++
		t.pending = append(batch, t.pending...)
		t.mu.Unlock()
		return
	}

	t.mu.Lock()
	t.flushed += uint64(len(batch))
	t.mu.Unlock()
}

// Counters returns flush bookkeeping totals.
func (t *Tracker) Counters() Counters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Counters{RecordsFlushed: t.flushed, FlushFailures: t.flushFailures}
}
