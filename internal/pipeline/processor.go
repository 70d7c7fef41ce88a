// Package pipeline implements the note processing pipeline: validate,
// extract identifiers, gather historical context, generate structured
// sections in parallel, persist, and notify.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/careloop/notedigest/internal/domain"
	"github.com/careloop/notedigest/internal/llm"
	"github.com/careloop/notedigest/internal/notify"
	"github.com/careloop/notedigest/internal/store"
	"github.com/careloop/notedigest/internal/usage"
)

// ModelCaller is the slice of llm.Caller the pipeline needs. Defined
// here so tests can substitute a fake without a real limiter/tracker.
type ModelCaller interface {
	Call(ctx context.Context, jobID uuid.UUID, noteID, section string, req llm.Request) (*llm.Response, error)
}

// Notifier delivers best-effort processing notifications downstream.
type Notifier interface {
	NotifyProcessed(ctx context.Context, payload notify.ProcessedPayload) error
	NotifyFailure(ctx context.Context, payload notify.FailurePayload) error
}

// Config holds the pipeline's tunables.
type Config struct {
	// PreviousVisits is how many prior visits to load as historical
	// context for the templated rewrite.
	PreviousVisits int

	// MaxOutputTokens bounds each section generation call.
	MaxOutputTokens int

	// Temperature for section generation calls.
	Temperature float32
}

// Processor runs the full processing pipeline for one note. It is
// stateless across jobs and safe for concurrent use by the worker pool.
type Processor struct {
	store    store.NoteStore
	caller   ModelCaller
	tracker  *usage.Tracker
	notifier Notifier
	cfg      Config
	logger   *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(noteStore store.NoteStore, caller ModelCaller, tracker *usage.Tracker, notifier Notifier, cfg Config, logger *slog.Logger) *Processor {
	if cfg.PreviousVisits < 0 {
		cfg.PreviousVisits = 0
	}
	return &Processor{
		store:    noteStore,
		caller:   caller,
		tracker:  tracker,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// Process runs the pipeline for the given job. A nil error means the
// note reached the processed state; non-fatal problems along the way
// are carried in the result's Issues. A non-nil error means the job
// failed and the note, where it exists, was moved to the failed state.
func (p *Processor) Process(ctx context.Context, job *domain.Job) (*domain.JobResult, error) {
	log := p.logger.With("job_id", job.ID, "note_id", job.NoteID)
	var issues []domain.ProcessingIssue

	note, err := p.store.GetNote(ctx, job.NoteID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNoteNotFound, job.NoteID)
		}
		return nil, fmt.Errorf("failed to load note %s: %w", job.NoteID, err)
	}

	if note.Status == domain.NoteStatusProcessed && !job.Force {
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyProcessed, job.NoteID)
	}
	if strings.TrimSpace(note.RawText) == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrMissingRawText, job.NoteID)
	}

	if err := p.store.UpdateNoteStatus(ctx, note.NoteID, domain.NoteStatusProcessing, nil); err != nil {
		log.Warn("failed to mark note processing", "error", err)
		issues = addIssue(issues, "status_update", fmt.Sprintf("could not mark note processing: %v", err))
	}

	noteType, mrn, extractIssues := p.resolveIdentifiers(ctx, job, note)
	issues = append(issues, extractIssues...)
	log.Info("identifiers resolved", "note_type", noteType, "mrn_found", mrn != "")

	history, histIssues := p.loadHistory(ctx, note.NoteID, mrn)
	issues = append(issues, histIssues...)

	sections, err := p.generateSections(ctx, job, note, noteType, history)
	if err != nil {
		p.finalizeFailure(ctx, job, note.NoteID, err, issues)
		return nil, err
	}

	summary := p.tracker.Summarize(job.ID)
	if err := p.store.WriteProcessedNote(ctx, note.NoteID, sections, summary, len(history)); err != nil {
		wrapped := fmt.Errorf("failed to persist processed sections for %s: %w", note.NoteID, err)
		p.finalizeFailure(ctx, job, note.NoteID, wrapped, issues)
		return nil, wrapped
	}

	// Persistence succeeded; from here the job succeeds regardless of
	// notification or status bookkeeping outcomes.
	finalCtx := context.WithoutCancel(ctx)

	if err := p.notifier.NotifyProcessed(finalCtx, processedPayload(note.NoteID, mrn, noteType, sections, len(history), summary)); err != nil {
		log.Warn("processed notification failed", "error", err)
		issues = addIssue(issues, "notification", fmt.Sprintf("notification delivery failed: %v", err))
	}

	if err := p.store.UpdateNoteStatus(finalCtx, note.NoteID, domain.NoteStatusProcessed, issues); err != nil {
		log.Warn("failed to mark note processed", "error", err)
		issues = addIssue(issues, "status_update", fmt.Sprintf("could not mark note processed: %v", err))
	}

	summary = p.tracker.Summarize(job.ID)
	p.tracker.Release(job.ID)

	sectionNames := make([]string, 0, len(sections))
	for _, s := range sections {
		sectionNames = append(sectionNames, s.Name)
	}

	log.Info("note processed",
		"note_type", noteType,
		"sections", len(sections),
		"historical_visits", len(history),
		"total_tokens", summary.TotalTokens,
		"cost_usd", summary.CostUSD)

	return &domain.JobResult{
		NoteID:               note.NoteID,
		NoteType:             noteType,
		Sections:             sectionNames,
		HistoricalVisitsUsed: len(history),
		Issues:               issues,
		Usage:                summary,
	}, nil
}

// resolveIdentifiers determines the note type and patient MRN. Stored
// values win; otherwise a sampled extraction call runs, with a regex
// scan as the identifier fallback. Extraction failures degrade to the
// generic note type rather than failing the job.
func (p *Processor) resolveIdentifiers(ctx context.Context, job *domain.Job, note *domain.Note) (noteType, mrn string, issues []domain.ProcessingIssue) {
	noteType = normalizeNoteType(note.NoteType)
	mrn = strings.TrimSpace(note.MRN)

	storedType := note.NoteType != "" && noteType != noteTypeGeneric
	if storedType && mrn != "" {
		return noteType, mrn, nil
	}

	resp, err := p.caller.Call(ctx, job.ID, note.NoteID, domain.SectionNoteTypeMRN, extractionRequest(note.RawText))
	if err != nil {
		issues = addIssue(issues, "identifier_extraction", fmt.Sprintf("model extraction failed: %v", err))
	} else {
		extractedType, extractedMRN := parseExtractionResponse(resp.Text)
		if !storedType {
			noteType = extractedType
		}
		if mrn == "" {
			mrn = extractedMRN
		}
	}

	if mrn == "" {
		mrn = extractMRNFallback(note.RawText)
	}
	if mrn == "" {
		issues = addIssue(issues, "identifier_extraction",
			"patient identifier not found; processing without historical context")
	}
	return noteType, mrn, issues
}

// loadHistory fetches prior visits for the patient. Both a missing MRN
// and a repository failure degrade to zero historical context.
func (p *Processor) loadHistory(ctx context.Context, noteID, mrn string) ([]domain.HistoricalVisit, []domain.ProcessingIssue) {
	if mrn == "" || p.cfg.PreviousVisits == 0 {
		return nil, nil
	}
	history, err := p.store.GetPriorVisits(ctx, mrn, p.cfg.PreviousVisits, noteID)
	if err != nil {
		p.logger.Warn("failed to load prior visits", "note_id", noteID, "error", err)
		return nil, []domain.ProcessingIssue{{
			Stage:      "historical_context",
			Message:    fmt.Sprintf("could not load prior visits: %v", err),
			OccurredAt: time.Now().UTC(),
		}}
	}
	return history, nil
}

// generateSections runs the three section generation calls in
// parallel. Any failure, after the caller's retry budget, fails the
// whole stage; the sibling calls are cancelled through the group
// context.
func (p *Processor) generateSections(ctx context.Context, job *domain.Job, note *domain.Note, noteType string, history []domain.HistoricalVisit) ([]domain.Section, error) {
	requests := []struct {
		section string
		req     llm.Request
	}{
		{domain.SectionTemplate, templateRequest(noteType, note.RawText, history, p.cfg.MaxOutputTokens, p.cfg.Temperature)},
		{domain.SectionSOAP, soapRequest(note.RawText, p.cfg.MaxOutputTokens, p.cfg.Temperature)},
		{domain.SectionDigest, digestRequest(note.RawText, p.cfg.MaxOutputTokens, p.cfg.Temperature)},
	}

	results := make([]domain.Section, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range requests {
		g.Go(func() error {
			resp, err := p.caller.Call(gctx, job.ID, note.NoteID, r.section, r.req)
			if err != nil {
				return fmt.Errorf("%s generation failed: %w", r.section, err)
			}
			results[i] = domain.Section{Name: r.section, Text: resp.Text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// finalizeFailure moves the note to the failed state and sends the
// failure notification. Both are best effort and run detached from the
// job context so a timed-out job still gets its bookkeeping.
func (p *Processor) finalizeFailure(ctx context.Context, job *domain.Job, noteID string, cause error, issues []domain.ProcessingIssue) {
	finalCtx := context.WithoutCancel(ctx)
	issues = addIssue(issues, "processing", cause.Error())

	if err := p.store.UpdateNoteStatus(finalCtx, noteID, domain.NoteStatusFailed, issues); err != nil {
		p.logger.Warn("failed to mark note failed", "note_id", noteID, "error", err)
	}
	if err := p.notifier.NotifyFailure(finalCtx, notify.FailurePayload{
		NoteID:     noteID,
		NoteStatus: string(domain.NoteStatusFailed),
		Detail:     cause.Error(),
		FailedAt:   time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		p.logger.Warn("failure notification failed", "note_id", noteID, "error", err)
	}
	p.tracker.Release(job.ID)
}

func processedPayload(noteID, mrn, noteType string, sections []domain.Section, visitsUsed int, summary domain.UsageSummary) notify.ProcessedPayload {
	payload := notify.ProcessedPayload{
		NoteID:               noteID,
		MRN:                  mrn,
		NoteType:             noteType,
		HistoricalVisitsUsed: visitsUsed,
		TotalTokens:          summary.TotalTokens,
		CostUSD:              summary.CostUSD,
		ProcessedAt:          time.Now().UTC().Format(time.RFC3339),
	}
	for _, s := range sections {
		switch s.Name {
		case domain.SectionTemplate:
			payload.ProcessedText = s.Text
		case domain.SectionSOAP:
			payload.SOAPText = s.Text
		case domain.SectionDigest:
			payload.Digest = s.Text
		}
	}
	return payload
}

func addIssue(issues []domain.ProcessingIssue, stage, message string) []domain.ProcessingIssue {
	return append(issues, domain.ProcessingIssue{
		Stage:      stage,
		Message:    message,
		OccurredAt: time.Now().UTC(),
	})
}
