package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careloop/notedigest/internal/domain"
	"github.com/careloop/notedigest/internal/llm"
	"github.com/careloop/notedigest/internal/notify"
	"github.com/careloop/notedigest/internal/store"
	"github.com/careloop/notedigest/internal/usage"
)

type mockNoteStore struct {
	mu            sync.Mutex
	notes         map[string]*domain.Note
	priorVisits   []domain.HistoricalVisit
	priorErr      error
	writeErr      error
	statusErr     error
	written       map[string][]domain.Section
	statusUpdates []domain.NoteStatus
	lastIssues    []domain.ProcessingIssue
}

func newMockNoteStore() *mockNoteStore {
	return &mockNoteStore{
		notes:   make(map[string]*domain.Note),
		written: make(map[string][]domain.Section),
	}
}

func (m *mockNoteStore) GetNote(_ context.Context, noteID string) (*domain.Note, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	note, ok := m.notes[noteID]
	if !ok {
		return nil, store.ErrNoteNotFound
	}
	copied := *note
	return &copied, nil
}

func (m *mockNoteStore) GetPriorVisits(_ context.Context, _ string, limit int, _ string) ([]domain.HistoricalVisit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.priorErr != nil {
		return nil, m.priorErr
	}
	if len(m.priorVisits) > limit {
		return m.priorVisits[:limit], nil
	}
	return m.priorVisits, nil
}

func (m *mockNoteStore) WriteProcessedNote(_ context.Context, noteID string, sections []domain.Section, _ domain.UsageSummary, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.written[noteID] = sections
	return nil
}

func (m *mockNoteStore) UpdateNoteStatus(_ context.Context, noteID string, status domain.NoteStatus, issues []domain.ProcessingIssue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return m.statusErr
	}
	note, ok := m.notes[noteID]
	if !ok {
		return store.ErrNoteNotFound
	}
	note.Status = status
	m.statusUpdates = append(m.statusUpdates, status)
	m.lastIssues = issues
	return nil
}

type mockCaller struct {
	mu        sync.Mutex
	calls     []string
	responses map[string]*llm.Response
	errs      map[string]error
	tracker   *usage.Tracker
}

func newMockCaller() *mockCaller {
	return &mockCaller{
		responses: make(map[string]*llm.Response),
		errs:      make(map[string]error),
	}
}

func (m *mockCaller) Call(ctx context.Context, jobID uuid.UUID, noteID, section string, _ llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, section)
	err, failed := m.errs[section]
	resp, preset := m.responses[section]
	m.mu.Unlock()

	if failed {
		return nil, err
	}
	if !preset {
		resp = &llm.Response{Text: "generated " + section, InputTokens: 100, OutputTokens: 50}
	}
	if m.tracker != nil {
		m.tracker.Record(ctx, jobID, noteID, section, resp.InputTokens, resp.OutputTokens, "gemini-2.0-flash")
	}
	return resp, nil
}

func (m *mockCaller) sections() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type mockNotifier struct {
	mu           sync.Mutex
	processed    []notify.ProcessedPayload
	failures     []notify.FailurePayload
	processedErr error
}

func (m *mockNotifier) NotifyProcessed(_ context.Context, payload notify.ProcessedPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed = append(m.processed, payload)
	return m.processedErr
}

func (m *mockNotifier) NotifyFailure(_ context.Context, payload notify.FailurePayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, payload)
	return nil
}

type noopUsageStore struct{}

func (noopUsageStore) SaveUsageRecords(context.Context, []usage.Record) error { return nil }

func setupProcessor(t *testing.T, ns *mockNoteStore, caller *mockCaller, notifier Notifier) (*Processor, *usage.Tracker) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	tracker := usage.NewTracker(noopUsageStore{}, usage.DefaultPriceTable(), 100, logger)
	caller.tracker = tracker
	proc := NewProcessor(ns, caller, tracker, notifier, Config{
		PreviousVisits:  1,
		MaxOutputTokens: 4096,
		Temperature:     0.2,
	}, logger)
	return proc, tracker
}

func testJob(noteID string) *domain.Job {
	return &domain.Job{
		ID:          uuid.New(),
		NoteID:      noteID,
		Status:      domain.JobStatusRunning,
		SubmittedAt: time.Now().UTC(),
	}
}

func TestProcessHappyPath(t *testing.T) {
	ns := newMockNoteStore()
	ns.notes["note-1"] = &domain.Note{
		NoteID:   "note-1",
		MRN:      "MRN007",
		NoteType: "progress_note",
		RawText:  "Patient seen on rounds. MRN: MRN007",
		Status:   domain.NoteStatusUnprocessed,
	}
	ns.priorVisits = []domain.HistoricalVisit{
		{NoteID: "note-0", NoteType: "progress_note", Digest: `{"summary":"prior visit"}`},
	}
	caller := newMockCaller()
	notifier := &mockNotifier{}
	proc, _ := setupProcessor(t, ns, caller, notifier)

	result, err := proc.Process(context.Background(), testJob("note-1"))

	require.NoError(t, err)
	assert.Equal(t, "note-1", result.NoteID)
	assert.Equal(t, "progress_note", result.NoteType)
	assert.Equal(t, 1, result.HistoricalVisitsUsed)
	assert.ElementsMatch(t, []string{
		domain.SectionTemplate, domain.SectionSOAP, domain.SectionDigest,
	}, result.Sections)
	assert.Empty(t, result.Issues)
	assert.Equal(t, 3, result.Usage.Sections)
	assert.Equal(t, 450, result.Usage.TotalTokens)

	// Stored identifiers mean no extraction call.
	assert.NotContains(t, caller.sections(), domain.SectionNoteTypeMRN)
	require.Len(t, ns.written["note-1"], 3)
	assert.Equal(t, []domain.NoteStatus{
		domain.NoteStatusProcessing, domain.NoteStatusProcessed,
	}, ns.statusUpdates)
	require.Len(t, notifier.processed, 1)
	assert.Equal(t, "note-1", notifier.processed[0].NoteID)
}

func TestProcessNoteNotFound(t *testing.T) {
	ns := newMockNoteStore()
	proc, _ := setupProcessor(t, ns, newMockCaller(), &mockNotifier{})

	result, err := proc.Process(context.Background(), testJob("missing"))

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoteNotFound)
	assert.Nil(t, result)
}

func TestProcessAlreadyProcessed(t *testing.T) {
	ns := newMockNoteStore()
	ns.notes["note-1"] = &domain.Note{
		NoteID: "note-1", RawText: "text", Status: domain.NoteStatusProcessed,
	}
	proc, _ := setupProcessor(t, ns, newMockCaller(), &mockNotifier{})

	_, err := proc.Process(context.Background(), testJob("note-1"))
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)
}

func TestProcessForceReprocessesProcessedNote(t *testing.T) {
	ns := newMockNoteStore()
	ns.notes["note-1"] = &domain.Note{
		NoteID: "note-1", MRN: "MRN007", NoteType: "progress_note",
		RawText: "text", Status: domain.NoteStatusProcessed,
	}
	proc, _ := setupProcessor(t, ns, newMockCaller(), &mockNotifier{})

	job := testJob("note-1")
	job.Force = true
	result, err := proc.Process(context.Background(), job)

	require.NoError(t, err)
	assert.Len(t, result.Sections, 3)
}

func TestProcessMissingRawText(t *testing.T) {
	ns := newMockNoteStore()
	ns.notes["note-1"] = &domain.Note{
		NoteID: "note-1", RawText: "   \n ", Status: domain.NoteStatusUnprocessed,
	}
	proc, _ := setupProcessor(t, ns, newMockCaller(), &mockNotifier{})

	_, err := proc.Process(context.Background(), testJob("note-1"))
	assert.ErrorIs(t, err, domain.ErrMissingRawText)
}

func TestProcessExtractsIdentifiersWhenMissing(t *testing.T) {
	ns := newMockNoteStore()
	ns.notes["note-1"] = &domain.Note{
		NoteID: "note-1", RawText: "Admitted for chest pain.",
		Status: domain.NoteStatusUnprocessed,
	}
	ns.priorVisits = []domain.HistoricalVisit{{NoteID: "note-0", Digest: "d"}}
	caller := newMockCaller()
	caller.responses[domain.SectionNoteTypeMRN] = &llm.Response{
		Text:        "NOTE_TYPE: ed_note\nPATIENT_MRN: ABC123",
		InputTokens: 20, OutputTokens: 10,
	}
	proc, _ := setupProcessor(t, ns, caller, &mockNotifier{})

	result, err := proc.Process(context.Background(), testJob("note-1"))

	require.NoError(t, err)
	assert.Equal(t, "ed_note", result.NoteType)
	assert.Equal(t, 1, result.HistoricalVisitsUsed)
	assert.Contains(t, caller.sections(), domain.SectionNoteTypeMRN)
}

func TestProcessMissingMRNSkipsHistory(t *testing.T) {
	ns := newMockNoteStore()
	ns.notes["note-1"] = &domain.Note{
		NoteID: "note-1", RawText: "No identifiers anywhere.",
		Status: domain.NoteStatusUnprocessed,
	}
	caller := newMockCaller()
	caller.responses[domain.SectionNoteTypeMRN] = &llm.Response{
		Text: "NOTE_TYPE: generic_note\nPATIENT_MRN: NOT_FOUND",
	}
	proc, _ := setupProcessor(t, ns, caller, &mockNotifier{})

	result, err := proc.Process(context.Background(), testJob("note-1"))

	require.NoError(t, err)
	assert.Equal(t, 0, result.HistoricalVisitsUsed)
	require.NotEmpty(t, result.Issues)
	assert.Equal(t, "identifier_extraction", result.Issues[0].Stage)
}

func TestProcessMRNRegexFallback(t *testing.T) {
	ns := newMockNoteStore()
	ns.notes["note-1"] = &domain.Note{
		NoteID: "note-1", RawText: "Header MRN: XY789 rest of the note.",
		Status: domain.NoteStatusUnprocessed,
	}
	ns.priorVisits = []domain.HistoricalVisit{{NoteID: "note-0", Digest: "d"}}
	caller := newMockCaller()
	caller.errs[domain.SectionNoteTypeMRN] = llm.ErrInvocationFailed
	proc, _ := setupProcessor(t, ns, caller, &mockNotifier{})

	result, err := proc.Process(context.Background(), testJob("note-1"))

	require.NoError(t, err)
	// Extraction call failed but the regex fallback found the MRN, so
	// historical context was still loaded.
	assert.Equal(t, 1, result.HistoricalVisitsUsed)
	assert.Equal(t, noteTypeGeneric, result.NoteType)
}

func TestProcessHistoryFailureDegrades(t *testing.T) {
	ns := newMockNoteStore()
	ns.notes["note-1"] = &domain.Note{
		NoteID: "note-1", MRN: "MRN007", NoteType: "progress_note",
		RawText: "text", Status: domain.NoteStatusUnprocessed,
	}
	ns.priorErr = errors.New("search unavailable")
	proc, _ := setupProcessor(t, ns, newMockCaller(), &mockNotifier{})

	result, err := proc.Process(context.Background(), testJob("note-1"))

	require.NoError(t, err)
	assert.Equal(t, 0, result.HistoricalVisitsUsed)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, "historical_context", result.Issues[0].Stage)
}

func TestProcessSectionFailureFailsJob(t *testing.T) {
	ns := newMockNoteStore()
	ns.notes["note-1"] = &domain.Note{
		NoteID: "note-1", MRN: "MRN007", NoteType: "progress_note",
		RawText: "text", Status: domain.NoteStatusUnprocessed,
	}
	caller := newMockCaller()
	caller.errs[domain.SectionSOAP] = llm.ErrInvocationFailed
	notifier := &mockNotifier{}
	proc, _ := setupProcessor(t, ns, caller, notifier)

	result, err := proc.Process(context.Background(), testJob("note-1"))

	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrInvocationFailed)
	assert.Nil(t, result)
	assert.Empty(t, ns.written)
	assert.Equal(t, domain.NoteStatusFailed, ns.statusUpdates[len(ns.statusUpdates)-1])
	require.Len(t, notifier.failures, 1)
	assert.Equal(t, "note-1", notifier.failures[0].NoteID)
}

func TestProcessRerunAfterFailureReplacesSections(t *testing.T) {
	ns := newMockNoteStore()
	ns.notes["note-1"] = &domain.Note{
		NoteID: "note-1", MRN: "MRN007", NoteType: "progress_note",
		RawText: "text", Status: domain.NoteStatusUnprocessed,
	}
	caller := newMockCaller()
	caller.errs[domain.SectionSOAP] = llm.ErrInvocationFailed
	notifier := &mockNotifier{}
	proc, _ := setupProcessor(t, ns, caller, notifier)

	_, err := proc.Process(context.Background(), testJob("note-1"))
	require.Error(t, err)
	assert.Equal(t, domain.NoteStatusFailed, ns.notes["note-1"].Status)
	assert.Empty(t, ns.written["note-1"])

	// The failed note is eligible for a plain re-run, and only the
	// second attempt's sections end up persisted.
	delete(caller.errs, domain.SectionSOAP)
	for _, name := range []string{domain.SectionTemplate, domain.SectionSOAP, domain.SectionDigest} {
		caller.responses[name] = &llm.Response{Text: "retry " + name, InputTokens: 80, OutputTokens: 40}
	}

	result, err := proc.Process(context.Background(), testJob("note-1"))
	require.NoError(t, err)
	assert.Len(t, result.Sections, 3)
	assert.Equal(t, domain.NoteStatusProcessed, ns.notes["note-1"].Status)

	written := ns.written["note-1"]
	require.Len(t, written, 3)
	seen := make(map[string]string, len(written))
	for _, s := range written {
		_, dup := seen[s.Name]
		require.False(t, dup, "section %s persisted twice", s.Name)
		seen[s.Name] = s.Text
	}
	assert.Equal(t, map[string]string{
		domain.SectionTemplate: "retry " + domain.SectionTemplate,
		domain.SectionSOAP:     "retry " + domain.SectionSOAP,
		domain.SectionDigest:   "retry " + domain.SectionDigest,
	}, seen)
}

func TestProcessPersistenceFailureFailsJob(t *testing.T) {
	ns := newMockNoteStore()
	ns.notes["note-1"] = &domain.Note{
		NoteID: "note-1", MRN: "MRN007", NoteType: "progress_note",
		RawText: "text", Status: domain.NoteStatusUnprocessed,
	}
	ns.writeErr = store.ErrTransactionFailed
	notifier := &mockNotifier{}
	proc, _ := setupProcessor(t, ns, newMockCaller(), notifier)

	_, err := proc.Process(context.Background(), testJob("note-1"))

	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrTransactionFailed)
	require.Len(t, notifier.failures, 1)
}

func TestProcessNotificationFailureStillSucceeds(t *testing.T) {
	ns := newMockNoteStore()
	ns.notes["note-1"] = &domain.Note{
		NoteID: "note-1", MRN: "MRN007", NoteType: "progress_note",
		RawText: "text", Status: domain.NoteStatusUnprocessed,
	}
	notifier := &mockNotifier{processedErr: errors.New("endpoint down")}
	proc, _ := setupProcessor(t, ns, newMockCaller(), notifier)

	result, err := proc.Process(context.Background(), testJob("note-1"))

	require.NoError(t, err)
	require.NotEmpty(t, result.Issues)
	found := false
	for _, issue := range result.Issues {
		if issue.Stage == "notification" {
			found = true
		}
	}
	assert.True(t, found, "expected a notification issue, got %v", result.Issues)
}

func TestNormalizeNoteType(t *testing.T) {
	assert.Equal(t, "progress_note", normalizeNoteType("Progress Note"))
	assert.Equal(t, "ed_note", normalizeNoteType(" ed_note "))
	assert.Equal(t, "generic_note", normalizeNoteType("radiology_report"))
	assert.Equal(t, "generic_note", normalizeNoteType(""))
}

func TestExtractMRNFallback(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"colon", "Name: Doe MRN: MRN007Rachel Niya", "MRN007Rachel"},
		{"lowercase spaced", "mrn : 12345678 niya maria", "12345678"},
		{"full label", "Medical Record Number: 987XY23 john", "987XY23"},
		{"dash", "MRN - joy12345db michael", "joy12345db"},
		{"absent", "no identifiers in this text", ""},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractMRNFallback(tt.text))
		})
	}
}

func TestParseExtractionResponse(t *testing.T) {
	noteType, mrn := parseExtractionResponse("NOTE_TYPE: consultation_note\nPATIENT_MRN: AB12.")
	assert.Equal(t, "consultation_note", noteType)
	assert.Equal(t, "AB12", mrn)

	noteType, mrn = parseExtractionResponse("NOTE_TYPE: something_weird\nPATIENT_MRN: not_found")
	assert.Equal(t, "generic_note", noteType)
	assert.Empty(t, mrn)

	noteType, mrn = parseExtractionResponse("garbage output")
	assert.Equal(t, "generic_note", noteType)
	assert.Empty(t, mrn)
}

func TestTemplateRequestIncludesHistory(t *testing.T) {
	history := []domain.HistoricalVisit{{
		NoteID: "note-0", NoteType: "progress_note",
		VisitedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		Digest:    `{"summary":"stable"}`,
	}}
	req := templateRequest("progress_note", "current visit text", history, 4096, 0.2)

	assert.Contains(t, req.UserPrompt, "HISTORICAL CONTEXT")
	assert.Contains(t, req.UserPrompt, "2025-03-01")
	assert.Contains(t, req.UserPrompt, `{"summary":"stable"}`)

	bare := templateRequest("progress_note", "current visit text", nil, 4096, 0.2)
	assert.False(t, strings.Contains(bare.UserPrompt, "HISTORICAL CONTEXT"))
}
