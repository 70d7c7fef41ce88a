// Package job tracks processing jobs from submission to terminal
// status and runs them on a fixed worker pool over a bounded queue.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/notedigest/internal/domain"
	"github.com/careloop/notedigest/internal/llm"
	"github.com/careloop/notedigest/internal/store"
)

// Errors returned by submission and lookup.
var (
	// ErrQueueFull is returned when the job queue is at capacity. The
	// rejected job is still recorded and queryable.
	ErrQueueFull = errors.New("job queue is full")

	// ErrJobNotFound is returned when no job exists for the given id.
	ErrJobNotFound = errors.New("job not found")

	// ErrShuttingDown is returned for submissions after shutdown began.
	ErrShuttingDown = errors.New("job manager is shutting down")
)

// Pipeline runs one job to completion. Implemented by
// pipeline.Processor.
type Pipeline interface {
	Process(ctx context.Context, job *domain.Job) (*domain.JobResult, error)
}

// Config holds the worker pool and queue settings.
type Config struct {
	// Workers is the number of concurrent processing goroutines.
	Workers int

	// QueueSize bounds the number of admitted jobs that have not yet
	// finished, counting both queued and running jobs.
	QueueSize int

	// JobTimeout is the wall-clock budget for one job.
	JobTimeout time.Duration

	// RetentionPeriod is how long terminal jobs stay queryable.
	RetentionPeriod time.Duration

	// CleanupInterval is how often expired terminal jobs are evicted.
	CleanupInterval time.Duration
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	Queued     int   `json:"queued"`
	Running    int   `json:"running"`
	Succeeded  int   `json:"succeeded"`
	Failed     int   `json:"failed"`
	TimedOut   int   `json:"timed_out"`
	Rejected   int   `json:"rejected"`
	QueueDepth int   `json:"queue_depth"`
	Workers    int   `json:"workers"`
	Submitted  int64 `json:"submitted_total"`
	Completed  int64 `json:"completed_total"`
}

// BatchResult reports the admission outcome for one entry of a batch
// submission.
type BatchResult struct {
	NoteID   string
	JobID    uuid.UUID
	Accepted bool
	Err      error
}

// Manager owns the job registry, the bounded queue and the worker
// pool. All job mutation happens here; callers only see snapshots.
type Manager struct {
	mu       sync.RWMutex
	jobs     map[uuid.UUID]*domain.Job
	queue    chan *domain.Job
	inFlight int

	pipeline Pipeline
	cfg      Config
	logger   *slog.Logger

	accepting atomic.Bool
	submitted atomic.Int64
	completed atomic.Int64

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewManager creates a Manager. Start must be called before jobs run.
func NewManager(pipeline Pipeline, cfg Config, logger *slog.Logger) *Manager {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 20 * time.Minute
	}
	if cfg.RetentionPeriod <= 0 {
		cfg.RetentionPeriod = time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	m := &Manager{
		jobs:     make(map[uuid.UUID]*domain.Job),
		queue:    make(chan *domain.Job, cfg.QueueSize),
		pipeline: pipeline,
		cfg:      cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	m.accepting.Store(true)
	return m
}

// Start launches the worker pool and the retention sweeper. The
// context bounds the lifetime of in-flight work during a forced stop;
// graceful draining goes through Shutdown.
func (m *Manager) Start(ctx context.Context) {
	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
	go m.sweepLoop()
	m.logger.Info("job manager started",
		"workers", m.cfg.Workers,
		"queue_size", m.cfg.QueueSize,
		"job_timeout", m.cfg.JobTimeout)
}

// Submit admits a processing job for the note. Capacity covers every
// job admitted but not yet finished, so jobs held by busy workers
// count against it alongside the queued ones. When capacity is
// exhausted the job is recorded in the Rejected state and ErrQueueFull
// is returned alongside its snapshot, so the caller can still query
// the outcome.
func (m *Manager) Submit(noteID string, force bool) (domain.Job, error) {
	job := &domain.Job{
		ID:          uuid.New(),
		NoteID:      noteID,
		Force:       force,
		Status:      domain.JobStatusQueued,
		SubmittedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	if !m.accepting.Load() {
		m.mu.Unlock()
		return domain.Job{}, ErrShuttingDown
	}
	if m.inFlight >= m.cfg.QueueSize {
		now := time.Now().UTC()
		job.Status = domain.JobStatusRejected
		job.FinishedAt = &now
		job.Error = &domain.JobError{
			Code:    domain.ErrCodeRejected,
			Message: "queue at capacity",
		}
		m.jobs[job.ID] = job
		snapshot := job.Snapshot()
		m.mu.Unlock()
		m.logger.Warn("job rejected, queue full", "job_id", job.ID, "note_id", noteID)
		return snapshot, ErrQueueFull
	}
	m.inFlight++
	m.submitted.Add(1)
	m.jobs[job.ID] = job
	snapshot := job.Snapshot()
	// inFlight never exceeds the buffer capacity, so this send cannot
	// block while the lock is held.
	m.queue <- job
	m.mu.Unlock()
	m.logger.Info("job queued", "job_id", job.ID, "note_id", noteID, "force", force)
	return snapshot, nil
}

// SubmitBatch admits each note independently. Admission is partial: a
// full queue rejects the remaining entries without unwinding the ones
// already admitted.
func (m *Manager) SubmitBatch(noteIDs []string, force bool) []BatchResult {
	results := make([]BatchResult, 0, len(noteIDs))
	for _, noteID := range noteIDs {
		job, err := m.Submit(noteID, force)
		results = append(results, BatchResult{
			NoteID:   noteID,
			JobID:    job.ID,
			Accepted: err == nil,
			Err:      err,
		})
	}
	return results
}

// GetStatus returns a snapshot of the job.
func (m *Manager) GetStatus(id uuid.UUID) (domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job.Snapshot(), nil
}

// ListJobs returns snapshots of all tracked jobs, newest first.
func (m *Manager) ListJobs() []domain.Job {
	m.mu.RLock()
	jobs := make([]domain.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job.Snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].SubmittedAt.After(jobs[j].SubmittedAt)
	})
	return jobs
}

// Stats returns current queue and status counts.
func (m *Manager) Stats() Stats {
	stats := Stats{
		Workers:    m.cfg.Workers,
		QueueDepth: len(m.queue),
		Submitted:  m.submitted.Load(),
		Completed:  m.completed.Load(),
	}
	m.mu.RLock()
	for _, job := range m.jobs {
		switch job.Status {
		case domain.JobStatusQueued:
			stats.Queued++
		case domain.JobStatusRunning:
			stats.Running++
		case domain.JobStatusSucceeded:
			stats.Succeeded++
		case domain.JobStatusFailed:
			stats.Failed++
		case domain.JobStatusTimedOut:
			stats.TimedOut++
		case domain.JobStatusRejected:
			stats.Rejected++
		}
	}
	m.mu.RUnlock()
	return stats
}

// Shutdown drains the pool: submissions stop, queued jobs finish, and
// the call returns when every worker has exited or the context
// expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.accepting.CompareAndSwap(true, false) {
		return nil
	}
	// Taking the lock serializes the close against any Submit that
	// passed the accepting check but has not yet sent to the queue.
	m.mu.Lock()
	close(m.queue)
	m.mu.Unlock()
	close(m.stopCh)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("job manager drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown wait aborted: %w", ctx.Err())
	}
}

func (m *Manager) worker(ctx context.Context, id int) {
	defer m.wg.Done()
	log := m.logger.With("worker", id)
	for job := range m.queue {
		m.runJob(ctx, log, job)
	}
	log.Debug("worker exiting")
}

type jobOutcome struct {
	result *domain.JobResult
	err    error
}

// runJob executes one job under the wall-clock timeout. On timeout the
// pipeline goroutine is abandoned: its context is cancelled and its
// eventual outcome is discarded by the one-shot terminal transition.
func (m *Manager) runJob(ctx context.Context, log *slog.Logger, job *domain.Job) {
	now := time.Now().UTC()
	m.mu.Lock()
	job.Status = domain.JobStatusRunning
	job.StartedAt = &now
	m.mu.Unlock()

	jobCtx, cancel := context.WithTimeout(ctx, m.cfg.JobTimeout)
	defer cancel()

	outcomeCh := make(chan jobOutcome, 1)
	go func() {
		result, err := m.pipeline.Process(jobCtx, job)
		outcomeCh <- jobOutcome{result: result, err: err}
	}()

	select {
	case outcome := <-outcomeCh:
		if outcome.err != nil {
			code := classifyError(outcome.err)
			m.finish(job, domain.JobStatusFailed, nil, &domain.JobError{
				Code:    code,
				Message: outcome.err.Error(),
			})
			log.Warn("job failed",
				"job_id", job.ID,
				"note_id", job.NoteID,
				"code", code,
				"error", outcome.err)
			return
		}
		m.finish(job, domain.JobStatusSucceeded, outcome.result, nil)
		log.Info("job succeeded", "job_id", job.ID, "note_id", job.NoteID)

	case <-jobCtx.Done():
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			m.finish(job, domain.JobStatusTimedOut, nil, &domain.JobError{
				Code:    domain.ErrCodeTimedOut,
				Message: fmt.Sprintf("job exceeded %s budget", m.cfg.JobTimeout),
			})
			log.Warn("job timed out", "job_id", job.ID, "note_id", job.NoteID)
			return
		}
		// Forced stop. The pipeline sees the cancellation and returns
		// promptly; record the interruption without waiting for it.
		m.finish(job, domain.JobStatusFailed, nil, &domain.JobError{
			Code:    domain.ErrCodeInternal,
			Message: "processing interrupted by shutdown",
		})
		log.Warn("job interrupted", "job_id", job.ID, "note_id", job.NoteID)
	}
}

// finish applies a terminal transition exactly once. A late pipeline
// outcome arriving after a timeout loses the race and is dropped.
func (m *Manager) finish(job *domain.Job, status domain.JobStatus, result *domain.JobResult, jobErr *domain.JobError) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.Status.IsTerminal() {
		return false
	}
	now := time.Now().UTC()
	job.Status = status
	job.FinishedAt = &now
	job.Result = result
	job.Error = jobErr
	m.inFlight--
	m.completed.Add(1)
	return true
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep(time.Now().UTC())
		case <-m.stopCh:
			return
		}
	}
}

// sweep evicts terminal jobs older than the retention period.
func (m *Manager) sweep(now time.Time) {
	cutoff := now.Add(-m.cfg.RetentionPeriod)
	m.mu.Lock()
	removed := 0
	for id, job := range m.jobs {
		if job.Status.IsTerminal() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	m.mu.Unlock()
	if removed > 0 {
		m.logger.Debug("evicted expired jobs", "count", removed)
	}
}

// classifyError maps a pipeline failure onto the job error taxonomy.
func classifyError(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoteNotFound):
		return domain.ErrCodeNotFound
	case errors.Is(err, domain.ErrAlreadyProcessed):
		return domain.ErrCodeConflict
	case errors.Is(err, domain.ErrMissingRawText), errors.Is(err, domain.ErrUnknownNoteType):
		return domain.ErrCodeUnprocessable
	case errors.Is(err, llm.ErrInvocationFailed),
		errors.Is(err, llm.ErrContentBlocked),
		errors.Is(err, llm.ErrInvalidResponse),
		errors.Is(err, llm.ErrTransientFailure):
		return domain.ErrCodeExternalCall
	case errors.Is(err, store.ErrTransactionFailed),
		errors.Is(err, store.ErrUpdateFailed),
		errors.Is(err, store.ErrInvalidEntity):
		return domain.ErrCodePersistence
	default:
		return domain.ErrCodeInternal
	}
}
