package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/careloop/notedigest/internal/ratelimit"
	"github.com/careloop/notedigest/internal/usage"
)

// CallerConfig holds the retry and accounting settings for the caller.
type CallerConfig struct {
	// ModelID is recorded with every usage entry and keys the price table.
	ModelID string

	// MaxRetries is the retry budget for transient failures. The first
	// attempt is not counted as a retry.
	MaxRetries int

	// BaseDelay is the base of the exponential backoff between retries.
	BaseDelay time.Duration
}

// Caller wraps an Invoker with everything every model call in the
// pipeline needs: a rate-limiter slot before the call, usage recording
// after it, and retry with exponential backoff for transient failures.
type Caller struct {
	invoker Invoker
	limiter *ratelimit.Limiter
	tracker *usage.Tracker
	cfg     CallerConfig
	logger  *slog.Logger
}

// NewCaller creates a Caller. The limiter and tracker are the shared
// process-wide instances owned by the application.
func NewCaller(invoker Invoker, limiter *ratelimit.Limiter, tracker *usage.Tracker, cfg CallerConfig, logger *slog.Logger) *Caller {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	return &Caller{
		invoker: invoker,
		limiter: limiter,
		tracker: tracker,
		cfg:     cfg,
		logger:  logger,
	}
}

// Call acquires a rate-limiter slot, invokes the model and records the
// reported token usage under the given section. Transient failures are
// retried with exponential backoff plus jitter until the retry budget
// is spent; permanent failures return immediately.
func (c *Caller) Call(ctx context.Context, jobID uuid.UUID, noteID, section string, req Request) (*Response, error) {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("rate limiter wait aborted for %s: %w", section, err)
		}

		resp, err := c.invoker.Invoke(ctx, req)
		if err == nil {
			c.tracker.Record(ctx, jobID, noteID, section,
				resp.InputTokens, resp.OutputTokens, c.cfg.ModelID)
			c.logger.Debug("model call succeeded",
				"section", section,
				"attempt", attempt+1,
				"input_tokens", resp.InputTokens,
				"output_tokens", resp.OutputTokens)
			return resp, nil
		}

		lastErr = err
		if !IsTransient(err) {
			c.logger.Warn("permanent model call failure, not retrying",
				"section", section,
				"attempt", attempt+1,
				"error", err)
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == c.cfg.MaxRetries {
			break
		}

		delay := c.backoff(attempt)
		c.logger.Warn("transient model call failure, backing off",
			"section", section,
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("%w: exceeded retry budget (%d) for %s: %v",
		ErrInvocationFailed, c.cfg.MaxRetries, section, lastErr)
}

// backoff computes baseDelay * 2^attempt with up to 10% jitter.
func (c *Caller) backoff(attempt int) time.Duration {
	delay := float64(c.cfg.BaseDelay) * math.Pow(2, float64(attempt))
	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}
