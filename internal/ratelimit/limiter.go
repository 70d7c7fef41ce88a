// Package ratelimit gates external model calls behind a token bucket so
// concurrent workers never exceed the provider's request rate.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Stats captures acquisition statistics for observability endpoints.
type Stats struct {
	TotalRequests    uint64  `json:"total_requests"`
	RateLimitedCount uint64  `json:"rate_limited_count"`
	TotalWaitSeconds float64 `json:"total_wait_seconds"`
	MaxWaitSeconds   float64 `json:"max_wait_seconds"`
	AvailableTokens  float64 `json:"available_tokens"`
}

// Limiter is a token bucket with continuous, time-proportional refill.
// Refill-and-debit happens as a single mutex-protected operation so
// concurrent callers cannot double-spend tokens.
type Limiter struct {
	mu         sync.Mutex
	rate       float64 // tokens added per second
	capacity   float64
	tokens     float64
	lastRefill time.Time

	totalRequests uint64
	limitedCount  uint64
	totalWait     time.Duration
	maxWait       time.Duration
}

// New creates a limiter refilling at requestsPerSecond with the given
// burst capacity. A non-positive burst defaults to twice the rate. The
// bucket starts full.
func New(requestsPerSecond float64, burst int) *Limiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 1
	}
	if burst <= 0 {
		burst = int(requestsPerSecond * 2)
		if burst < 1 {
			burst = 1
		}
	}
	return &Limiter{
		rate:       requestsPerSecond,
		capacity:   float64(burst),
		tokens:     float64(burst),
		lastRefill: time.Now(),
	}
}

// Acquire blocks until cost tokens are available, then debits them.
// Waiting is the only backpressure signal: the only error Acquire can
// return is the context's, when the caller gives up first.
func (l *Limiter) Acquire(ctx context.Context, cost int) error {
	if cost < 1 {
		cost = 1
	}
	start := time.Now()

	for {
		l.mu.Lock()
		l.refillLocked(time.Now())

		if l.tokens >= float64(cost) {
			l.tokens -= float64(cost)
			l.recordLocked(time.Since(start))
			l.mu.Unlock()
			return nil
		}

		// Wait exactly as long as the deficit takes to refill, then
		// re-check; another caller may have drained the bucket meanwhile.
		deficit := float64(cost) - l.tokens
		wait := time.Duration(deficit / l.rate * float64(time.Second))
		l.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Available reports the current token count after refill.
func (l *Limiter) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(time.Now())
	return l.tokens
}

// Stats returns a snapshot of acquisition statistics.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(time.Now())
	return Stats{
		TotalRequests:    l.totalRequests,
		RateLimitedCount: l.limitedCount,
		TotalWaitSeconds: l.totalWait.Seconds(),
		MaxWaitSeconds:   l.maxWait.Seconds(),
		AvailableTokens:  l.tokens,
	}
}

// refillLocked adds elapsed*rate tokens capped at capacity. Must be
// called with the mutex held.
func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed > 0 {
		l.tokens += elapsed * l.rate
		if l.tokens > l.capacity {
			l.tokens = l.capacity
		}
	}
	l.lastRefill = now
}

// recordLocked updates statistics for a completed acquisition. Must be
// called with the mutex held.
func (l *Limiter) recordLocked(waited time.Duration) {
	l.totalRequests++
	if waited > time.Millisecond {
		l.limitedCount++
	}
	l.totalWait += waited
	if waited > l.maxWait {
		l.maxWait = waited
	}
}
