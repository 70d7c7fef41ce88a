package api

import (
	"net/http"

	"github.com/careloop/notedigest/internal/api/shared"
	"github.com/careloop/notedigest/internal/job"
	"github.com/careloop/notedigest/internal/ratelimit"
	"github.com/careloop/notedigest/internal/usage"
)

// LimiterStats exposes rate limiter acquisition statistics.
type LimiterStats interface {
	Stats() ratelimit.Stats
}

// UsageCounters exposes usage persistence counters.
type UsageCounters interface {
	Counters() usage.Counters
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	Jobs      job.Stats       `json:"jobs"`
	RateLimit ratelimit.Stats `json:"rate_limit"`
	Usage     usage.Counters  `json:"usage"`
}

// StatsHandler serves operational statistics.
type StatsHandler struct {
	jobs    JobService
	limiter LimiterStats
	tracker UsageCounters
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(jobs JobService, limiter LimiterStats, tracker UsageCounters) *StatsHandler {
	return &StatsHandler{jobs: jobs, limiter: limiter, tracker: tracker}
}

// GetStats handles GET /api/stats requests.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, StatsResponse{
		Jobs:      h.jobs.Stats(),
		RateLimit: h.limiter.Stats(),
		Usage:     h.tracker.Counters(),
	})
}
