package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careloop/notedigest/internal/domain"
	"github.com/careloop/notedigest/internal/job"
)

func TestGetJobFound(t *testing.T) {
	now := time.Now().UTC()
	done := domain.Job{
		ID:          uuid.New(),
		NoteID:      "note-1",
		Status:      domain.JobStatusSucceeded,
		SubmittedAt: now,
		FinishedAt:  &now,
		Result: &domain.JobResult{
			NoteID:   "note-1",
			NoteType: "progress_note",
			Sections: []string{domain.SectionTemplate, domain.SectionSOAP, domain.SectionDigest},
			Usage:    domain.UsageSummary{TotalTokens: 450, Sections: 3},
		},
	}
	router := setupRouter(&mockJobService{statusJob: done})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+done.ID.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "succeeded", resp.Status)
	require.NotNil(t, resp.Result)
	assert.Equal(t, 450, resp.Result.Usage.TotalTokens)
}

func TestGetJobNotFound(t *testing.T) {
	router := setupRouter(&mockJobService{statusErr: job.ErrJobNotFound})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJobInvalidID(t *testing.T) {
	router := setupRouter(&mockJobService{})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListJobs(t *testing.T) {
	router := setupRouter(&mockJobService{jobs: []domain.Job{
		{ID: uuid.New(), NoteID: "note-2", Status: domain.JobStatusRunning},
		{ID: uuid.New(), NoteID: "note-1", Status: domain.JobStatusSucceeded},
	}})

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp JobListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "note-2", resp.Jobs[0].NoteID)
}

func TestGetStats(t *testing.T) {
	router := setupRouter(&mockJobService{stats: job.Stats{Succeeded: 5, Workers: 10}})

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 5, resp.Jobs.Succeeded)
	assert.Equal(t, 10, resp.Jobs.Workers)
}

func TestHealthz(t *testing.T) {
	router := setupRouter(&mockJobService{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHealthzPingFailure(t *testing.T) {
	router := NewRouter(
		NewNoteHandler(&mockJobService{}),
		NewJobHandler(&mockJobService{}),
		NewStatsHandler(&mockJobService{}, stubLimiter{}, stubTracker{}),
		func(ctx context.Context) error { return errors.New("connection refused") },
	)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
