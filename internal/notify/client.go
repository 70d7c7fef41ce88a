// Package notify delivers processed-note payloads to the downstream
// API. Delivery is fire-and-forget from the pipeline's perspective:
// a failure is reported back for issue recording but never retried
// here and never re-runs extraction.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ProcessedPayload is the notification body for a successfully
// processed note. NoteID doubles as the idempotency key: the sink is
// expected to tolerate at-least-once delivery.
type ProcessedPayload struct {
	NoteID               string  `json:"noteId"`
	MRN                  string  `json:"patientMrn,omitempty"`
	NoteType             string  `json:"noteType"`
	ProcessedText        string  `json:"notesProcessedText,omitempty"`
	SOAPText             string  `json:"soapnotesText,omitempty"`
	Digest               string  `json:"notesDigest,omitempty"`
	HistoricalVisitsUsed int     `json:"historicalVisitsUsed"`
	TotalTokens          int     `json:"totalTokens"`
	CostUSD              float64 `json:"costUsd"`
	ProcessedAt          string  `json:"processedAt"`
}

// FailurePayload notifies the sink that processing ended in failure.
type FailurePayload struct {
	NoteID     string `json:"noteId"`
	NoteStatus string `json:"noteStatus"`
	Detail     string `json:"noteStatusDetails"`
	FailedAt   string `json:"failedAt"`
}

// Client posts notifications to a single configured endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a notification client for the given endpoint.
func NewClient(endpoint string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// NotifyProcessed posts a success payload. A non-2xx response or
// transport error is returned for the caller to record as a processing
// issue; the caller stays Succeeded either way.
func (c *Client) NotifyProcessed(ctx context.Context, payload ProcessedPayload) error {
	return c.post(ctx, payload, "processed")
}

// NotifyFailure posts a failure payload. Best effort.
func (c *Client) NotifyFailure(ctx context.Context, payload FailurePayload) error {
	return c.post(ctx, payload, "failure")
}

func (c *Client) post(ctx context.Context, payload any, kind string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s notification: %w", kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s notification request: %w", kind, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s notification request failed: %w", kind, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Read a bounded amount of the body for the issue record.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s notification returned status %d: %s", kind, resp.StatusCode, string(detail))
	}

	c.logger.Debug("notification delivered",
		"kind", kind,
		"status", resp.StatusCode)
	return nil
}
