package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Worker is a client for the job worker's loopback API.
type Worker struct {
	baseURL string
	http    *http.Client
}

// NewWorker builds a worker client. Job submission is local and fast; the
// short timeout keeps ingest responsive when the worker is down.
func NewWorker(baseURL string) *Worker {
	return &Worker{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// JobStatus is the worker's view of one job.
type JobStatus struct {
	JobID       string          `json:"job_id"`
	Status      string          `json:"status"`
	CurrentStep string          `json:"current_step,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   string          `json:"created_at,omitempty"`
	UpdatedAt   string          `json:"updated_at,omitempty"`
	ResultData  json.RawMessage `json:"result_data,omitempty"`
}

// Submit enqueues a job and returns its ID.
func (w *Worker) Submit(ctx context.Context, jobType string, input map[string]any) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"job_type":   jobType,
		"input_data": input,
	})
	if err != nil {
		return "", fmt.Errorf("client: encode job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/jobs", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var res JobStatus
	if err := w.decode(req, &res); err != nil {
		return "", err
	}
	return res.JobID, nil
}

// Get returns a job's current status.
func (w *Worker) Get(ctx context.Context, jobID string) (*JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/jobs/"+jobID, nil)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	var res JobStatus
	if err := w.decode(req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Result returns a completed job's result payload. The worker answers 409
// while the job is still running; that surfaces as an *apiError.
func (w *Worker) Result(ctx context.Context, jobID string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/jobs/"+jobID+"/result", nil)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	var res struct {
		JobID      string          `json:"job_id"`
		ResultData json.RawMessage `json:"result_data"`
	}
	if err := w.decode(req, &res); err != nil {
		return nil, err
	}
	return res.ResultData, nil
}

// Health probes the worker health endpoint.
func (w *Worker) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	return w.decode(req, nil)
}

func (w *Worker) decode(req *http.Request, out any) error {
	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: worker request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("client: read worker response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &apiError{Status: resp.StatusCode, Detail: detailOf(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("client: decode worker response: %w", err)
	}
	return nil
}

// IsStatus reports whether err is an API error with the given HTTP status.
func IsStatus(err error, status int) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.Status == status
}
