// Package client provides HTTP clients for the lyssna services: the
// transcription gateway and the job worker. Both retry transient failures
// with exponential backoff.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hallqvist/lyssna/pkg/types"
)

// Whisper is a client for the transcription gateway.
type Whisper struct {
	baseURL string
	http    *http.Client
	retries int
	backoff time.Duration
}

// WhisperOption configures a Whisper client.
type WhisperOption func(*Whisper)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) WhisperOption {
	return func(w *Whisper) { w.http = c }
}

// WithRetries sets the retry count and the base backoff. The delay doubles
// per attempt.
func WithRetries(retries int, backoff time.Duration) WhisperOption {
	return func(w *Whisper) {
		w.retries = retries
		w.backoff = backoff
	}
}

// NewWhisper builds a gateway client. Defaults: 60 s timeout, 3 retries,
// 1 s base backoff.
func NewWhisper(baseURL string, opts ...WhisperOption) *Whisper {
	w := &Whisper{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
		retries: 3,
		backoff: time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// apiError is a non-2xx gateway response.
type apiError struct {
	Status int
	Detail string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("client: gateway returned %d: %s", e.Status, e.Detail)
}

// do sends the request built by makeReq, retrying on network errors and 5xx
// responses. 4xx responses are caller errors and returned immediately.
func (w *Whisper) do(ctx context.Context, makeReq func() (*http.Request, error), out any) error {
	var lastErr error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			delay := w.backoff * (1 << (attempt - 1))
			slog.Warn("retrying gateway request", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := makeReq()
		if err != nil {
			return err
		}
		resp, err := w.http.Do(req.WithContext(ctx))
		if err != nil {
			lastErr = fmt.Errorf("client: gateway request: %w", err)
			continue
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("client: read gateway response: %w", err)
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = &apiError{Status: resp.StatusCode, Detail: detailOf(body)}
			continue
		}
		if resp.StatusCode >= 400 {
			return &apiError{Status: resp.StatusCode, Detail: detailOf(body)}
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("client: decode gateway response: %w", err)
		}
		return nil
	}
	return lastErr
}

func detailOf(body []byte) string {
	var e struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Detail != "" {
		return e.Detail
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

// Transcribe uploads an audio file for transcription under the given profile.
func (w *Whisper) Transcribe(ctx context.Context, audioPath, profile, language string) (*types.TranscriptResult, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("client: read audio file: %w", err)
	}

	makeReq := func() (*http.Request, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", filepath.Base(audioPath))
		if err != nil {
			return nil, fmt.Errorf("client: build multipart body: %w", err)
		}
		if _, err := fw.Write(data); err != nil {
			return nil, fmt.Errorf("client: build multipart body: %w", err)
		}
		if profile != "" {
			_ = mw.WriteField("profile", profile)
		}
		if language != "" {
			_ = mw.WriteField("language", language)
		}
		if err := mw.Close(); err != nil {
			return nil, fmt.Errorf("client: build multipart body: %w", err)
		}

		req, err := http.NewRequest(http.MethodPost, w.baseURL+"/transcribe", &buf)
		if err != nil {
			return nil, fmt.Errorf("client: build request: %w", err)
		}
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req, nil
	}

	var res types.TranscriptResult
	if err := w.do(ctx, makeReq, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RetryWindow re-transcribes a time window of the given base64 WAV at higher
// quality.
func (w *Whisper) RetryWindow(ctx context.Context, audioBase64 string, start, end float64, model, language string, beamSize int) (*types.RetryResult, error) {
	payload := map[string]any{
		"audio_base64": audioBase64,
		"start":        start,
		"end":          end,
		"model":        model,
		"beam_size":    beamSize,
		"language":     language,
	}
	var res types.RetryResult
	if err := w.do(ctx, w.jsonReq("/transcribe/retry", payload), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Warmup asks the gateway to pre-load the model behind a profile.
func (w *Whisper) Warmup(ctx context.Context, profile string) (*types.WarmupResult, error) {
	var res types.WarmupResult
	if err := w.do(ctx, w.jsonReq("/warmup?profile="+profile, struct{}{}), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Health probes the gateway health endpoint.
func (w *Whisper) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: gateway health: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &apiError{Status: resp.StatusCode, Detail: "health check failed"}
	}
	return nil
}

func (w *Whisper) jsonReq(path string, payload any) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("client: encode request: %w", err)
		}
		req, err := http.NewRequest(http.MethodPost, w.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("client: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}
}
