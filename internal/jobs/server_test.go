package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testRouter(t *testing.T, runner Runner) (*gin.Engine, *Store) {
	t.Helper()
	s := memStore(t)
	q := NewQueue(s, runner, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := q.Start(ctx); err != nil {
		t.Fatal(err)
	}
	return NewServer(s, q, nil).Router(), s
}

func do(t *testing.T, router http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("non-JSON response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, out
}

func TestSubmitAndPoll(t *testing.T) {
	t.Parallel()

	router, s := testRouter(t, &fakeRunner{})

	rec, body := do(t, router, http.MethodPost, "/jobs", map[string]any{
		"job_type":   TypeProcessSession,
		"input_data": map[string]any{"session_id": "s1"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", rec.Code, rec.Body.String())
	}
	jobID, _ := body["job_id"].(string)
	if jobID == "" {
		t.Fatalf("body = %v", body)
	}

	waitStatus(t, s, jobID, StatusCompleted)

	rec, body = do(t, router, http.MethodGet, "/jobs/"+jobID, nil)
	if rec.Code != http.StatusOK || body["status"] != StatusCompleted {
		t.Fatalf("poll: %d %v", rec.Code, body)
	}

	rec, body = do(t, router, http.MethodGet, "/jobs/"+jobID+"/result", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("result: %d", rec.Code)
	}
	if body["result_data"] == nil {
		t.Errorf("body = %v", body)
	}
}

func TestSubmitUnknownType(t *testing.T) {
	t.Parallel()

	router, _ := testRouter(t, &fakeRunner{})
	rec, body := do(t, router, http.MethodPost, "/jobs", map[string]any{"job_type": "explode"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["detail"] != "Okänd jobbtyp: explode" {
		t.Errorf("detail = %v", body["detail"])
	}
}

func TestResultConflictWhileRunning(t *testing.T) {
	t.Parallel()

	router, s := testRouter(t, &fakeRunner{})
	job, _ := s.Create(TypeProcessSession, nil)

	// Not submitted to the queue, so it stays pending.
	rec, body := do(t, router, http.MethodGet, "/jobs/"+job.ID+"/result", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["detail"] != "Jobbet är inte klart" {
		t.Errorf("detail = %v", body["detail"])
	}
}

func TestJobNotFound(t *testing.T) {
	t.Parallel()

	router, _ := testRouter(t, &fakeRunner{})
	rec, body := do(t, router, http.MethodGet, "/jobs/saknas", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["detail"] != "Jobb hittades inte" {
		t.Errorf("detail = %v", body["detail"])
	}
}

func TestWorkerHealth(t *testing.T) {
	t.Parallel()

	router, _ := testRouter(t, &fakeRunner{})
	rec, body := do(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health: %d %v", rec.Code, body)
	}
}
