package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/hallqvist/lyssna/internal/session"
	"github.com/hallqvist/lyssna/pkg/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testServer(t *testing.T, gw *fakeGateway, wk *fakeWorker) (*Server, *session.Store) {
	t.Helper()
	sessions, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	svc := NewService(sessions, gw, wk)
	return NewServer(svc, sessions, gw, wk, t.TempDir()), sessions
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func doReq(t *testing.T, r *gin.Engine, method, target string, body *bytes.Buffer, contentType string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Buffer
	if body == nil {
		reader = &bytes.Buffer{}
	} else {
		reader = body
	}
	req := httptest.NewRequest(method, target, reader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("non-JSON response %q: %v", w.Body.String(), err)
		}
	}
	return w, out
}

func TestIngestEndpoint(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{results: []*types.TranscriptResult{
		transcript("hej där", types.Segment{Start: 0, End: 1, Text: "hej där"}),
	}}
	srv, _ := testServer(t, gw, &fakeWorker{})
	r := srv.Router()

	body, ct := multipartBody(t, "file", "rec.webm", []byte("audio-bytes"))
	w, out := doReq(t, r, http.MethodPost, "/api/ingest?context=meeting&source=web", body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %v", w.Code, out)
	}
	if out["session_id"] == "" || out["job_id"] != "job-1" {
		t.Errorf("body = %v", out)
	}
	if out["poll_url"] != "/api/jobs/job-1" || out["segment_count"] != float64(1) {
		t.Errorf("body = %v", out)
	}
}

func TestIngestEndpoint_Errors(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t, &fakeGateway{results: []*types.TranscriptResult{transcript("x")}}, &fakeWorker{})
	r := srv.Router()

	w, out := doReq(t, r, http.MethodPost, "/api/ingest", nil, "")
	if w.Code != http.StatusBadRequest || out["detail"] != "Ingen fil bifogad" {
		t.Errorf("status = %d body = %v", w.Code, out)
	}

	body, ct := multipartBody(t, "file", "rec.webm", nil)
	w, out = doReq(t, r, http.MethodPost, "/api/ingest", body, ct)
	if w.Code != http.StatusBadRequest || out["detail"] != "Tom audiofil" {
		t.Errorf("status = %d body = %v", w.Code, out)
	}

	body, ct = multipartBody(t, "file", "rec.webm", []byte("audio"))
	w, out = doReq(t, r, http.MethodPost, "/api/ingest?context=finns_inte", body, ct)
	if w.Code != http.StatusBadRequest || out["detail"] != "Okänd kontextprofil: finns_inte" {
		t.Errorf("status = %d body = %v", w.Code, out)
	}
}

func TestInterpretEndpoint(t *testing.T) {
	t.Parallel()

	wk := &fakeWorker{}
	srv, sessions := testServer(t, &fakeGateway{}, wk)
	r := srv.Router()

	sessionID := "2026-08-25_09-00-00_accurate"
	if err := sessions.Create(&types.SessionMeta{
		SessionID: sessionID,
		Profile:   "accurate",
		Segments:  []types.Segment{{Text: "hej"}},
	}); err != nil {
		t.Fatal(err)
	}

	w, out := doReq(t, r, http.MethodPost, "/api/interpret/"+sessionID+"?context=journal", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %v", w.Code, out)
	}
	if out["context"] != "journal" || out["job_id"] != "job-1" {
		t.Errorf("body = %v", out)
	}

	w, out = doReq(t, r, http.MethodPost, "/api/interpret/"+sessionID, nil, "")
	if w.Code != http.StatusBadRequest || out["detail"] != "context krävs" {
		t.Errorf("status = %d body = %v", w.Code, out)
	}

	w, out = doReq(t, r, http.MethodPost, "/api/interpret/2099-01-01_00-00-00_accurate?context=journal", nil, "")
	if w.Code != http.StatusNotFound || out["detail"] != "Session hittades inte" {
		t.Errorf("status = %d body = %v", w.Code, out)
	}

	wk.err = errors.New("worker nere")
	w, out = doReq(t, r, http.MethodPost, "/api/interpret/"+sessionID+"?context=journal", nil, "")
	if w.Code != http.StatusBadGateway || out["detail"] != "Kunde inte skapa tolkningsjobb" {
		t.Errorf("status = %d body = %v", w.Code, out)
	}
}

func TestSessionEndpoints(t *testing.T) {
	t.Parallel()

	srv, sessions := testServer(t, &fakeGateway{}, &fakeWorker{})
	r := srv.Router()

	sessionID := "2026-08-25_08-00-00_fast"
	if err := sessions.Create(&types.SessionMeta{
		SessionID: sessionID,
		Profile:   "fast",
		Text:      "hej på er",
	}); err != nil {
		t.Fatal(err)
	}

	w, out := doReq(t, r, http.MethodGet, "/api/sessions", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	list, ok := out["sessions"].([]any)
	if !ok || len(list) != 1 {
		t.Errorf("body = %v", out)
	}

	w, _ = doReq(t, r, http.MethodGet, "/api/sessions?limit=999", nil, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}

	w, out = doReq(t, r, http.MethodGet, "/api/sessions/"+sessionID, nil, "")
	if w.Code != http.StatusOK || out["session_id"] != sessionID {
		t.Errorf("status = %d body = %v", w.Code, out)
	}

	w, out = doReq(t, r, http.MethodGet, "/api/sessions/2099-01-01_00-00-00_fast", nil, "")
	if w.Code != http.StatusNotFound || out["detail"] != "Session not found" {
		t.Errorf("status = %d body = %v", w.Code, out)
	}

	w, out = doReq(t, r, http.MethodGet, "/api/sessions/"+sessionID+"/audio", nil, "")
	if w.Code != http.StatusNotFound || out["detail"] != "Audio not found" {
		t.Errorf("status = %d body = %v", w.Code, out)
	}

	w, out = doReq(t, r, http.MethodGet, "/api/sessions/"+sessionID+"/interpretations", nil, "")
	if w.Code != http.StatusOK || out["session_id"] != sessionID {
		t.Errorf("status = %d body = %v", w.Code, out)
	}
	if _, ok := out["interpretations"].(map[string]any); !ok {
		t.Errorf("body = %v", out)
	}
}

func TestContextsEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t, &fakeGateway{}, &fakeWorker{})
	w, out := doReq(t, srv.Router(), http.MethodGet, "/api/contexts", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	contexts, ok := out["contexts"].([]any)
	if !ok || len(contexts) != 5 {
		t.Errorf("contexts = %v", out["contexts"])
	}
}

func TestTranscribeProxy(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{results: []*types.TranscriptResult{
		{Text: "hej", Backend: "whisper_cpp", InferenceTime: 0.5},
	}}
	srv, sessions := testServer(t, gw, &fakeWorker{})
	r := srv.Router()

	body, ct := multipartBody(t, "file", "a.wav", []byte("audio"))
	w, out := doReq(t, r, http.MethodPost, "/api/transcribe?profile=fast", body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %v", w.Code, out)
	}
	if out["text"] != "hej" || out["filename"] != "a.wav" || out["profile"] != "fast" {
		t.Errorf("body = %v", out)
	}
	// The proxy must not create a session.
	entries, err := sessions.List(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("sessions = %+v", entries)
	}

	body, ct = multipartBody(t, "file", "a.wav", nil)
	w, out = doReq(t, r, http.MethodPost, "/api/transcribe", body, ct)
	if w.Code != http.StatusBadRequest || out["detail"] != "Tom fil" {
		t.Errorf("status = %d body = %v", w.Code, out)
	}

	gw.err = errors.New("nere")
	body, ct = multipartBody(t, "file", "a.wav", []byte("audio"))
	w, out = doReq(t, r, http.MethodPost, "/api/transcribe", body, ct)
	if w.Code != http.StatusBadGateway || !strings.HasPrefix(out["detail"].(string), "Whisper API-fel: ") {
		t.Errorf("status = %d body = %v", w.Code, out)
	}
}

func TestWarmupProxy(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{}
	srv, _ := testServer(t, gw, &fakeWorker{})
	r := srv.Router()

	w, out := doReq(t, r, http.MethodPost, "/api/warmup?profile=fast", nil, "")
	if w.Code != http.StatusOK || out["status"] != "ready" || out["profile"] != "fast" {
		t.Errorf("status = %d body = %v", w.Code, out)
	}

	gw.err = errors.New("nere")
	w, out = doReq(t, r, http.MethodPost, "/api/warmup", nil, "")
	if w.Code != http.StatusBadGateway || !strings.HasPrefix(out["detail"].(string), "Warmup-fel: ") {
		t.Errorf("status = %d body = %v", w.Code, out)
	}
}

func TestFilesEndpoints(t *testing.T) {
	t.Parallel()

	srv, _ := testServer(t, &fakeGateway{}, &fakeWorker{})
	r := srv.Router()

	payload := bytes.NewBufferString(`{"text": "hej anteckning", "filename": "../möte"}`)
	w, out := doReq(t, r, http.MethodPost, "/api/files", payload, "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %v", w.Code, out)
	}
	// Path components are stripped, .txt is appended.
	if out["name"] != "möte.txt" {
		t.Errorf("name = %v", out["name"])
	}

	w, out = doReq(t, r, http.MethodGet, "/api/files", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	files, ok := out["files"].([]any)
	if !ok || len(files) != 1 {
		t.Fatalf("files = %v", out["files"])
	}

	w, out = doReq(t, r, http.MethodGet, "/api/files/möte.txt", nil, "")
	if w.Code != http.StatusOK || out["text"] != "hej anteckning" {
		t.Errorf("status = %d body = %v", w.Code, out)
	}

	w, out = doReq(t, r, http.MethodDelete, "/api/files/möte.txt", nil, "")
	if w.Code != http.StatusOK || out["deleted"] != "möte.txt" {
		t.Errorf("status = %d body = %v", w.Code, out)
	}

	w, out = doReq(t, r, http.MethodGet, "/api/files/möte.txt", nil, "")
	if w.Code != http.StatusNotFound || out["detail"] != "Filen hittades inte" {
		t.Errorf("status = %d body = %v", w.Code, out)
	}

	// Omitted filename gets a timestamped default.
	payload = bytes.NewBufferString(`{"text": "utan namn"}`)
	w, out = doReq(t, r, http.MethodPost, "/api/files", payload, "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %v", w.Code, out)
	}
	name, _ := out["name"].(string)
	if !regexp.MustCompile(`^transkription_\d{8}_\d{6}\.txt$`).MatchString(name) {
		t.Errorf("default name = %q", name)
	}
}

func TestRealtimeWebSocket(t *testing.T) {
	t.Parallel()

	gw := &fakeGateway{results: []*types.TranscriptResult{
		transcript("hej allihopa", types.Segment{Start: 0, End: 1, Text: "hej allihopa"}),
	}}
	wk := &fakeWorker{}
	srv, sessions := testServer(t, gw, wk)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/transcribe?profile=fast"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.CloseNow()

	// Tiny blobs carry no audio and must be dropped silently.
	if err := conn.Write(ctx, websocket.MessageBinary, make([]byte, 100)); err != nil {
		t.Fatal(err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, make([]byte, 2000)); err != nil {
		t.Fatal(err)
	}

	var reply chunkReply
	if err := wsjson.Read(ctx, conn, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Text != "hej allihopa" || reply.Chunk != 0 || reply.Profile != "fast" {
		t.Errorf("reply = %+v", reply)
	}
	if len(reply.Segments) != 1 {
		t.Errorf("segments = %+v", reply.Segments)
	}

	// Disconnecting finalizes the session in the handler goroutine.
	conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(5 * time.Second)
	for {
		entries, err := sessions.List(0, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) == 1 {
			meta, err := sessions.Meta(entries[0].SessionID)
			if err != nil {
				t.Fatal(err)
			}
			if meta.Text != "hej allihopa" || meta.Chunks != 1 {
				t.Errorf("meta = %+v", meta)
			}
			if meta.JobID != "job-1" || meta.ProcessingStatus != "submitted" {
				t.Errorf("meta = %+v", meta)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session was never finalized")
		}
		time.Sleep(20 * time.Millisecond)
	}
}
