package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"

	"github.com/hallqvist/lyssna/internal/engine"
	"github.com/hallqvist/lyssna/pkg/audio"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testServer(primary *fakeEngine, acc *fakeAccelerator) *Server {
	return NewServer(testService(primary, acc))
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
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

func TestTranscribeEndpoint_NoFile(t *testing.T) {
	t.Parallel()

	router := testServer(&fakeEngine{name: engine.BackendPrimary, available: true}, nil).Router()
	rec, body := doJSON(t, router, http.MethodPost, "/transcribe", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["detail"] != "Ingen fil bifogad" {
		t.Errorf("detail = %v", body["detail"])
	}
}

func TestTranscribeEndpoint_EmptyFile(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", "tom.wav")
	if err != nil {
		t.Fatal(err)
	}
	_ = fw // zero bytes written
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/transcribe", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()

	router := testServer(&fakeEngine{name: engine.BackendPrimary, available: true}, nil).Router()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Tom fil") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func wavUpload(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "test.wav")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(audio.SilenceWAV(100 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestTranscribeEndpoint_QueryParams(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	primary := &fakeEngine{
		name: engine.BackendPrimary, available: true,
		result: &engine.Result{Segments: segs("hej")},
	}
	router := testServer(primary, nil).Router()

	post := func(path string) map[string]any {
		t.Helper()
		body, ctype := wavUpload(t)
		req := httptest.NewRequest(http.MethodPost, path, body)
		req.Header.Set("Content-Type", ctype)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		out := map[string]any{}
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatal(err)
		}
		return out
	}

	// Profile and language travel as query parameters.
	out := post("/transcribe?profile=highest_quality&language=en")
	if out["profile"] != "highest_quality" {
		t.Errorf("profile = %v", out["profile"])
	}
	if primary.lastOpts.Language != "en" {
		t.Errorf("engine language = %q, want en", primary.lastOpts.Language)
	}
	if out["segments"] == nil {
		t.Error("segments included by default")
	}

	// include_timestamps=false keeps text but drops segments.
	out = post("/transcribe?include_timestamps=false")
	if out["segments"] != nil {
		t.Errorf("segments = %v, want none", out["segments"])
	}
}

func TestRetryEndpoint_MissingAudio(t *testing.T) {
	t.Parallel()

	router := testServer(&fakeEngine{name: engine.BackendPrimary, available: true}, nil).Router()
	rec, body := doJSON(t, router, http.MethodPost, "/transcribe/retry",
		map[string]any{"start": 0, "end": 5})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["detail"] != "audio_base64 krävs" {
		t.Errorf("detail = %v", body["detail"])
	}
}

func TestRetryEndpoint_BadBase64(t *testing.T) {
	t.Parallel()

	router := testServer(&fakeEngine{name: engine.BackendPrimary, available: true}, nil).Router()
	rec, _ := doJSON(t, router, http.MethodPost, "/transcribe/retry",
		map[string]any{"audio_base64": "!!!inte base64!!!"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWarmupEndpoint_UnknownProfile(t *testing.T) {
	t.Parallel()

	router := testServer(&fakeEngine{name: engine.BackendPrimary, available: true}, nil).Router()
	rec, body := doJSON(t, router, http.MethodPost, "/warmup?profile=turbo", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["detail"] != "Okänd profil: turbo" {
		t.Errorf("detail = %v", body["detail"])
	}
}

func TestWarmupEndpoint_Ready(t *testing.T) {
	t.Parallel()

	router := testServer(&fakeEngine{name: engine.BackendPrimary, available: true}, nil).Router()
	rec, body := doJSON(t, router, http.MethodPost, "/warmup?profile=accurate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if body["status"] != "ready" || body["model"] != ModelMedium {
		t.Errorf("body = %v", body)
	}
}

func TestModelsEndpoint(t *testing.T) {
	t.Parallel()

	primary := &fakeEngine{name: engine.BackendPrimary, available: true, loaded: []string{ModelMedium}}
	router := testServer(primary, nil).Router()
	rec, body := doJSON(t, router, http.MethodGet, "/models", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["default_profile"] != "accurate" {
		t.Errorf("default_profile = %v", body["default_profile"])
	}
	profiles, ok := body["profiles"].(map[string]any)
	if !ok || len(profiles) != 4 {
		t.Errorf("profiles = %v", body["profiles"])
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	router := testServer(&fakeEngine{name: engine.BackendPrimary, available: true}, nil).Router()

	rec, body := doJSON(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health: %d %v", rec.Code, body)
	}
	rec, _ = doJSON(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
	rec, _ = doJSON(t, router, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("readyz: %d", rec.Code)
	}
}

func TestAppendPCM16(t *testing.T) {
	t.Parallel()

	pcm := make([]byte, 6)
	minSample := int16(-32768)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(minSample))
	binary.LittleEndian.PutUint16(pcm[2:], 0)
	binary.LittleEndian.PutUint16(pcm[4:], uint16(int16(16384)))

	got := appendPCM16(nil, pcm)
	if len(got) != 3 {
		t.Fatalf("samples = %v", got)
	}
	if got[0] != -1.0 || got[1] != 0 || got[2] != 0.5 {
		t.Errorf("samples = %v", got)
	}

	// Trailing odd byte dropped; existing samples preserved.
	got = appendPCM16(got, []byte{0, 0, 7})
	if len(got) != 4 || got[3] != 0 {
		t.Errorf("appended = %v", got)
	}
}

func TestWebSocket_Protocol(t *testing.T) {
	t.Parallel()

	primary := &fakeEngine{
		name: engine.BackendPrimary, available: true,
		result: &engine.Result{Segments: segs("hej")},
	}
	ts := httptest.NewServer(testServer(primary, nil).Router())
	defer ts.Close()

	ctx := context.Background()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/transcribe"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.CloseNow()

	send := func(f clientFrame) {
		t.Helper()
		if err := wsjson.Write(ctx, conn, f); err != nil {
			t.Fatal(err)
		}
	}
	recv := func() serverFrame {
		t.Helper()
		var f serverFrame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			t.Fatal(err)
		}
		return f
	}

	// Audio before start is rejected.
	send(clientFrame{Action: "audio", Data: ""})
	if f := recv(); f.Type != "error" {
		t.Fatalf("expected error frame, got %+v", f)
	}

	send(clientFrame{Action: "start", Profile: "accurate"})
	if f := recv(); f.Type != "status" || f.Message != "Streaming startad" || f.Profile != "accurate" {
		t.Fatalf("start ack = %+v", f)
	}

	pcm := make([]byte, 3200)
	send(clientFrame{Action: "audio", Data: base64.StdEncoding.EncodeToString(pcm)})
	send(clientFrame{Action: "process"})

	// The transcript fields sit flat on the frame, not nested under a
	// result object.
	var raw map[string]any
	if err := wsjson.Read(ctx, conn, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["type"] != "transcript" || raw["text"] != "hej" {
		t.Fatalf("transcript frame = %v", raw)
	}
	if raw["is_final"] != true {
		t.Errorf("is_final = %v", raw["is_final"])
	}
	if segments, ok := raw["segments"].([]any); !ok || len(segments) != 1 {
		t.Errorf("segments = %v", raw["segments"])
	}
	if raw["profile"] != "accurate" {
		t.Errorf("profile = %v", raw["profile"])
	}
	if _, ok := raw["result"]; ok {
		t.Error("transcript frame must not nest a result object")
	}

	// Buffer is cleared after process.
	send(clientFrame{Action: "process"})
	if f := recv(); f.Type != "status" || f.Message != "Ingen buffrad audio" {
		t.Fatalf("expected empty-buffer status, got %+v", f)
	}

	send(clientFrame{Action: "stop"})
	if f := recv(); f.Type != "status" || f.Message != "Streaming stoppad" {
		t.Fatalf("stop ack = %+v", f)
	}
}
