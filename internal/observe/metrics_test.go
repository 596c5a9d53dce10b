package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMeter returns a Metrics instance backed by a manual reader so tests
// can collect recorded data points directly.
func newTestMeter(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric names present in the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]bool {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	names := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	return names
}

func TestNewMetrics_AllInstruments(t *testing.T) {
	t.Parallel()

	m, reader := newTestMeter(t)
	ctx := context.Background()

	m.RecordTranscription(ctx, "primary", "accurate", 1.2)
	m.RecordStage(ctx, "confidence", 0.01)
	m.RecordJobFinished(ctx, "completed")
	m.QueueDepth.Add(ctx, 1)

	names := collect(t, reader)
	for _, want := range []string{
		"lyssna.transcription.duration",
		"lyssna.pipeline.stage.duration",
		"lyssna.jobs.finished",
		"lyssna.queue.depth",
	} {
		if !names[want] {
			t.Errorf("missing instrument %q in %v", want, names)
		}
	}
}

func TestDefaultMetrics_SamePointer(t *testing.T) {
	t.Parallel()

	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics must return the same instance")
	}
}

func TestMiddleware_RecordsDuration(t *testing.T) {
	t.Parallel()

	m, reader := newTestMeter(t)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(m))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if names := collect(t, reader); !names["lyssna.http.request.duration"] {
		t.Errorf("http duration histogram not recorded: %v", names)
	}
}
