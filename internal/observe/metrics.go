// Package observe provides application-wide observability primitives for
// lyssna: OpenTelemetry metrics, a Prometheus exporter bridge, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all lyssna metrics.
const meterName = "github.com/hallqvist/lyssna"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TranscriptionDuration tracks ASR transcription latency. Use with
	// attributes:
	//   attribute.String("backend", ...), attribute.String("profile", ...)
	TranscriptionDuration metric.Float64Histogram

	// ModelLoadDuration tracks model load/warmup latency by backend and model.
	ModelLoadDuration metric.Float64Histogram

	// StageDuration tracks pipeline stage latency. Use with attribute:
	//   attribute.String("stage", ...)
	StageDuration metric.Float64Histogram

	// --- Counters ---

	// JobsFinished counts finished pipeline jobs. Use with attribute:
	//   attribute.String("status", "completed"|"failed")
	JobsFinished metric.Int64Counter

	// SegmentsDropped counts segments removed by the noise filter.
	SegmentsDropped metric.Int64Counter

	// GatewayRetries counts windowed retry transcriptions by model tier.
	GatewayRetries metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks the number of jobs waiting in the queue.
	QueueDepth metric.Int64UpDownCounter

	// ActiveSessions tracks the number of live realtime sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Batch
// transcription and model loads run far longer than typical request
// handlers, hence the wide upper range.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("lyssna.transcription.duration",
		metric.WithDescription("Latency of ASR transcription by backend and profile."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ModelLoadDuration, err = m.Float64Histogram("lyssna.model_load.duration",
		metric.WithDescription("Latency of model loading and warmup by backend and model."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("lyssna.pipeline.stage.duration",
		metric.WithDescription("Latency of pipeline stages by stage name."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.JobsFinished, err = m.Int64Counter("lyssna.jobs.finished",
		metric.WithDescription("Total finished pipeline jobs by status."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsDropped, err = m.Int64Counter("lyssna.segments.dropped",
		metric.WithDescription("Total segments removed by the noise filter."),
	); err != nil {
		return nil, err
	}
	if met.GatewayRetries, err = m.Int64Counter("lyssna.gateway.retries",
		metric.WithDescription("Total windowed retry transcriptions by model tier."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("lyssna.queue.depth",
		metric.WithDescription("Number of jobs waiting in the queue."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("lyssna.active_sessions",
		metric.WithDescription("Number of live realtime sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lyssna.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTranscription records one transcription latency sample with the
// standard attribute set.
func (m *Metrics) RecordTranscription(ctx context.Context, backend, profile string, seconds float64) {
	m.TranscriptionDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("profile", profile),
		),
	)
}

// RecordStage records one pipeline-stage latency sample.
func (m *Metrics) RecordStage(ctx context.Context, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordJobFinished increments the finished-jobs counter for the given
// terminal status.
func (m *Metrics) RecordJobFinished(ctx context.Context, status string) {
	m.JobsFinished.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
