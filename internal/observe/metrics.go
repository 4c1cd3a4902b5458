// Package observe provides application-wide observability primitives for
// notula: OpenTelemetry metrics, tracing, structured logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all notula metrics.
const meterName = "github.com/mkarols/notula"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// FlushDuration tracks time from segmenter flush to accepted backend
	// write, per flush reason.
	FlushDuration metric.Float64Histogram

	// SuggestDuration tracks LLM suggestion/summary generation latency.
	SuggestDuration metric.Float64Histogram

	// --- Counters ---

	// AudioChunks counts flushed audio chunks. Use with attribute:
	//   attribute.String("reason", ...)
	AudioChunks metric.Int64Counter

	// AudioBytes counts encoded audio bytes sent to the backend.
	AudioBytes metric.Int64Counter

	// TranscriptSegments counts finalized transcript segments.
	TranscriptSegments metric.Int64Counter

	// STTMessages counts inbound backend messages. Use with attribute:
	//   attribute.String("status", "ok"|"dropped")
	STTMessages metric.Int64Counter

	// STTDisconnects counts mid-recording backend disconnects.
	STTDisconnects metric.Int64Counter

	// --- Gauges ---

	// ActiveRecordings tracks the number of live recording sessions.
	ActiveRecordings metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) suited to
// realtime-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FlushDuration, err = m.Float64Histogram("notula.flush.duration",
		metric.WithDescription("Latency from segmenter flush to accepted backend write."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SuggestDuration, err = m.Float64Histogram("notula.suggest.duration",
		metric.WithDescription("Latency of LLM suggestion and summary generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.AudioChunks, err = m.Int64Counter("notula.audio.chunks",
		metric.WithDescription("Total flushed audio chunks by flush reason."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytes, err = m.Int64Counter("notula.audio.bytes",
		metric.WithDescription("Total encoded audio bytes sent to the transcription backend."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.TranscriptSegments, err = m.Int64Counter("notula.transcript.segments",
		metric.WithDescription("Total finalized transcript segments."),
	); err != nil {
		return nil, err
	}
	if met.STTMessages, err = m.Int64Counter("notula.stt.messages",
		metric.WithDescription("Total inbound transcription messages by status."),
	); err != nil {
		return nil, err
	}
	if met.STTDisconnects, err = m.Int64Counter("notula.stt.disconnects",
		metric.WithDescription("Total mid-recording transcription backend disconnects."),
	); err != nil {
		return nil, err
	}

	if met.ActiveRecordings, err = m.Int64UpDownCounter("notula.active_recordings",
		metric.WithDescription("Number of live recording sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("notula.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// RecordChunk records one flushed audio chunk and its encoded size.
func (m *Metrics) RecordChunk(ctx context.Context, reason string, bytes int) {
	attrs := metric.WithAttributes(attribute.String("reason", reason))
	m.AudioChunks.Add(ctx, 1, attrs)
	m.AudioBytes.Add(ctx, int64(bytes))
}

// RecordSTTMessage records one inbound backend message with the given
// status ("ok" or "dropped").
func (m *Metrics) RecordSTTMessage(ctx context.Context, status string) {
	m.STTMessages.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordSegment records one finalized transcript segment.
func (m *Metrics) RecordSegment(ctx context.Context) {
	m.TranscriptSegments.Add(ctx, 1)
}

// RecordDisconnect records one mid-recording backend disconnect.
func (m *Metrics) RecordDisconnect(ctx context.Context) {
	m.STTDisconnects.Add(ctx, 1)
}

// RecordFlush records the latency from segmenter flush to accepted backend
// write.
func (m *Metrics) RecordFlush(ctx context.Context, elapsed time.Duration) {
	m.FlushDuration.Record(ctx, elapsed.Seconds())
}

// RecordSuggest records one LLM generation latency by output kind
// ("suggestion" or "summary").
func (m *Metrics) RecordSuggest(ctx context.Context, kind string, elapsed time.Duration) {
	m.SuggestDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
