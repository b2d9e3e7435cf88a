// Package observe provides application-wide observability primitives for
// murmur: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all murmur metrics.
const meterName = "github.com/MrWong99/murmur"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ChunkExportDuration tracks the latency of exporting one chunk file.
	ChunkExportDuration metric.Float64Histogram

	// TranscriptionDuration tracks the latency of transcribing one chunk,
	// including polling for asynchronous backends. Use with attribute:
	//   attribute.String("backend", ...)
	TranscriptionDuration metric.Float64Histogram

	// ReassemblyDuration tracks transcript reassembly latency.
	ReassemblyDuration metric.Float64Histogram

	// SummarizationDuration tracks one engine's ProcessComplete latency. Use
	// with attribute:
	//   attribute.String("engine", ...)
	SummarizationDuration metric.Float64Histogram

	// PipelineDuration tracks the end-to-end processing time of a recording.
	PipelineDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// EngineRequests counts summarisation attempts. Use with attributes:
	//   attribute.String("engine", ...), attribute.String("status", ...)
	EngineRequests metric.Int64Counter

	// EngineFallbacks counts summaries that fell back to the offline path.
	// Use with attribute:
	//   attribute.String("engine", ...)
	EngineFallbacks metric.Int64Counter

	// JobPolls counts transcription job polls. Use with attribute:
	//   attribute.String("result", ...)
	JobPolls metric.Int64Counter

	// JobOutcomes counts terminal job states. Use with attribute:
	//   attribute.String("state", ...)
	JobOutcomes metric.Int64Counter

	// QualityTiers counts scored summaries per tier. Use with attribute:
	//   attribute.String("tier", ...)
	QualityTiers metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveRecordings tracks recordings currently inside the pipeline.
	ActiveRecordings metric.Int64UpDownCounter

	// ActiveJobs tracks transcription jobs that have not reached a terminal
	// state.
	ActiveJobs metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(stageBuckets[name]...),
		)
	}

	// Histograms.
	if met.ChunkExportDuration, err = histogram("murmur.chunk.export.duration",
		"Latency of exporting one audio chunk."); err != nil {
		return nil, err
	}
	if met.TranscriptionDuration, err = histogram("murmur.transcription.duration",
		"Latency of transcribing one chunk."); err != nil {
		return nil, err
	}
	if met.ReassemblyDuration, err = histogram("murmur.reassembly.duration",
		"Latency of merging chunk transcripts."); err != nil {
		return nil, err
	}
	if met.SummarizationDuration, err = histogram("murmur.summarization.duration",
		"Latency of one engine summarisation run."); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = histogram("murmur.pipeline.duration",
		"End-to-end processing time of a recording."); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("murmur.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.EngineRequests, err = m.Int64Counter("murmur.engine.requests",
		metric.WithDescription("Total summarisation attempts by engine and status."),
	); err != nil {
		return nil, err
	}
	if met.EngineFallbacks, err = m.Int64Counter("murmur.engine.fallbacks",
		metric.WithDescription("Total offline fallbacks by failing engine."),
	); err != nil {
		return nil, err
	}
	if met.JobPolls, err = m.Int64Counter("murmur.job.polls",
		metric.WithDescription("Total transcription job polls by result."),
	); err != nil {
		return nil, err
	}
	if met.JobOutcomes, err = m.Int64Counter("murmur.job.outcomes",
		metric.WithDescription("Total transcription jobs by terminal state."),
	); err != nil {
		return nil, err
	}
	if met.QualityTiers, err = m.Int64Counter("murmur.summary.quality",
		metric.WithDescription("Total scored summaries by quality tier."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("murmur.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveRecordings, err = m.Int64UpDownCounter("murmur.active_recordings",
		metric.WithDescription("Number of recordings currently being processed."),
	); err != nil {
		return nil, err
	}
	if met.ActiveJobs, err = m.Int64UpDownCounter("murmur.active_jobs",
		metric.WithDescription("Number of non-terminal transcription jobs."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("murmur.http.request.duration",
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

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordEngineRequest records one summarisation attempt and its latency.
func (m *Metrics) RecordEngineRequest(ctx context.Context, engine, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("engine", engine))
	m.EngineRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("engine", engine),
			attribute.String("status", status),
		),
	)
	m.SummarizationDuration.Record(ctx, seconds, attrs)
}

// RecordFallback records that engine's output was replaced by the offline path.
func (m *Metrics) RecordFallback(ctx context.Context, engine string) {
	m.EngineFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("engine", engine)))
}

// RecordJobPoll records one job poll with result "running", "done",
// "failed" or "error".
func (m *Metrics) RecordJobPoll(ctx context.Context, result string) {
	m.JobPolls.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordJobOutcome records a job reaching the given terminal state.
func (m *Metrics) RecordJobOutcome(ctx context.Context, state string) {
	m.JobOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordQualityTier records a scored summary.
func (m *Metrics) RecordQualityTier(ctx context.Context, tier string) {
	m.QualityTiers.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}
