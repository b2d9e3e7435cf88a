package observe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// stageBuckets holds the histogram bucket boundaries, in seconds, of every
// duration instrument. A cloud transcription job can take most of an hour and
// a long recording several hours end to end.
var stageBuckets = map[string][]float64{
	"murmur.chunk.export.duration":  {0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	"murmur.transcription.duration": {1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
	"murmur.reassembly.duration":    {0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	"murmur.summarization.duration": {1, 5, 10, 30, 60, 120, 300, 600, 1200},
	"murmur.pipeline.duration":      {10, 60, 300, 600, 1200, 1800, 3600, 7200, 14400},
	"murmur.http.request.duration":  {0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
}

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry. Default: "murmur".
	ServiceName string

	// ServiceVersion is the build version reported in telemetry.
	ServiceVersion string

	// SampleRatio is the fraction of root traces recorded, in [0, 1]. Child
	// spans follow their parent's decision.
	SampleRatio float64

	// LogSpans writes every finished span to the default slog logger at
	// debug level.
	LogSpans bool

	// TraceExporter is an optional span exporter, used in addition to
	// LogSpans.
	TraceExporter sdktrace.SpanExporter
}

// InitProvider registers global meter and tracer providers. Metrics go to a
// Prometheus exporter served on /metrics, with per-stage duration buckets.
// Spans are sampled at cfg.SampleRatio and sent to the configured exporters.
//
// The returned function flushes and closes both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "murmur"
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return nil, fmt.Errorf("observe: sample ratio %v outside [0, 1]", cfg.SampleRatio)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := newMeterProvider(res, promExp)
	otel.SetMeterProvider(mp)

	tp := newTracerProvider(res, cfg)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func newMeterProvider(res *resource.Resource, reader sdkmetric.Reader) *sdkmetric.MeterProvider {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	}
	for name, bounds := range stageBuckets {
		opts = append(opts, sdkmetric.WithView(sdkmetric.NewView(
			sdkmetric.Instrument{Name: name},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: bounds}},
		)))
	}
	return sdkmetric.NewMeterProvider(opts...)
}

func newTracerProvider(res *resource.Resource, cfg ProviderConfig) *sdktrace.TracerProvider {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}
	if cfg.LogSpans {
		opts = append(opts, sdktrace.WithSyncer(logExporter{}))
	}
	if cfg.TraceExporter != nil {
		opts = append(opts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	return sdktrace.NewTracerProvider(opts...)
}

// logExporter writes finished spans to slog.
type logExporter struct{}

func (logExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		attrs := []any{
			slog.String("trace_id", s.SpanContext().TraceID().String()),
			slog.String("span_id", s.SpanContext().SpanID().String()),
			slog.Duration("duration", s.EndTime().Sub(s.StartTime())),
		}
		for _, kv := range s.Attributes() {
			attrs = append(attrs, slog.String(string(kv.Key), kv.Value.Emit()))
		}
		if st := s.Status(); st.Description != "" {
			attrs = append(attrs, slog.String("status", st.Description))
		}
		slog.Default().DebugContext(ctx, "span "+s.Name(), attrs...)
	}
	return nil
}

func (logExporter) Shutdown(context.Context) error { return nil }

var _ sdktrace.SpanExporter = logExporter{}
