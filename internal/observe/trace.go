package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the murmur tracer.
const tracerName = "github.com/MrWong99/murmur"

// Tracer returns the package-level [trace.Tracer] for murmur. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// RecordingKey is the span attribute and log key naming the recording a unit
// of work belongs to.
const RecordingKey = "recording"

// StartRecordingSpan starts a span for work on one recording. The span carries
// the recording id plus attrs, and the returned logger carries the recording id
// and the new span's trace and span ids.
func StartRecordingSpan(ctx context.Context, name, recordingID string, attrs ...attribute.KeyValue) (context.Context, trace.Span, *slog.Logger) {
	attrs = append([]attribute.KeyValue{attribute.String(RecordingKey, recordingID)}, attrs...)
	ctx, span := StartSpan(ctx, name, trace.WithAttributes(attrs...))
	return ctx, span, Logger(ctx).With(RecordingKey, recordingID)
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
// Events published on the bus carry it so consumers can correlate them with
// pipeline logs.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx. When no active span is present, the returned
// logger is the default slog logger without extra attributes.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
