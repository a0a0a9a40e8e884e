package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the wakelink tracer.
const tracerName = "github.com/MrWong99/wakelink"

// Tracer returns the package-level [trace.Tracer] for wakelink. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartSessionSpan starts the span covering one Active period. The session ID
// and the keyword that triggered it are recorded as attributes.
func StartSessionSpan(ctx context.Context, sessionID, keyword string) (context.Context, trace.Span) {
	return StartSpan(ctx, "session.active",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("wakeword.keyword", keyword),
		),
	)
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// LoggerFrom returns base enriched with trace_id and span_id from the OTel
// span context in ctx. Without an active span base is returned unchanged.
func LoggerFrom(ctx context.Context, base *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return base.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return base
}
