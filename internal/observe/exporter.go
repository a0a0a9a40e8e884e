package observe

import (
	"fmt"
	"io"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Trace exporter kinds accepted by [NewTraceExporter].
const (
	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
)

// NewTraceExporter builds the span exporter named by kind. "stdout" writes
// one JSON document per finished span to w. "none" (or "") returns a nil
// exporter so spans only feed trace IDs into logs and response headers.
func NewTraceExporter(kind string, w io.Writer) (sdktrace.SpanExporter, error) {
	switch kind {
	case "", TraceExporterNone:
		return nil, nil
	case TraceExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("observe: stdout trace exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("observe: unknown trace exporter %q", kind)
	}
}
