package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// SpanRecorder captures spans in memory.
type SpanRecorder struct {
	*tracetest.SpanRecorder
	Provider *sdktrace.TracerProvider
}

// InstallSpanRecorder makes a recording tracer provider the global one
// for the duration of tb. Tests using it must not run in parallel.
func InstallSpanRecorder(tb testing.TB) *SpanRecorder {
	tb.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	tb.Cleanup(func() { otel.SetTracerProvider(prev) })

	return &SpanRecorder{SpanRecorder: rec, Provider: tp}
}

// Span returns the first ended span called name, or nil.
func (r *SpanRecorder) Span(name string) sdktrace.ReadOnlySpan {
	for _, s := range r.Ended() {
		if s.Name() == name {
			return s
		}
	}
	return nil
}

// Attr returns the value of key on span, or an empty Value.
func Attr(span sdktrace.ReadOnlySpan, key string) attribute.Value {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value
		}
	}
	return attribute.Value{}
}

// Tracer is a shortcut for r.Provider.Tracer.
func (r *SpanRecorder) Tracer(name string) trace.Tracer {
	return r.Provider.Tracer(name)
}
