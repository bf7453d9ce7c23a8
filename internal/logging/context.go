package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	corporationKey struct{}
	sessionKey     struct{}
	requestKey     struct{}
)

// WithCorporationID tags ctx with a corporation.
func WithCorporationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corporationKey{}, id)
}

// WithSessionID tags ctx with an advisory session.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// WithRequestID tags ctx with an HTTP request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestKey{}, id)
}

// ContextFields returns the correlation fields carried by ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()))
	}
	if v, _ := ctx.Value(corporationKey{}).(string); v != "" {
		fields = append(fields, zap.String("corporation_id", v))
	}
	if v, _ := ctx.Value(sessionKey{}).(string); v != "" {
		fields = append(fields, zap.String("session_id", v))
	}
	if v, _ := ctx.Value(requestKey{}).(string); v != "" {
		fields = append(fields, zap.String("request_id", v))
	}
	return fields
}

// For returns logger with the correlation fields of ctx attached.
func For(ctx context.Context, logger *zap.Logger) *zap.Logger {
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
