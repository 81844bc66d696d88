package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/streamscribe"

// Attribute keys shared by session spans, ops spans and ops metrics.
const (
	AttrMedia         = attribute.Key("streaming.media")
	AttrResponseTypes = attribute.Key("streaming.response_types")
	AttrSessionState  = attribute.Key("streaming.session_state")
	AttrErrorCode     = attribute.Key("streaming.error_code")
)

// Tracer returns the package-level [trace.Tracer]. It uses the globally
// registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartSessionSpan starts the span covering one streaming session, from the
// first connection attempt until the connection has closed.
func StartSessionSpan(ctx context.Context, media, responseTypes string) (context.Context, trace.Span) {
	return StartSpan(ctx, "streaming.session",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrMedia.String(media),
			AttrResponseTypes.String(responseTypes),
		),
	)
}

// SessionStateEvent records a state transition on a session span.
func SessionStateEvent(span trace.Span, from, to string) {
	if span == nil {
		return
	}
	span.AddEvent("state "+to, trace.WithAttributes(attribute.String("from", from)))
}

// EndSession annotates a session span with its final state and error code.
// A non-zero code marks the span as failed with reason. The caller still
// ends the span.
func EndSession(span trace.Span, state string, code int, reason string) {
	span.SetAttributes(
		AttrSessionState.String(state),
		AttrErrorCode.Int(code),
	)
	if code != 0 {
		span.SetStatus(codes.Error, reason)
	}
}

// WithTrace returns l with trace_id and span_id attributes taken from the
// span context in ctx. When ctx carries no span, l is returned unchanged.
func WithTrace(ctx context.Context, l *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
