package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// opsRoutes are the paths the ops server answers. Anything else is recorded
// as "other" so a scanner cannot blow up the route attribute.
var opsRoutes = map[string]bool{
	"/metrics": true,
	"/healthz": true,
	"/readyz":  true,
}

func opsRoute(path string) string {
	if opsRoutes[path] {
		return path
	}
	return "other"
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware instruments the ops server. Every request gets a server span
// and a [Metrics.HTTPRequestDuration] observation, both tagged with the
// route, the response status and the session state reported by
// sessionState at the time of the request. sessionState may be nil.
//
// Successful scrapes and health checks are logged at debug level. A failed
// health check is logged as a warning: the session is unhealthy.
func Middleware(m *Metrics, sessionState func() string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := opsRoute(r.URL.Path)
			state := "none"
			if sessionState != nil {
				state = sessionState()
			}

			ctx, span := StartSpan(r.Context(), "ops "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
					AttrSessionState.String(state),
				),
			)
			defer span.End()

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))
			duration := time.Since(start)

			m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
				metric.WithAttributes(
					attribute.String("route", route),
					attribute.Int("status", rec.statusCode),
					AttrSessionState.String(state),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))

			level := slog.LevelDebug
			switch {
			case rec.statusCode >= http.StatusInternalServerError:
				span.SetStatus(codes.Error, http.StatusText(rec.statusCode))
				level = slog.LevelWarn
			case route == "other":
				level = slog.LevelInfo
			}
			WithTrace(ctx, slog.Default()).LogAttrs(ctx, level, "ops request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.String("session_state", state),
				slog.Duration("duration", duration),
			)
		})
	}
}
