package shield

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/liveblog/idgen"
	"github.com/hazyhaar/liveblog/kit"
)

var newTraceID = idgen.NanoID(12)

// Trace tags each request with a trace id (reusing an incoming X-Trace-ID),
// echoes it in the response and attaches a request logger to the context.
func Trace(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			traceID := r.Header.Get("X-Trace-ID")
			if traceID == "" || len(traceID) > 64 {
				traceID = newTraceID()
			}
			w.Header().Set("X-Trace-ID", traceID)

			logger := base.With(
				"trace_id", traceID,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx := kit.WithTraceID(r.Context(), traceID)
			ctx = kit.WithRemoteAddr(ctx, ExtractIP(r))
			ctx = kit.WithTransport(ctx, "http")
			ctx = context.WithValue(ctx, LoggerKey, logger)

			start := time.Now()
			next.ServeHTTP(w, r.WithContext(ctx))
			logger.Debug("request", "duration", time.Since(start))
		})
	}
}

// TraceID is Trace over slog.Default.
func TraceID(next http.Handler) http.Handler { return Trace(nil)(next) }

// GetLogger returns the request logger, or slog.Default outside a request.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
