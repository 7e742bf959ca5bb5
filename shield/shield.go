// Package shield holds the HTTP middleware in front of the liveblog feed
// and editor routes: security headers, request tracing, body limits and a
// per-client rate limiter.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(shield.Options{}) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
	"time"
)

type contextKey string

// LoggerKey is the context key for the per-request logger.
const LoggerKey contextKey = "shield_logger"

// Options tunes DefaultStack. Zero values take defaults.
type Options struct {
	// MaxBody caps JSON request bodies. Default 64 KiB.
	MaxBody int64
	// RatePerSecond and Burst configure the per-client limiter.
	// A negative RatePerSecond disables limiting.
	RatePerSecond float64
	Burst         int
	// Exempt path prefixes skip the limiter.
	Exempt []string
	// Done, when set, runs the limiter's idle-client GC until it closes.
	Done   <-chan struct{}
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.MaxBody <= 0 {
		o.MaxBody = 64 << 10
	}
	if o.RatePerSecond == 0 {
		o.RatePerSecond = 5
	}
	if o.Burst <= 0 {
		o.Burst = 20
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// DefaultStack returns HeadToGet, SecurityHeaders, MaxJSONBody, TraceID and
// the rate limiter, in that order.
func DefaultStack(opts Options) []func(http.Handler) http.Handler {
	opts.defaults()
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		MaxJSONBody(opts.MaxBody),
		Trace(opts.Logger),
	}
	if opts.RatePerSecond > 0 {
		rl := NewRateLimiter(opts.RatePerSecond, opts.Burst, opts.Exempt...)
		rl.logger = opts.Logger
		if opts.Done != nil {
			rl.StartGC(opts.Done, time.Minute, 10*time.Minute)
		}
		stack = append(stack, rl.Middleware)
	}
	return stack
}

// HeadToGet lets GET routes answer HEAD; net/http drops the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r = r.Clone(r.Context())
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}
