package main

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/unrolled/secure"
	"golang.org/x/time/rate"

	"github.com/example/oauthapp/internal/clock"
)

type ctxKey int

const requestIDKey ctxKey = iota

// RequestID tags every request with an id, reusing X-Request-ID when the
// caller supplies one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func (a *App) requestLog(r *http.Request) logrus.FieldLogger {
	return a.log.WithFields(logrus.Fields{
		"request_id": requestID(r.Context()),
		"method":     r.Method,
		"path":       r.URL.Path,
	})
}

// CORS middleware handles CORS headers
func (a *App) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && a.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// originAllowed reports whether origin may call the API. No configured
// origins means any origin.
func (a *App) originAllowed(origin string) bool {
	if len(a.corsOrigins) == 0 {
		return true
	}
	for _, o := range a.corsOrigins {
		if o == origin || o == "*" {
			return true
		}
	}
	return false
}

// limiterIdleTTL is how long an untouched bucket is kept. A bucket refills
// completely within a minute, so dropping it after this is not observable.
const limiterIdleTTL = 3 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key and forgets buckets that have
// been idle for limiterIdleTTL.
type RateLimiter struct {
	limiters  map[string]*limiterEntry
	mu        sync.Mutex
	perMin    int
	clock     clock.Clock
	lastSweep time.Time
}

// NewRateLimiter allows perMinute requests per key per minute with bursts of
// the same size. perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute int, clk clock.Clock) *RateLimiter {
	return &RateLimiter{
		limiters:  make(map[string]*limiterEntry),
		perMin:    perMinute,
		clock:     clk,
		lastSweep: clk.Now(),
	}
}

func (rl *RateLimiter) getLimiter(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= limiterIdleTTL {
		for k, e := range rl.limiters {
			if now.Sub(e.lastSeen) >= limiterIdleTTL {
				delete(rl.limiters, k)
			}
		}
		rl.lastSweep = now
	}

	e, exists := rl.limiters[key]
	if !exists {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rl.perMin)/60, rl.perMin)}
		rl.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// Allow consumes one request for key.
func (rl *RateLimiter) Allow(key string) bool {
	if rl == nil || rl.perMin <= 0 {
		return true
	}
	now := rl.clock.Now()
	return rl.getLimiter(key, now).AllowN(now, 1)
}

// Len returns the number of tracked buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// rateKey keys token requests by the caller's address. The client_id in the
// body is unauthenticated at this point and cannot select a bucket.
func rateKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// Logging middleware logs requests
func (a *App) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		entry := a.requestLog(r).WithFields(logrus.Fields{
			"status":   wrapped.statusCode,
			"duration": time.Since(start),
			"remote":   r.RemoteAddr,
		})
		if wrapped.statusCode >= http.StatusInternalServerError {
			entry.Error("request")
			return
		}
		entry.Info("request")
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// SecurityHeaders returns the security header middleware. HSTS is only sent
// over TLS, and host checks are relaxed outside production.
func SecurityHeaders(production bool) func(http.Handler) http.Handler {
	sm := secure.New(secure.Options{
		STSSeconds:            31536000,
		STSIncludeSubdomains:  true,
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ContentSecurityPolicy: "frame-ancestors 'none'; default-src 'none'",
		ReferrerPolicy:        "no-referrer",
		IsDevelopment:         !production,
	})
	return sm.Handler
}
