// HeatLink - Multi-Source News Aggregation Engine
// Copyright 2026 losesky
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/losesky/heatlink

package api

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/losesky/heatlink/internal/logging"
	"github.com/losesky/heatlink/internal/metrics"
)

// MiddlewareConfig holds the HTTP middleware knobs: CORS policy and
// the global rate limit.
type MiddlewareConfig struct {
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
	CORSMaxAge           int

	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// DefaultMiddlewareConfig returns a permissive development policy.
func DefaultMiddlewareConfig() *MiddlewareConfig {
	return &MiddlewareConfig{
		CORSAllowedOrigins: []string{"*"},
		CORSAllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		CORSAllowedHeaders: []string{"Content-Type", "Authorization"},
		CORSMaxAge:         86400,
		RateLimitRequests:  100,
		RateLimitWindow:    time.Minute,
	}
}

// Middleware bundles the chi middleware chain used by the router.
type Middleware struct {
	config *MiddlewareConfig
}

// NewMiddleware creates the middleware bundle, filling defaults for
// any zero-valued config fields.
func NewMiddleware(config *MiddlewareConfig) *Middleware {
	def := DefaultMiddlewareConfig()
	if config == nil {
		config = def
	}
	if len(config.CORSAllowedOrigins) == 0 {
		config.CORSAllowedOrigins = def.CORSAllowedOrigins
	}
	if len(config.CORSAllowedMethods) == 0 {
		config.CORSAllowedMethods = def.CORSAllowedMethods
	}
	if len(config.CORSAllowedHeaders) == 0 {
		config.CORSAllowedHeaders = def.CORSAllowedHeaders
	}
	if config.CORSMaxAge == 0 {
		config.CORSMaxAge = def.CORSMaxAge
	}
	if config.RateLimitWindow == 0 {
		config.RateLimitWindow = def.RateLimitWindow
	}
	return &Middleware{config: config}
}

// CORS returns the CORS middleware built from the configured policy.
func (m *Middleware) CORS() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   m.config.CORSAllowedOrigins,
		AllowedMethods:   m.config.CORSAllowedMethods,
		AllowedHeaders:   m.config.CORSAllowedHeaders,
		AllowCredentials: m.config.CORSAllowCredentials,
		MaxAge:           m.config.CORSMaxAge,
	})
}

// RateLimit returns an IP-keyed global rate limiter. A request budget
// of zero disables limiting.
func (m *Middleware) RateLimit() func(http.Handler) http.Handler {
	if m.config.RateLimitRequests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		m.config.RateLimitRequests,
		m.config.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
	)
}

// RequestID attaches chi's request ID to both the chi context and the
// logging context so every log line of a request carries it.
func (m *Middleware) RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		inner := chimiddleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := chimiddleware.GetReqID(r.Context())
			if id == "" {
				id = logging.GenerateRequestID()
			}
			ctx := logging.ContextWithRequestID(r.Context(), id)
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(ctx))
		}))
		return inner
	}
}

// RequestLogger emits one structured log line per request and feeds
// the Prometheus request metrics.
func (m *Middleware) RequestLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			metrics.TrackActiveRequest(true)
			defer metrics.TrackActiveRequest(false)

			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			elapsed := time.Since(start)
			metrics.RecordAPIRequest(r.Method, routePattern(r), ww.Status(), elapsed)

			logger := logging.Ctx(r.Context())
			evt := logger.Info()
			if ww.Status() >= http.StatusInternalServerError {
				evt = logger.Error()
			}
			evt.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", elapsed).
				Str("remote_addr", r.RemoteAddr).
				Msg("request")
		})
	}
}

// Recoverer converts handler panics into 500 responses instead of
// killing the connection.
func (m *Middleware) Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger := logging.Ctx(r.Context())
					logger.Error().
						Interface("panic", rec).
						Str("path", r.URL.Path).
						Bytes("stack", debug.Stack()).
						Msg("handler panic")
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"status":"error","error":{"code":"` + codeInternal + `","message":"internal server error"}}`))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// routePattern resolves the chi route template ("/api/sources/{id}")
// so metric cardinality stays bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
