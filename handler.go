package keyquota

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nhalm/canonlog"

	"github.com/nhalm/keyquota/metrics"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type requestIDContextKey struct{}

// HandlerOption configures the Handler middleware.
type HandlerOption func(*config)

type config struct {
	canonlog       bool
	canonlogFields func(*http.Request) map[string]any
	metrics        *metrics.Metrics
}

// WithCanonlog enables canonical logging for requests.
// Logs method, path, route, status, duration_ms and request_id once per
// request, plus the API key when one was authenticated.
func WithCanonlog() HandlerOption {
	return func(c *config) {
		c.canonlog = true
	}
}

// WithCanonlogFields adds custom fields to each log entry.
// Called at request start, before the handler executes.
func WithCanonlogFields(fn func(*http.Request) map[string]any) HandlerOption {
	return func(c *config) {
		c.canonlogFields = fn
	}
}

// WithMetrics records request count and latency per route.
func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(c *config) {
		c.metrics = m
	}
}

// RequestIDFromContext returns the id assigned by Handler.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}

// Handler returns middleware that manages response state and writes responses.
// It assigns every request an id, taken from X-Request-ID when the client
// sent one, and echoes it back.
func Handler(opts ...HandlerOption) func(http.Handler) http.Handler {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			state := &State{}

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			ctx := context.WithValue(r.Context(), stateKey, state)
			ctx = context.WithValue(ctx, requestIDContextKey{}, requestID)

			if cfg.canonlog {
				ctx = canonlog.NewContext(ctx)
				canonlog.InfoAddMany(ctx, map[string]any{
					"method":     r.Method,
					"path":       r.URL.Path,
					"request_id": requestID,
				})
				if cfg.canonlogFields != nil {
					canonlog.InfoAddMany(ctx, cfg.canonlogFields(r))
				}
			}

			r = r.WithContext(ctx)

			defer func() {
				if rec := recover(); rec != nil {
					state.mu.Lock()
					state.err = ErrInternal
					state.cause = fmt.Errorf("panic: %v", rec)
					state.mu.Unlock()
				}

				status := state.statusOf()
				duration := time.Since(start)
				route := routePattern(r)

				if cfg.canonlog {
					state.mu.Lock()
					if state.cause != nil {
						canonlog.ErrorAdd(ctx, state.cause)
					} else if state.err != nil {
						canonlog.ErrorAdd(ctx, state.err)
					}
					state.mu.Unlock()

					if key, ok := APIKeyFromContext(ctx); ok {
						canonlog.InfoAdd(ctx, "api_key", key)
					}
					canonlog.InfoAddMany(ctx, map[string]any{
						"route":       route,
						"status":      status,
						"duration_ms": duration.Milliseconds(),
					})
					canonlog.Flush(ctx)
				}

				cfg.metrics.ObserveRequest(r.Method, route, status, duration)
				writeResponse(w, state)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func writeResponse(w http.ResponseWriter, state *State) {
	state.mu.Lock()
	defer state.mu.Unlock()

	for key, values := range state.headers {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}

	if state.err != nil {
		writeJSON(w, state.err.Status, errorResponse{Error: state.err})
		return
	}

	if state.body != nil {
		status := state.status
		if status == 0 {
			status = http.StatusOK
		}
		writeJSON(w, status, state.body)
		return
	}

	if state.status != 0 {
		w.WriteHeader(state.status)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal server error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
