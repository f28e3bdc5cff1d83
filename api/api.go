// Package api exposes the quota client over HTTP.
//
// Admin routes (plans, keys, usage, stats) require the configured bearer
// token; /v1/verify authenticates with an API key and is metered against the
// key's plan.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nhalm/keyquota"
	"github.com/nhalm/keyquota/metrics"
	"github.com/nhalm/keyquota/quota"
)

// DefaultMaxBodyBytes bounds request bodies when Config.MaxBodyBytes is zero.
const DefaultMaxBodyBytes = 1 << 20

// Config holds the router dependencies.
type Config struct {
	Client *quota.Client

	// AdminToken guards the admin routes. They are not mounted when empty.
	AdminToken string

	// APIKeyHeader is read by /v1/verify. Defaults to X-API-Key.
	APIKeyHeader string

	MaxBodyBytes int64

	// Metrics records request metrics when set.
	Metrics *metrics.Metrics

	// Gatherer, when set, is served on /metrics.
	Gatherer prometheus.Gatherer
}

type server struct {
	qc *quota.Client
}

// NewRouter returns the HTTP handler of the service.
func NewRouter(cfg Config) http.Handler {
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = keyquota.DefaultAPIKeyHeader
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s := &server{qc: cfg.Client}

	r := chi.NewRouter()
	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(cfg.Gatherer))
	}

	r.Group(func(r chi.Router) {
		r.Use(keyquota.Handler(keyquota.WithCanonlog(), keyquota.WithMetrics(cfg.Metrics)))
		r.Use(keyquota.MaxBodySize(cfg.MaxBodyBytes))

		r.NotFound(notFound)
		r.MethodNotAllowed(methodNotAllowed)

		r.Get("/healthz", s.health)

		r.With(
			keyquota.APIKey(keyquota.RegistryValidator(s.qc.Keys), keyquota.WithAPIKeyHeader(cfg.APIKeyHeader)),
			keyquota.Quota(s.qc.Usage),
		).Get("/v1/verify", s.verify)

		if cfg.AdminToken == "" {
			return
		}
		r.Route("/v1", func(r chi.Router) {
			// nested routers inherit these when mounted
			r.NotFound(notFound)
			r.MethodNotAllowed(methodNotAllowed)
			r.Use(keyquota.BearerToken(keyquota.StaticToken(cfg.AdminToken)))

			r.Route("/plans", func(r chi.Router) {
				r.Post("/", s.createPlan)
				r.Get("/", s.listPlans)
				r.Get("/{id}", s.getPlan)
				r.Patch("/{id}", s.updatePlan)
				r.Delete("/{id}", s.deletePlan)
			})

			r.Route("/keys", func(r chi.Router) {
				r.Post("/", s.createKey)
				r.Get("/", s.listKeys)
				r.Get("/{value}", s.getKey)
				r.Patch("/{value}", s.updateKey)
				r.Delete("/{value}", s.deleteKey)
			})

			r.Get("/usage/{value}", s.getUsage)
			r.Post("/usage/{value}/increment", s.incrementUsage)
			r.Get("/stats/{value}", s.getStats)
		})
	})

	return r
}

func notFound(_ http.ResponseWriter, r *http.Request) {
	keyquota.SetError(r, keyquota.ErrNotFound)
}

func methodNotAllowed(_ http.ResponseWriter, r *http.Request) {
	keyquota.SetError(r, keyquota.ErrMethodNotAllowed)
}

func (s *server) health(_ http.ResponseWriter, r *http.Request) {
	if err := s.qc.Ping(r.Context()); err != nil {
		keyquota.Fail(r, err)
		return
	}
	keyquota.SetResponse(r, http.StatusOK, map[string]string{"status": "ok"})
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}
