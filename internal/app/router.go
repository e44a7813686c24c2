package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	authzhttp "github.com/nimbus-iam/nimbus-iam/internal/authz/http"
	"github.com/nimbus-iam/nimbus-iam/internal/identity"
	"github.com/nimbus-iam/nimbus-iam/internal/observability"
)

// RouterConfig collects everything the HTTP surface needs.
type RouterConfig struct {
	Middleware MiddlewareConfig
	Identity   *identity.Middleware
	AuthzAPI   *authzhttp.Handler
	Metrics    *observability.Metrics
}

// NewRouter assembles the chi router.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(cfg.Middleware) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Identity != nil {
			r.Use(cfg.Identity.Handler)
		}
		if cfg.AuthzAPI != nil {
			cfg.AuthzAPI.MountRoutes(r)
		}
	})
	return r
}
