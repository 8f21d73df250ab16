package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-shop/meridian-shop/internal/observability"
	"github.com/meridian-shop/meridian-shop/internal/storefront"
	"github.com/meridian-shop/meridian-shop/internal/webhook"
	"github.com/meridian-shop/meridian-shop/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	StorefrontHandler *storefront.Handler
	WebhookHandler    *webhook.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.StorefrontHandler != nil {
		r.Route("/api/v1", params.StorefrontHandler.MountRoutes)
	}

	if params.WebhookHandler != nil {
		r.Group(func(r chi.Router) {
			if params.Config != nil && params.Config.WebhookPasswordHash != "" {
				r.Use(webhook.BasicAuth(params.Config.WebhookUser, []byte(params.Config.WebhookPasswordHash)))
			}
			r.Route("/webhooks", params.WebhookHandler.MountRoutes)
		})
	}

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
