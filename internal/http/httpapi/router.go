package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Driserq/Convergence-sub001/internal/http/handlers"
	"github.com/Driserq/Convergence-sub001/internal/middleware"
)

type RouterOptions struct {
	Auth    middleware.AuthOptions
	Limiter middleware.Limiter
	Logger  zerolog.Logger

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
	)

	r.Get("/v1/healthz", app.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/v1/blueprints", func(r chi.Router) {
		r.Use(middleware.Auth(opts.Auth))
		if opts.Limiter != nil {
			r.Use(middleware.RateLimit(opts.Limiter))
		}
		r.Post("/", app.BlueprintsCreate)
		r.Get("/{id}", app.BlueprintsGet)
		r.Post("/{id}/retry", app.BlueprintsRetry)
	})

	return r
}
