package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"gengate/internal/http/handlers"
	"gengate/internal/infra"
	"gengate/internal/middleware"
	"gengate/internal/telemetry"
)

func NewRouter(app *handlers.App, cfg *infra.Config, logger infra.Logger) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(cfg.CORSOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/engine/status", app.EngineStatus)
	r.Get("/v1/workflows", app.Workflows)
	r.Get("/v1/feed", app.FeedPage)

	r.Route("/v1/jobs", func(r chi.Router) {
		if cfg.RateLimitPerMin > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))
		}
		r.Post("/video", app.VideoJobSubmit)
		r.Post("/image", app.ImageJobSubmit)
		r.Get("/{kind}/{execution_id}", app.JobStatus)
		r.Post("/{kind}/{execution_id}/retry", app.JobRetry)
	})

	r.Handle("/metrics", telemetry.Handler())

	return r
}
