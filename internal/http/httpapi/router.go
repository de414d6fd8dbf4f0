package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"verifai/internal/http/handlers"
	"verifai/internal/middleware"
	"verifai/internal/ratelimit"
)

// Options carries the router's auth and throttling settings.
type Options struct {
	SharedSecret    string
	Limiter         ratelimit.Limiter
	RateLimitPerMin int
	Logger          zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP, middleware.RequestID, chimw.Recoverer, middleware.Logger(opts.Logger))

	// Health
	r.Get("/health", app.Health)
	r.Get("/v1/healthz", app.Health)

	r.With(
		middleware.RateLimit(opts.Limiter, opts.RateLimitPerMin, time.Minute, opts.Logger),
		middleware.BearerAuth(opts.SharedSecret),
	).Post("/analyze", app.Analyze)

	return r
}
