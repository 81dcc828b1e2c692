package routes

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Dosada05/bracket-engine/handlers"
	"github.com/Dosada05/bracket-engine/metrics"
	"github.com/Dosada05/bracket-engine/middleware"
)

type Handlers struct {
	Health     *handlers.HealthHandler
	Tournament *handlers.TournamentHandler
	Bracket    *handlers.BracketHandler
}

type Options struct {
	AllowedOrigins []string
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
}

func SetupRoutes(router chi.Router, h Handlers, opts Options) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.RequestLogger(opts.Logger))
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	router.Use(middleware.Instrument(opts.Metrics))
	router.Use(chiMiddleware.Timeout(30 * time.Second))

	router.Get("/healthz", h.Health.Healthz)
	router.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())

	router.Route("/tournaments", func(r chi.Router) {
		r.Post("/", h.Tournament.CreateHandler)

		r.Route("/{tournamentID}", func(r chi.Router) {
			r.Get("/", h.Tournament.GetByIDHandler)
			r.Post("/registrations", h.Tournament.RegisterHandler)
			r.Get("/registrations", h.Tournament.ListRegistrationsHandler)

			r.Post("/bracket", h.Bracket.BuildHandler)
			r.Get("/bracket", h.Bracket.GetHandler)
			r.Post("/matches/{matchID}/complete", h.Bracket.CompleteMatchHandler)
			r.Post("/reconcile", h.Bracket.ReconcileHandler)
		})
	})
}
