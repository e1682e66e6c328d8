package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/queuechat/internal/middleware"
	"github.com/capitalize-ai/queuechat/pkg/logger"
)

// Routes collects the handlers and settings the router is built from.
// Images may be nil when no object store is configured.
type Routes struct {
	Health        *HealthHandler
	Conversations *ConversationHandler
	Messages      *MessageHandler
	Stream        *StreamHandler
	Images        *ImageHandler

	JWTSecret         string
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	Logger            *logger.Logger
}

// NewRouter builds the HTTP API.
func NewRouter(rt Routes) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger.OrGlobal(rt.Logger)))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.CORSOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", rt.Health.Health)
	r.Get("/ready", rt.Health.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Image links are fetched by every participant without credentials.
	if rt.Images != nil {
		r.With(middleware.RateLimit(rt.RateLimitRequests, rt.RateLimitWindow)).
			Get("/images/{name}", rt.Images.Get)
	}

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(rt.JWTSecret))
		r.Use(middleware.RecordUser)
		r.Use(middleware.UserRateLimit(rt.RateLimitRequests, rt.RateLimitWindow))

		r.Route("/conversations", func(r chi.Router) {
			r.Post("/", rt.Conversations.Create)
			r.Get("/", rt.Conversations.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", rt.Conversations.Get)
				r.Put("/", rt.Conversations.Update)
				r.Delete("/", rt.Conversations.Delete)

				r.Post("/messages", rt.Messages.Send)
				r.Post("/images", rt.Messages.SendImage)

				r.Get("/stream", rt.Stream.Stream)
			})
		})
	})

	return r
}
