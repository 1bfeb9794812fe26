package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shrenik7/occasion-notifier/internal/engine"
	"github.com/shrenik7/occasion-notifier/internal/jobs"
	"github.com/shrenik7/occasion-notifier/internal/store"
	ws "github.com/shrenik7/occasion-notifier/internal/websocket"
)

// RouterDeps bundles everything the HTTP surface needs.
type RouterDeps struct {
	Store       *store.PostgresStore
	Cache       *store.SubscriberCache
	Rescheduler *jobs.Rescheduler
	Jobs        []jobs.Job
	Breaker     *engine.CircuitBreaker
	Queue       *engine.Queue
	Hub         *ws.Hub
}

// NewRouter creates and configures the HTTP router.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	subHandler := NewSubscriberHandler(deps.Store, deps.Cache, deps.Rescheduler)
	msgHandler := NewMessageHandler(deps.Store)
	jobHandler := NewJobHandler(deps.Jobs, deps.Breaker, deps.Queue, deps.Hub)

	// WebSocket endpoint streaming job-run stats
	r.Get("/ws", deps.Hub.HandleWebSocket)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandler())

		r.Route("/subscribers", func(r chi.Router) {
			r.Post("/", subHandler.Create)
			r.Get("/", subHandler.List)
			r.Get("/{id}", subHandler.Get)
			r.Patch("/{id}", subHandler.Update)
			r.Delete("/{id}", subHandler.Delete)
		})

		r.Route("/messages", func(r chi.Router) {
			r.Get("/", msgHandler.List)
			r.Get("/{id}", msgHandler.Get)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", jobHandler.Status)
			r.Post("/{name}/run", jobHandler.Run)
		})
	})

	return r
}
