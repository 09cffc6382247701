package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hookline/hookline/internal/config"
	"github.com/hookline/hookline/internal/delivery"
	"github.com/hookline/hookline/internal/metrics"
	"github.com/hookline/hookline/internal/ratelimit"
	"github.com/hookline/hookline/internal/storage"
)

type Server struct {
	cfg     config.ServerConfig
	rlCfg   config.RateLimitConfig
	store   storage.Storage
	engine  *delivery.Engine
	limiter *ratelimit.Limiter
	router  *chi.Mux
	log     zerolog.Logger
	http    *http.Server
}

func NewServer(cfg config.ServerConfig, rlCfg config.RateLimitConfig, store storage.Storage, engine *delivery.Engine, limiter *ratelimit.Limiter, log zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		rlCfg:   rlCfg,
		store:   store,
		engine:  engine,
		limiter: limiter,
		log:     log,
	}
	metrics.Register()
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(s.log))

	// Health and metrics — no auth
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(s.store))
		r.Use(RateLimitMiddleware(s.limiter, s.rlCfg))

		// Webhooks
		r.Post("/webhooks", s.handleCreateWebhook)
		r.Get("/webhooks", s.handleListWebhooks)
		r.Get("/webhooks/{id}", s.handleGetWebhook)
		r.Patch("/webhooks/{id}", s.handleUpdateWebhook)
		r.Delete("/webhooks/{id}", s.handleDeleteWebhook)
		r.Get("/webhooks/{id}/deliveries", s.handleListWebhookDeliveries)
		r.Get("/webhooks/{id}/stats", s.handleWebhookStats)
		r.Post("/webhooks/{id}/test", s.handleTestWebhook)

		// Events
		r.Post("/events", s.handleTriggerEvent)

		// Stats
		r.Get("/stats", s.handleStats)
		r.Get("/ratelimit/status", s.handleRateLimitStatus)
	})

	return r
}

// Router exposes the handler tree, mostly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
