package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/docuchat/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/docuchat/internal/api/middlewares"
	"github.com/markdave123-py/docuchat/internal/config"
	"github.com/markdave123-py/docuchat/internal/core/ratelimit"
	"github.com/markdave123-py/docuchat/internal/logger"
	"github.com/markdave123-py/docuchat/internal/metrics"
)

// Routes holds everything the router dispatches to.
type Routes struct {
	Auth      *appMiddleware.Authenticator
	Limiter   ratelimit.Limiter
	IPLimiter ratelimit.Limiter
	Metrics   *metrics.Metrics
	Documents *handlers.DocumentHandler
	Chat      *handlers.ChatHandler
	Usage     *handlers.UsageHandler
	Health    *handlers.HealthHandler
}

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, rt Routes) *Server {
	if rt.IPLimiter == nil {
		rt.IPLimiter = ratelimit.Unlimited{}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appMiddleware.RequestLogger)
	r.Use(appMiddleware.RequestMetrics(rt.Metrics))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.FrontendOrigin},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", cfg.TenantHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", rt.Health.Health)
	if rt.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.Metrics.Handler())
	}

	// the socket authenticates itself so failures can be reported as close codes
	r.With(appMiddleware.RateLimitByIP(rt.IPLimiter)).Get("/ws/chat", rt.Chat.Stream)

	// API routes
	r.Route("/api", func(api chi.Router) {
		api.Use(appMiddleware.RateLimitByIP(rt.IPLimiter))
		api.Use(rt.Auth.Middleware)
		api.Use(appMiddleware.RateLimit(rt.Limiter))
		api.Use(middleware.Timeout(5 * time.Minute))

		api.Post("/documents", rt.Documents.UploadDocument)
		api.Get("/documents", rt.Documents.GetDocuments)
		api.Get("/documents/{id}", rt.Documents.GetDocument)
		api.Delete("/documents/{id}", rt.Documents.DeleteDocument)

		api.Get("/usage", rt.Usage.GetUsage)

		api.Get("/chat/sessions", rt.Chat.ListSessions)
		api.Get("/chat/sessions/{id}/messages", rt.Chat.SessionMessages)
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{httpServer: httpSrv}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	logger.New("server").Infof("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.New("server").Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
