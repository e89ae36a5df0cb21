package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/paylabs/reportflow/internal/auth"
	"github.com/paylabs/reportflow/internal/ratelimit"
)

// ToolCounter reports how many remote tools are registered. Satisfied
// by *tool.Registry.
type ToolCounter interface {
	Count() int
}

// Config holds the server's dependencies and settings.
type Config struct {
	Runner     ReportRunner
	Tools      ToolCounter
	JWTManager *auth.JWTManager
	APIKeyHash string
	Limiter    ratelimit.Limiter
	Logger     *slog.Logger

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// Server is the HTTP API server.
type Server struct {
	cfg        Config
	logger     *slog.Logger
	httpServer *http.Server
}

// New creates a Server with all routes and middleware configured.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxRequestBodyBytes <= 0 {
		cfg.MaxRequestBodyBytes = 1 << 20
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.NoopLimiter{}
	}

	s := &Server{cfg: cfg, logger: cfg.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.Handle("POST /auth/token", s.ipLimited(http.HandlerFunc(s.HandleAuthToken)))
	mux.Handle("POST /generate-report", s.agentLimited(http.HandlerFunc(s.HandleGenerateReport)))

	// Middleware chain, outermost first.
	var handler http.Handler = mux
	handler = recoveryMiddleware(s.logger, handler)
	handler = authMiddleware(cfg.JWTManager, handler)
	handler = loggingMiddleware(s.logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// ipLimited rate-limits by client IP. Used on the token endpoint,
// which runs before any identity is established.
func (s *Server) ipLimited(next http.Handler) http.Handler {
	return ratelimit.Middleware(s.cfg.Limiter, ratelimit.IPKeyFunc, func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	})(next)
}

// agentLimited rate-limits by authenticated agent ID, falling back to
// client IP when auth is disabled.
func (s *Server) agentLimited(next http.Handler) http.Handler {
	keyFunc := func(r *http.Request) string {
		if claims := ClaimsFromContext(r.Context()); claims != nil {
			return "agent:" + claims.AgentID
		}
		return ratelimit.IPKeyFunc(r)
	}
	return ratelimit.Middleware(s.cfg.Limiter, keyFunc, func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	})(next)
}

// securityHeadersMiddleware sets standard security headers on every
// response.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// Handler exposes the fully wired handler chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, draining in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
