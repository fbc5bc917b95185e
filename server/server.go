package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/careline/admission/api"
	"github.com/careline/admission/core"
	"github.com/careline/admission/metrics"
	ratelimit "github.com/careline/admission/middleware"
	"github.com/careline/admission/pkg/admission"
)

// Options configures the HTTP server
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Logger       *zap.Logger
	UserID       admission.UserIDFunc
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	svc    *admission.Service
	logger *zap.Logger
	opts   Options
}

// New creates a new HTTP server instance. m may be nil.
//
// Callers are keyed by the proxy headers admission.ClientAddress reads. A
// request that carries none of them is keyed by its TCP peer address, so
// direct clients do not share the "unknown" bucket. Behind a proxy that does
// not strip client-sent X-Forwarded-For, callers can choose their own key.
func New(svc *admission.Service, m *metrics.Metrics, opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.UserID == nil {
		opts.UserID = admission.Anonymous
	}

	r := chi.NewRouter()
	r.Use(peerAddress)
	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)

	s := &Server{
		router: r,
		svc:    svc,
		logger: opts.Logger,
		opts:   opts,
	}
	if err := s.registerRoutes(m); err != nil {
		return nil, err
	}
	return s, nil
}

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes(m *metrics.Metrics) error {
	// Management reads and resets are themselves rate limited
	readLimit, err := ratelimit.NewRateLimiter(s.svc, ratelimit.Config{
		Policy:    core.PolicyAPI,
		UserID:    s.opts.UserID,
		Namespace: true,
		Logger:    s.logger,
	})
	if err != nil {
		return err
	}
	resetLimit, err := ratelimit.NewRateLimiter(s.svc, ratelimit.Config{
		Policy:    core.PolicyStrict,
		UserID:    s.opts.UserID,
		Namespace: true,
		Logger:    s.logger,
	})
	if err != nil {
		return err
	}

	var provider api.MetricsProvider
	if m != nil {
		provider = m
	}
	h := api.NewHandler(s.svc, provider)

	s.router.Get("/health", s.healthHandler)
	s.router.Get("/dashboard", dashboardHandler)

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/check", h.CheckRateLimit)
		r.With(resetLimit.Middleware).Delete("/limits/{identifier}", h.ResetLimit)
		r.Group(func(r chi.Router) {
			r.Use(readLimit.Middleware)
			r.Get("/policies", h.ListPolicies)
			r.Get("/stats", h.Stats)
		})
	})
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	stats := s.svc.Stats(r.Context())

	status := "healthy"
	if stats.UsingRedis && !stats.RedisHealthy {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"service": "admission",
		"backend": stats,
	})
}

// peerAddress sets X-Real-IP from the connection when no proxy header names the client
func peerAddress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if admission.ClientAddress(r) == admission.UnknownClient && r.RemoteAddr != "" {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			r.Header.Set("X-Real-IP", host)
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request with its correlation ID
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Debug("request",
				zap.String("request_id", GetRequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

// Start starts the HTTP server. It returns nil after a graceful Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("Starting HTTP server", zap.String("addr", s.opts.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing
func (s *Server) Handler() http.Handler {
	return s.router
}
