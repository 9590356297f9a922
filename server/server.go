// Package server exposes a coordinator.Coordinator as an HTTP admin API.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ocm.software/open-component-model/contribution/coordinator"
)

const (
	// MaxBodySize limits the size of request bodies carrying contributions.
	MaxBodySize = 16 << 20
	// StatusConcurrency bounds the parallel installed lookups of a list request.
	StatusConcurrency = 8

	maxGoroutines = 10000
)

// Server serves the admin API. It implements http.Handler.
type Server struct {
	coordinator *coordinator.Coordinator
	router      chi.Router
	logger      *slog.Logger
	gatherer    prometheus.Gatherer
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGatherer sets the source of the /metrics endpoint. Defaults to prometheus.DefaultGatherer.
func WithGatherer(gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = gatherer
	}
}

func New(c *coordinator.Coordinator, opts ...Option) *Server {
	s := &Server{
		coordinator: c,
		logger:      slog.Default(),
		gatherer:    prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	health.AddReadinessCheck("storage", func() error {
		if !s.coordinator.Ready() {
			return coordinator.ErrNotInitialized
		}
		return nil
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, s.logRequests)

	r.Get("/live", health.LiveEndpoint)
	r.Get("/ready", health.ReadyEndpoint)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Post("/start", s.start)
	r.Post("/stop", s.stop)

	r.Route("/contributions", func(r chi.Router) {
		r.Get("/", s.list)
		r.Post("/", s.add)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", s.get)
			r.Put("/", s.update)
			r.Delete("/", s.remove)
			r.Post("/install", s.install)
			r.Post("/uninstall", s.uninstall)
		})
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.DebugContext(r.Context(), "request served",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}
