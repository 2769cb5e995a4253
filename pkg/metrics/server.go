package metrics

import (
	"context"
	"net/http"
	"time"
)

// Server exposes /metrics, /health, /healthz and /readyz for a listener.
type Server struct {
	mux    *http.ServeMux
	health *HealthCheck
}

// ServerConfig selects what the server exposes.
type ServerConfig struct {
	Collector        *Collector // defaults to Global()
	Version          string
	Namespace        string // Prometheus prefix, defaults to "pqlink"
	EnablePrometheus bool
	EnableHealth     bool
}

// NewServer builds the observability mux.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Collector == nil {
		cfg.Collector = Global()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "pqlink"
	}

	s := &Server{mux: http.NewServeMux()}
	if cfg.EnablePrometheus {
		s.mux.Handle("GET /metrics", NewPrometheusExporter(cfg.Collector, cfg.Namespace).Handler())
	}
	if cfg.EnableHealth {
		s.health = NewHealthCheck(cfg.Collector, cfg.Version)
		s.mux.Handle("GET /health", s.health.Handler())
		s.mux.Handle("GET /healthz", s.health.LivenessHandler())
		s.mux.Handle("GET /readyz", s.health.ReadinessHandler())
	}
	return s
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.mux }

// AddHealthCheck registers a check; it is a no-op when health is disabled.
func (s *Server) AddHealthCheck(name string, check CheckFunc) {
	if s.health != nil {
		s.health.AddCheck(name, check)
	}
}

// Serve listens on addr until ctx is cancelled, then shuts down within five
// seconds. It returns http.ErrServerClosed only if closed another way.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
