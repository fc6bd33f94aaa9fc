package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ferryfs/ferry/internal/logger"
)

// DefaultPort is the default metrics endpoint port.
const DefaultPort = 9205

// Config configures the metrics HTTP endpoint. When Enabled is false no
// collectors are registered and no listener is opened.
type Config struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
	Port    int    `mapstructure:"port"    validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Pinger reports backing-store health for the /healthz endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes /metrics and /healthz over HTTP.
type Server struct {
	config   Config
	registry *prometheus.Registry
	metrics  ServerMetrics
	pinger   Pinger
}

// NewServer builds a metrics server with its own registry, including the
// standard Go runtime and process collectors. A nil pinger makes
// /healthz unconditionally healthy.
func NewServer(config Config, pinger Pinger) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Server{
		config:   config,
		registry: registry,
		metrics:  NewServerMetrics(registry),
		pinger:   pinger,
	}
}

// Metrics returns the recording handle for the protocol server.
func (s *Server) Metrics() ServerMetrics {
	return s.metrics
}

// Serve runs the HTTP endpoint until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	router.Get("/healthz", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			http.Error(w, "metadata store unreachable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
