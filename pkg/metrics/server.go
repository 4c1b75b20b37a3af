package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marmos91/agentfs/internal/logger"
)

// DefaultPort is the port used when ServerConfig.Port is zero.
const DefaultPort = 9090

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Port to listen on. Zero selects DefaultPort.
	Port int
}

// Server serves a Registry over HTTP:
//   - GET /metrics: Prometheus exposition of the registry
//   - GET /stats: the attached engine's counters as JSON
type Server struct {
	registry *Registry
	server   *http.Server
	port     int

	stopOnce sync.Once
}

// NewServer creates a stopped server for reg. Call Start to serve.
func NewServer(reg *Registry, cfg ServerConfig) *Server {
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}

	s := &Server{registry: reg, port: cfg.Port}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg.Prometheus(), promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc("GET /stats", s.serveStats)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) serveStats(w http.ResponseWriter, _ *http.Request) {
	sample, ok := s.registry.Sample()
	if !ok {
		http.Error(w, "no engine attached", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(sample); err != nil {
		logger.Debug("Stats response write failed: %v", err)
	}
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Port returns the configured TCP port.
func (s *Server) Port() int {
	return s.port
}

// Start listens on the configured port and serves until ctx is cancelled,
// then shuts down gracefully. A failure to bind is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("metrics server listen: %w", err)
	}
	logger.Info("Metrics server listening on %s (/metrics, /stats)", ln.Addr())

	served := make(chan error, 1)
	go func() { served <- s.server.Serve(ln) }()

	select {
	case <-ctx.Done():
		// ctx is already done; give in-flight scrapes their own deadline
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down. Later calls are no-ops.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("metrics server shutdown: %w", shutdownErr)
			return
		}
		logger.Info("Metrics server stopped")
	})
	return err
}
