package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/dittoldap/internal/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports whether the directory can serve requests.
type HealthCheck func(ctx context.Context) error

// Server exposes the registry over HTTP.
//
// Endpoints:
//   - GET <Path> (default /metrics): Prometheus exposition format
//   - GET /healthz: 200 "ok" or 503 with the health check error
//
// The listener is bound by Start, so a Port of 0 picks a free port
// (see Addr).
type Server struct {
	config ServerConfig
	server *http.Server

	mu       sync.Mutex
	health   HealthCheck
	listener net.Listener

	shutdownOnce sync.Once
}

// ServerConfig configures the metrics HTTP server.
type ServerConfig struct {
	// Port to listen on. Negative means the default (9090), 0 an ephemeral port.
	Port int

	// Path serves the metrics (default /metrics)
	Path string
}

func (c *ServerConfig) applyDefaults() {
	if c.Port < 0 {
		c.Port = 9090
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
}

// NewServer creates a stopped metrics server. When the registry has not been
// initialized the metrics path answers 503.
func NewServer(config ServerConfig) *Server {
	config.applyDefaults()
	s := &Server{config: config}

	mux := http.NewServeMux()
	mux.Handle(config.Path, metricsHandler())
	mux.HandleFunc("/healthz", s.serveHealth)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func metricsHandler() http.Handler {
	reg := GetRegistry()
	if reg == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics collection is disabled", http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry:          reg,
		EnableOpenMetrics: true,
	})
}

// SetHealthCheck installs the check used by /healthz. Without one the
// endpoint always answers ok.
func (s *Server) SetHealthCheck(check HealthCheck) {
	s.mu.Lock()
	s.health = check
	s.mu.Unlock()
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	check := s.health
	s.mu.Unlock()

	if check != nil {
		if err := check(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintln(w, "ok")
}

// Start binds the listener and serves until ctx is cancelled, then shuts
// down gracefully.
//
// Returns:
//   - nil after a graceful shutdown
//   - the listen error when the port cannot be bound
//   - the serve error if the server fails while running
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("metrics server: %w", err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logger.Info("Metrics server listening on %s%s", ln.Addr(), s.config.Path)

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		// ctx is already done; shut down on a fresh deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down. Safe to call more than once and concurrently
// with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("metrics server shutdown: %w", err)
			logger.Error("Metrics server shutdown error: %v", err)
			return
		}
		logger.Info("Metrics server stopped")
	})
	return shutdownErr
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Path returns the metrics path.
func (s *Server) Path() string {
	return s.config.Path
}
