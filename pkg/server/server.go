// Package server runs the background services of a DittoLDAP process around
// a shared directory and shuts everything down in order.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/dittoldap/internal/logger"
	"github.com/marmos91/dittoldap/pkg/gc"
	"github.com/marmos91/dittoldap/pkg/metrics"
)

// Service is a long-running component started by the server.
type Service interface {
	// Name identifies the service in logs and errors
	Name() string

	// Serve runs until ctx is cancelled or the service fails
	Serve(ctx context.Context) error

	// Stop asks a running service to stop
	Stop(ctx context.Context) error
}

// ErrAlreadyServed is returned when Serve is called a second time.
var ErrAlreadyServed = errors.New("server: Serve already called")

// DittoServer manages the lifecycle of the services sharing one directory.
//
// Lifecycle:
//  1. Creation: New() with the directory to close on shutdown
//  2. Registration: AddService() for each background service
//  3. Startup: Serve() starts all services concurrently
//  4. Shutdown: Context cancellation (or a failing service) stops the
//     services in reverse registration order, then closes the directory
//
// Thread safety:
// DittoServer is safe for concurrent use. Serve() runs at most once.
//
// Example usage:
//
//	srv := server.New(dir.Nexus, cfg.Server.ShutdownTimeout)
//	srv.AddService(server.MetricsService(m.Server))
//	srv.AddService(server.CollectorService(collector))
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil && err != context.Canceled {
//	    log.Fatal(err)
//	}
type DittoServer struct {
	directory       io.Closer
	shutdownTimeout time.Duration

	mu       sync.Mutex
	services []Service
	served   bool
}

// New creates a server that closes directory once every service stopped.
// A zero shutdownTimeout defaults to 30s.
func New(directory io.Closer, shutdownTimeout time.Duration) *DittoServer {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	return &DittoServer{directory: directory, shutdownTimeout: shutdownTimeout}
}

// AddService registers a service. Names must be unique and services can
// only be added before Serve.
func (s *DittoServer) AddService(svc Service) error {
	if svc == nil {
		return errors.New("server: nil service")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.served {
		return fmt.Errorf("server: cannot add %s after Serve", svc.Name())
	}
	for _, existing := range s.services {
		if existing.Name() == svc.Name() {
			return fmt.Errorf("server: service %s already registered", svc.Name())
		}
	}

	s.services = append(s.services, svc)
	logger.Debug("Registered %s service", svc.Name())
	return nil
}

// Services returns the registered services in registration order.
func (s *DittoServer) Services() []Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Service(nil), s.services...)
}

// Serve starts every service and blocks until ctx is cancelled or a service
// fails, then shuts down.
//
// Returns:
//   - ctx.Err() after a requested shutdown
//   - the first service error wrapped with the service name
//   - ErrAlreadyServed on a second call
func (s *DittoServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.served {
		s.mu.Unlock()
		return ErrAlreadyServed
	}
	s.served = true
	services := append([]Service(nil), s.services...)
	s.mu.Unlock()

	logger.Info("Starting DittoLDAP with %d service(s)", len(services))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan serviceError, len(services))
	var wg sync.WaitGroup
	for _, svc := range services {
		wg.Add(1)
		go func(svc Service) {
			defer wg.Done()
			if err := svc.Serve(runCtx); err != nil && !errors.Is(err, context.Canceled) && runCtx.Err() == nil {
				errChan <- serviceError{name: svc.Name(), err: err}
			}
		}(svc)
	}

	var shutdownErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
		shutdownErr = ctx.Err()
	case se := <-errChan:
		logger.Error("%s service failed: %v - shutting down", se.name, se.err)
		shutdownErr = fmt.Errorf("%s service error: %w", se.name, se.err)
	}

	stopCtx, stop := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer stop()

	s.stopAll(stopCtx, services)
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-stopCtx.Done():
		logger.Warn("Services did not stop within %v", s.shutdownTimeout)
	}

	if s.directory != nil {
		if err := s.directory.Close(); err != nil {
			logger.Error("Failed to close directory: %v", err)
		}
	}

	logger.Info("DittoLDAP stopped")
	return shutdownErr
}

type serviceError struct {
	name string
	err  error
}

// stopAll stops services in reverse registration order.
func (s *DittoServer) stopAll(ctx context.Context, services []Service) {
	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		if err := svc.Stop(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Error stopping %s service: %v", svc.Name(), err)
		}
	}
}

// ============================================================================
// Service adapters
// ============================================================================

type metricsService struct{ srv *metrics.Server }

// MetricsService runs the Prometheus HTTP endpoint.
func MetricsService(srv *metrics.Server) Service { return metricsService{srv} }

func (m metricsService) Name() string { return "metrics" }

func (m metricsService) Serve(ctx context.Context) error {
	if err := m.srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (m metricsService) Stop(ctx context.Context) error { return m.srv.Stop(ctx) }

type collectorService struct{ c *gc.Collector }

// CollectorService runs the sort index garbage collector.
func CollectorService(c *gc.Collector) Service { return collectorService{c} }

func (c collectorService) Name() string { return "sort-gc" }

func (c collectorService) Serve(ctx context.Context) error {
	c.c.Start()
	<-ctx.Done()
	return nil
}

func (c collectorService) Stop(ctx context.Context) error { return c.c.Stop(ctx) }
