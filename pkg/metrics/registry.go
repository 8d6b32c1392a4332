// Package metrics owns the Prometheus registry and the metric interfaces'
// constructor plumbing. Domain packages declare their own metric interfaces
// (transfers.TransferMetrics, shares.Metrics); the implementations live in
// pkg/metrics/prometheus and register their constructors here during init,
// which keeps the dependency arrows pointing one way.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seekd/seekd/internal/logger"
)

var (
	registryMu sync.RWMutex
	registry   *prometheus.Registry
)

// InitRegistry creates the process-wide metrics registry with the standard
// Go runtime and process collectors. Until it is called, every metrics
// constructor returns nil and instrumentation is disabled with zero
// overhead.
func InitRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()

	if registry != nil {
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry != nil
}

// GetRegistry returns the process-wide registry, or nil when metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry
}

// ServerConfig configures the metrics HTTP endpoint.
type ServerConfig struct {
	// Enabled turns the metrics endpoint (and registry) on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Address is the listen address. Default: 127.0.0.1:9090.
	Address string `mapstructure:"address" yaml:"address"`

	// Path is the scrape path. Default: /metrics.
	Path string `mapstructure:"path" yaml:"path"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *ServerConfig) ApplyDefaults() {
	if c.Address == "" {
		c.Address = "127.0.0.1:9090"
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
}

// Server serves the registry over HTTP for scraping.
type Server struct {
	httpServer *http.Server
}

// StartServer starts the metrics endpoint on a background goroutine.
// Returns nil when the configuration disables it or the registry was never
// initialized.
func StartServer(config ServerConfig) *Server {
	config.ApplyDefaults()

	reg := GetRegistry()
	if !config.Enabled || reg == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(config.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              config.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics endpoint listening",
			logger.Operation("metrics"),
			logger.Path(config.Path),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint failed", logger.Err(err))
		}
	}()

	return &Server{httpServer: srv}
}

// Shutdown stops the metrics endpoint gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down metrics endpoint: %w", err)
	}
	return nil
}
