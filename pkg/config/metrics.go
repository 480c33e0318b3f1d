package config

import (
	"github.com/marmos91/dittoldap/pkg/metrics"
)

// MetricsResult bundles the collectors handed to the directory, the sorter
// and sessions. Collectors are never nil.
type MetricsResult struct {
	// Server is nil when metrics are disabled
	Server *metrics.Server

	Session metrics.SessionMetrics
	Sort    metrics.SortMetrics

	// Directory is relabelled per partition with WithStoreType
	Directory metrics.DirectoryMetrics
}

// InitializeMetrics returns Prometheus-backed collectors and an HTTP server
// when server.metrics.enabled is set, and no-op collectors otherwise.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			Session:   metrics.NewNoopSessionMetrics(),
			Sort:      metrics.NewNoopSortMetrics(),
			Directory: metrics.NewNoopDirectoryMetrics(),
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{
			Port: cfg.Server.Metrics.Port,
			Path: cfg.Server.Metrics.Path,
		}),
		Session:   metrics.NewSessionMetrics(),
		Sort:      metrics.NewSortMetrics(),
		Directory: metrics.NewDirectoryMetrics(""),
	}
}
