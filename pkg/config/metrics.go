package config

import (
	"github.com/marmos91/netclass/pkg/metrics"
	promMetrics "github.com/marmos91/netclass/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// SessionMetrics is the collector for the session (never nil, uses noop if disabled)
	SessionMetrics metrics.SessionMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates the Prometheus-backed session metrics
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns a no-op implementation
//
// Prometheus collectors are registered once per process, so the enabled
// path must not run more than once.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			Server:         nil,
			SessionMetrics: metrics.NewNoopSessionMetrics(),
		}
	}

	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Server.Metrics.Port,
	})

	return &MetricsResult{
		Server:         server,
		SessionMetrics: promMetrics.NewSessionMetrics(),
	}
}
