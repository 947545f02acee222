// Package metrics provides Prometheus metrics collection for the session server.
//
// All metrics are optional: if the registry is not initialized, components use
// no-op implementations with zero overhead.
//
// Usage:
//
//	// Initialize global registry (typically in main.go)
//	metrics.InitRegistry()
//
//	// Create the Prometheus-backed implementation
//	m := prometheus.NewSessionMetrics()
//	s := session.New(t, session.WithMetrics(m))
//
//	// Or omit the option for no-op behavior
//	s := session.New(t)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Namespace prefixes every metric the server exports.
const Namespace = "netclass"

var (
	// registry is written once by InitRegistry and read by every collector
	// constructor and the /metrics handler.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the process-wide registry.
//
// Besides the session collectors registered later, the registry always
// carries the Go runtime collector and a process collector under
// Namespace (open sockets show up as netclass_process_open_fds). Calling
// it again is a no-op.
//
// If never called, GetRegistry returns nil and collector constructors fall
// back to no-op implementations.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: Namespace}),
		)
		registry = reg
	})
}

// GetRegistry returns the registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
