package config

import (
	"strings"
	"time"
)

// Default values for the session settings.
const (
	DefaultPort            = 7777
	DefaultMaxClients      = 16
	DefaultTickRate        = 60
	DefaultMetricsPort     = 9090
	DefaultShutdownTimeout = 30 * time.Second
	DefaultTransport       = "tcp"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Transport-specific defaults are handled by the transport implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyTransportDefaults(&cfg.Transport)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets session defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MaxClients == 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	if cfg.TickRate == 0 {
		cfg.TickRate = DefaultTickRate
	}
	if cfg.AllowNonHostOwnership == nil {
		allow := true
		cfg.AllowNonHostOwnership = &allow
	}
	if cfg.RestartOnHostDisconnect == nil {
		restart := true
		cfg.RestartOnHostDisconnect = &restart
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = DefaultMetricsPort
	}
	// MetricsLogInterval defaults to 0 (disabled)
}

// applyTransportDefaults sets transport defaults.
func applyTransportDefaults(cfg *TransportConfig) {
	if cfg.Type == "" {
		cfg.Type = DefaultTransport
	}
	if cfg.TCP == nil {
		cfg.TCP = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
