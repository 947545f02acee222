package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete netclass server configuration.
//
// This structure captures all configurable aspects of the server:
//   - Logging configuration
//   - Session settings (port, capacity, password, ownership policy, tick rate)
//   - Transport selection and configuration (transport-specific)
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (NETCLASS_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Transport Configuration Pattern:
// Each transport defines its own configuration type. The Config struct keeps
// type-specific sections (transport.tcp, transport.memory) as raw maps and
// only the section matching the selected type is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains session-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Transport specifies the transport type and type-specific configuration
	Transport TransportConfig `mapstructure:"transport"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path (rotated)
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains the session settings.
type ServerConfig struct {
	// Port is the listening port
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// MaxClients caps concurrently connected clients
	MaxClients int `mapstructure:"max_clients" validate:"gt=0,lte=65535"`

	// Password, when non-empty, must be presented by every client
	Password string `mapstructure:"password"`

	// AllowNonHostOwnership lets clients other than the host create
	// objects. nil means the default (true).
	AllowNonHostOwnership *bool `mapstructure:"allow_non_host_ownership"`

	// TickRate is the number of session ticks per second
	TickRate int `mapstructure:"tick_rate" validate:"gt=0,lte=1000"`

	// RestartOnHostDisconnect restarts the session with the same
	// parameters after the host leaves. nil means the default (true).
	RestartOnHostDisconnect *bool `mapstructure:"restart_on_host_disconnect"`

	// MetricsLogInterval periodically logs a session summary. 0 disables it.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0"`

	// ShutdownTimeout bounds the graceful stop of auxiliary servers
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// AllowsNonHostOwnership resolves the optional policy flag.
func (s ServerConfig) AllowsNonHostOwnership() bool {
	return s.AllowNonHostOwnership == nil || *s.AllowNonHostOwnership
}

// RestartsOnHostDisconnect resolves the optional restart flag.
func (s ServerConfig) RestartsOnHostDisconnect() bool {
	return s.RestartOnHostDisconnect == nil || *s.RestartOnHostDisconnect
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the HTTP endpoint
	Enabled bool `mapstructure:"enabled"`

	// Port of the metrics HTTP server
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

// TransportConfig specifies the transport configuration.
//
// The Type field determines which implementation is used.
// Only the corresponding type-specific section is used.
type TransportConfig struct {
	// Type specifies which transport implementation to use
	// Valid values: tcp, memory
	Type string `mapstructure:"type" validate:"required,oneof=tcp memory"`

	// TCP contains TCP-specific configuration
	// Only used when Type = "tcp"
	TCP map[string]any `mapstructure:"tcp"`

	// Memory contains in-process transport configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (NETCLASS_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	// Unmarshal into config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Set up environment variable support
	// Environment variables use NETCLASS_ prefix and underscores
	// Example: NETCLASS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("NETCLASS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Configure config file search
	if configPath != "" {
		// Use explicitly specified config file
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/netclass/config.{yaml,toml}
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml") // Primary format
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		// Check if error is "config file not found"
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable - use defaults
			return nil
		}
		// Other errors are problems
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	// Check XDG_CONFIG_HOME
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "netclass")
	}

	// Fall back to ~/.config
	home, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, use current directory as last resort
		return "."
	}

	return filepath.Join(home, ".config", "netclass")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
