package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	// Run struct tag validation
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	// Custom validation rules that can't be expressed in tags
	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// The metrics endpoint cannot share the session port
	if cfg.Server.Metrics.Enabled && cfg.Server.Metrics.Port != 0 &&
		cfg.Server.Metrics.Port == cfg.Server.Port {
		return fmt.Errorf("server.metrics.port: %d collides with server.port", cfg.Server.Metrics.Port)
	}

	// A summary more frequent than a tick is noise
	if cfg.Server.MetricsLogInterval > 0 && cfg.Server.TickRate > 0 &&
		cfg.Server.MetricsLogInterval < time.Second/time.Duration(cfg.Server.TickRate) {
		return fmt.Errorf("server.metrics_log_interval: %v is shorter than one tick", cfg.Server.MetricsLogInterval)
	}

	// Only one transport section may be meaningful
	switch cfg.Transport.Type {
	case "tcp":
		if len(cfg.Transport.Memory) > 0 {
			return fmt.Errorf("transport.memory: set but transport.type is tcp")
		}
	case "memory":
		if len(cfg.Transport.TCP) > 0 {
			return fmt.Errorf("transport.tcp: set but transport.type is memory")
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
