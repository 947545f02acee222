package config

import (
	"fmt"

	"github.com/marmos91/netclass/pkg/transport"
	"github.com/marmos91/netclass/pkg/transport/memory"
	"github.com/marmos91/netclass/pkg/transport/tcp"
	"github.com/mitchellh/mapstructure"
)

// CreateTransport creates a transport based on configuration.
//
// This factory function uses the Type field to determine which transport
// implementation to create, then decodes the type-specific configuration
// from the corresponding map and passes it to the transport's constructor.
//
// Supported types:
//   - "tcp": Uses pkg/transport/tcp (record-marked XDR frames over TCP)
//   - "memory": Uses pkg/transport/memory (in-process, for tests and embedding)
//
// Parameters:
//   - cfg: Transport configuration
//
// Returns:
//   - transport.Transport: A stopped transport, ready for Session.Start
//   - error: Configuration error
func CreateTransport(cfg *TransportConfig) (transport.Transport, error) {
	switch cfg.Type {
	case "tcp":
		return createTCPTransport(cfg.TCP)
	case "memory":
		return createMemoryTransport(cfg.Memory)
	default:
		return nil, fmt.Errorf("unknown transport type: %q", cfg.Type)
	}
}

// createTCPTransport decodes a tcp.Config and builds the transport.
func createTCPTransport(options map[string]any) (transport.Transport, error) {
	var tcpCfg tcp.Config
	if err := decodeOptions(options, &tcpCfg); err != nil {
		return nil, fmt.Errorf("failed to decode tcp transport config: %w", err)
	}

	// Reject values tcp.New would panic on
	if err := validate.Struct(&tcpCfg); err != nil {
		return nil, fmt.Errorf("tcp transport: %w", formatValidationError(err))
	}

	return tcp.New(tcpCfg), nil
}

// createMemoryTransport builds the in-process transport. It takes no options.
func createMemoryTransport(options map[string]any) (transport.Transport, error) {
	var memCfg struct{}
	if err := decodeOptions(options, &memCfg); err != nil {
		return nil, fmt.Errorf("failed to decode memory transport config: %w", err)
	}

	return memory.New(), nil
}

// decodeOptions decodes a raw config section into out. Durations may be
// given as strings ("30s"), and unknown keys are an error.
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(options)
}
