package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTransport_TCP(t *testing.T) {
	tr, err := CreateTransport(&TransportConfig{
		Type: "tcp",
		TCP: map[string]any{
			"read_timeout":      "2s",
			"handshake_timeout": "500ms",
			"max_frame_size":    4096,
			"rate_limit": map[string]any{
				"requests_per_second": 50,
				"burst":               "100",
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "tcp", tr.Protocol())
	assert.Zero(t, tr.Port(), "transport must be created stopped")
}

func TestCreateTransport_TCPDefaults(t *testing.T) {
	tr, err := CreateTransport(&TransportConfig{Type: "tcp"})
	require.NoError(t, err)
	assert.Equal(t, "tcp", tr.Protocol())
}

func TestCreateTransport_TCPInvalid(t *testing.T) {
	tests := []struct {
		name    string
		options map[string]any
	}{
		{"unknown key", map[string]any{"read_timout": "2s"}},
		{"bad duration", map[string]any{"read_timeout": "soon"}},
		{"negative duration", map[string]any{"idle_timeout": "-1s"}},
		{"frame size over record limit", map[string]any{"max_frame_size": 3000000000}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CreateTransport(&TransportConfig{Type: "tcp", TCP: tt.options})
			assert.Error(t, err)
		})
	}
}

func TestCreateTransport_Memory(t *testing.T) {
	tr, err := CreateTransport(&TransportConfig{Type: "memory"})
	require.NoError(t, err)
	assert.Equal(t, "memory", tr.Protocol())

	_, err = CreateTransport(&TransportConfig{
		Type:   "memory",
		Memory: map[string]any{"buffer": 10},
	})
	assert.Error(t, err, "memory transport takes no options")
}

func TestCreateTransport_UnknownType(t *testing.T) {
	_, err := CreateTransport(&TransportConfig{Type: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestInitializeMetrics_Disabled(t *testing.T) {
	cfg := GetDefaultConfig()

	result := InitializeMetrics(cfg)
	require.NotNil(t, result)
	assert.Nil(t, result.Server)
	require.NotNil(t, result.SessionMetrics)

	// No-op metrics accept calls without a registry
	result.SessionMetrics.RecordConnectionAccepted()
	result.SessionMetrics.SetOwnedObjects(3)
}
