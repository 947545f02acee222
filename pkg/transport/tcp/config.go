package tcp

import (
	"fmt"
	"time"

	"github.com/marmos91/netclass/internal/protocol"
	"github.com/marmos91/netclass/internal/ratelimiter"
)

// DefaultSendQueueSize is the per-connection outbound queue length used
// when Config.SendQueueSize is zero.
const DefaultSendQueueSize = 1024

// Config holds the TCP transport settings.
//
// All timeouts are optional: zero values are replaced by New with the
// defaults below.
//
// Default values:
//   - ReadTimeout: 30s
//   - WriteTimeout: 10s
//   - IdleTimeout: 5m
//   - HandshakeTimeout: 10s
//   - ShutdownTimeout: 5s
//   - MaxFrameSize: 1MiB
//   - SendQueueSize: 1024 frames
//   - RateLimit: disabled
type Config struct {
	// ReadTimeout bounds the time to read one frame once its first byte
	// has arrived. A slow sender is disconnected.
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds a single frame write. A client that cannot
	// keep up is disconnected instead of stalling the tick.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`

	// IdleTimeout closes connections that send nothing for this long.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0"`

	// HandshakeTimeout bounds both the arrival of the connect frame and
	// the wait for the session's accept or reject decision.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" validate:"min=0"`

	// ShutdownTimeout is how long Stop waits for connection goroutines
	// after closing their sockets.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// MaxFrameSize bounds one reassembled record in bytes.
	MaxFrameSize uint32 `mapstructure:"max_frame_size" validate:"max=2147483647"`

	// SendQueueSize bounds the frames waiting to be written to one client.
	// A client whose queue overflows is disconnected; senders never block
	// on a slow reader.
	SendQueueSize int `mapstructure:"send_queue_size" validate:"min=0"`

	// RateLimit is the per-connection inbound frame budget. Frames over
	// budget are dropped, the connection stays open.
	RateLimit ratelimiter.Config `mapstructure:"rate_limit"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *Config) applyDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if c.SendQueueSize == 0 {
		c.SendQueueSize = DefaultSendQueueSize
	}
}

// validate checks the configuration after defaults were applied.
func (c *Config) validate() error {
	if c.ReadTimeout < 0 {
		return fmt.Errorf("invalid ReadTimeout %v: must be >= 0", c.ReadTimeout)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("invalid WriteTimeout %v: must be >= 0", c.WriteTimeout)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("invalid IdleTimeout %v: must be >= 0", c.IdleTimeout)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("invalid HandshakeTimeout %v: must be > 0", c.HandshakeTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	if c.MaxFrameSize > 1<<31-1 {
		return fmt.Errorf("invalid MaxFrameSize %d: exceeds record-marking limit", c.MaxFrameSize)
	}
	if c.SendQueueSize < 0 {
		return fmt.Errorf("invalid SendQueueSize %d: must be >= 0", c.SendQueueSize)
	}
	return nil
}
