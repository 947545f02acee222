package tcp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/marmos91/netclass/internal/logger"
	"github.com/marmos91/netclass/internal/protocol"
	"github.com/marmos91/netclass/internal/ratelimiter"
	"github.com/marmos91/netclass/pkg/transport"
)

type connState int

const (
	statePending connState = iota
	stateAccepted
	stateRejected
)

// connection is one accepted socket and the goroutine serving it.
type connection struct {
	server   *Transport
	conn     net.Conn
	addr     string
	shutdown chan struct{}
	limiter  *ratelimiter.RateLimiter
	reader   *frameReader

	// decided is closed by Accept or Reject.
	decided chan struct{}

	// outbox feeds writeLoop. outMu guards sends on it and closing it.
	outMu     sync.Mutex
	outClosed bool
	outbox    chan []byte
	flushed   chan struct{}

	// Guarded by server.mu.
	pendingID transport.PendingID
	id        transport.ClientID
	state     connState
}

func newConnection(server *Transport, conn net.Conn, shutdown chan struct{}) *connection {
	return &connection{
		server:   server,
		conn:     conn,
		addr:     conn.RemoteAddr().String(),
		shutdown: shutdown,
		limiter:  ratelimiter.FromConfig(server.config.RateLimit),
		reader:   &frameReader{conn: conn, readTimeout: server.config.ReadTimeout},
		decided:  make(chan struct{}),
		outbox:   make(chan []byte, server.config.SendQueueSize),
		flushed:  make(chan struct{}),
	}
}

// serve runs the handshake and then the read loop. It implements panic
// recovery so a single misbehaving connection cannot crash the server.
//
// The connection is closed when:
//   - The handshake fails, times out or is rejected
//   - The transport stops
//   - An idle, read or write timeout occurs
//   - A frame is oversized or malformed
//   - The client closes the connection
func (c *connection) serve() {
	go c.writeLoop()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in connection handler from %s: %v", c.addr, r)
		}
		c.server.release(c)
		c.flush()
		_ = c.conn.Close()
		<-c.flushed
	}()

	credential, err := c.readHandshake()
	if err != nil {
		logger.Debug("Handshake from %s failed: %v", c.addr, err)
		return
	}

	if err := c.server.register(c, credential); err != nil {
		if errors.Is(err, transport.ErrServerFull) {
			logger.Info("Rejecting %s: server is full", c.addr)
			if frame, encErr := protocol.EncodeReject(transport.ServerFullReason); encErr == nil {
				_ = c.enqueue(protocol.MakeRecord(frame))
			}
		}
		return
	}

	if !c.awaitDecision() {
		return
	}

	c.readLoop()
}

// readHandshake reads the connect frame and returns the credential.
func (c *connection) readHandshake() (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.server.config.HandshakeTimeout)); err != nil {
		return "", fmt.Errorf("set handshake deadline: %w", err)
	}

	record, err := protocol.ReadRecord(c.conn, c.server.config.MaxFrameSize)
	if err != nil {
		return "", err
	}
	ft, msg, err := protocol.DecodeEnvelope(record)
	if err != nil {
		return "", err
	}
	if ft != protocol.FrameConnect {
		return "", fmt.Errorf("%w: got frame type %d before connect", protocol.ErrUnexpectedFrame, ft)
	}
	req, err := protocol.DecodeConnect(msg.Body)
	if err != nil {
		return "", err
	}

	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return "", fmt.Errorf("clear handshake deadline: %w", err)
	}
	return req.Password, nil
}

// awaitDecision parks until the session accepts or rejects the connection.
// Returns true if the connection was accepted.
func (c *connection) awaitDecision() bool {
	timer := time.NewTimer(c.server.config.HandshakeTimeout)
	defer timer.Stop()

	select {
	case <-c.decided:
	case <-c.shutdown:
		return false
	case <-timer.C:
		if c.server.abandon(c) {
			logger.Debug("Connection from %s timed out waiting for a decision", c.addr)
			return false
		}
		<-c.decided
	}

	c.server.mu.Lock()
	accepted := c.state == stateAccepted
	id := c.id
	c.server.mu.Unlock()

	if accepted {
		logger.Debug("Connection from %s is client %d", c.addr, id)
	}
	return accepted
}

// readLoop queues inbound data frames until the connection fails.
func (c *connection) readLoop() {
	for {
		select {
		case <-c.shutdown:
			return
		default:
		}

		c.armDeadline()
		record, err := protocol.ReadRecord(c.reader, c.server.config.MaxFrameSize)
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.limiter.Allow() {
			logger.Warn("Rate limit exceeded for client %d (%s): frame dropped", c.id, c.addr)
			continue
		}

		ft, msg, err := protocol.DecodeEnvelope(record)
		if err != nil {
			logger.Debug("Malformed frame from %s: %v", c.addr, err)
			return
		}
		if ft != protocol.FrameData {
			logger.Debug("Unexpected frame type %d from %s", ft, c.addr)
			return
		}

		c.server.deliver(c, msg)
	}
}

func (c *connection) logReadError(err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug("Connection from %s closed by client", c.addr)
	case errors.Is(err, net.ErrClosed):
		logger.Debug("Connection from %s closed", c.addr)
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Debug("Connection from %s timed out: %v", c.addr, err)
	case errors.Is(err, protocol.ErrFrameTooLarge):
		logger.Warn("Closing %s: %v", c.addr, err)
	default:
		logger.Debug("Error reading from %s: %v", c.addr, err)
	}
}

// armDeadline applies the idle timeout to the next frame.
func (c *connection) armDeadline() {
	var deadline time.Time
	if c.server.config.IdleTimeout > 0 {
		deadline = time.Now().Add(c.server.config.IdleTimeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		logger.Warn("Failed to set deadline for %s: %v", c.addr, err)
	}
	c.reader.reset()
}

// enqueue hands one complete record to the writer without blocking.
//
// A full queue means the peer stopped reading: the connection is closed,
// which ends the read loop and queues the disconnect.
func (c *connection) enqueue(record []byte) error {
	c.outMu.Lock()
	defer c.outMu.Unlock()

	if c.outClosed {
		return fmt.Errorf("write to %s: %w", c.addr, net.ErrClosed)
	}
	select {
	case c.outbox <- record:
		return nil
	default:
	}

	c.outClosed = true
	close(c.outbox)
	_ = c.conn.Close()
	logger.Warn("Closing %s: %d frame(s) waiting to be written", c.addr, cap(c.outbox))
	return fmt.Errorf("%w: %s", ErrSendQueueFull, c.addr)
}

// flush stops accepting records and gives the writer up to WriteTimeout to
// drain what is queued, so a reject frame reaches the peer before close.
func (c *connection) flush() {
	c.outMu.Lock()
	if !c.outClosed {
		c.outClosed = true
		close(c.outbox)
	}
	c.outMu.Unlock()

	timer := time.NewTimer(c.server.config.WriteTimeout)
	defer timer.Stop()
	select {
	case <-c.flushed:
	case <-timer.C:
	}
}

// writeLoop writes queued records in order until the outbox is closed.
// After the first failed write the socket is closed and the rest of the
// queue is dropped.
func (c *connection) writeLoop() {
	defer close(c.flushed)

	for record := range c.outbox {
		if err := c.writeRecord(record); err != nil {
			logger.Debug("Write to %s failed: %v", c.addr, err)
			_ = c.conn.Close()
			for range c.outbox {
			}
			return
		}
	}
}

func (c *connection) writeRecord(record []byte) error {
	if c.server.config.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := c.conn.Write(record); err != nil {
		return fmt.Errorf("write to %s: %w", c.addr, err)
	}
	return nil
}

// frameReader switches the connection from its idle deadline to the read
// timeout as soon as the first byte of a frame arrives.
type frameReader struct {
	conn        net.Conn
	readTimeout time.Duration
	started     bool
}

func (r *frameReader) reset() {
	r.started = false
}

func (r *frameReader) Read(p []byte) (int, error) {
	n, err := r.conn.Read(p)
	if n > 0 && !r.started && r.readTimeout > 0 {
		r.started = true
		if dlErr := r.conn.SetReadDeadline(time.Now().Add(r.readTimeout)); dlErr != nil && err == nil {
			err = dlErr
		}
	}
	return n, err
}
