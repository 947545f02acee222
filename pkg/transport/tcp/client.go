package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/netclass/internal/protocol"
	"github.com/marmos91/netclass/pkg/transport"
)

// RejectedError is returned by Dial when the server refuses the handshake.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "connection rejected: " + e.Reason
}

// Client is the remote side of a Transport connection. Go programs and
// tests use it to talk to a running server.
//
// Send is safe for concurrent use; Receive must be called from one
// goroutine at a time.
type Client struct {
	conn     net.Conn
	id       transport.ClientID
	maxFrame uint32
	writeMu  sync.Mutex
}

// Dial connects to addr and completes the handshake with password.
//
// The handshake is bounded by ctx. A refusal is returned as
// *RejectedError.
func Dial(ctx context.Context, addr, password string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	id, err := handshake(ctx, conn, password)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Client{conn: conn, id: id, maxFrame: protocol.DefaultMaxFrameSize}, nil
}

func handshake(ctx context.Context, conn net.Conn, password string) (transport.ClientID, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return 0, err
		}
		defer func() { _ = conn.SetDeadline(time.Time{}) }()
	}

	frame, err := protocol.EncodeConnect(password)
	if err != nil {
		return 0, err
	}
	if err := protocol.WriteRecord(conn, frame); err != nil {
		return 0, err
	}

	record, err := protocol.ReadRecord(conn, protocol.DefaultMaxFrameSize)
	if err != nil {
		return 0, fmt.Errorf("read handshake reply: %w", err)
	}
	ft, msg, err := protocol.DecodeEnvelope(record)
	if err != nil {
		return 0, err
	}

	switch ft {
	case protocol.FrameAccept:
		id, err := protocol.DecodeAccept(msg.Body)
		if err != nil {
			return 0, err
		}
		return transport.ClientID(id), nil
	case protocol.FrameReject:
		reason, err := protocol.DecodeReject(msg.Body)
		if err != nil {
			return 0, err
		}
		return 0, &RejectedError{Reason: reason}
	default:
		return 0, fmt.Errorf("%w: handshake reply type %d", protocol.ErrUnexpectedFrame, ft)
	}
}

// ID returns the client id the server assigned.
func (c *Client) ID() transport.ClientID {
	return c.id
}

// Send writes one data frame.
func (c *Client) Send(msg protocol.Message) error {
	body, err := protocol.EncodeEnvelope(protocol.FrameData, msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteRecord(c.conn, body)
}

// Receive blocks for the next data frame.
func (c *Client) Receive() (protocol.Message, error) {
	record, err := protocol.ReadRecord(c.conn, c.maxFrame)
	if err != nil {
		return protocol.Message{}, err
	}
	ft, msg, err := protocol.DecodeEnvelope(record)
	if err != nil {
		return protocol.Message{}, err
	}
	if ft != protocol.FrameData {
		return protocol.Message{}, fmt.Errorf("%w: type %d", protocol.ErrUnexpectedFrame, ft)
	}
	return msg, nil
}

// SetReadDeadline bounds the next Receive calls.
func (c *Client) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
