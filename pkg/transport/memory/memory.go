// Package memory implements transport.Transport inside one process.
//
// Clients are created with Dial and driven directly by the caller, which
// makes the transport suitable for deterministic tests of the session and
// for applications that run a listen-server in the same process as a
// local player.
package memory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/marmos91/netclass/internal/protocol"
	"github.com/marmos91/netclass/pkg/transport"
)

// Transport is an in-process transport.Transport.
//
// Thread safety:
// All methods of Transport and Client are safe for concurrent use.
type Transport struct {
	mu sync.Mutex

	running    bool
	port       int
	maxClients int

	events      []transport.Event
	nextPending transport.PendingID
	pending     map[transport.PendingID]*Client
	clients     map[transport.ClientID]*Client
}

// New creates a stopped memory transport.
func New() *Transport {
	return &Transport{
		pending: make(map[transport.PendingID]*Client),
		clients: make(map[transport.ClientID]*Client),
	}
}

// Client is the remote end of one in-process connection.
type Client struct {
	t          *Transport
	credential string

	// Guarded by t.mu.
	pendingID    transport.PendingID
	id           transport.ClientID
	accepted     bool
	closed       bool
	rejectReason string
	received     []protocol.Message
}

// Start implements transport.Transport.
func (t *Transport) Start(port, maxClients int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return transport.ErrAlreadyRunning
	}
	t.running = true
	t.port = port
	t.maxClients = maxClients
	return nil
}

// Stop implements transport.Transport. Every client is closed without
// producing Disconnected events.
func (t *Transport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return nil
	}
	for _, c := range t.pending {
		c.closed = true
	}
	for _, c := range t.clients {
		c.closed = true
	}
	t.running = false
	t.port = 0
	t.events = nil
	t.pending = make(map[transport.PendingID]*Client)
	t.clients = make(map[transport.ClientID]*Client)
	return nil
}

// Poll implements transport.Transport.
func (t *Transport) Poll() []transport.Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	events := t.events
	t.events = nil
	return events
}

// Accept implements transport.Transport.
func (t *Transport) Accept(pid transport.PendingID) (transport.ClientID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return 0, transport.ErrNotRunning
	}
	c, ok := t.pending[pid]
	if !ok {
		return 0, fmt.Errorf("%w: %d", transport.ErrUnknownPending, pid)
	}

	id, ok := transport.LowestFreeID(t.clients, t.maxClients)
	if !ok {
		return 0, transport.ErrServerFull
	}

	delete(t.pending, pid)
	c.id = id
	c.accepted = true
	t.clients[id] = c
	return id, nil
}

// Reject implements transport.Transport.
func (t *Transport) Reject(pid transport.PendingID, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.pending[pid]
	if !ok {
		return fmt.Errorf("%w: %d", transport.ErrUnknownPending, pid)
	}
	delete(t.pending, pid)
	c.rejectReason = reason
	c.closed = true
	return nil
}

// Send implements transport.Transport.
func (t *Transport) Send(to transport.ClientID, msg protocol.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return transport.ErrNotRunning
	}
	c, ok := t.clients[to]
	if !ok {
		return fmt.Errorf("%w: %d", transport.ErrUnknownClient, to)
	}
	c.deliver(msg)
	return nil
}

// SendToAll implements transport.Transport.
func (t *Transport) SendToAll(msg protocol.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return transport.ErrNotRunning
	}
	for _, c := range t.clients {
		c.deliver(msg)
	}
	return nil
}

// SendToAllExcept implements transport.Transport.
func (t *Transport) SendToAllExcept(msg protocol.Message, except transport.ClientID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return transport.ErrNotRunning
	}
	for id, c := range t.clients {
		if id != except {
			c.deliver(msg)
		}
	}
	return nil
}

// Protocol implements transport.Transport.
func (t *Transport) Protocol() string {
	return "memory"
}

// Port implements transport.Transport. The memory transport does not
// listen; it reports the port it was started with.
func (t *Transport) Port() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port
}

// Dial opens a connection presenting password as its credential.
//
// On a stopped transport the client is returned already rejected. When the
// transport is at capacity the client is rejected with
// transport.ServerFullReason and only an EventRejected is queued.
func (t *Transport) Dial(password string) *Client {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := &Client{t: t, credential: password}
	if !t.running {
		c.closed = true
		c.rejectReason = "Server is not running."
		return c
	}
	t.nextPending++
	c.pendingID = t.nextPending
	if t.maxClients > 0 && len(t.clients)+len(t.pending) >= t.maxClients {
		c.closed = true
		c.rejectReason = transport.ServerFullReason
		t.events = append(t.events, transport.Event{
			Type:       transport.EventRejected,
			RemoteAddr: fmt.Sprintf("memory:%d", c.pendingID),
			Reason:     transport.ServerFullReason,
		})
		return c
	}

	t.pending[c.pendingID] = c
	t.events = append(t.events, transport.Event{
		Type:       transport.EventConnectAttempt,
		Pending:    c.pendingID,
		RemoteAddr: fmt.Sprintf("memory:%d", c.pendingID),
		Credential: password,
	})
	return c
}

// deliver appends an outbound message to the client's inbox.
// Caller must hold t.mu.
func (c *Client) deliver(msg protocol.Message) {
	body := append([]byte(nil), msg.Body...)
	c.received = append(c.received, protocol.Message{Kind: msg.Kind, Body: body})
}

// ErrClosed is returned by Client.Send once the client is closed or was
// never accepted.
var ErrClosed = errors.New("memory client closed")

// Send queues msg as an inbound message from this client.
func (c *Client) Send(msg protocol.Message) error {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()

	if c.closed || !c.accepted {
		return ErrClosed
	}
	c.t.events = append(c.t.events, transport.Event{
		Type:    transport.EventMessage,
		Client:  c.id,
		Message: protocol.Message{Kind: msg.Kind, Body: append([]byte(nil), msg.Body...)},
	})
	return nil
}

// Close disconnects the client. An accepted client produces a Disconnected
// event; a pending one simply disappears. Closing twice is a no-op.
func (c *Client) Close() {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	if !c.accepted {
		delete(c.t.pending, c.pendingID)
		return
	}
	if cur, ok := c.t.clients[c.id]; ok && cur == c {
		delete(c.t.clients, c.id)
		c.t.events = append(c.t.events, transport.Event{
			Type:   transport.EventDisconnected,
			Client: c.id,
		})
	}
}

// Received returns a copy of every message delivered to the client so far.
func (c *Client) Received() []protocol.Message {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	return append([]protocol.Message(nil), c.received...)
}

// ReceivedKind returns the delivered messages of kind k, in order.
func (c *Client) ReceivedKind(k protocol.Kind) []protocol.Message {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()

	var out []protocol.Message
	for _, m := range c.received {
		if m.Kind == k {
			out = append(out, m)
		}
	}
	return out
}

// ID returns the assigned client id, 0 until accepted.
func (c *Client) ID() transport.ClientID {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	return c.id
}

// Accepted reports whether the server accepted the connection.
func (c *Client) Accepted() bool {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	return c.accepted
}

// Connected reports whether the client is accepted and not closed.
func (c *Client) Connected() bool {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	return c.accepted && !c.closed
}

// RejectReason returns the reason sent with a rejection, or "".
func (c *Client) RejectReason() string {
	c.t.mu.Lock()
	defer c.t.mu.Unlock()
	return c.rejectReason
}

var _ transport.Transport = (*Transport)(nil)
