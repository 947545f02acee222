// Package tcp implements transport.Transport over TCP.
//
// Every frame is an XDR envelope inside a record-marking record (see
// internal/protocol). A new connection must open with a connect frame
// carrying the password; it becomes a transport.EventConnectAttempt and
// waits for the session to accept or reject it.
package tcp

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/netclass/internal/logger"
	"github.com/marmos91/netclass/internal/protocol"
	"github.com/marmos91/netclass/pkg/transport"
)

// ErrSendQueueFull is returned by the send methods when a client's
// outbound queue overflowed. That client is disconnected.
var ErrSendQueueFull = errors.New("tcp: send queue full")

// Transport is the TCP implementation of transport.Transport.
//
// Architecture:
// An accept loop spawns one goroutine per connection. That goroutine runs
// the handshake, parks until the session decides, then reads frames and
// appends them to the event queue. The session drains the queue with Poll
// from its tick goroutine and sends through Send*, which queue records for
// a per-connection writer goroutine and never block on the socket. A client
// whose queue overflows (SendQueueSize) is disconnected.
//
// Shutdown flow:
//  1. Stop marks the transport stopped and drops queued events
//  2. Listener closed (no new connections)
//  3. shutdown channel closed (parked handshakes give up)
//  4. Every socket closed (blocked reads fail)
//  5. Wait for connection goroutines, up to ShutdownTimeout
//
// Thread safety:
// All methods are safe for concurrent use. A stopped Transport can be
// started again.
type Transport struct {
	config Config

	mu          sync.Mutex
	running     bool
	listener    net.Listener
	port        int
	maxClients  int
	shutdown    chan struct{}
	events      []transport.Event
	nextPending transport.PendingID
	pending     map[transport.PendingID]*connection
	clients     map[transport.ClientID]*connection

	// activeConns tracks connection goroutines for Stop.
	activeConns sync.WaitGroup

	// connCount is the number of open sockets, accepted or not.
	connCount atomic.Int32

	// activeConnections maps remote address to net.Conn for forced closure.
	activeConnections sync.Map
}

// New creates a stopped TCP transport.
//
// Zero values in config are replaced with defaults. Invalid configurations
// cause a panic (indicates programmer error).
func New(config Config) *Transport {
	config.applyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid TCP transport config: %v", err))
	}

	return &Transport{
		config:  config,
		pending: make(map[transport.PendingID]*connection),
		clients: make(map[transport.ClientID]*connection),
	}
}

// Start implements transport.Transport.
func (t *Transport) Start(port, maxClients int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return transport.ErrAlreadyRunning
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to create TCP listener on port %d: %w", port, err)
	}

	t.listener = listener
	t.port = listener.Addr().(*net.TCPAddr).Port
	t.maxClients = maxClients
	t.shutdown = make(chan struct{})
	t.events = nil
	t.pending = make(map[transport.PendingID]*connection)
	t.clients = make(map[transport.ClientID]*connection)
	t.running = true

	logger.Info("TCP transport listening on port %d", t.port)
	logger.Debug("TCP config: max_clients=%d read_timeout=%v write_timeout=%v idle_timeout=%v handshake_timeout=%v",
		maxClients, t.config.ReadTimeout, t.config.WriteTimeout, t.config.IdleTimeout, t.config.HandshakeTimeout)

	go t.acceptLoop(listener, t.shutdown)
	return nil
}

// acceptLoop accepts connections until the listener is closed.
func (t *Transport) acceptLoop(listener net.Listener, shutdown chan struct{}) {
	for {
		tcpConn, err := listener.Accept()
		if err != nil {
			select {
			case <-shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Debug("Error accepting TCP connection: %v", err)
			continue
		}

		t.activeConns.Add(1)
		t.connCount.Add(1)

		connAddr := tcpConn.RemoteAddr().String()
		t.activeConnections.Store(connAddr, tcpConn)
		logger.Debug("TCP connection accepted from %s (open: %d)", connAddr, t.connCount.Load())

		c := newConnection(t, tcpConn, shutdown)
		go func(addr string) {
			defer func() {
				t.activeConnections.Delete(addr)
				t.activeConns.Done()
				t.connCount.Add(-1)
				logger.Debug("TCP connection closed from %s (open: %d)", addr, t.connCount.Load())
			}()
			c.serve()
		}(connAddr)
	}
}

// Stop implements transport.Transport.
func (t *Transport) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	if err := t.listener.Close(); err != nil {
		logger.Debug("Error closing TCP listener: %v", err)
	}
	close(t.shutdown)
	t.events = nil
	t.pending = make(map[transport.PendingID]*connection)
	t.clients = make(map[transport.ClientID]*connection)
	t.port = 0
	t.mu.Unlock()

	t.forceCloseConnections()

	done := make(chan struct{})
	go func() {
		t.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("TCP transport stopped")
		return nil
	case <-time.After(t.config.ShutdownTimeout):
		remaining := t.connCount.Load()
		logger.Warn("TCP shutdown timeout exceeded: %d connection(s) still active after %v",
			remaining, t.config.ShutdownTimeout)
		return fmt.Errorf("TCP shutdown timeout: %d connections still active", remaining)
	}
}

// forceCloseConnections closes every tracked socket so blocked reads and
// writes fail immediately.
func (t *Transport) forceCloseConnections() {
	closedCount := 0
	t.activeConnections.Range(func(key, value any) bool {
		addr := key.(string)
		conn := value.(net.Conn)

		if err := conn.Close(); err != nil {
			logger.Debug("Error force-closing connection to %s: %v", addr, err)
		} else {
			closedCount++
		}
		return true
	})

	if closedCount > 0 {
		logger.Debug("Force-closed %d connection(s)", closedCount)
	}
}

// Poll implements transport.Transport.
func (t *Transport) Poll() []transport.Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	events := t.events
	t.events = nil
	return events
}

// register turns a completed handshake into a pending connection and
// queues its connect attempt.
//
// Returns transport.ErrServerFull at capacity, after queueing an
// EventRejected, and transport.ErrNotRunning
// when the run the connection belongs to has stopped.
func (t *Transport) register(c *connection, credential string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running || c.shutdown != t.shutdown {
		return transport.ErrNotRunning
	}
	limit := t.maxClients
	if limit <= 0 || limit > protocol.MaxClientID {
		limit = protocol.MaxClientID
	}
	if len(t.clients)+len(t.pending) >= limit {
		t.events = append(t.events, transport.Event{
			Type:       transport.EventRejected,
			RemoteAddr: c.addr,
			Reason:     transport.ServerFullReason,
		})
		return transport.ErrServerFull
	}

	t.nextPending++
	c.pendingID = t.nextPending
	t.pending[c.pendingID] = c
	t.events = append(t.events, transport.Event{
		Type:       transport.EventConnectAttempt,
		Pending:    c.pendingID,
		RemoteAddr: c.addr,
		Credential: credential,
	})
	return nil
}

// abandon removes c from the pending table after a handshake timeout.
// Returns false if a decision was made concurrently.
func (t *Transport) abandon(c *connection) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.pending[c.pendingID]; ok && cur == c {
		delete(t.pending, c.pendingID)
		return true
	}
	return c.state == statePending
}

// release forgets c when its goroutine exits and queues a disconnect for
// accepted clients of the current run.
func (t *Transport) release(c *connection) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.pending[c.pendingID]; ok && cur == c {
		delete(t.pending, c.pendingID)
	}
	if c.state != stateAccepted {
		return
	}
	if cur, ok := t.clients[c.id]; ok && cur == c {
		delete(t.clients, c.id)
		if t.running {
			t.events = append(t.events, transport.Event{
				Type:   transport.EventDisconnected,
				Client: c.id,
			})
		}
	}
}

// deliver queues an inbound message from an accepted connection.
func (t *Transport) deliver(c *connection, msg protocol.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return
	}
	if cur, ok := t.clients[c.id]; !ok || cur != c {
		return
	}
	t.events = append(t.events, transport.Event{
		Type:    transport.EventMessage,
		Client:  c.id,
		Message: msg,
	})
}

// Accept implements transport.Transport.
//
// The accept frame is queued before Accept returns and ahead of any other
// send to the connection.
func (t *Transport) Accept(pid transport.PendingID) (transport.ClientID, error) {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return 0, transport.ErrNotRunning
	}
	c, ok := t.pending[pid]
	if !ok {
		t.mu.Unlock()
		return 0, fmt.Errorf("%w: %d", transport.ErrUnknownPending, pid)
	}
	id, ok := transport.LowestFreeID(t.clients, t.maxClients)
	if !ok {
		t.mu.Unlock()
		return 0, transport.ErrServerFull
	}

	delete(t.pending, pid)
	c.id = id
	c.state = stateAccepted
	t.clients[id] = c

	// Queued under t.mu so no send to id can overtake the accept frame.
	frame, err := protocol.EncodeAccept(uint16(id))
	if err == nil {
		err = c.enqueue(protocol.MakeRecord(frame))
	}
	t.mu.Unlock()
	close(c.decided)

	if err != nil {
		logger.Debug("Failed to send accept to %s: %v", c.addr, err)
	}
	return id, nil
}

// Reject implements transport.Transport.
func (t *Transport) Reject(pid transport.PendingID, reason string) error {
	t.mu.Lock()
	c, ok := t.pending[pid]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %d", transport.ErrUnknownPending, pid)
	}
	delete(t.pending, pid)
	c.state = stateRejected
	t.mu.Unlock()

	defer close(c.decided)

	frame, err := protocol.EncodeReject(reason)
	if err != nil {
		return err
	}
	return c.enqueue(protocol.MakeRecord(frame))
}

// Send implements transport.Transport.
func (t *Transport) Send(to transport.ClientID, msg protocol.Message) error {
	record, err := dataRecord(msg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return transport.ErrNotRunning
	}
	c, ok := t.clients[to]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", transport.ErrUnknownClient, to)
	}

	return c.enqueue(record)
}

// SendToAll implements transport.Transport.
func (t *Transport) SendToAll(msg protocol.Message) error {
	return t.broadcast(msg, func(transport.ClientID) bool { return true })
}

// SendToAllExcept implements transport.Transport.
func (t *Transport) SendToAllExcept(msg protocol.Message, except transport.ClientID) error {
	return t.broadcast(msg, func(id transport.ClientID) bool { return id != except })
}

// broadcast queues one encoded record for every selected client in id
// order. A failing client does not stop delivery to the others.
func (t *Transport) broadcast(msg protocol.Message, include func(transport.ClientID) bool) error {
	record, err := dataRecord(msg)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return transport.ErrNotRunning
	}
	targets := make([]*connection, 0, len(t.clients))
	for id, c := range t.clients {
		if include(id) {
			targets = append(targets, c)
		}
	}
	t.mu.Unlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })

	var errs []error
	for _, c := range targets {
		if err := c.enqueue(record); err != nil {
			errs = append(errs, fmt.Errorf("client %d: %w", c.id, err))
		}
	}
	return errors.Join(errs...)
}

func dataRecord(msg protocol.Message) ([]byte, error) {
	body, err := protocol.EncodeEnvelope(protocol.FrameData, msg)
	if err != nil {
		return nil, err
	}
	return protocol.MakeRecord(body), nil
}

// Protocol implements transport.Transport.
func (t *Transport) Protocol() string {
	return "tcp"
}

// Port implements transport.Transport. With port 0 passed to Start this
// is the port the OS picked.
func (t *Transport) Port() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port
}

// GetActiveConnections returns the number of open sockets, accepted or
// still in handshake.
func (t *Transport) GetActiveConnections() int32 {
	return t.connCount.Load()
}

var _ transport.Transport = (*Transport)(nil)
