// Package session implements the authoritative side of network-object
// replication.
//
// A Session keeps a set of network objects consistent across a host and
// late-joining clients:
//   - Gate admits or rejects connection attempts by password
//   - Registry records which client owns which object and enforces it
//   - Coordinator relays the host's object list to joining clients
//   - Dispatcher routes inbound messages by kind
//   - Lifecycle reacts to connects and disconnects
//
// Processing is single-threaded and tick-driven: Tick drains the transport
// and handles every event synchronously, in arrival order.
package session

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/netclass/internal/logger"
	"github.com/marmos91/netclass/internal/protocol"
	"github.com/marmos91/netclass/pkg/metrics"
	"github.com/marmos91/netclass/pkg/transport"
)

// Option configures a Session.
type Option func(*Session)

// WithMessageHandler sets the receiver of application messages.
func WithMessageHandler(h MessageHandler) Option {
	return func(s *Session) { s.handler = h }
}

// WithMetrics sets the metrics sink. Default: no-op.
func WithMetrics(m metrics.SessionMetrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithAllowNonHostOwnership sets the creation policy. Default: true.
func WithAllowNonHostOwnership(allow bool) Option {
	return func(s *Session) { s.allowNonHost = allow }
}

// Session is the host-process API of one replication session.
//
// Thread safety:
// Start, Stop, Tick, SetAllowNonHostOwnership and the table queries must be
// called from a single goroutine (the tick goroutine). IsRunning and the
// Send methods are safe from any goroutine.
type Session struct {
	transport    transport.Transport
	handler      MessageHandler
	metrics      metrics.SessionMetrics
	allowNonHost bool

	running atomic.Bool

	// state is nil while stopped.
	state *state
}

// state is everything scoped to one Start..Stop run.
type state struct {
	id         uuid.UUID
	started    time.Time
	port       int
	maxClients int
	gate       *Gate
	registry   *Registry
	snapshots  *Coordinator
	dispatcher *Dispatcher
	lifecycle  *Lifecycle
}

// New creates a stopped session on t.
func New(t transport.Transport, opts ...Option) *Session {
	s := &Session{
		transport:    t,
		metrics:      metrics.NewNoopSessionMetrics(),
		allowNonHost: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start starts the transport and builds a fresh session context.
//
// Parameters:
//   - port: listening port (0 lets the transport choose)
//   - maxClients: simultaneous client limit
//   - password: required credential, "" for none
//
// Calling Start on a running session is a no-op.
func (s *Session) Start(port, maxClients int, password string) error {
	if s.state != nil {
		return nil
	}

	if err := s.transport.Start(port, maxClients); err != nil {
		return err
	}

	st := &state{
		id:         uuid.New(),
		started:    time.Now(),
		port:       s.transport.Port(),
		maxClients: maxClients,
		gate:       NewGate(password),
		registry:   NewRegistry(s.allowNonHost),
		snapshots:  NewCoordinator(),
	}
	st.dispatcher = NewDispatcher(s.transport, st.registry, st.snapshots, s.handler, s.metrics)
	st.lifecycle = NewLifecycle(s.transport, st.gate, st.registry, st.snapshots, s.metrics)

	s.state = st
	s.running.Store(true)
	s.refreshGauges()

	logger.Info("Session %s started: transport=%s port=%d max_clients=%d password=%t",
		st.id, s.transport.Protocol(), st.port, maxClients, st.gate.RequiresPassword())
	return nil
}

// Stop stops the transport and clears ownership, pending snapshots,
// password and host state before returning. No-op when stopped.
func (s *Session) Stop() {
	if s.state == nil {
		return
	}

	st := s.state
	s.state = nil
	s.running.Store(false)

	if err := s.transport.Stop(); err != nil {
		logger.Warn("Transport stop: %v", err)
	}
	st.registry.Clear()
	st.snapshots.Clear()

	s.metrics.SetActiveConnections(0)
	s.metrics.SetOwnedObjects(0)
	s.metrics.SetPendingSnapshots(0)

	logger.Info("Session %s stopped after %v", st.id, time.Since(st.started).Round(time.Second))
}

// Tick drains the transport and handles every queued event in order.
//
// If an event stops the session (the host left), the rest of the batch is
// discarded.
func (s *Session) Tick() {
	if s.state == nil {
		return
	}

	for _, ev := range s.transport.Poll() {
		if s.state == nil {
			break
		}
		s.handleEvent(ev)
	}

	s.refreshGauges()
}

func (s *Session) handleEvent(ev transport.Event) {
	st := s.state

	switch ev.Type {
	case transport.EventConnectAttempt:
		st.lifecycle.ConnectAttempt(ev)

	case transport.EventDisconnected:
		if st.lifecycle.ClientDisconnected(ev.Client) {
			s.Stop()
		}

	case transport.EventRejected:
		st.lifecycle.TransportRejected(ev)

	case transport.EventMessage:
		if !st.lifecycle.IsConnected(ev.Client) {
			logger.Debug("Dropping message from unknown client %d", ev.Client)
			return
		}
		_ = st.dispatcher.Dispatch(ev.Client, ev.Message)

	default:
		logger.Debug("Ignoring transport event %s", ev.Type)
	}
}

func (s *Session) refreshGauges() {
	if s.state == nil {
		return
	}
	s.metrics.SetActiveConnections(s.state.lifecycle.Connected())
	s.metrics.SetOwnedObjects(s.state.registry.Len())
	s.metrics.SetPendingSnapshots(s.state.snapshots.Len())
}

// SetAllowNonHostOwnership changes the creation policy, effective
// immediately and for later runs.
func (s *Session) SetAllowNonHostOwnership(allow bool) {
	s.allowNonHost = allow
	if s.state != nil {
		s.state.registry.SetAllowNonHostOwnership(allow)
	}
}

// AllowNonHostOwnership returns the creation policy.
func (s *Session) AllowNonHostOwnership() bool {
	return s.allowNonHost
}

// IsRunning reports whether the session is started.
func (s *Session) IsRunning() bool {
	return s.running.Load()
}

// ID returns the id of the current run, or uuid.Nil when stopped.
func (s *Session) ID() uuid.UUID {
	if s.state == nil {
		return uuid.Nil
	}
	return s.state.id
}

// TimeStarted returns when the current run started, or the zero time.
func (s *Session) TimeStarted() time.Time {
	if s.state == nil {
		return time.Time{}
	}
	return s.state.started
}

// Port returns the transport port of the current run, or 0.
func (s *Session) Port() int {
	if s.state == nil {
		return 0
	}
	return s.state.port
}

// Host returns the host's client id once one has connected.
func (s *Session) Host() (transport.ClientID, bool) {
	if s.state == nil {
		return 0, false
	}
	return s.state.registry.Host()
}

// Clients returns the number of connected clients.
func (s *Session) Clients() int {
	if s.state == nil {
		return 0
	}
	return s.state.lifecycle.Connected()
}

// Objects returns the number of registered network objects.
func (s *Session) Objects() int {
	if s.state == nil {
		return 0
	}
	return s.state.registry.Len()
}

// Owner returns the owner of networkID.
func (s *Session) Owner(networkID string) (transport.ClientID, bool) {
	if s.state == nil {
		return 0, false
	}
	return s.state.registry.Owner(networkID)
}

// PendingSnapshots returns the number of snapshots in flight.
func (s *Session) PendingSnapshots() int {
	if s.state == nil {
		return 0
	}
	return s.state.snapshots.Len()
}

// SnapshotState returns the snapshot progress of a joining client.
func (s *Session) SnapshotState(id transport.ClientID) SnapshotState {
	if s.state == nil {
		return SnapshotIdle
	}
	return s.state.snapshots.State(id)
}

// Send delivers an application message to one client.
func (s *Session) Send(to transport.ClientID, msg protocol.Message) error {
	if !s.IsRunning() {
		return transport.ErrNotRunning
	}
	return s.transport.Send(to, msg)
}

// SendToAll delivers an application message to every client.
func (s *Session) SendToAll(msg protocol.Message) error {
	if !s.IsRunning() {
		return transport.ErrNotRunning
	}
	return s.transport.SendToAll(msg)
}

// SendToAllExcept delivers an application message to every client but one.
func (s *Session) SendToAllExcept(msg protocol.Message, except transport.ClientID) error {
	if !s.IsRunning() {
		return transport.ErrNotRunning
	}
	return s.transport.SendToAllExcept(msg, except)
}
