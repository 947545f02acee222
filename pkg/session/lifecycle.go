package session

import (
	"errors"

	"github.com/marmos91/netclass/internal/logger"
	"github.com/marmos91/netclass/internal/protocol"
	"github.com/marmos91/netclass/pkg/metrics"
	"github.com/marmos91/netclass/pkg/transport"
)

// Lifecycle reacts to transport connection events.
//
// The first client admitted after Start becomes the host. Every later
// client triggers a snapshot request to the host. A departing client's
// objects are deleted and the deletions broadcast; a departing host ends
// the session (there is no host migration).
type Lifecycle struct {
	transport transport.Transport
	gate      *Gate
	registry  *Registry
	snapshots *Coordinator
	metrics   metrics.SessionMetrics
	connected map[transport.ClientID]struct{}
}

// NewLifecycle wires a lifecycle. A nil m records nothing.
func NewLifecycle(
	t transport.Transport,
	gate *Gate,
	registry *Registry,
	snapshots *Coordinator,
	m metrics.SessionMetrics,
) *Lifecycle {
	if m == nil {
		m = metrics.NewNoopSessionMetrics()
	}
	return &Lifecycle{
		transport: t,
		gate:      gate,
		registry:  registry,
		snapshots: snapshots,
		metrics:   m,
		connected: make(map[transport.ClientID]struct{}),
	}
}

// ConnectAttempt makes the single accept-or-reject decision for a pending
// connection. A rejected attempt never reaches ClientConnected.
//
// Returns the new client id and true if the connection was accepted.
func (l *Lifecycle) ConnectAttempt(ev transport.Event) (transport.ClientID, bool) {
	if err := l.gate.Evaluate(ev.Credential); err != nil {
		reason := IncorrectPasswordReason
		var se *Error
		if errors.As(err, &se) {
			reason = se.Message
		}
		logger.Info("Rejected connection from %s: %s", ev.RemoteAddr, reason)
		if rejErr := l.transport.Reject(ev.Pending, reason); rejErr != nil {
			logger.Debug("Reject of %s failed: %v", ev.RemoteAddr, rejErr)
		}
		l.metrics.RecordConnectionRejected("password")
		return 0, false
	}

	id, err := l.transport.Accept(ev.Pending)
	if err != nil {
		if errors.Is(err, transport.ErrServerFull) {
			_ = l.transport.Reject(ev.Pending, transport.ServerFullReason)
			l.metrics.RecordConnectionRejected("full")
		}
		logger.Warn("Failed to accept connection from %s: %v", ev.RemoteAddr, err)
		return 0, false
	}

	l.metrics.RecordConnectionAccepted()
	logger.Info("Client %d connected from %s", id, ev.RemoteAddr)
	l.ClientConnected(id)
	return id, true
}

// TransportRejected records an attempt the transport refused before it
// reached the gate.
func (l *Lifecycle) TransportRejected(ev transport.Event) {
	logger.Info("Rejected connection from %s: %s", ev.RemoteAddr, ev.Reason)
	if ev.Reason == transport.ServerFullReason {
		l.metrics.RecordConnectionRejected("full")
		return
	}
	l.metrics.RecordConnectionRejected("transport")
}

// ClientConnected runs the connected path for an accepted client.
func (l *Lifecycle) ClientConnected(id transport.ClientID) {
	l.connected[id] = struct{}{}

	host, ok := l.registry.Host()
	if !ok {
		l.registry.SetHost(id)
		logger.Info("Client %d is the session host", id)
		return
	}
	if id == host {
		return
	}

	l.snapshots.Open(id)
	msg, err := protocol.NewMessage(protocol.KindNetworkClassRequestSyncData,
		&protocol.SyncRequest{JoiningClientID: uint32(id)})
	if err != nil {
		logger.Error("Failed to encode snapshot request for client %d: %v", id, err)
		return
	}
	if err := l.transport.Send(host, msg); err != nil {
		logger.Warn("Failed to request snapshot for client %d from host %d: %v", id, host, err)
	}
}

// ClientDisconnected runs the cleanup for a departed client.
//
// Returns true if the client was the host, in which case the caller must
// stop the session. Nothing is cleaned up here in that case: stopping
// clears every table.
func (l *Lifecycle) ClientDisconnected(id transport.ClientID) (hostLeft bool) {
	if _, ok := l.connected[id]; !ok {
		logger.Debug("Ignoring disconnect of unknown client %d", id)
		return false
	}
	delete(l.connected, id)
	l.metrics.RecordConnectionClosed()

	if host, ok := l.registry.Host(); ok && id == host {
		logger.Info("Host (client %d) disconnected", id)
		return true
	}

	if l.snapshots.Discard(id) {
		logger.Debug("Discarded pending snapshot of client %d", id)
	}

	deleted := l.registry.DeleteAllOwnedBy(id)
	for _, networkID := range deleted {
		msg, err := protocol.NewMessage(protocol.KindNetworkClassDeleted, &protocol.DeletePayload{NetworkID: networkID})
		if err != nil {
			logger.Error("Failed to encode delete of %q: %v", networkID, err)
			continue
		}
		if err := l.transport.SendToAll(msg); err != nil {
			logger.Warn("Failed to broadcast delete of %q: %v", networkID, err)
		}
	}

	logger.Info("Client %d disconnected (%d object(s) removed)", id, len(deleted))
	return false
}

// Connected returns the number of connected clients.
func (l *Lifecycle) Connected() int {
	return len(l.connected)
}

// IsConnected reports whether id is connected.
func (l *Lifecycle) IsConnected(id transport.ClientID) bool {
	_, ok := l.connected[id]
	return ok
}
