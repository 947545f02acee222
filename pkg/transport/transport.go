// Package transport defines the message transport a session runs on.
//
// A transport owns connection establishment, framing and delivery. The
// session only sees events (connect attempts, disconnects, messages) and a
// small set of reliable send operations. Any implementation honouring the
// contract below is substitutable: the TCP transport serves real clients and
// the memory transport serves tests and in-process embedders.
package transport

import (
	"errors"
	"fmt"

	"github.com/marmos91/netclass/internal/protocol"
)

// ClientID identifies an accepted connection for the lifetime of a session.
//
// Ids are assigned lowest-free starting at 1, so the first client accepted
// after Start is always 1.
type ClientID uint16

// PendingID identifies a connection attempt that has not been accepted or
// rejected yet. It is never reused within one transport.
type PendingID uint64

// EventType is the kind of an Event.
type EventType int

const (
	// EventConnectAttempt is a new connection presenting a credential.
	// Exactly one of Accept or Reject must follow.
	EventConnectAttempt EventType = iota

	// EventDisconnected reports that an accepted client is gone.
	EventDisconnected

	// EventMessage carries one inbound message from an accepted client.
	EventMessage

	// EventRejected reports an attempt the transport refused on its own
	// (capacity). No decision is expected from the session.
	EventRejected
)

func (t EventType) String() string {
	switch t {
	case EventConnectAttempt:
		return "ConnectAttempt"
	case EventDisconnected:
		return "Disconnected"
	case EventMessage:
		return "Message"
	case EventRejected:
		return "Rejected"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is one entry of the inbound queue returned by Poll.
type Event struct {
	Type EventType

	// Client is set for EventDisconnected and EventMessage.
	Client ClientID

	// Pending, RemoteAddr and Credential are set for EventConnectAttempt.
	// RemoteAddr is also set for EventRejected.
	Pending    PendingID
	RemoteAddr string
	Credential string

	// Reason is the reject reason sent to the peer, for EventRejected.
	Reason string

	// Message is set for EventMessage.
	Message protocol.Message
}

var (
	// ErrNotRunning is returned by operations that need a started transport.
	ErrNotRunning = errors.New("transport not running")

	// ErrAlreadyRunning is returned by Start on a started transport.
	ErrAlreadyRunning = errors.New("transport already running")

	// ErrUnknownClient is returned when sending to an id that is not connected.
	ErrUnknownClient = errors.New("unknown client")

	// ErrUnknownPending is returned when a pending connection has gone away
	// or was already decided.
	ErrUnknownPending = errors.New("unknown pending connection")

	// ErrServerFull is returned by Accept when every client id is in use.
	ErrServerFull = errors.New("server is full")
)

// ServerFullReason is the reject reason sent when max clients is reached.
const ServerFullReason = "Server is full."

// Transport is the capability a session needs from the network.
//
// Delivery:
// Every send is reliable and ordered per connection. Messages of a client
// are queued only after that client was accepted, and in the order it sent
// them.
//
// Thread safety:
// Implementations must be safe for concurrent use. In practice the session
// calls Poll, Accept, Reject and the send methods from its tick goroutine,
// while the hosting application may send from others.
type Transport interface {
	// Start begins accepting connections on port (0 picks a free port).
	//
	// Parameters:
	//   - port: listening port
	//   - maxClients: number of simultaneous clients (pending attempts
	//     included); further attempts are rejected with ServerFullReason
	//     and reported as EventRejected instead of EventConnectAttempt
	//
	// Returns ErrAlreadyRunning if started twice.
	Start(port, maxClients int) error

	// Stop closes every connection and stops accepting new ones. Queued
	// events are discarded. Safe to call on a stopped transport.
	Stop() error

	// Poll drains every event queued since the previous call, in arrival
	// order. It never blocks.
	Poll() []Event

	// Accept admits a pending connection and returns its client id. The
	// client is connected as soon as Accept returns.
	Accept(id PendingID) (ClientID, error)

	// Reject refuses a pending connection, sending reason to the peer
	// before closing it.
	Reject(id PendingID, reason string) error

	// Send delivers msg to one client.
	Send(to ClientID, msg protocol.Message) error

	// SendToAll delivers msg to every connected client.
	SendToAll(msg protocol.Message) error

	// SendToAllExcept delivers msg to every connected client but one.
	SendToAllExcept(msg protocol.Message, except ClientID) error

	// Protocol returns a short name for logging ("tcp", "memory").
	Protocol() string

	// Port returns the bound port, or 0 when stopped.
	Port() int
}

// LowestFreeID returns the smallest id in [1, limit] not present in used.
// A limit of 0 means the full 16-bit id space.
//
// Returns false when every id is taken.
func LowestFreeID[V any](used map[ClientID]V, limit int) (ClientID, bool) {
	if limit <= 0 || limit > protocol.MaxClientID {
		limit = protocol.MaxClientID
	}
	for id := 1; id <= limit; id++ {
		if _, taken := used[ClientID(id)]; !taken {
			return ClientID(id), true
		}
	}
	return 0, false
}
