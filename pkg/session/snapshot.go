package session

import (
	"github.com/marmos91/netclass/internal/protocol"
	"github.com/marmos91/netclass/pkg/transport"
)

// SnapshotState is the progress of one joining client's snapshot.
type SnapshotState int

const (
	// SnapshotIdle means no snapshot is in flight for the client.
	SnapshotIdle SnapshotState = iota

	// SnapshotAwaitingHostReply means the host was asked and has not
	// answered yet.
	SnapshotAwaitingHostReply

	// SnapshotReady means the host's records are buffered and the
	// joining client was told how many to expect.
	SnapshotReady
)

func (s SnapshotState) String() string {
	switch s {
	case SnapshotIdle:
		return "Idle"
	case SnapshotAwaitingHostReply:
		return "AwaitingHostReply"
	case SnapshotReady:
		return "Ready"
	default:
		return "Unknown"
	}
}

type pendingSnapshot struct {
	state   SnapshotState
	records []protocol.ObjectRecord
}

// Coordinator buffers host snapshots until the joining client confirms.
//
// The host's reply and the client's confirmation are independent network
// events, so each joining client walks Idle -> AwaitingHostReply -> Ready
// -> Idle. Entries are dropped eagerly on disconnect; there is no timeout.
//
// Client ids are reused, so a joiner that leaves while the host still owes
// it a reply leaves a debt behind. The host answers requests in the order
// it received them, so the next reply naming that id is the stale one and
// is dropped instead of being taken for a newer joiner with the same id.
//
// Thread safety:
// Not safe for concurrent use. The session drives it from the tick only.
type Coordinator struct {
	pending map[transport.ClientID]*pendingSnapshot
	owed    map[transport.ClientID]int
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		pending: make(map[transport.ClientID]*pendingSnapshot),
		owed:    make(map[transport.ClientID]int),
	}
}

// Open starts a snapshot for a joining client. Any previous entry for the
// same client is replaced.
func (c *Coordinator) Open(joining transport.ClientID) {
	c.pending[joining] = &pendingSnapshot{state: SnapshotAwaitingHostReply}
}

// HostReply buffers the host's records for joining.
//
// Parameters:
//   - from: the client that sent the reply
//   - host: the session host
//   - joining: the client the reply is for
//   - records: the host's object list, in order
//
// Fails with ErrSnapshotPermissionDenied when from is not the host, when
// the reply answers a request made for a departed client, or when joining
// has no snapshot awaiting a reply.
func (c *Coordinator) HostReply(from, host, joining transport.ClientID, records []protocol.ObjectRecord) error {
	if from != host {
		return &Error{
			Code:    ErrSnapshotPermissionDenied,
			Message: "snapshot reply from non-host",
			Client:  from,
		}
	}

	if c.owed[joining] > 0 {
		c.owed[joining]--
		if c.owed[joining] == 0 {
			delete(c.owed, joining)
		}
		return &Error{
			Code:    ErrSnapshotPermissionDenied,
			Message: "stale snapshot reply for a departed client",
			Client:  joining,
		}
	}

	entry, ok := c.pending[joining]
	if !ok || entry.state != SnapshotAwaitingHostReply {
		return &Error{
			Code:    ErrSnapshotPermissionDenied,
			Message: "snapshot reply for a client that is not waiting for one",
			Client:  joining,
		}
	}

	entry.records = append([]protocol.ObjectRecord(nil), records...)
	entry.state = SnapshotReady
	return nil
}

// Confirm hands back the buffered records for joining and drops the entry.
//
// Fails with ErrSnapshotPermissionDenied when there is no entry or the host
// has not replied yet; in the latter case the entry is kept.
func (c *Coordinator) Confirm(joining transport.ClientID) ([]protocol.ObjectRecord, error) {
	entry, ok := c.pending[joining]
	if !ok {
		return nil, &Error{
			Code:    ErrSnapshotPermissionDenied,
			Message: "sync confirmation without a pending snapshot",
			Client:  joining,
		}
	}
	if entry.state != SnapshotReady {
		return nil, &Error{
			Code:    ErrSnapshotPermissionDenied,
			Message: "sync confirmation before the host replied",
			Client:  joining,
		}
	}

	delete(c.pending, joining)
	return entry.records, nil
}

// Discard drops the entry for id, if any. Returns true if one existed.
func (c *Coordinator) Discard(id transport.ClientID) bool {
	entry, ok := c.pending[id]
	if !ok {
		return false
	}
	if entry.state == SnapshotAwaitingHostReply {
		c.owed[id]++
	}
	delete(c.pending, id)
	return true
}

// State returns the snapshot state of id.
func (c *Coordinator) State(id transport.ClientID) SnapshotState {
	if entry, ok := c.pending[id]; ok {
		return entry.state
	}
	return SnapshotIdle
}

// Len returns the number of snapshots in flight.
func (c *Coordinator) Len() int {
	return len(c.pending)
}

// Clear drops every entry.
func (c *Coordinator) Clear() {
	c.pending = make(map[transport.ClientID]*pendingSnapshot)
	c.owed = make(map[transport.ClientID]int)
}
