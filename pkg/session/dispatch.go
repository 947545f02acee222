package session

import (
	"errors"
	"time"

	"github.com/marmos91/netclass/internal/logger"
	"github.com/marmos91/netclass/internal/protocol"
	"github.com/marmos91/netclass/pkg/metrics"
	"github.com/marmos91/netclass/pkg/transport"
)

// MessageHandler receives every message whose kind is outside the reserved
// network-class block. The session never assumes exclusive use of the
// transport.
//
// HandleMessage runs on the tick goroutine and must not block.
type MessageHandler interface {
	HandleMessage(from transport.ClientID, msg protocol.Message)
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(from transport.ClientID, msg protocol.Message)

// HandleMessage calls f(from, msg).
func (f MessageHandlerFunc) HandleMessage(from transport.ClientID, msg protocol.Message) {
	f(from, msg)
}

// applicationKindName labels forwarded messages in metrics.
const applicationKindName = "Application"

// ============================================================================
// Dispatch Table
// ============================================================================

// kindHandler processes the body of one reserved message kind.
//
// A returned error means the message was dropped: no table was changed and
// nothing was sent.
type kindHandler func(d *Dispatcher, from transport.ClientID, body []byte) error

// kindInfo contains metadata about a reserved kind for dispatch.
type kindInfo struct {
	// Name is the kind name for logging and metrics
	Name string

	// Handler is the function that processes this kind
	Handler kindHandler
}

// dispatchTable maps every reserved kind to its handler.
var dispatchTable map[protocol.Kind]*kindInfo

func init() {
	dispatchTable = map[protocol.Kind]*kindInfo{
		protocol.KindNetworkClassCreated: {
			Name:    protocol.KindNetworkClassCreated.String(),
			Handler: handleCreate,
		},
		protocol.KindNetworkClassUpdated: {
			Name:    protocol.KindNetworkClassUpdated.String(),
			Handler: handleUpdate,
		},
		protocol.KindNetworkClassDeleted: {
			Name:    protocol.KindNetworkClassDeleted.String(),
			Handler: handleDelete,
		},
		protocol.KindNetworkClassSync: {
			Name:    protocol.KindNetworkClassSync.String(),
			Handler: handleSyncConfirm,
		},
		protocol.KindNetworkClassRequestSyncData: {
			Name:    protocol.KindNetworkClassRequestSyncData.String(),
			Handler: handleHostSnapshot,
		},
	}
}

// Dispatcher routes inbound messages by kind.
//
// Reserved kinds go through the registry or the snapshot coordinator and,
// on success, are re-encoded and sent on. Every other kind is forwarded
// unmodified to the application's MessageHandler.
type Dispatcher struct {
	transport transport.Transport
	registry  *Registry
	snapshots *Coordinator
	handler   MessageHandler
	metrics   metrics.SessionMetrics
}

// NewDispatcher wires a dispatcher. handler may be nil, in which case
// application messages are dropped. A nil m records nothing.
func NewDispatcher(
	t transport.Transport,
	registry *Registry,
	snapshots *Coordinator,
	handler MessageHandler,
	m metrics.SessionMetrics,
) *Dispatcher {
	if m == nil {
		m = metrics.NewNoopSessionMetrics()
	}
	return &Dispatcher{
		transport: t,
		registry:  registry,
		snapshots: snapshots,
		handler:   handler,
		metrics:   m,
	}
}

// Dispatch handles one inbound message from an accepted client.
//
// Failures are logged here and returned for the caller's information only;
// they never reach the network and never disconnect the sender.
func (d *Dispatcher) Dispatch(from transport.ClientID, msg protocol.Message) error {
	start := time.Now()

	if !msg.Kind.IsReserved() {
		if d.handler == nil {
			logger.Debug("No message handler: dropping kind %d from client %d", msg.Kind, from)
		} else {
			d.handler.HandleMessage(from, msg)
		}
		d.metrics.RecordMessage(applicationKindName, time.Since(start), "")
		return nil
	}

	info, ok := dispatchTable[msg.Kind]
	if !ok {
		logger.Debug("Reserved kind %d from client %d has no handler", msg.Kind, from)
		return nil
	}

	err := info.Handler(d, from, msg.Body)
	d.metrics.RecordMessage(info.Name, time.Since(start), errorCodeLabel(err))
	if err != nil {
		logFailure(info.Name, from, err)
	}
	return err
}

func logFailure(kind string, from transport.ClientID, err error) {
	var se *Error
	if !errors.As(err, &se) {
		logger.Warn("%s: malformed message from client %d dropped: %v", kind, from, err)
		return
	}

	switch se.Code {
	case ErrSnapshotPermissionDenied:
		logger.Error("%s: %v", kind, err)
	default:
		logger.Warn("%s: %s: %v", kind, se.Code, err)
	}
}

// ============================================================================
// Handlers
// ============================================================================

// handleCreate registers a new object owned by the sender and broadcasts
// it to every client, sender included, so the creator learns its owner id.
func handleCreate(d *Dispatcher, from transport.ClientID, body []byte) error {
	// Policy first: a forbidden creator is refused without decoding.
	if err := d.registry.AuthorizeCreate(from); err != nil {
		return err
	}

	req, err := protocol.DecodeCreateRequest(body)
	if err != nil {
		return err
	}
	if err := d.registry.Create(req.NetworkID, from); err != nil {
		return err
	}

	rec := protocol.ObjectRecord{
		Version:       req.Version,
		RegisterID:    req.RegisterID,
		NetworkID:     req.NetworkID,
		OwnerClientID: uint32(from),
		JSON:          req.JSON,
	}
	d.sendToAll(protocol.KindNetworkClassCreated, &rec)
	logger.Debug("Object %q (register %d) created by client %d", rec.NetworkID, rec.RegisterID, from)
	return nil
}

// handleUpdate checks ownership and rebroadcasts to everyone but the sender.
func handleUpdate(d *Dispatcher, from transport.ClientID, body []byte) error {
	upd, err := protocol.DecodeUpdate(body)
	if err != nil {
		return err
	}
	if err := d.registry.Update(upd.NetworkID, from); err != nil {
		return err
	}

	msg, err := protocol.NewMessage(protocol.KindNetworkClassUpdated, upd)
	if err != nil {
		return err
	}
	if err := d.transport.SendToAllExcept(msg, from); err != nil {
		logger.Warn("Failed to relay update of %q: %v", upd.NetworkID, err)
	}
	return nil
}

// handleDelete removes an object owned by the sender and broadcasts the
// deletion to every client.
func handleDelete(d *Dispatcher, from transport.ClientID, body []byte) error {
	del, err := protocol.DecodeDelete(body)
	if err != nil {
		return err
	}
	if err := d.registry.Delete(del.NetworkID, from); err != nil {
		return err
	}

	d.sendToAll(protocol.KindNetworkClassDeleted, del)
	logger.Debug("Object %q deleted by client %d", del.NetworkID, from)
	return nil
}

// handleHostSnapshot buffers the host's object list for a joining client
// and tells that client how many records to expect.
func handleHostSnapshot(d *Dispatcher, from transport.ClientID, body []byte) error {
	snap, err := protocol.DecodeHostSnapshot(body)
	if err != nil {
		return err
	}

	host, ok := d.registry.Host()
	if !ok {
		return &Error{Code: ErrSnapshotPermissionDenied, Message: "snapshot reply without a host", Client: from}
	}
	joining := transport.ClientID(snap.JoiningClientID)
	if err := d.snapshots.HostReply(from, host, joining, snap.Records); err != nil {
		return err
	}

	count, err := protocol.NewMessage(protocol.KindNetworkClassSync, &protocol.SyncCount{Count: int32(len(snap.Records))})
	if err != nil {
		return err
	}
	if err := d.transport.Send(joining, count); err != nil {
		logger.Warn("Failed to announce snapshot to client %d: %v", joining, err)
	}
	logger.Debug("Snapshot of %d record(s) buffered for client %d", len(snap.Records), joining)
	return nil
}

// handleSyncConfirm relays the buffered snapshot to the confirming client,
// one record per message, in the host's order.
func handleSyncConfirm(d *Dispatcher, from transport.ClientID, _ []byte) error {
	records, err := d.snapshots.Confirm(from)
	if err != nil {
		return err
	}

	for i := range records {
		msg, err := protocol.NewMessage(protocol.KindNetworkClassSync, &records[i])
		if err != nil {
			return err
		}
		if err := d.transport.Send(from, msg); err != nil {
			logger.Warn("Snapshot relay to client %d stopped after %d of %d record(s): %v",
				from, i, len(records), err)
			return nil
		}
	}

	d.metrics.RecordSnapshotRelayed(len(records))
	logger.Debug("Relayed %d snapshot record(s) to client %d", len(records), from)
	return nil
}

func (d *Dispatcher) sendToAll(k protocol.Kind, payload any) {
	msg, err := protocol.NewMessage(k, payload)
	if err != nil {
		logger.Error("Failed to encode %s broadcast: %v", k, err)
		return
	}
	if err := d.transport.SendToAll(msg); err != nil {
		logger.Warn("Failed to broadcast %s: %v", k, err)
	}
}
