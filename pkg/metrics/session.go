package metrics

import "time"

// SessionMetrics provides observability for a running session.
//
// Implementations can collect metrics about dispatched messages, the
// connection lifecycle and the size of the ownership and snapshot tables.
// If not provided to the session, a no-op implementation is used.
//
// Example usage:
//
//	// With metrics enabled
//	s := session.New(t, session.WithMetrics(prometheus.NewSessionMetrics()))
//
//	// Without metrics (no-op)
//	s := session.New(t)
type SessionMetrics interface {
	// RecordMessage records one dispatched message.
	//
	// Parameters:
	//   - kind: message kind name (e.g., "NetworkClassCreated", "Application")
	//   - duration: time spent handling it
	//   - errorCode: failure category, "" on success
	RecordMessage(kind string, duration time.Duration, errorCode string)

	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionRejected increments the rejected connections counter.
	//
	// Parameters:
	//   - reason: short rejection category (e.g., "password")
	RecordConnectionRejected(reason string)

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()

	// SetActiveConnections updates the connected client gauge.
	SetActiveConnections(count int)

	// SetOwnedObjects updates the registered network object gauge.
	SetOwnedObjects(count int)

	// SetPendingSnapshots updates the pending snapshot gauge.
	SetPendingSnapshots(count int)

	// RecordSnapshotRelayed records one completed snapshot relay.
	//
	// Parameters:
	//   - records: number of records sent to the joining client
	RecordSnapshotRelayed(records int)
}

// NewNoopSessionMetrics returns a SessionMetrics that records nothing.
func NewNoopSessionMetrics() SessionMetrics {
	return noopSessionMetrics{}
}

// noopSessionMetrics is a no-op implementation of SessionMetrics with zero overhead.
type noopSessionMetrics struct{}

func (noopSessionMetrics) RecordMessage(kind string, duration time.Duration, errorCode string) {}
func (noopSessionMetrics) RecordConnectionAccepted()                                           {}
func (noopSessionMetrics) RecordConnectionRejected(reason string)                              {}
func (noopSessionMetrics) RecordConnectionClosed()                                             {}
func (noopSessionMetrics) SetActiveConnections(count int)                                      {}
func (noopSessionMetrics) SetOwnedObjects(count int)                                           {}
func (noopSessionMetrics) SetPendingSnapshots(count int)                                       {}
func (noopSessionMetrics) RecordSnapshotRelayed(records int)                                   {}
