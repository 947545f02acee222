package session

import (
	"errors"
	"fmt"

	"github.com/marmos91/netclass/pkg/transport"
)

// Error is a recoverable session failure.
//
// None of these errors travels over the wire and none of them disconnects
// the offending client: the dispatcher logs them and moves on.
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// NetworkID is the object involved, if any
	NetworkID string

	// Client is the client that caused the failure
	Client transport.ClientID
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.NetworkID != "" {
		msg = fmt.Sprintf("%s: %q", msg, e.NetworkID)
	}
	if e.Client != 0 {
		msg = fmt.Sprintf("%s (client %d)", msg, e.Client)
	}
	return msg
}

// ErrorCode represents the category of a session error.
type ErrorCode int

const (
	// ErrRejected indicates a connection attempt failed the gate.
	// The connection never joins the session.
	ErrRejected ErrorCode = iota + 1

	// ErrDuplicateObject indicates a create for a network id that is
	// already registered.
	ErrDuplicateObject

	// ErrUnauthorized indicates an update or delete by a non-owner, or a
	// create by a non-host while non-host ownership is disabled.
	ErrUnauthorized

	// ErrUnknownObject indicates an update or delete for a network id
	// that is not registered.
	ErrUnknownObject

	// ErrSnapshotPermissionDenied indicates a snapshot reply from a
	// client other than the host, a reply nobody asked for, or a
	// confirmation without a ready snapshot.
	ErrSnapshotPermissionDenied
)

func (c ErrorCode) String() string {
	switch c {
	case ErrRejected:
		return "Rejected"
	case ErrDuplicateObject:
		return "DuplicateObject"
	case ErrUnauthorized:
		return "Unauthorized"
	case ErrUnknownObject:
		return "UnknownObject"
	case ErrSnapshotPermissionDenied:
		return "SnapshotPermissionDenied"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// IsCode reports whether err is a session *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == code
}

// errorCodeLabel returns the metrics label for err: "" for nil, the code
// name for session errors and "Malformed" for anything else.
func errorCodeLabel(err error) string {
	if err == nil {
		return ""
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code.String()
	}
	return "Malformed"
}
