package protocol

import "errors"

var (
	ErrFrameTooLarge   = errors.New("protocol: frame too large")
	ErrTruncated       = errors.New("protocol: truncated data")
	ErrInvalidKind     = errors.New("protocol: kind out of range")
	ErrInvalidClientID = errors.New("protocol: client id out of range")
	ErrUnexpectedFrame = errors.New("protocol: unexpected frame type")
	ErrInvalidCount    = errors.New("protocol: invalid record count")
	ErrEmptyNetworkID  = errors.New("protocol: empty network id")
)
