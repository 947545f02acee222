package protocol

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// Message is one application-level message: a kind plus an opaque,
// already-encoded body.
type Message struct {
	Kind Kind
	Body []byte
}

// NewMessage encodes payload with XDR and wraps it as a message of kind k.
// A nil payload produces an empty body.
func NewMessage(k Kind, payload any) (Message, error) {
	if payload == nil {
		return Message{Kind: k}, nil
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, payload); err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", k, err)
	}
	return Message{Kind: k, Body: buf.Bytes()}, nil
}

// Envelope is the XDR body of every frame on the wire.
//
// Wire Format (XDR encoding):
//   - Type: 4 bytes (FrameType)
//   - Kind: 4 bytes (message kind, 0..65535)
//   - Body: variable opaque (payload, padded to 4 bytes)
type Envelope struct {
	Type uint32
	Kind uint32
	Body []byte
}

// EncodeEnvelope marshals a frame body for t/msg.
func EncodeEnvelope(t FrameType, msg Message) ([]byte, error) {
	env := Envelope{
		Type: uint32(t),
		Kind: uint32(msg.Kind),
		Body: msg.Body,
	}
	if env.Body == nil {
		env.Body = []byte{}
	}

	buf := bytes.NewBuffer(make([]byte, 0, 12+len(msg.Body)))
	if _, err := xdr.Marshal(buf, &env); err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeEnvelope parses a frame body produced by EncodeEnvelope.
func DecodeEnvelope(data []byte) (FrameType, Message, error) {
	var env Envelope
	if err := unmarshal(data, &env); err != nil {
		return 0, Message{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Kind > 0xFFFF {
		return 0, Message{}, fmt.Errorf("%w: %d", ErrInvalidKind, env.Kind)
	}

	switch FrameType(env.Type) {
	case FrameData, FrameConnect, FrameAccept, FrameReject:
	default:
		return 0, Message{}, fmt.Errorf("%w: %d", ErrUnexpectedFrame, env.Type)
	}

	return FrameType(env.Type), Message{Kind: Kind(env.Kind), Body: env.Body}, nil
}

// ============================================================================
// Handshake frames
// ============================================================================

// ConnectRequest is the first frame a client sends.
type ConnectRequest struct {
	Password string
}

// ConnectAccepted assigns the client id.
type ConnectAccepted struct {
	ClientID uint32
}

// ConnectRejected carries a human-readable reason.
type ConnectRejected struct {
	Reason string
}

// EncodeConnect builds the frame body of a handshake request.
func EncodeConnect(password string) ([]byte, error) {
	msg, err := NewMessage(0, &ConnectRequest{Password: password})
	if err != nil {
		return nil, err
	}
	return EncodeEnvelope(FrameConnect, msg)
}

// EncodeAccept builds the frame body of a handshake acceptance.
func EncodeAccept(clientID uint16) ([]byte, error) {
	msg, err := NewMessage(0, &ConnectAccepted{ClientID: uint32(clientID)})
	if err != nil {
		return nil, err
	}
	return EncodeEnvelope(FrameAccept, msg)
}

// EncodeReject builds the frame body of a handshake rejection.
func EncodeReject(reason string) ([]byte, error) {
	msg, err := NewMessage(0, &ConnectRejected{Reason: reason})
	if err != nil {
		return nil, err
	}
	return EncodeEnvelope(FrameReject, msg)
}

// DecodeConnect parses the body of a FrameConnect envelope.
func DecodeConnect(body []byte) (*ConnectRequest, error) {
	req := &ConnectRequest{}
	if err := unmarshal(body, req); err != nil {
		return nil, fmt.Errorf("decode connect: %w", err)
	}
	return req, nil
}

// DecodeAccept parses the body of a FrameAccept envelope.
func DecodeAccept(body []byte) (uint16, error) {
	resp := &ConnectAccepted{}
	if err := unmarshal(body, resp); err != nil {
		return 0, fmt.Errorf("decode accept: %w", err)
	}
	return toClientID(resp.ClientID)
}

// DecodeReject parses the body of a FrameReject envelope.
func DecodeReject(body []byte) (string, error) {
	resp := &ConnectRejected{}
	if err := unmarshal(body, resp); err != nil {
		return "", fmt.Errorf("decode reject: %w", err)
	}
	return resp.Reason, nil
}

// unmarshal decodes body into v. No string, opaque or array may declare
// more elements than body has bytes, so a forged length fails before
// anything is allocated for it.
func unmarshal(body []byte, v any) error {
	if len(body) == 0 {
		return ErrTruncated
	}
	if _, err := xdr.UnmarshalLimited(bytes.NewReader(body), v, uint(len(body))); err != nil {
		return err
	}
	return nil
}

func toClientID(v uint32) (uint16, error) {
	if v > MaxClientID {
		return 0, fmt.Errorf("%w: %d", ErrInvalidClientID, v)
	}
	return uint16(v), nil
}
