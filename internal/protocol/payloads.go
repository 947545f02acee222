package protocol

import (
	"encoding/binary"
	"fmt"
)

// ============================================================================
// Network-class payloads
// ============================================================================
//
// Every struct below is marshalled with XDR. Fields that are 16-bit on the
// wire contract (client ids, update message types) travel as XDR unsigned
// ints and are range-checked when decoded.

// CreateRequest is sent by a client on KindNetworkClassCreated.
//
// The owner is not part of the request: the server assigns the sender.
type CreateRequest struct {
	Version    uint32
	RegisterID int32
	NetworkID  string
	JSON       string
}

// ObjectRecord is the create broadcast form. It is also the element of a
// host snapshot and the body of every relayed snapshot record.
type ObjectRecord struct {
	Version       uint32
	RegisterID    int32
	NetworkID     string
	OwnerClientID uint32
	JSON          string
}

// Owner returns the owner id as a 16-bit client id.
func (r ObjectRecord) Owner() uint16 {
	return uint16(r.OwnerClientID)
}

// UpdatePayload is sent on KindNetworkClassUpdated, both inbound and as
// the rebroadcast.
type UpdatePayload struct {
	NetworkID   string
	Version     uint32
	MessageType uint32
	JSON        string
}

// DeletePayload is sent on KindNetworkClassDeleted.
type DeletePayload struct {
	NetworkID string
}

// SyncRequest asks the host for its object list on behalf of a joining
// client (server -> host, KindNetworkClassRequestSyncData).
type SyncRequest struct {
	JoiningClientID uint32
}

// HostSnapshot is the host's answer (host -> server,
// KindNetworkClassRequestSyncData). The XDR array length is the record count.
type HostSnapshot struct {
	JoiningClientID uint32
	Records         []ObjectRecord
}

// SyncCount announces how many records will follow
// (server -> joining client, KindNetworkClassSync).
type SyncCount struct {
	Count int32
}

// minRecordSize is the XDR size of an ObjectRecord with empty strings:
// version + register id + id length + owner + json length.
const minRecordSize = 20

// DecodeCreateRequest decodes a client create request.
func DecodeCreateRequest(body []byte) (*CreateRequest, error) {
	req := &CreateRequest{}
	if err := unmarshal(body, req); err != nil {
		return nil, fmt.Errorf("decode create: %w", err)
	}
	if req.NetworkID == "" {
		return nil, ErrEmptyNetworkID
	}
	return req, nil
}

// DecodeObjectRecord decodes the create broadcast form.
func DecodeObjectRecord(body []byte) (*ObjectRecord, error) {
	rec := &ObjectRecord{}
	if err := unmarshal(body, rec); err != nil {
		return nil, fmt.Errorf("decode object record: %w", err)
	}
	if _, err := toClientID(rec.OwnerClientID); err != nil {
		return nil, err
	}
	return rec, nil
}

// DecodeUpdate decodes an update.
func DecodeUpdate(body []byte) (*UpdatePayload, error) {
	upd := &UpdatePayload{}
	if err := unmarshal(body, upd); err != nil {
		return nil, fmt.Errorf("decode update: %w", err)
	}
	if upd.MessageType > 0xFFFF {
		return nil, fmt.Errorf("decode update: message type %d out of range", upd.MessageType)
	}
	return upd, nil
}

// DecodeDelete decodes a delete.
func DecodeDelete(body []byte) (*DeletePayload, error) {
	del := &DeletePayload{}
	if err := unmarshal(body, del); err != nil {
		return nil, fmt.Errorf("decode delete: %w", err)
	}
	return del, nil
}

// DecodeSyncRequest decodes the server's request to the host.
func DecodeSyncRequest(body []byte) (uint16, error) {
	req := &SyncRequest{}
	if err := unmarshal(body, req); err != nil {
		return 0, fmt.Errorf("decode sync request: %w", err)
	}
	return toClientID(req.JoiningClientID)
}

// DecodeHostSnapshot decodes the host's snapshot reply.
//
// The declared record count is checked against the body length before the
// records are unmarshalled so a forged count cannot force a huge allocation.
func DecodeHostSnapshot(body []byte) (*HostSnapshot, error) {
	if len(body) < 8 {
		return nil, fmt.Errorf("decode host snapshot: %w", ErrTruncated)
	}
	count := binary.BigEndian.Uint32(body[4:8])
	if uint64(count)*minRecordSize > uint64(len(body)-8) {
		return nil, fmt.Errorf("decode host snapshot: %w: %d records in %d bytes",
			ErrInvalidCount, count, len(body))
	}

	snap := &HostSnapshot{}
	if err := unmarshal(body, snap); err != nil {
		return nil, fmt.Errorf("decode host snapshot: %w", err)
	}
	if _, err := toClientID(snap.JoiningClientID); err != nil {
		return nil, err
	}
	for i := range snap.Records {
		if _, err := toClientID(snap.Records[i].OwnerClientID); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	return snap, nil
}

// DecodeSyncCount decodes the count message a joining client receives.
func DecodeSyncCount(body []byte) (int, error) {
	sc := &SyncCount{}
	if err := unmarshal(body, sc); err != nil {
		return 0, fmt.Errorf("decode sync count: %w", err)
	}
	if sc.Count < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidCount, sc.Count)
	}
	return int(sc.Count), nil
}
