package session

import (
	"sync"
	"testing"
	"time"

	"github.com/marmos91/netclass/internal/protocol"
	"github.com/marmos91/netclass/pkg/transport/memory"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t   *testing.T
	mem *memory.Transport
	s   *Session
}

func newHarness(t *testing.T, password string, opts ...Option) *harness {
	t.Helper()
	mem := memory.New()
	s := New(mem, opts...)
	require.NoError(t, s.Start(7777, 8, password))
	t.Cleanup(s.Stop)
	return &harness{t: t, mem: mem, s: s}
}

// join dials with password, ticks once and requires acceptance.
func (h *harness) join(password string) *memory.Client {
	h.t.Helper()
	c := h.mem.Dial(password)
	h.s.Tick()
	require.True(h.t, c.Accepted(), "client should be accepted")
	return c
}

// send queues msg from c and ticks once.
func (h *harness) send(c *memory.Client, msg protocol.Message) {
	h.t.Helper()
	require.NoError(h.t, c.Send(msg))
	h.s.Tick()
}

func newMsg(t *testing.T, k protocol.Kind, payload any) protocol.Message {
	t.Helper()
	msg, err := protocol.NewMessage(k, payload)
	require.NoError(t, err)
	return msg
}

func createMsg(t *testing.T, networkID string, registerID int32, version uint32, json string) protocol.Message {
	return newMsg(t, protocol.KindNetworkClassCreated, &protocol.CreateRequest{
		Version: version, RegisterID: registerID, NetworkID: networkID, JSON: json,
	})
}

func updateMsg(t *testing.T, networkID string, version uint32, json string) protocol.Message {
	return newMsg(t, protocol.KindNetworkClassUpdated, &protocol.UpdatePayload{
		NetworkID: networkID, Version: version, MessageType: 1, JSON: json,
	})
}

func deleteMsg(t *testing.T, networkID string) protocol.Message {
	return newMsg(t, protocol.KindNetworkClassDeleted, &protocol.DeletePayload{NetworkID: networkID})
}

func decodeRecord(t *testing.T, msg protocol.Message) *protocol.ObjectRecord {
	t.Helper()
	rec, err := protocol.DecodeObjectRecord(msg.Body)
	require.NoError(t, err)
	return rec
}

// recordingMetrics is a SessionMetrics that remembers what it was told.
type recordingMetrics struct {
	mu        sync.Mutex
	messages  map[string]int
	errors    map[string]int
	accepted  int
	rejected  map[string]int
	closed    int
	relayed   []int
	active    int
	objects   int
	snapshots int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		messages: make(map[string]int),
		errors:   make(map[string]int),
		rejected: make(map[string]int),
	}
}

func (m *recordingMetrics) RecordMessage(kind string, _ time.Duration, errorCode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[kind]++
	if errorCode != "" {
		m.errors[errorCode]++
	}
}

func (m *recordingMetrics) RecordConnectionAccepted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accepted++
}

func (m *recordingMetrics) RecordConnectionRejected(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[reason]++
}

func (m *recordingMetrics) RecordConnectionClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
}

func (m *recordingMetrics) SetActiveConnections(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = count
}

func (m *recordingMetrics) SetOwnedObjects(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects = count
}

func (m *recordingMetrics) SetPendingSnapshots(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = count
}

func (m *recordingMetrics) RecordSnapshotRelayed(records int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.relayed = append(m.relayed, records)
}
