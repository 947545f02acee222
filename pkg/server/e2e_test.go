package server

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/marmos91/netclass/internal/protocol"
	"github.com/marmos91/netclass/pkg/session"
	"github.com/marmos91/netclass/pkg/transport"
	"github.com/marmos91/netclass/pkg/transport/tcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tcpContext is a running server on a loopback TCP transport.
type tcpContext struct {
	t    *testing.T
	tr   *tcp.Transport
	srv  *Server
	addr string
}

func newTCPContext(t *testing.T, opts Options) *tcpContext {
	t.Helper()

	tr := tcp.New(tcp.Config{HandshakeTimeout: 2 * time.Second})
	srv := New(session.New(tr), opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := serveAsync(ctx, srv)
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	require.Eventually(t, func() bool { return tr.Port() != 0 }, waitFor, pollEvery)
	return &tcpContext{t: t, tr: tr, srv: srv, addr: fmt.Sprintf("127.0.0.1:%d", tr.Port())}
}

func (tc *tcpContext) dial(password string) (*tcp.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := tcp.Dial(ctx, tc.addr, password)
	if err == nil {
		tc.t.Cleanup(func() { _ = c.Close() })
	}
	return c, err
}

func (tc *tcpContext) connect(password string) *tcp.Client {
	tc.t.Helper()
	c, err := tc.dial(password)
	require.NoError(tc.t, err)
	return c
}

// receiveKind reads until a message of kind k arrives.
func receiveKind(t *testing.T, c *tcp.Client, k protocol.Kind) protocol.Message {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		msg, err := c.Receive()
		require.NoError(t, err, "waiting for %s", k)
		if msg.Kind == k {
			return msg
		}
	}
}

func mustMessage(t *testing.T, k protocol.Kind, payload any) protocol.Message {
	t.Helper()
	msg, err := protocol.NewMessage(k, payload)
	require.NoError(t, err)
	return msg
}

func TestTCP_LateJoinReceivesHostSnapshot(t *testing.T) {
	tc := newTCPContext(t, Options{MaxClients: 4, TickRate: 200})

	host := tc.connect("")
	require.Equal(t, transport.ClientID(1), host.ID())

	require.NoError(t, host.Send(mustMessage(t, protocol.KindNetworkClassCreated, &protocol.CreateRequest{
		Version: 1, RegisterID: 7, NetworkID: "door-1", JSON: `{"open":false}`,
	})))
	echo, err := protocol.DecodeObjectRecord(receiveKind(t, host, protocol.KindNetworkClassCreated).Body)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), echo.Owner())

	joiner := tc.connect("")
	require.Equal(t, transport.ClientID(2), joiner.ID())

	// The host is asked for its objects on behalf of the joiner
	joining, err := protocol.DecodeSyncRequest(receiveKind(t, host, protocol.KindNetworkClassRequestSyncData).Body)
	require.NoError(t, err)
	require.Equal(t, uint16(2), joining)

	require.NoError(t, host.Send(mustMessage(t, protocol.KindNetworkClassRequestSyncData, &protocol.HostSnapshot{
		JoiningClientID: uint32(joining),
		Records:         []protocol.ObjectRecord{*echo},
	})))

	count, err := protocol.DecodeSyncCount(receiveKind(t, joiner, protocol.KindNetworkClassSync).Body)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, joiner.Send(protocol.Message{Kind: protocol.KindNetworkClassSync}))
	rec, err := protocol.DecodeObjectRecord(receiveKind(t, joiner, protocol.KindNetworkClassSync).Body)
	require.NoError(t, err)
	assert.Equal(t, "door-1", rec.NetworkID)
	assert.Equal(t, int32(7), rec.RegisterID)
	assert.Equal(t, uint16(1), rec.Owner())
	assert.Equal(t, `{"open":false}`, rec.JSON)

	// Owner updates reach everyone else
	require.NoError(t, host.Send(mustMessage(t, protocol.KindNetworkClassUpdated, &protocol.UpdatePayload{
		NetworkID: "door-1", Version: 2, MessageType: 3, JSON: `{"open":true}`,
	})))
	upd, err := protocol.DecodeUpdate(receiveKind(t, joiner, protocol.KindNetworkClassUpdated).Body)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), upd.Version)
	assert.Equal(t, `{"open":true}`, upd.JSON)
}

func TestTCP_PasswordAndCapacity(t *testing.T) {
	tc := newTCPContext(t, Options{MaxClients: 1, Password: "letmein", TickRate: 200})

	_, err := tc.dial("nope")
	var rejected *tcp.RejectedError
	require.True(t, errors.As(err, &rejected), "expected rejection, got %v", err)
	assert.Equal(t, session.IncorrectPasswordReason, rejected.Reason)

	tc.connect("letmein")

	_, err = tc.dial("letmein")
	require.True(t, errors.As(err, &rejected), "expected rejection, got %v", err)
	assert.Equal(t, transport.ServerFullReason, rejected.Reason)
}

func TestTCP_HostLeavesAndSessionRestarts(t *testing.T) {
	tc := newTCPContext(t, Options{MaxClients: 4, TickRate: 200, RestartOnHostDisconnect: true})

	host := tc.connect("")
	guest := tc.connect("")
	require.Equal(t, transport.ClientID(2), guest.ID())

	require.NoError(t, host.Close())
	require.Eventually(t, func() bool { return tc.srv.Restarts() == 1 }, waitFor, pollEvery)

	// The guest was dropped with the old run
	require.NoError(t, guest.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, err := guest.Receive(); err != nil {
			break
		}
	}

	// Same port, fresh id space
	next := tc.connect("")
	assert.Equal(t, transport.ClientID(1), next.ID())
}
