package tcp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/marmos91/netclass/internal/protocol"
	"github.com/marmos91/netclass/internal/ratelimiter"
	"github.com/marmos91/netclass/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dialResult struct {
	client *Client
	err    error
}

func startTransport(t *testing.T, cfg Config, maxClients int) *Transport {
	t.Helper()
	tr := New(cfg)
	require.NoError(t, tr.Start(0, maxClients))
	t.Cleanup(func() { _ = tr.Stop() })
	require.NotZero(t, tr.Port())
	return tr
}

func addr(tr *Transport) string {
	return fmt.Sprintf("127.0.0.1:%d", tr.Port())
}

func dialAsync(tr *Transport, password string) <-chan dialResult {
	out := make(chan dialResult, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c, err := Dial(ctx, addr(tr), password)
		out <- dialResult{client: c, err: err}
	}()
	return out
}

// waitEvents polls until n events have been collected or the timeout hits.
func waitEvents(t *testing.T, tr *Transport, n int) []transport.Event {
	t.Helper()
	var events []transport.Event
	deadline := time.Now().Add(3 * time.Second)
	for len(events) < n && time.Now().Before(deadline) {
		events = append(events, tr.Poll()...)
		if len(events) < n {
			time.Sleep(5 * time.Millisecond)
		}
	}
	require.Len(t, events, n)
	return events
}

// connect dials, accepts the attempt and returns the connected client.
func connect(t *testing.T, tr *Transport, password string) *Client {
	t.Helper()
	res := dialAsync(tr, password)

	events := waitEvents(t, tr, 1)
	require.Equal(t, transport.EventConnectAttempt, events[0].Type)
	assert.Equal(t, password, events[0].Credential)

	id, err := tr.Accept(events[0].Pending)
	require.NoError(t, err)

	r := <-res
	require.NoError(t, r.err)
	assert.Equal(t, id, r.client.ID())
	t.Cleanup(func() { _ = r.client.Close() })
	return r.client
}

func receive(t *testing.T, c *Client) protocol.Message {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(3*time.Second)))
	msg, err := c.Receive()
	require.NoError(t, err)
	return msg
}

func TestAcceptAndExchange(t *testing.T) {
	tr := startTransport(t, Config{}, 4)

	c1 := connect(t, tr, "pw")
	c2 := connect(t, tr, "pw")
	assert.Equal(t, transport.ClientID(1), c1.ID())
	assert.Equal(t, transport.ClientID(2), c2.ID())

	require.NoError(t, c2.Send(protocol.Message{Kind: 12, Body: []byte{1, 2, 3, 4}}))
	events := waitEvents(t, tr, 1)
	assert.Equal(t, transport.EventMessage, events[0].Type)
	assert.Equal(t, transport.ClientID(2), events[0].Client)
	assert.Equal(t, protocol.Kind(12), events[0].Message.Kind)
	assert.Equal(t, []byte{1, 2, 3, 4}, events[0].Message.Body)

	require.NoError(t, tr.Send(1, protocol.Message{Kind: 5, Body: []byte("one")}))
	assert.Equal(t, "one", string(receive(t, c1).Body))

	require.NoError(t, tr.SendToAllExcept(protocol.Message{Kind: 6}, 1))
	assert.Equal(t, protocol.Kind(6), receive(t, c2).Kind)

	require.NoError(t, tr.SendToAll(protocol.Message{Kind: 7}))
	assert.Equal(t, protocol.Kind(7), receive(t, c1).Kind)
	assert.Equal(t, protocol.Kind(7), receive(t, c2).Kind)

	assert.ErrorIs(t, tr.Send(9, protocol.Message{Kind: 1}), transport.ErrUnknownClient)
}

func TestReject(t *testing.T) {
	tr := startTransport(t, Config{}, 4)

	res := dialAsync(tr, "wrong")
	events := waitEvents(t, tr, 1)
	require.NoError(t, tr.Reject(events[0].Pending, "Incorrect password."))

	r := <-res
	var rejected *RejectedError
	require.True(t, errors.As(r.err, &rejected), "got %v", r.err)
	assert.Equal(t, "Incorrect password.", rejected.Reason)

	assert.ErrorIs(t, tr.Reject(events[0].Pending, "again"), transport.ErrUnknownPending)
}

func TestServerFull(t *testing.T) {
	tr := startTransport(t, Config{}, 1)
	connect(t, tr, "")

	r := <-dialAsync(tr, "")
	var rejected *RejectedError
	require.True(t, errors.As(r.err, &rejected), "got %v", r.err)
	assert.Equal(t, transport.ServerFullReason, rejected.Reason)

	events := tr.Poll()
	require.Len(t, events, 1, "a full server reports the refusal, not an attempt")
	assert.Equal(t, transport.EventRejected, events[0].Type)
	assert.Equal(t, transport.ServerFullReason, events[0].Reason)
	assert.NotEmpty(t, events[0].RemoteAddr)
}

func TestDisconnectEvent(t *testing.T) {
	tr := startTransport(t, Config{}, 4)

	c := connect(t, tr, "")
	require.NoError(t, c.Close())

	events := waitEvents(t, tr, 1)
	assert.Equal(t, transport.EventDisconnected, events[0].Type)
	assert.Equal(t, transport.ClientID(1), events[0].Client)

	again := connect(t, tr, "")
	assert.Equal(t, transport.ClientID(1), again.ID(), "freed id is reused")
}

func TestOversizedFrameClosesConnection(t *testing.T) {
	tr := startTransport(t, Config{MaxFrameSize: 64}, 4)

	c := connect(t, tr, "")
	require.NoError(t, c.Send(protocol.Message{Kind: 1, Body: make([]byte, 200)}))

	events := waitEvents(t, tr, 1)
	assert.Equal(t, transport.EventDisconnected, events[0].Type)
}

func TestSlowReaderDoesNotBlockSenders(t *testing.T) {
	tr := startTransport(t, Config{WriteTimeout: 3 * time.Second, SendQueueSize: 8}, 4)

	// Never reads.
	slow := connect(t, tr, "")
	require.Equal(t, transport.ClientID(1), slow.ID())

	payload := make([]byte, 512*1024)
	var longest time.Duration
	var sendErr error
	for i := 0; i < 256 && sendErr == nil; i++ {
		start := time.Now()
		sendErr = tr.SendToAll(protocol.Message{Kind: 1, Body: payload})
		if d := time.Since(start); d > longest {
			longest = d
		}
	}

	require.ErrorIs(t, sendErr, ErrSendQueueFull)
	assert.Less(t, longest, time.Second, "sends must not wait on the socket")

	events := waitEvents(t, tr, 1)
	assert.Equal(t, transport.EventDisconnected, events[0].Type)
	assert.Equal(t, transport.ClientID(1), events[0].Client)

	fresh := connect(t, tr, "")
	require.NoError(t, tr.SendToAll(protocol.Message{Kind: 2, Body: []byte("hi")}))
	assert.Equal(t, "hi", string(receive(t, fresh).Body))
}

func TestRejectFrameFlushedBeforeClose(t *testing.T) {
	tr := startTransport(t, Config{}, 4)

	for i := 0; i < 3; i++ {
		res := dialAsync(tr, "")
		events := waitEvents(t, tr, 1)
		require.NoError(t, tr.Reject(events[0].Pending, "go away"))

		r := <-res
		var rejected *RejectedError
		require.True(t, errors.As(r.err, &rejected), "got %v", r.err)
		assert.Equal(t, "go away", rejected.Reason)
	}
}

func TestRateLimitDropsFrames(t *testing.T) {
	cfg := Config{RateLimit: ratelimiter.Config{RequestsPerSecond: 1, Burst: 1}}
	tr := startTransport(t, cfg, 4)

	c := connect(t, tr, "")
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Send(protocol.Message{Kind: protocol.Kind(i)}))
	}

	events := waitEvents(t, tr, 1)
	time.Sleep(100 * time.Millisecond)
	events = append(events, tr.Poll()...)

	require.Len(t, events, 1)
	assert.Equal(t, protocol.Kind(0), events[0].Message.Kind)
}

func TestHandshakeTimeout(t *testing.T) {
	tr := startTransport(t, Config{HandshakeTimeout: 100 * time.Millisecond}, 4)

	res := dialAsync(tr, "")
	events := waitEvents(t, tr, 1)

	r := <-res
	require.Error(t, r.err, "undecided attempt must time out")

	_, err := tr.Accept(events[0].Pending)
	assert.ErrorIs(t, err, transport.ErrUnknownPending)
}

func TestStopClosesClients(t *testing.T) {
	tr := New(Config{ShutdownTimeout: 2 * time.Second})
	require.NoError(t, tr.Start(0, 4))

	c := connect(t, tr, "")
	require.NoError(t, tr.Stop())

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := c.Receive()
	assert.Error(t, err)
	assert.Empty(t, tr.Poll(), "stop does not report disconnects")
	assert.Equal(t, 0, tr.Port())
	assert.ErrorIs(t, tr.SendToAll(protocol.Message{Kind: 1}), transport.ErrNotRunning)

	require.NoError(t, tr.Start(0, 4), "a stopped transport can restart")
	require.NoError(t, tr.Stop())
}

func TestNew_InvalidConfigPanics(t *testing.T) {
	assert.Panics(t, func() {
		New(Config{ShutdownTimeout: -time.Second})
	})
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()

	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 10*time.Second, cfg.HandshakeTimeout)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, uint32(protocol.DefaultMaxFrameSize), cfg.MaxFrameSize)
	assert.Equal(t, DefaultSendQueueSize, cfg.SendQueueSize)
	assert.NoError(t, cfg.validate())
}
