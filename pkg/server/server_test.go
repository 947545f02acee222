package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marmos91/netclass/internal/protocol"
	"github.com/marmos91/netclass/pkg/session"
	"github.com/marmos91/netclass/pkg/transport"
	"github.com/marmos91/netclass/pkg/transport/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor   = 2 * time.Second
	pollEvery = 5 * time.Millisecond
)

// serveAsync runs srv.Serve on its own goroutine and returns its result channel.
func serveAsync(ctx context.Context, srv *Server) <-chan error {
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	return done
}

func newServer(t *testing.T, opts Options) (*Server, *memory.Transport) {
	t.Helper()
	tr := memory.New()
	return New(session.New(tr), opts), tr
}

func TestServe_ContextCancel(t *testing.T) {
	srv, tr := newServer(t, Options{MaxClients: 4, TickRate: 200})

	ctx, cancel := context.WithCancel(context.Background())
	done := serveAsync(ctx, srv)

	require.Eventually(t, func() bool { return srv.Ticks() > 2 }, waitFor, pollEvery)
	assert.True(t, srv.Running())

	host := tr.Dial("")
	require.Eventually(t, host.Accepted, waitFor, pollEvery)
	assert.Equal(t, transport.ClientID(1), host.ID())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("Serve did not return after cancel")
	}

	assert.False(t, srv.Running())
	assert.False(t, host.Connected(), "stopping the session closes clients")
}

func TestServe_HostLeftWithoutRestart(t *testing.T) {
	srv, tr := newServer(t, Options{MaxClients: 4, TickRate: 200})

	done := serveAsync(context.Background(), srv)

	require.Eventually(t, func() bool { return srv.Ticks() > 0 }, waitFor, pollEvery)
	host := tr.Dial("")
	require.Eventually(t, host.Accepted, waitFor, pollEvery)

	host.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSessionEnded)
	case <-time.After(waitFor):
		t.Fatal("Serve did not return after the host left")
	}
	assert.False(t, srv.Running())
	assert.Zero(t, srv.Restarts())
}

func TestServe_RestartOnHostDisconnect(t *testing.T) {
	srv, tr := newServer(t, Options{
		MaxClients:              4,
		Password:                "secret",
		TickRate:                200,
		RestartOnHostDisconnect: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := serveAsync(ctx, srv)

	require.Eventually(t, func() bool { return srv.Ticks() > 0 }, waitFor, pollEvery)
	host := tr.Dial("secret")
	require.Eventually(t, host.Accepted, waitFor, pollEvery)

	create, err := protocol.NewMessage(protocol.KindNetworkClassCreated, &protocol.CreateRequest{
		Version: 1, RegisterID: 1, NetworkID: "crate-1", JSON: "{}",
	})
	require.NoError(t, err)
	require.NoError(t, host.Send(create))
	require.Eventually(t, func() bool {
		return len(host.ReceivedKind(protocol.KindNetworkClassCreated)) == 1
	}, waitFor, pollEvery)

	host.Close()
	require.Eventually(t, func() bool { return srv.Restarts() == 1 }, waitFor, pollEvery)
	assert.True(t, srv.Running())

	// The password survives the restart
	wrong := tr.Dial("guess")
	require.Eventually(t, func() bool { return wrong.RejectReason() != "" }, waitFor, pollEvery)
	assert.Equal(t, session.IncorrectPasswordReason, wrong.RejectReason())

	// The next client becomes the host of a fresh run with id 1
	next := tr.Dial("secret")
	require.Eventually(t, next.Accepted, waitFor, pollEvery)
	assert.Equal(t, transport.ClientID(1), next.ID())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServe_StartFailure(t *testing.T) {
	srv, tr := newServer(t, Options{MaxClients: 4})
	require.NoError(t, tr.Start(0, 4))

	err := srv.Serve(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, transport.ErrAlreadyRunning))
	assert.False(t, srv.Running())
}

func TestServe_CalledTwicePanics(t *testing.T) {
	srv, _ := newServer(t, Options{MaxClients: 1, TickRate: 100})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, srv.Serve(ctx), context.Canceled)

	assert.Panics(t, func() { _ = srv.Serve(ctx) })
}

func TestServe_SummaryLogging(t *testing.T) {
	srv, _ := newServer(t, Options{
		MaxClients:         4,
		TickRate:           200,
		MetricsLogInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := srv.Serve(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Positive(t, srv.Ticks())
}

func TestNew(t *testing.T) {
	t.Run("nil session panics", func(t *testing.T) {
		assert.Panics(t, func() { New(nil, Options{}) })
	})

	t.Run("default tick rate", func(t *testing.T) {
		srv := New(session.New(memory.New()), Options{})
		assert.Equal(t, 60, srv.opts.TickRate)
		assert.NotNil(t, srv.Session())
	})
}
