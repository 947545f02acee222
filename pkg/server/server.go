package server

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/marmos91/netclass/internal/logger"
	"github.com/marmos91/netclass/pkg/session"
)

// ErrSessionEnded is returned by Serve when the host left and restarting
// is disabled.
var ErrSessionEnded = errors.New("session ended: host disconnected")

// Options configures the serving loop.
type Options struct {
	// Port is the listening port (0 lets the transport choose; restarts
	// reuse whatever port the first run bound)
	Port int

	// MaxClients caps concurrently connected clients
	MaxClients int

	// Password is required from every client when non-empty
	Password string

	// TickRate is the number of session ticks per second
	TickRate int

	// RestartOnHostDisconnect starts a fresh run with the same parameters
	// after the host leaves instead of returning ErrSessionEnded
	RestartOnHostDisconnect bool

	// MetricsLogInterval logs a session summary periodically. 0 disables it.
	MetricsLogInterval time.Duration
}

// Server drives a session at a fixed tick rate.
//
// Architecture:
// The session is single-threaded: every table mutation happens inside
// Tick. Server owns the one goroutine that calls Start, Tick and Stop,
// so an embedding program only has to pick a transport and call Serve.
//
// Lifecycle:
//  1. Creation: New() with a session and options
//  2. Startup: Serve() starts the session and begins ticking
//  3. Host loss: the session stops itself; Serve restarts it or returns
//  4. Shutdown: context cancellation stops the session
//
// Thread safety:
// Serve must only be called once. Ticks, Restarts and Running are safe
// from any goroutine.
//
// Example usage:
//
//	srv := server.New(session.New(tcp.New(tcp.Config{})), server.Options{
//	    Port: 7777, MaxClients: 16, TickRate: 60,
//	})
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Serve(ctx); err != nil && err != context.Canceled {
//	    log.Fatal(err)
//	}
type Server struct {
	session *session.Session
	opts    Options

	served   atomic.Bool
	ticks    atomic.Uint64
	restarts atomic.Uint64
}

// New creates a server for sess.
//
// A non-positive TickRate is replaced with 60.
//
// Panics if sess is nil (indicates programmer error).
func New(sess *session.Session, opts Options) *Server {
	if sess == nil {
		panic("session cannot be nil")
	}
	if opts.TickRate <= 0 {
		opts.TickRate = 60
	}

	return &Server{
		session: sess,
		opts:    opts,
	}
}

// Session returns the driven session.
//
// Its single-goroutine methods must not be called while Serve runs.
func (s *Server) Session() *session.Session {
	return s.session
}

// Ticks returns the number of ticks run so far.
func (s *Server) Ticks() uint64 {
	return s.ticks.Load()
}

// Restarts returns how many times the session was restarted after the
// host left.
func (s *Server) Restarts() uint64 {
	return s.restarts.Load()
}

// Running reports whether the session is currently started.
func (s *Server) Running() bool {
	return s.session.IsRunning()
}

// Serve starts the session and ticks it until the context is cancelled or
// the session ends.
//
// Shutdown behavior:
//   - Context cancelled: the session is stopped and ctx.Err() returned
//   - Host left, restart enabled: a new run starts on the same port
//   - Host left, restart disabled: ErrSessionEnded is returned
//
// Returns:
//   - context.Canceled (or DeadlineExceeded) after a signalled shutdown
//   - ErrSessionEnded when the host left and restarting is disabled
//   - error if the session failed to start or restart
//
// Panics if Serve() is called more than once on the same Server instance.
func (s *Server) Serve(ctx context.Context) error {
	if !s.served.CompareAndSwap(false, true) {
		panic("Serve() has already been called on this server instance")
	}

	if err := s.session.Start(s.opts.Port, s.opts.MaxClients, s.opts.Password); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer s.session.Stop()

	// Restarts keep the port clients already know
	port := s.session.Port()

	interval := time.Second / time.Duration(s.opts.TickRate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var summary <-chan time.Time
	if s.opts.MetricsLogInterval > 0 {
		summaryTicker := time.NewTicker(s.opts.MetricsLogInterval)
		defer summaryTicker.Stop()
		summary = summaryTicker.C
	}

	logger.Info("Serving session on port %d at %d ticks/s", port, s.opts.TickRate)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received (reason: %v)", ctx.Err())
			return ctx.Err()

		case <-summary:
			s.logSummary()

		case <-ticker.C:
			s.session.Tick()
			s.ticks.Add(1)

			if s.session.IsRunning() {
				continue
			}

			if !s.opts.RestartOnHostDisconnect {
				logger.Info("Host disconnected, session ended")
				return ErrSessionEnded
			}

			logger.Info("Host disconnected, restarting session on port %d", port)
			if err := s.session.Start(port, s.opts.MaxClients, s.opts.Password); err != nil {
				return fmt.Errorf("restart session: %w", err)
			}
			s.restarts.Add(1)
		}
	}
}

// logSummary logs the current session tables.
func (s *Server) logSummary() {
	host, hasHost := s.session.Host()
	hostDesc := "none"
	if hasHost {
		hostDesc = fmt.Sprintf("%d", host)
	}

	logger.Info("Session %s: clients=%d host=%s objects=%d pending_snapshots=%d uptime=%v ticks=%d",
		s.session.ID(), s.session.Clients(), hostDesc, s.session.Objects(),
		s.session.PendingSnapshots(), time.Since(s.session.TimeStarted()).Round(time.Second),
		s.ticks.Load())
}
