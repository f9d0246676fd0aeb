// Package server implements the application server: it accepts TCP
// clients, tracks them in a registry, and reclaims closed clients on a
// periodic "delete clients" timer instead of at the moment they close.
//
// All registry mutation happens on the transport's dispatch goroutine,
// one event at a time, so a sweep never overlaps the close that
// queued its victims.
package server

import (
	"context"
	"net"
	"sync"
	"time"

	ncerr "appserver/internal/errors"
	"appserver/internal/metrics"
	"appserver/internal/registry"
	"appserver/internal/transport"
	"appserver/util"
)

// DeleteClientsTimer is the name of the timer whose expiration sweeps
// the pending-deletion set.
const DeleteClientsTimer = "delete-clients"

// DefaultSweepInterval is used when Config.SweepInterval is zero.
const DefaultSweepInterval = time.Second

// Config holds the tunables of an AppServer.  The zero value listens
// on all interfaces over plain TCP.
type Config struct {
	BindHost      string
	SweepInterval time.Duration

	// ListenFunc replaces the local TCP listener, e.g. with an SSH
	// remote forward.
	ListenFunc transport.ListenFunc

	Logger  *util.Logger
	Metrics *metrics.Collector
}

// AppServer accepts clients and defers their destruction to the
// DeleteClientsTimer.  It implements transport.Listener and
// transport.TimerListener.
type AppServer struct {
	cfg      Config
	log      *util.Logger
	metrics  *metrics.Collector
	registry *registry.Registry
	errc     chan error

	mu     sync.Mutex
	srv    *transport.Server
	closed bool
}

var (
	_ transport.Listener      = (*AppServer)(nil)
	_ transport.TimerListener = (*AppServer)(nil)
)

// New returns an unopened server.
func New(cfg Config) *AppServer {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = util.NewLogger(0)
	}

	a := &AppServer{
		cfg:     cfg,
		log:     cfg.Logger.Named("server"),
		metrics: cfg.Metrics,
		errc:    make(chan error, 1),
	}
	a.registry = registry.New(registry.WithDestroyHook(a.reclaimed))
	return a
}

// Open binds port, starts accepting clients and starts the
// DeleteClientsTimer.  If the port cannot be bound the returned error
// is a *errors.BindError and the server stays unopened, so Open may be
// retried and Close is still safe.
func (a *AppServer) Open(ctx context.Context, port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ncerr.ErrServerClosed
	}
	if a.srv != nil {
		return ncerr.ErrAlreadyOpen
	}

	opts := []transport.Option{
		transport.WithBindHost(a.cfg.BindHost),
		transport.WithLogger(a.cfg.Logger.Named("transport")),
		transport.WithMetrics(a.metrics),
	}
	if a.cfg.ListenFunc != nil {
		opts = append(opts, transport.WithListenFunc(a.cfg.ListenFunc))
	}

	srv := transport.NewServer(a, opts...)
	if err := srv.Open(ctx, port); err != nil {
		a.log.Error("open failed: %v", err)
		return err
	}
	if err := srv.StartTimer(DeleteClientsTimer, a.cfg.SweepInterval, a); err != nil {
		srv.Close() //nolint:errcheck
		return err
	}

	a.srv = srv
	a.log.Info("accepting clients on %s (sweep every %v)", srv.Addr(), a.cfg.SweepInterval)
	return nil
}

// Close stops accepting, closes and destroys every client, and
// releases the transport.  It must not be called from a listener
// callback.  Closing twice, or closing an unopened server, is a no-op.
func (a *AppServer) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	srv := a.srv
	a.mu.Unlock()

	if srv == nil {
		return nil
	}

	srv.StopAccepting()
	n := a.registry.CloseAll()
	err := srv.Close()

	// An Accepted already queued when CloseAll ran registers its
	// client afterwards; the transport has closed it by now.
	n += a.registry.CloseAll()

	a.log.Info("closed, %d client(s) disconnected", n)
	return err
}

// Addr returns the bound address, or nil if the server is not open.
func (a *AppServer) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.srv == nil {
		return nil
	}
	return a.srv.Addr()
}

// Registry exposes the client registry for inspection.
func (a *AppServer) Registry() *registry.Registry { return a.registry }

// Metrics returns the collector the server reports to, possibly nil.
func (a *AppServer) Metrics() *metrics.Collector { return a.metrics }

// Err delivers listener failures that happen after Open returned.
// Only the first unread failure is kept.
func (a *AppServer) Err() <-chan error { return a.errc }

// ── transport.Listener ───────────────────────────────────────────────

// Accepted registers the new client and routes its events here.
func (a *AppServer) Accepted(c *transport.Conn, _ *transport.Server) {
	a.registry.Add(registry.NewClient(c))
	c.SetListener(a)
	a.metrics.ClientAccepted()
	a.log.Verbose("client #%d accepted from %s", c.ID(), c.RemoteAddr())
}

// Closed moves the client to the pending-deletion set.  A close for a
// client that is no longer active is ignored.
func (a *AppServer) Closed(reason string, c *transport.Conn) {
	if c == nil {
		return
	}
	if !a.registry.MarkClosed(registry.ClientID(c.ID())) {
		a.log.Debug("close for inactive client #%d ignored", c.ID())
		return
	}
	a.metrics.ClientClosed()
	a.log.Verbose("client #%d closed: %s", c.ID(), reason)
}

// OpenFailed reports a listen or accept failure.  The registry is not
// touched.
func (a *AppServer) OpenFailed(reason string, c *transport.Conn) {
	a.log.Error("listener failed: %s", reason)
	select {
	case a.errc <- ncerr.New(reason):
	default:
	}
}

func (a *AppServer) Opened(*transport.Conn)                 {}
func (a *AppServer) HalfClosed(*transport.Conn)             {}
func (a *AppServer) Transmitted(*transport.Conn)            {}
func (a *AppServer) TransmitFailed(string, *transport.Conn) {}
func (a *AppServer) Receive([]byte, *transport.Conn)        {}

// ── transport.TimerListener ──────────────────────────────────────────

// HandleTimeout sweeps the pending-deletion set when the
// DeleteClientsTimer expires.  Other timers are ignored.
func (a *AppServer) HandleTimeout(name string) {
	if name != DeleteClientsTimer {
		a.log.Debug("timer %q ignored", name)
		return
	}
	n := a.registry.Sweep()
	a.metrics.SweepCompleted()
	if n > 0 {
		a.log.Verbose("reclaimed %d client(s), %d active", n, a.registry.ActiveLen())
	}
}

func (a *AppServer) reclaimed(c *registry.Client, prev registry.State) {
	a.metrics.ClientReclaimed(prev == registry.StateAccepted)
	a.log.Debug("client #%d destroyed (was %v)", c.ID(), prev)
}
