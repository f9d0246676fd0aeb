package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	ncerr "appserver/internal/errors"
	"appserver/internal/retry"
	"appserver/util"
)

// Server accepts inbound TCP connections and delivers their events,
// together with its timer expirations, to a Listener on one dispatch
// goroutine.
//
// A Server is single-use: once closed it cannot be reopened.  Close
// must not be called from inside a Listener callback.
type Server struct {
	listener Listener
	opts     options
	loop     *loop

	mu        sync.Mutex
	ln        net.Listener
	opened    bool
	stopping  bool
	closed    bool
	conns     map[uint64]*Conn
	ctx       context.Context
	cancel    context.CancelFunc
	group     errgroup.Group
	conWG     sync.WaitGroup
	closeErr  error
	closeDone chan struct{}
}

// NewServer returns an unopened server that reports to l.
func NewServer(l Listener, opts ...Option) *Server {
	o := buildOptions(opts)
	return &Server{
		listener:  l,
		opts:      o,
		loop:      newLoop(o.queueDepth),
		conns:     make(map[uint64]*Conn),
		closeDone: make(chan struct{}),
	}
}

// Open binds port and starts accepting.  ctx bounds the bind only;
// the server runs until Close.  A bind failure is returned as a
// *errors.BindError and leaves the server unopened.
func (s *Server) Open(ctx context.Context, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ncerr.ErrServerClosed
	}
	if s.opened {
		return ncerr.ErrAlreadyOpen
	}

	addr := util.FormatAddr(s.opts.bindHost, port)
	ln, err := s.opts.listen(ctx, addr)
	if err != nil {
		return ncerr.WrapBind(addr, err)
	}

	s.ln = ln
	s.opened = true
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.opts.logger.Verbose("listening on %s", ln.Addr())

	s.group.Go(func() error {
		s.loop.run()
		return nil
	})
	s.group.Go(func() error {
		return s.acceptLoop(ln)
	})
	return nil
}

// Addr returns the bound address, or nil if the server is not open.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// StartTimer delivers HandleTimeout(name) to tl every period until the
// server closes.
func (s *Server) StartTimer(name string, period time.Duration, tl TimerListener) error {
	if period <= 0 {
		return fmt.Errorf("timer %q: period must be positive, got %v", name, period)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ncerr.ErrServerClosed
	}
	if !s.opened {
		return ncerr.ErrNotConnected
	}

	ctx := s.ctx
	s.group.Go(func() error {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				s.loop.post(func() { tl.HandleTimeout(name) })
			}
		}
	})
	s.opts.logger.Debug("timer %q started, period %v", name, period)
	return nil
}

// StopAccepting closes the listening socket.  Established connections
// and timers keep running.
func (s *Server) StopAccepting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened || s.stopping {
		return
	}
	s.stopping = true
	s.ln.Close() //nolint:errcheck
}

// Close stops accepting, closes every connection the server still
// holds, delivers the resulting events, and stops the dispatch loop
// and timers.  Closing an unopened or closed server is a no-op.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.closeDone
		return s.closeErr
	}
	s.closed = true
	if !s.opened {
		s.mu.Unlock()
		close(s.closeDone)
		return nil
	}
	if !s.stopping {
		s.stopping = true
		s.ln.Close() //nolint:errcheck
	}
	s.cancel()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close() //nolint:errcheck
	}
	s.conWG.Wait()

	// Deliver whatever the readers queued, then stop the loop.
	s.loop.drain()
	s.closeErr = s.group.Wait()
	close(s.closeDone)

	s.opts.logger.Verbose("server closed")
	return s.closeErr
}

// ── accept path ──────────────────────────────────────────────────────

func (s *Server) acceptLoop(ln net.Listener) error {
	addr := ln.Addr().String()
	backoff := *s.opts.backoff
	backoff.OnRetry = func(attempt int, err error, wait time.Duration) {
		s.opts.logger.Warn("accept on %s: %v; retrying in %v", addr, err, wait)
	}

	for {
		var nc net.Conn
		err := backoff.Do(s.ctx, func(int) error {
			c, err := ln.Accept()
			if err == nil {
				nc = c
				return nil
			}
			if s.ctx.Err() != nil || ncerr.IsClosed(err) || !ncerr.IsTemporary(err) {
				return retry.Permanent(err)
			}
			return err
		})
		if err != nil {
			if s.isStopping() {
				return nil
			}
			werr := ncerr.Wrap("accept", addr, err)
			s.opts.metrics.RecordError(werr.Error())
			s.opts.logger.Error("%v", werr)
			s.loop.post(func() { s.listener.OpenFailed(werr.Error(), nil) })
			return werr
		}
		s.admit(nc)
	}
}

// admit registers nc and announces it.  Accepted is queued before the
// reader starts, so it precedes every other event for the connection.
func (s *Server) admit(nc net.Conn) {
	c := newConn(connIDs.Add(1), nc, s.loop, s.listener, s.opts.metrics)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		nc.Close() //nolint:errcheck
		return
	}
	s.conns[c.id] = c
	s.conWG.Add(1)
	s.mu.Unlock()

	s.opts.logger.Debug("accepted #%d from %s", c.id, nc.RemoteAddr())

	if !s.loop.post(func() { s.listener.Accepted(c, s) }) {
		c.Close() //nolint:errcheck
	}

	var wg sync.WaitGroup
	c.start(&wg)
	go func() {
		wg.Wait()
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		s.conWG.Done()
	}()
}

func (s *Server) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}
