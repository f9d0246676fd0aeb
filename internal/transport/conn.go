package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	ncerr "appserver/internal/errors"
	"appserver/internal/metrics"
	"appserver/util"
)

// Close reasons reported through Listener.Closed.
const (
	ReasonPeerClosed  = "closed by peer"
	ReasonLocalClosed = "closed locally"
)

// connIDs numbers connections process-wide, accepted and dialled
// alike, so ids never collide in a shared registry.
var connIDs atomic.Uint64

// sendQueueDepth bounds the number of pending Sends per connection.
const sendQueueDepth = 64

// Conn is one TCP connection, accepted by a Server or opened by a
// Client.  Its events are delivered on the owner's dispatch loop to
// the connection's current Listener.
type Conn struct {
	id      uint64
	loop    *loop
	metrics *metrics.Collector

	mu       sync.Mutex
	nc       net.Conn // nil until an active open succeeds
	listener Listener

	sendq     chan []byte
	done      chan struct{}
	closing   atomic.Bool
	closeOnce sync.Once
}

func newConn(id uint64, nc net.Conn, lp *loop, l Listener, m *metrics.Collector) *Conn {
	return &Conn{
		id:       id,
		loop:     lp,
		metrics:  m,
		nc:       nc,
		listener: l,
		sendq:    make(chan []byte, sendQueueDepth),
		done:     make(chan struct{}),
	}
}

// ID returns the connection's identity, unique within its owner and
// never reused.
func (c *Conn) ID() uint64 { return c.id }

// RemoteAddr returns the peer address, or nil before the connection
// is open.
func (c *Conn) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nil {
		return nil
	}
	return c.nc.RemoteAddr()
}

// LocalAddr returns the local address, or nil before the connection
// is open.
func (c *Conn) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nc == nil {
		return nil
	}
	return c.nc.LocalAddr()
}

// SetListener routes this connection's subsequent events to l.
func (c *Conn) SetListener(l Listener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

// Listener returns the listener events are currently routed to.
func (c *Conn) Listener() Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listener
}

// IsClosed reports whether Close was called or the connection failed.
func (c *Conn) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Send queues p for writing.  The outcome is reported later through
// Transmitted or TransmitFailed.  p may be reused once Send returns.
func (c *Conn) Send(p []byte) error {
	c.mu.Lock()
	open := c.nc != nil
	c.mu.Unlock()
	if !open || c.closing.Load() {
		return ncerr.ErrNotConnected
	}

	select {
	case c.sendq <- bytes.Clone(p):
		return nil
	case <-c.done:
		return ncerr.ErrNotConnected
	}
}

// Close shuts the connection down.  Closed is delivered once the
// reader observes the shutdown.  Closing twice is a no-op.
func (c *Conn) Close() error {
	c.closing.Store(true)
	return c.shutdown()
}

func (c *Conn) shutdown() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		nc := c.nc
		c.mu.Unlock()
		if nc != nil {
			err = nc.Close()
		}
	})
	if ncerr.IsClosed(err) {
		return nil
	}
	return err
}

// attach binds an actively opened socket to a not-yet-open Conn.
func (c *Conn) attach(nc net.Conn) {
	c.mu.Lock()
	c.nc = nc
	c.mu.Unlock()
}

// emit posts fn for dispatch against whichever listener is current
// when the event runs.
func (c *Conn) emit(fn func(l Listener)) {
	c.loop.post(func() {
		if l := c.Listener(); l != nil {
			fn(l)
		}
	})
}

// start launches the reader and writer goroutines, accounted on wg.
func (c *Conn) start(wg *sync.WaitGroup) {
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.readLoop()
	}()
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
}

func (c *Conn) readLoop() {
	buf := util.GetBuf()
	defer util.PutBuf(buf)

	for {
		n, err := c.nc.Read(*buf)
		if n > 0 {
			data := bytes.Clone((*buf)[:n])
			c.metrics.BytesReceived(int64(n))
			c.emit(func(l Listener) { l.Receive(data, c) })
		}
		if err == nil {
			continue
		}

		reason := err.Error()
		switch {
		case c.closing.Load():
			reason = ReasonLocalClosed
		case errors.Is(err, io.EOF):
			// The peer finished sending.  There is nothing left to
			// read, so the half-close is followed by a full close.
			c.emit(func(l Listener) { l.HalfClosed(c) })
			reason = ReasonPeerClosed
		default:
			c.metrics.RecordError(reason)
		}
		c.shutdown() //nolint:errcheck
		c.emit(func(l Listener) { l.Closed(reason, c) })
		return
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case p := <-c.sendq:
			n, err := c.nc.Write(p)
			c.metrics.BytesSent(int64(n))
			if err != nil {
				if c.closing.Load() {
					return
				}
				reason := err.Error()
				c.metrics.RecordError(reason)
				c.emit(func(l Listener) { l.TransmitFailed(reason, c) })
				continue
			}
			c.emit(func(l Listener) { l.Transmitted(c) })
		}
	}
}
