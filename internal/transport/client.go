package transport

import (
	"context"
	"sync"

	ncerr "appserver/internal/errors"
)

// Client is the active-open side: it dials one connection and reports
// Opened or OpenFailed, then the usual connection events, to its
// Listener on a private dispatch goroutine.
type Client struct {
	opts options
	loop *loop
	conn *Conn

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup // dialer, reader and writer
	loopWG  sync.WaitGroup
}

// NewClient returns an unopened client that reports to l.
func NewClient(l Listener, opts ...Option) *Client {
	o := buildOptions(opts)
	lp := newLoop(o.queueDepth)
	return &Client{
		opts: o,
		loop: lp,
		conn: newConn(connIDs.Add(1), nil, lp, l, o.metrics),
	}
}

// Conn returns the client's connection.  It is not usable for Send
// until Opened has been delivered.
func (c *Client) Conn() *Conn { return c.conn }

// Open starts dialling address in the background.  The outcome is
// delivered as Opened or OpenFailed.  Only the first call has effect.
func (c *Client) Open(ctx context.Context, address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true
	ctx, c.cancel = context.WithCancel(ctx)

	c.loopWG.Add(1)
	go func() {
		defer c.loopWG.Done()
		c.loop.run()
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.dial(ctx, address)
	}()
}

func (c *Client) dial(ctx context.Context, address string) {
	nc, err := c.opts.dialer.Dial(ctx, address)
	if err != nil {
		werr := ncerr.Wrap("dial", address, err)
		c.opts.metrics.RecordError(werr.Error())
		c.opts.logger.Verbose("%v", werr)
		c.conn.emit(func(l Listener) { l.OpenFailed(werr.Error(), c.conn) })
		return
	}

	c.mu.Lock()
	if c.closed || c.conn.closing.Load() {
		c.mu.Unlock()
		nc.Close() //nolint:errcheck
		return
	}
	c.conn.attach(nc)
	c.mu.Unlock()

	c.opts.logger.Debug("connected #%d to %s", c.conn.id, nc.RemoteAddr())
	c.conn.emit(func(l Listener) { l.Opened(c.conn) })
	c.conn.start(&c.wg)
}

// Send queues p on the client's connection.
func (c *Client) Send(p []byte) error {
	return c.conn.Send(p)
}

// Close closes the connection, delivers the remaining events and stops
// the dispatch goroutine.  Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.started
	c.mu.Unlock()

	err := c.conn.Close()
	if !started {
		return err
	}
	c.cancel()
	c.wg.Wait()
	c.loop.drain()
	c.loopWG.Wait()
	return err
}
