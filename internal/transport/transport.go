// Package transport is the socket layer underneath the application
// server.  It owns listening sockets, accepted and dialled connections
// and periodic timers, and reports everything that happens to them as
// events on a [Listener].
//
// Events for one Server (or one Client) are delivered on a single
// dispatch goroutine, one at a time and in the order they were
// produced, so a Listener never sees two callbacks overlap.  For any
// connection, Accepted (or Opened) is always delivered before that
// connection's HalfClosed or Closed, and Closed is delivered at most
// once.
package transport

// Listener receives connection events.  The method set is closed:
// an implementation must provide every method, even if most of them
// do nothing for its usage pattern.
type Listener interface {
	// Opened reports that an actively opened connection is established.
	Opened(c *Conn)

	// OpenFailed reports that a connection could not be opened.  For a
	// Server's listening socket (a fatal accept failure) c is nil.
	OpenFailed(reason string, c *Conn)

	// HalfClosed reports that the peer shut down its sending side.
	HalfClosed(c *Conn)

	// Closed reports that the connection is fully closed.
	Closed(reason string, c *Conn)

	// Transmitted reports that a queued Send was written.
	Transmitted(c *Conn)

	// TransmitFailed reports that a queued Send could not be written.
	TransmitFailed(reason string, c *Conn)

	// Receive delivers bytes read from the connection.  data is owned
	// by the callee.
	Receive(data []byte, c *Conn)

	// Accepted reports a new inbound connection on srv.  Subsequent
	// events for c go to the listener installed with c.SetListener,
	// or to srv's listener if none is set.
	Accepted(c *Conn, srv *Server)
}

// TimerListener receives expirations of named periodic timers.
type TimerListener interface {
	HandleTimeout(name string)
}

// NopListener ignores every event.  Embed it to implement only the
// callbacks a component cares about.
type NopListener struct{}

func (NopListener) Opened(*Conn)                 {}
func (NopListener) OpenFailed(string, *Conn)     {}
func (NopListener) HalfClosed(*Conn)             {}
func (NopListener) Closed(string, *Conn)         {}
func (NopListener) Transmitted(*Conn)            {}
func (NopListener) TransmitFailed(string, *Conn) {}
func (NopListener) Receive([]byte, *Conn)        {}
func (NopListener) Accepted(*Conn, *Server)      {}

var _ Listener = NopListener{}
