package transport

import (
	"sync/atomic"
	"testing"
	"time"
)

// event is one recorded Listener or TimerListener callback.
type event struct {
	kind   string
	reason string
	conn   *Conn
	data   []byte
	timer  string
}

// recorder records every callback on a channel.  It also checks that
// callbacks never overlap, which the dispatch loop guarantees.
type recorder struct {
	events     chan event
	inFlight   atomic.Int32
	overlapped atomic.Bool
	onAccepted func(c *Conn, srv *Server)
}

func newRecorder() *recorder {
	return &recorder{events: make(chan event, 1024)}
}

func (r *recorder) record(e event) {
	if r.inFlight.Add(1) > 1 {
		r.overlapped.Store(true)
	}
	time.Sleep(100 * time.Microsecond) // widen the window for overlap
	r.events <- e
	r.inFlight.Add(-1)
}

func (r *recorder) Opened(c *Conn) { r.record(event{kind: "opened", conn: c}) }
func (r *recorder) OpenFailed(reason string, c *Conn) {
	r.record(event{kind: "openFailed", reason: reason, conn: c})
}
func (r *recorder) HalfClosed(c *Conn) { r.record(event{kind: "halfClosed", conn: c}) }
func (r *recorder) Closed(reason string, c *Conn) {
	r.record(event{kind: "closed", reason: reason, conn: c})
}
func (r *recorder) Transmitted(c *Conn) { r.record(event{kind: "transmitted", conn: c}) }
func (r *recorder) TransmitFailed(reason string, c *Conn) {
	r.record(event{kind: "transmitFailed", reason: reason, conn: c})
}
func (r *recorder) Receive(data []byte, c *Conn) {
	r.record(event{kind: "receive", data: data, conn: c})
}
func (r *recorder) Accepted(c *Conn, srv *Server) {
	if r.onAccepted != nil {
		r.onAccepted(c, srv)
	}
	r.record(event{kind: "accepted", conn: c})
}
func (r *recorder) HandleTimeout(name string) {
	r.record(event{kind: "timeout", timer: name})
}

// waitFor returns the next event of the given kind, skipping others.
func (r *recorder) waitFor(t *testing.T, kind string) event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-r.events:
			if e.kind == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", kind)
			return event{}
		}
	}
}

// drain returns every event recorded so far.
func (r *recorder) drain() []event {
	var out []event
	for {
		select {
		case e := <-r.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

var (
	_ Listener      = (*recorder)(nil)
	_ TimerListener = (*recorder)(nil)
)
