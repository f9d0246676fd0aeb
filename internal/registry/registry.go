// Package registry tracks the clients of an application server through
// a two-phase lifecycle.  A client that closes is moved from the active
// set to the pending-deletion set at once; its resources are only
// reclaimed by a later Sweep, so code still holding a reference from
// the current event cycle never sees it destroyed underneath it.
package registry

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"time"
)

// ClientID identifies a client for the lifetime of the process.
type ClientID uint64

// State is a client's position in its lifecycle.
type State int

const (
	StateAccepted State = iota
	StatePendingDelete
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StatePendingDelete:
		return "pending-delete"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Conn is the part of a transport connection the registry needs.
type Conn interface {
	ID() uint64
	RemoteAddr() net.Addr
	Close() error
}

// Client is one accepted inbound connection.
type Client struct {
	id         ClientID
	conn       Conn
	remote     string
	acceptedAt time.Time

	// guarded by the owning Registry's mutex
	state    State
	closedAt time.Time
}

// NewClient wraps an accepted connection.
func NewClient(conn Conn) *Client {
	c := &Client{
		id:         ClientID(conn.ID()),
		conn:       conn,
		acceptedAt: time.Now(),
		state:      StateAccepted,
	}
	if addr := conn.RemoteAddr(); addr != nil {
		c.remote = addr.String()
	}
	return c
}

func (c *Client) ID() ClientID          { return c.id }
func (c *Client) Conn() Conn            { return c.conn }
func (c *Client) RemoteAddr() string    { return c.remote }
func (c *Client) AcceptedAt() time.Time { return c.acceptedAt }

// Info is a point-in-time copy of a client's bookkeeping.
type Info struct {
	ID         ClientID
	RemoteAddr string
	State      State
	AcceptedAt time.Time
	ClosedAt   time.Time
}

// Registry holds the active and pending-deletion client sets.  A
// ClientID is in at most one of them.  All methods are safe for
// concurrent use.
type Registry struct {
	mu        sync.Mutex
	active    map[ClientID]*Client
	pending   map[ClientID]*Client
	onDestroy func(c *Client, prev State)
}

// Option configures a Registry.
type Option func(*Registry)

// WithDestroyHook registers fn to be called for every client the
// registry destroys, with the state it was in beforehand.  fn runs
// without the registry lock held.
func WithDestroyHook(fn func(c *Client, prev State)) Option {
	return func(r *Registry) { r.onDestroy = fn }
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		active:  make(map[ClientID]*Client),
		pending: make(map[ClientID]*Client),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Add inserts c into the active set.  Adding an id that is already
// tracked, in either set, panics.
func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[c.id]; ok {
		panic(fmt.Sprintf("registry: client %d added twice", c.id))
	}
	if _, ok := r.pending[c.id]; ok {
		panic(fmt.Sprintf("registry: client %d added while pending deletion", c.id))
	}
	c.state = StateAccepted
	r.active[c.id] = c
}

// MarkClosed moves the client from the active set to the pending set
// in one step.  It reports false, and changes nothing, when id is not
// active: a second close, an unknown id, or an already swept client.
func (r *Registry) MarkClosed(id ClientID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.active[id]
	if !ok {
		return false
	}
	if _, ok := r.pending[id]; ok {
		panic(fmt.Sprintf("registry: client %d is both active and pending", id))
	}
	delete(r.active, id)
	c.state = StatePendingDelete
	c.closedAt = time.Now()
	r.pending[id] = c
	return true
}

// Sweep destroys every pending client and empties the pending set.
// The active set is untouched.  It returns the number destroyed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	doomed := make([]*Client, 0, len(r.pending))
	for _, c := range r.pending {
		doomed = append(doomed, c)
	}
	prev := r.destroy(doomed)
	r.pending = make(map[ClientID]*Client)
	r.mu.Unlock()

	r.notify(doomed, prev)
	return len(doomed)
}

// CloseAll closes the connection of every active client and destroys
// every client in both sets.  Connections are closed after the lock is
// released, since closing may feed events back into the registry.  It
// returns the number of connections closed.
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	open := make([]*Client, 0, len(r.active))
	for _, c := range r.active {
		open = append(open, c)
	}
	doomed := open
	for _, c := range r.pending {
		doomed = append(doomed, c)
	}
	prev := r.destroy(doomed)
	r.active = make(map[ClientID]*Client)
	r.pending = make(map[ClientID]*Client)
	r.mu.Unlock()

	for _, c := range open {
		c.conn.Close() //nolint:errcheck
	}
	r.notify(doomed, prev)
	return len(open)
}

// Lookup returns the bookkeeping for id if it is still tracked.
func (r *Registry) Lookup(id ClientID) (Info, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.active[id]; ok {
		return c.info(), true
	}
	if c, ok := r.pending[id]; ok {
		return c.info(), true
	}
	return Info{}, false
}

// Active returns the ids in the active set, ascending.
func (r *Registry) Active() []ClientID {
	r.mu.Lock()
	ids := make([]ClientID, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	return sortIDs(ids)
}

// Pending returns the ids awaiting the next sweep, ascending.
func (r *Registry) Pending() []ClientID {
	r.mu.Lock()
	ids := make([]ClientID, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	return sortIDs(ids)
}

func (r *Registry) ActiveLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

func (r *Registry) PendingLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Len is the number of tracked clients in both sets.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active) + len(r.pending)
}

// destroy must be called with mu held.  It returns the prior states.
func (r *Registry) destroy(cs []*Client) []State {
	prev := make([]State, len(cs))
	for i, c := range cs {
		prev[i] = c.state
		c.state = StateDestroyed
	}
	return prev
}

func (r *Registry) notify(cs []*Client, prev []State) {
	if r.onDestroy == nil {
		return
	}
	for i, c := range cs {
		r.onDestroy(c, prev[i])
	}
}

func (c *Client) info() Info {
	return Info{
		ID:         c.id,
		RemoteAddr: c.remote,
		State:      c.state,
		AcceptedAt: c.acceptedAt,
		ClosedAt:   c.closedAt,
	}
}

func sortIDs(ids []ClientID) []ClientID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
