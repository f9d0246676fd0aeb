package tunnel

// forward.go - a forwarded-tcpip listener.
//
// ssh.Client.Listen registers forwarded-tcpip channels under the exact
// bind address it sent, and some gateways echo back a different one
// (e.g. "0.0.0.0" for ""), so every channel would be rejected with
// "no forward for address".  forwardListener claims the
// forwarded-tcpip channel type itself and accepts every channel.

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// channelForwardMsg is the payload of the "tcpip-forward" and
// "cancel-tcpip-forward" global requests (RFC 4254 §7.1).
type channelForwardMsg struct {
	Addr string
	Port uint32
}

// forwardReplyMsg is the reply to a "tcpip-forward" request that asked
// for port 0.
type forwardReplyMsg struct {
	Port uint32
}

// forwardedTCPPayload is the channel-open payload of
// "forwarded-tcpip" (RFC 4254 §7.2).
type forwardedTCPPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// errForwardDenied is returned when the gateway refuses the forward,
// typically because the port is taken or not permitted.
var errForwardDenied = errors.New("tcpip-forward request denied by gateway")

type forwardListener struct {
	client   *ssh.Client
	bindAddr string
	bindPort uint32
	incoming <-chan ssh.NewChannel
	done     chan struct{}
	once     sync.Once
}

// requestForward sends tcpip-forward and returns a listener for the
// resulting channels.  A zero bindPort lets the gateway choose.
func requestForward(client *ssh.Client, bindAddr string, bindPort int) (*forwardListener, error) {
	incoming := client.HandleChannelOpen("forwarded-tcpip")
	if incoming == nil {
		return nil, fmt.Errorf("forwarded-tcpip handler already registered")
	}

	msg := channelForwardMsg{Addr: bindAddr, Port: uint32(bindPort)}
	ok, reply, err := client.SendRequest("tcpip-forward", true, ssh.Marshal(&msg))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errForwardDenied
	}

	port := uint32(bindPort)
	if port == 0 {
		var r forwardReplyMsg
		if err := ssh.Unmarshal(reply, &r); err == nil {
			port = r.Port
		}
	}

	return &forwardListener{
		client:   client,
		bindAddr: bindAddr,
		bindPort: port,
		incoming: incoming,
		done:     make(chan struct{}),
	}, nil
}

// Accept waits for the next forwarded connection.  It returns io.EOF
// once the listener is closed or the SSH connection is gone.
func (l *forwardListener) Accept() (net.Conn, error) {
	select {
	case <-l.done:
		return nil, io.EOF
	case newCh, ok := <-l.incoming:
		if !ok {
			return nil, io.EOF
		}
		ch, reqs, err := newCh.Accept()
		if err != nil {
			return nil, fmt.Errorf("channel accept: %w", err)
		}
		go ssh.DiscardRequests(reqs)

		var raddr net.Addr = &net.TCPAddr{}
		var payload forwardedTCPPayload
		if err := ssh.Unmarshal(newCh.ExtraData(), &payload); err == nil {
			raddr = &net.TCPAddr{
				IP:   net.ParseIP(payload.OriginAddr),
				Port: int(payload.OriginPort),
			}
		}
		return &chanConn{Channel: ch, laddr: l.Addr(), raddr: raddr}, nil
	}
}

// Close cancels the remote forward and unblocks Accept.
func (l *forwardListener) Close() error {
	l.once.Do(func() {
		close(l.done)
		// Best effort; the connection may already be gone.
		msg := channelForwardMsg{Addr: l.bindAddr, Port: l.bindPort}
		l.client.SendRequest("cancel-tcpip-forward", false, ssh.Marshal(&msg)) //nolint:errcheck
	})
	return nil
}

func (l *forwardListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(l.bindAddr), Port: int(l.bindPort)}
}

// chanConn adapts an ssh.Channel to net.Conn.  Deadlines are not
// supported by SSH channels and are ignored.
type chanConn struct {
	ssh.Channel
	laddr net.Addr
	raddr net.Addr
}

func (c *chanConn) LocalAddr() net.Addr              { return c.laddr }
func (c *chanConn) RemoteAddr() net.Addr             { return c.raddr }
func (c *chanConn) SetDeadline(time.Time) error      { return nil }
func (c *chanConn) SetReadDeadline(time.Time) error  { return nil }
func (c *chanConn) SetWriteDeadline(time.Time) error { return nil }
