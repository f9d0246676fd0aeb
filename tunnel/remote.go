package tunnel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	ncerr "appserver/internal/errors"
	"appserver/internal/retry"
	"appserver/util"
)

// remoteListener is a net.Listener on the gateway.  When AutoReconnect
// is set it survives loss of the SSH connection: Accept redials and
// re-requests the forward, then carries on.
type remoteListener struct {
	r        *Remote
	bindAddr string
	bindPort int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	client *ssh.Client
	fwd    *forwardListener
	closed bool
}

func newRemoteListener(r *Remote, host string, port int) *remoteListener {
	ctx, cancel := context.WithCancel(context.Background())
	return &remoteListener{
		r:        r,
		bindAddr: host,
		bindPort: port,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// connect dials the gateway and requests the forward.  A refused
// forward is an *errors.SSHError wrapping errForwardDenied, which the
// transport reports as a bind failure.
func (l *remoteListener) connect(ctx context.Context) error {
	cfg := l.r.cfg.SSH

	client, err := l.r.dial(ctx)
	if err != nil {
		return err
	}

	fwd, err := requestForward(client, l.bindAddr, l.bindPort)
	if err != nil {
		client.Close()
		return ncerr.WrapSSH("forward", cfg.Host, cfg.Port, err)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		fwd.Close()
		client.Close()
		return net.ErrClosed
	}
	l.client = client
	l.fwd = fwd
	// Remember a gateway-assigned port so a reconnect asks for the
	// same one.
	l.bindPort = int(fwd.bindPort)
	l.mu.Unlock()

	l.r.logger.Info("gateway %s forwarding %s",
		util.FormatAddr(cfg.Host, cfg.Port), fwd.Addr())
	return nil
}

func (l *remoteListener) start() {
	if l.r.cfg.KeepAliveInterval > 0 {
		l.wg.Add(1)
		go l.keepaliveLoop()
	}
}

// Accept returns the next connection forwarded by the gateway.
func (l *remoteListener) Accept() (net.Conn, error) {
	for {
		l.mu.Lock()
		fwd := l.fwd
		l.mu.Unlock()
		if fwd == nil {
			return nil, net.ErrClosed
		}

		conn, err := fwd.Accept()
		if err == nil {
			l.r.logger.Debug("forwarded connection from %s", conn.RemoteAddr())
			return conn, nil
		}
		if l.ctx.Err() != nil {
			return nil, net.ErrClosed
		}
		if !l.r.cfg.AutoReconnect {
			return nil, ncerr.WrapSSH("forward", l.r.cfg.SSH.Host, l.r.cfg.SSH.Port, err)
		}
		if err := l.reconnect(err); err != nil {
			if l.ctx.Err() != nil {
				return nil, net.ErrClosed
			}
			return nil, err
		}
	}
}

// reconnect tears down the dead connection and re-establishes it with
// backoff.  It is only called from Accept.
func (l *remoteListener) reconnect(cause error) error {
	l.r.logger.Warn("gateway connection lost (%v); reconnecting", cause)
	l.r.metrics.TunnelReconnect()
	l.teardown()

	backoff := *l.r.cfg.Backoff
	backoff.OnRetry = func(attempt int, err error, wait time.Duration) {
		l.r.logger.Error("reconnect attempt %d: %v; next in %v", attempt, err, wait)
		l.r.metrics.RecordError(fmt.Sprintf("reconnect attempt %d: %v", attempt, err))
	}

	err := backoff.Do(l.ctx, func(int) error {
		err := l.connect(l.ctx)
		if ncerr.IsClosed(err) || ncerr.Is(err, ncerr.ErrAuthFailed) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("reconnect to gateway: %w", err)
	}
	l.r.logger.Info("gateway reconnected")
	return nil
}

// keepaliveLoop probes the SSH connection and drops it when the probe
// fails, which unblocks Accept and triggers a reconnect.
func (l *remoteListener) keepaliveLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.r.cfg.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			client := l.client
			l.mu.Unlock()
			if client == nil {
				continue
			}

			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				// Close tore the client down under an in-flight request.
				if l.ctx.Err() != nil {
					return
				}
				l.r.logger.Warn("SSH keepalive failed: %v", err)
				l.r.metrics.RecordError(fmt.Sprintf("keepalive: %v", err))
				client.Close()
				continue
			}
			l.r.logger.Debug("SSH keepalive OK")
		}
	}
}

func (l *remoteListener) teardown() {
	l.mu.Lock()
	fwd, client := l.fwd, l.client
	l.fwd, l.client = nil, nil
	l.mu.Unlock()

	if fwd != nil {
		fwd.Close()
	}
	if client != nil {
		client.Close()
	}
}

// Close cancels the forward, closes the SSH connection and stops the
// keepalive.  Pending and future Accept calls return net.ErrClosed.
func (l *remoteListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	l.teardown()
	l.wg.Wait()
	return nil
}

// Addr is the forwarded address on the gateway.
func (l *remoteListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &net.TCPAddr{IP: net.ParseIP(l.bindAddr), Port: l.bindPort}
}
