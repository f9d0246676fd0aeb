// Package tunnel lets the application server accept clients on a
// remote SSH gateway, the equivalent of ssh -R.  Connections arriving
// on the gateway's forwarded port surface as ordinary accepted
// connections through a net.Listener.
package tunnel

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"appserver/internal/metrics"
	"appserver/internal/retry"
	"appserver/util"
)

// SSHConfig holds everything needed to dial an SSH gateway.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	Password      string // used as-is when set; never prompted
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration
}

// Config describes a remote listener.
type Config struct {
	SSH *SSHConfig

	KeepAliveInterval time.Duration // 0 disables keepalive
	AutoReconnect     bool

	// Backoff paces reconnection attempts; nil selects
	// retry.ReconnectBackoff.
	Backoff *retry.Backoff
}

// Remote opens listeners on an SSH gateway.
type Remote struct {
	cfg     *Config
	logger  *util.Logger
	metrics *metrics.Collector
}

// NewRemote returns a Remote for cfg.  The metrics collector is
// optional (nil-safe).
func NewRemote(cfg *Config, logger *util.Logger, m *metrics.Collector) *Remote {
	if cfg.SSH.Port == 0 {
		cfg.SSH.Port = 22
	}
	if cfg.SSH.ConnTimeout == 0 {
		cfg.SSH.ConnTimeout = 30 * time.Second
	}
	if cfg.Backoff == nil {
		cfg.Backoff = retry.ReconnectBackoff()
	}
	if logger == nil {
		logger = util.NewLogger(0)
	}
	return &Remote{cfg: cfg, logger: logger.Named("tunnel"), metrics: m}
}

// Listen asks the gateway to forward address ("host:port" on the
// gateway side) and returns a listener for the forwarded connections.
// Its signature matches transport.ListenFunc.
func (r *Remote) Listen(ctx context.Context, address string) (net.Listener, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("remote listen address %q: %w", address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return nil, fmt.Errorf("remote listen address %q: invalid port", address)
	}

	rl := newRemoteListener(r, host, port)
	if err := rl.connect(ctx); err != nil {
		rl.Close() //nolint:errcheck
		return nil, err
	}
	rl.start()
	return rl, nil
}
