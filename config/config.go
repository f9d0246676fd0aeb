// Package config defines the runtime configuration for appserver and
// the helpers that fill it from defaults, a YAML file, the environment
// and the command line.
package config

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"

	ncerr "appserver/internal/errors"
)

// Config holds every tuneable for one appserver process.
type Config struct {
	// ── Server ───────────────────────────────────────────────────────
	Port          int    // -p: port to accept clients on
	BindHost      string // --bind: local address, or gateway bind address with --remote
	SweepInterval time.Duration

	// ── SSH gateway (ssh -R) ─────────────────────────────────────────
	RemoteSpec     string // raw [user@]host[:port] from --remote
	RemoteEnabled  bool
	RemoteUser     string
	RemoteHost     string
	RemoteSSHPort  int
	SSHKeyPath     string
	SSHPassword    bool   // true → prompt interactively
	SSHPass        string // from APPSERVER_SSH_PASS only, never a flag
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string

	KeepAliveInterval int // seconds, 0 disables
	AutoReconnect     bool

	// ── Probe client ─────────────────────────────────────────────────
	ProbeAddr  string
	ProbeCount int
	ProbeHold  time.Duration

	// ── Output ───────────────────────────────────────────────────────
	Verbose    int
	ConfigFile string
	DryRun     bool
}

// ProbeMode reports whether the process runs as a probe client rather
// than a server.
func (c *Config) ProbeMode() bool { return c.ProbeAddr != "" }

// ── Remote-spec parser ───────────────────────────────────────────────

// remoteRe matches [user@]host[:port].
var remoteRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseRemoteSpec extracts user, host, and port from a string such as
// "deploy@gateway.example.com:2222".  Port defaults to 22.
func ParseRemoteSpec(spec string) (user, host string, port int, err error) {
	m := remoteRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid remote spec %q; expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid SSH port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ResolveRemote parses RemoteSpec into its parts.  An empty spec
// disables the gateway.
func (c *Config) ResolveRemote() error {
	if c.RemoteSpec == "" {
		c.RemoteEnabled = false
		return nil
	}
	user, host, port, err := ParseRemoteSpec(c.RemoteSpec)
	if err != nil {
		return &ncerr.ConfigError{
			Field:   "remote",
			Value:   c.RemoteSpec,
			Message: err.Error(),
			Hint:    "e.g. --remote deploy@gateway.example.com:22",
		}
	}
	c.RemoteEnabled = true
	c.RemoteUser, c.RemoteHost, c.RemoteSSHPort = user, host, port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
// Failures are *errors.ConfigError values carrying a hint.
func (c *Config) Validate() error {
	if c.ProbeMode() {
		return c.validateProbe()
	}

	if c.Port < 0 || c.Port > 65535 {
		return &ncerr.ConfigError{
			Field:   "port",
			Value:   c.Port,
			Message: "port out of range 0-65535",
			Hint:    "use -p 0 to let the system choose a free port",
		}
	}
	if c.SweepInterval <= 0 {
		return &ncerr.ConfigError{
			Field:   "sweep-interval",
			Value:   c.SweepInterval,
			Message: "must be positive",
			Hint:    fmt.Sprintf("the default is %v", DefaultSweepInterval),
		}
	}

	if c.RemoteEnabled {
		if c.RemoteHost == "" {
			return &ncerr.ConfigError{
				Field:   "remote",
				Message: "gateway host is required",
				Hint:    "--remote [user@]host[:port]",
			}
		}
		if c.KeepAliveInterval < 0 {
			return &ncerr.ConfigError{
				Field:   "keepalive",
				Value:   c.KeepAliveInterval,
				Message: "must not be negative",
				Hint:    "use 0 to disable keepalive",
			}
		}
		if c.SSHPassword && c.SSHPass != "" {
			return &ncerr.ConfigError{
				Field:   "ssh-password",
				Message: "cannot prompt when APPSERVER_SSH_PASS is set",
				Hint:    "drop --ssh-password or unset APPSERVER_SSH_PASS",
			}
		}
	}
	return nil
}

func (c *Config) validateProbe() error {
	if c.RemoteEnabled {
		return &ncerr.ConfigError{
			Field:   "probe",
			Value:   c.ProbeAddr,
			Message: "cannot be combined with --remote",
			Hint:    "probe the gateway address directly instead",
		}
	}
	host, port, err := net.SplitHostPort(c.ProbeAddr)
	if err != nil || host == "" {
		return &ncerr.ConfigError{
			Field:   "probe",
			Value:   c.ProbeAddr,
			Message: "expected HOST:PORT",
			Hint:    "e.g. --probe 127.0.0.1:9000",
		}
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return &ncerr.ConfigError{
			Field:   "probe",
			Value:   c.ProbeAddr,
			Message: "invalid port",
		}
	}
	if c.ProbeCount < 1 {
		return &ncerr.ConfigError{
			Field:   "probe-count",
			Value:   c.ProbeCount,
			Message: "must be at least 1",
		}
	}
	if c.ProbeHold < 0 {
		return &ncerr.ConfigError{
			Field:   "probe-hold",
			Value:   c.ProbeHold,
			Message: "must not be negative",
		}
	}
	return nil
}
