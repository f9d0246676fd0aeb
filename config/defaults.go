package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultPort is the port the application server listens on.
	DefaultPort = 9000

	// DefaultSweepInterval is the period of the "delete clients" timer.
	DefaultSweepInterval = time.Second

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultKeepAliveInterval is the SSH keepalive interval in seconds.
	DefaultKeepAliveInterval = 30

	// DefaultConnTimeout is the TCP/SSH connection timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultProbeCount is how many clients --probe opens.
	DefaultProbeCount = 1

	// DefaultProbeHold is how long each probe client stays connected.
	DefaultProbeHold = time.Second

	// DefaultProbeTimeout bounds each probe client's dial.
	DefaultProbeTimeout = 5 * time.Second
)

// Default returns a Config populated with the defaults above.
func Default() *Config {
	return &Config{
		Port:              DefaultPort,
		SweepInterval:     DefaultSweepInterval,
		KeepAliveInterval: DefaultKeepAliveInterval,
		AutoReconnect:     true,
		ProbeCount:        DefaultProbeCount,
		ProbeHold:         DefaultProbeHold,
	}
}
