package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Config file  (file.go)
//   4. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the APPSERVER_ prefix.  Boolean values
// accept "1", "true", "yes" and "0", "false", "no" (case-insensitive).

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty,
// well-formed env vars override the existing value.
func LoadFromEnv(cfg *Config) {
	if v, ok := envInt("APPSERVER_PORT"); ok && v >= 0 {
		cfg.Port = v
	}
	if v := os.Getenv("APPSERVER_BIND"); v != "" {
		cfg.BindHost = v
	}
	if v, ok := envDuration("APPSERVER_SWEEP_INTERVAL"); ok {
		cfg.SweepInterval = v
	}
	if v := os.Getenv("APPSERVER_CONFIG"); v != "" {
		cfg.ConfigFile = v
	}

	// SSH gateway
	if v := os.Getenv("APPSERVER_REMOTE"); v != "" {
		cfg.RemoteSpec = v
	}
	if v := os.Getenv("APPSERVER_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if v, ok := envBool("APPSERVER_SSH_PASSWORD"); ok {
		cfg.SSHPassword = v
	}
	if v := os.Getenv("APPSERVER_SSH_PASS"); v != "" {
		cfg.SSHPass = v
	}
	if v, ok := envBool("APPSERVER_SSH_AGENT"); ok {
		cfg.UseSSHAgent = v
	}
	if v, ok := envBool("APPSERVER_STRICT_HOSTKEY"); ok {
		cfg.StrictHostKey = v
	}
	if v := os.Getenv("APPSERVER_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}
	if v, ok := envInt("APPSERVER_KEEP_ALIVE"); ok && v >= 0 {
		cfg.KeepAliveInterval = v
	}
	if v, ok := envBool("APPSERVER_AUTO_RECONNECT"); ok {
		cfg.AutoReconnect = v
	}

	// Output
	if v, ok := envInt("APPSERVER_VERBOSE"); ok && v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) (bool, bool) {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	default:
		return false, false
	}
}

// envDuration accepts a Go duration ("500ms") or whole seconds ("2").
func envDuration(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	if n, err := strconv.Atoi(v); err == nil {
		return secondsDuration(n), true
	}
	return 0, false
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}

// Load builds a Config from the defaults, the YAML file at path (if
// any) and the environment, in increasing order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	LoadFromEnv(cfg)
	if path != "" {
		cfg.ConfigFile = path
	}
	return cfg, nil
}
