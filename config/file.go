package config

// file.go - configuration loading from a YAML file.
//
//	port: 9000
//	bind: 127.0.0.1
//	sweep_interval: 2s
//	verbose: 1
//	remote:
//	  spec: deploy@gateway.example.com
//	  ssh_key: ~/.ssh/id_ed25519
//	  strict_hostkey: true
//	  keepalive: 15
//
// Only keys present in the file override the current values; unknown
// keys are rejected.

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	Port          *int           `yaml:"port"`
	Bind          *string        `yaml:"bind"`
	SweepInterval *time.Duration `yaml:"sweep_interval"`
	Verbose       *int           `yaml:"verbose"`
	Remote        *fileRemote    `yaml:"remote"`
}

type fileRemote struct {
	Spec          *string `yaml:"spec"`
	SSHKey        *string `yaml:"ssh_key"`
	SSHAgent      *bool   `yaml:"ssh_agent"`
	SSHPassword   *bool   `yaml:"ssh_password"`
	StrictHostKey *bool   `yaml:"strict_hostkey"`
	KnownHosts    *string `yaml:"known_hosts"`
	KeepAlive     *int    `yaml:"keepalive"`
	AutoReconnect *bool   `yaml:"auto_reconnect"`
}

// LoadFile overlays the YAML file at path onto cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file %s: %w", path, err)
	}

	set(&cfg.Port, fc.Port)
	set(&cfg.BindHost, fc.Bind)
	set(&cfg.SweepInterval, fc.SweepInterval)
	set(&cfg.Verbose, fc.Verbose)

	if r := fc.Remote; r != nil {
		set(&cfg.RemoteSpec, r.Spec)
		set(&cfg.SSHKeyPath, r.SSHKey)
		set(&cfg.UseSSHAgent, r.SSHAgent)
		set(&cfg.SSHPassword, r.SSHPassword)
		set(&cfg.StrictHostKey, r.StrictHostKey)
		set(&cfg.KnownHostsPath, r.KnownHosts)
		set(&cfg.KeepAliveInterval, r.KeepAlive)
		set(&cfg.AutoReconnect, r.AutoReconnect)
		cfg.SSHKeyPath = expandHome(cfg.SSHKeyPath)
		cfg.KnownHostsPath = expandHome(cfg.KnownHostsPath)
	}
	return nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// expandHome resolves a leading "~/" against the user's home directory.
func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}
