package cmd

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	ncerr "appserver/internal/errors"
	"appserver/internal/metrics"
	"appserver/internal/server"
	"appserver/util"
)

// captureStdout redirects the package's stdout for the test's lifetime.
func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

// TestExecute_Version verifies --version prints a version string.
func TestExecute_Version(t *testing.T) {
	out := captureStdout(t)
	if err := Execute(context.Background(), []string{"--version"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), version) {
		t.Errorf("output %q does not contain version %q", out.String(), version)
	}
}

// TestExecute_Help verifies --help returns without error.
func TestExecute_Help(t *testing.T) {
	for _, args := range [][]string{{"--help"}, {"-h"}} {
		t.Run(args[0], func(t *testing.T) {
			if err := Execute(context.Background(), args); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

// TestExecute_DryRun verifies --dry-run validates and exits cleanly.
func TestExecute_DryRun(t *testing.T) {
	out := captureStdout(t)
	err := Execute(context.Background(), []string{"-p", "8080", "--sweep-interval", "250ms", "--dry-run"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), ":8080") || !strings.Contains(out.String(), "250ms") {
		t.Errorf("unexpected summary: %q", out.String())
	}
}

// TestExecute_DryRunRemote verifies the gateway summary.
func TestExecute_DryRunRemote(t *testing.T) {
	out := captureStdout(t)
	err := Execute(context.Background(), []string{
		"-p", "8080", "--remote", "deploy@gw.example.com:2222", "--keepalive", "10", "--dry-run",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "deploy@gw.example.com:2222") {
		t.Errorf("unexpected summary: %q", out.String())
	}
}

// TestExecute_DryRunInvalid verifies --dry-run still catches bad configs.
func TestExecute_DryRunInvalid(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		field string
	}{
		{"port out of range", []string{"-p", "70000"}, "port"},
		{"zero sweep interval", []string{"--sweep-interval", "0s"}, "sweep-interval"},
		{"bad remote", []string{"--remote", "user@host:notaport"}, "remote"},
		{"negative keepalive", []string{"--remote", "gw", "--keepalive", "-1"}, "keepalive"},
		{"probe without port", []string{"--probe", "localhost"}, "probe"},
		{"probe with remote", []string{"--probe", "localhost:9000", "--remote", "gw"}, "probe"},
		{"probe count", []string{"--probe", "localhost:9000", "--probe-count", "0"}, "probe-count"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Execute(context.Background(), append(tt.args, "--dry-run"))
			var ce *ncerr.ConfigError
			if !ncerr.As(err, &ce) {
				t.Fatalf("expected *ConfigError, got %T: %v", err, err)
			}
			if ce.Field != tt.field {
				t.Errorf("Field = %q, want %q", ce.Field, tt.field)
			}
		})
	}
}

// TestExecute_InvalidFlags verifies unknown flags produce an error.
func TestExecute_InvalidFlags(t *testing.T) {
	err := Execute(context.Background(), []string{"--nonexistent-flag"})
	if err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

// TestExecute_PositionalArgs verifies stray arguments are rejected.
func TestExecute_PositionalArgs(t *testing.T) {
	err := Execute(context.Background(), []string{"localhost", "9000"})
	if err == nil || !strings.Contains(err.Error(), "unexpected argument") {
		t.Fatalf("expected unexpected-argument error, got %v", err)
	}
}

// TestExecute_Precedence checks flags over env over file over defaults.
func TestExecute_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "appserver.yaml")
	if err := os.WriteFile(file, []byte("port: 7001\nbind: 127.0.0.1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		env  map[string]string
		args []string
		want string
	}{
		{"defaults", nil, nil, ":9000"},
		{"file", nil, []string{"--config", file}, "127.0.0.1:7001"},
		{"file from env", map[string]string{"APPSERVER_CONFIG": file}, nil, "127.0.0.1:7001"},
		{"env over file", map[string]string{"APPSERVER_PORT": "7002"}, []string{"--config", file}, "127.0.0.1:7002"},
		{"flag over env", map[string]string{"APPSERVER_PORT": "7002"}, []string{"--config", file, "-p", "7003"}, "127.0.0.1:7003"},
		{"flag over file", nil, []string{"--config", file, "--bind", "::1"}, "[::1]:7001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, k := range []string{"APPSERVER_PORT", "APPSERVER_BIND", "APPSERVER_CONFIG"} {
				t.Setenv(k, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			out := captureStdout(t)
			if err := Execute(context.Background(), append(tt.args, "--dry-run")); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(out.String(), "listen "+tt.want+",") {
				t.Errorf("summary %q, want listen address %s", out.String(), tt.want)
			}
		})
	}
}

// TestExecute_MissingConfigFile verifies an unreadable --config fails.
func TestExecute_MissingConfigFile(t *testing.T) {
	err := Execute(context.Background(), []string{
		"--config", filepath.Join(t.TempDir(), "missing.yaml"), "--dry-run",
	})
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

// TestExecute_ServeUntilCancelled runs the server and stops it through
// the context.
func TestExecute_ServeUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- Execute(ctx, []string{"-p", "0", "--bind", "127.0.0.1", "--sweep-interval", "20ms"})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancellation")
	}
}

// TestExecute_ServeBindError verifies a taken port is reported as a
// bind error.
func TestExecute_ServeBindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := util.PortOf(ln.Addr())

	err = Execute(context.Background(), []string{"-p", strconv.Itoa(port), "--bind", "127.0.0.1"})
	if !ncerr.IsBindError(err) {
		t.Fatalf("expected bind error, got %v", err)
	}
}

// TestExecute_Probe connects probe clients to a live server and checks
// the server saw and reclaimed every one of them.
func TestExecute_Probe(t *testing.T) {
	m := metrics.New()
	srv := server.New(server.Config{
		BindHost:      "127.0.0.1",
		SweepInterval: 20 * time.Millisecond,
		Metrics:       m,
	})
	if err := srv.Open(context.Background(), 0); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer srv.Close()

	err := Execute(context.Background(), []string{
		"--probe", srv.Addr().String(), "--probe-count", "3", "--probe-hold", "50ms",
	})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for m.Reclaimed() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("reclaimed %d of 3 clients (accepted %d)", m.Reclaimed(), m.TotalAccepted())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := m.TotalAccepted(); got != 3 {
		t.Errorf("TotalAccepted = %d, want 3", got)
	}
	if srv.Registry().Len() != 0 {
		t.Errorf("registry still holds %d clients", srv.Registry().Len())
	}
}

// TestExecute_ProbeRefused verifies a probe against a closed port fails.
func TestExecute_ProbeRefused(t *testing.T) {
	port, err := util.FindFreePort()
	if err != nil {
		t.Fatal(err)
	}
	err = Execute(context.Background(), []string{
		"--probe", util.FormatAddr("127.0.0.1", port), "--probe-count", "2",
	})
	if err == nil || !strings.Contains(err.Error(), "2 of 2") {
		t.Fatalf("expected both probes to fail, got %v", err)
	}
}
