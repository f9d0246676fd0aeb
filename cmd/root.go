// Package cmd wires up the CLI flags and dispatches to the application
// server or the probe client.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	flag "github.com/spf13/pflag"

	"appserver/config"
	"appserver/internal/metrics"
	"appserver/internal/server"
	"appserver/tunnel"
	"appserver/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X appserver/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// stdout is where --dry-run and --version write; tests replace it.
var stdout io.Writer = os.Stdout //nolint:gochecknoglobals

type cliOptions struct {
	showVersion bool
	showHelp    bool
}

// Execute parses args and runs the server, or the probe client when
// --probe is given.
func Execute(ctx context.Context, args []string) error {
	// First pass: find --config (flag beats env) and the early exits.
	first := config.Default()
	config.LoadFromEnv(first)
	var opts cliOptions
	fs := newFlagSet(first, &opts)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if opts.showHelp {
		printUsage(fs)
		return nil
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "appserver %s\n", version)
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q (use --help for usage)", fs.Arg(0))
	}

	// Second pass: flags over env over file over defaults.
	cfg, err := config.Load(first.ConfigFile)
	if err != nil {
		return err
	}
	if err := newFlagSet(cfg, &opts).Parse(args); err != nil {
		return err
	}

	if err := cfg.ResolveRemote(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.DryRun {
		printConfig(cfg)
		return nil
	}

	// Lifecycle messages show by default; each -v adds a level.
	logger := util.NewLogger(cfg.Verbose + 1)

	if cfg.ProbeMode() {
		return runProbe(ctx, cfg, logger)
	}
	return runServer(ctx, cfg, logger)
}

// runServer opens the application server and keeps it running until
// ctx is cancelled or the listener fails.
func runServer(ctx context.Context, cfg *config.Config, logger *util.Logger) error {
	m := metrics.New()

	scfg := server.Config{
		BindHost:      cfg.BindHost,
		SweepInterval: cfg.SweepInterval,
		Logger:        logger,
		Metrics:       m,
	}
	if cfg.RemoteEnabled {
		remote := tunnel.NewRemote(&tunnel.Config{
			SSH: &tunnel.SSHConfig{
				User:          cfg.RemoteUser,
				Host:          cfg.RemoteHost,
				Port:          cfg.RemoteSSHPort,
				KeyPath:       cfg.SSHKeyPath,
				Password:      cfg.SSHPass,
				PromptPass:    cfg.SSHPassword,
				UseAgent:      cfg.UseSSHAgent,
				StrictHostKey: cfg.StrictHostKey,
				KnownHosts:    cfg.KnownHostsPath,
				ConnTimeout:   config.DefaultConnTimeout,
			},
			KeepAliveInterval: time.Duration(cfg.KeepAliveInterval) * time.Second,
			AutoReconnect:     cfg.AutoReconnect,
		}, logger, m)
		scfg.ListenFunc = remote.Listen
	}

	srv := server.New(scfg)
	if err := srv.Open(ctx, cfg.Port); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-srv.Err():
	}

	closeErr := srv.Close()
	logger.Verbose("metrics: %s", m.JSON())
	if runErr != nil {
		return runErr
	}
	return closeErr
}

// ── flags ────────────────────────────────────────────────────────────

// newFlagSet binds every flag to cfg.  Flag defaults are cfg's current
// values, so parsing only changes what the command line names.
func newFlagSet(cfg *config.Config, opts *cliOptions) *flag.FlagSet {
	fs := flag.NewFlagSet("appserver", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// ── server ───────────────────────────────────────────────────
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "Port to accept clients on (0 = any)")
	fs.StringVar(&cfg.BindHost, "bind", cfg.BindHost, "Bind address (gateway-side with --remote)")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", cfg.SweepInterval, "Period of the closed-client sweep")
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML config file")

	// ── SSH gateway ──────────────────────────────────────────────
	fs.StringVar(&cfg.RemoteSpec, "remote", cfg.RemoteSpec, "Accept clients on an SSH gateway: [user@]host[:port]")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")
	fs.IntVar(&cfg.KeepAliveInterval, "keepalive", cfg.KeepAliveInterval, "SSH keepalive interval in seconds (0 = off)")
	fs.BoolVar(&cfg.AutoReconnect, "auto-reconnect", cfg.AutoReconnect, "Reconnect to the gateway when it drops")

	// ── probe client ─────────────────────────────────────────────
	fs.StringVar(&cfg.ProbeAddr, "probe", cfg.ProbeAddr, "Connect test clients to HOST:PORT instead of serving")
	fs.IntVar(&cfg.ProbeCount, "probe-count", cfg.ProbeCount, "Number of probe clients")
	fs.DurationVar(&cfg.ProbeHold, "probe-hold", cfg.ProbeHold, "How long probe clients stay connected")

	// ── output ───────────────────────────────────────────────────
	// CountVarP zeroes its target; keep the env/file level so -v adds to it.
	verbose := cfg.Verbose
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")
	cfg.Verbose = verbose
	fs.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "Validate configuration and exit")

	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&opts.showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }
	return fs
}

func printConfig(cfg *config.Config) {
	if cfg.ProbeMode() {
		fmt.Fprintf(stdout, "probe %s: %d client(s), hold %v\n", cfg.ProbeAddr, cfg.ProbeCount, cfg.ProbeHold)
		return
	}
	fmt.Fprintf(stdout, "listen %s, sweep every %v\n", util.FormatAddr(cfg.BindHost, cfg.Port), cfg.SweepInterval)
	if cfg.RemoteEnabled {
		fmt.Fprintf(stdout, "via gateway %s@%s (keepalive %ds, reconnect %v)\n",
			cfg.RemoteUser, util.FormatAddr(cfg.RemoteHost, cfg.RemoteSSHPort),
			cfg.KeepAliveInterval, cfg.AutoReconnect)
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `appserver v%s

A TCP application server that tracks its clients and reclaims closed
ones on a periodic sweep.

Usage:
  appserver [options]                          Serve on -p PORT
  appserver --remote user@gateway [options]    Serve on a port of an SSH gateway
  appserver --probe HOST:PORT [options]        Connect test clients

Options:
`, version)
	fs.SetOutput(os.Stderr)
	fs.PrintDefaults()
	fs.SetOutput(io.Discard)
	fmt.Fprintf(os.Stderr, `
Environment:
  APPSERVER_PORT, APPSERVER_BIND, APPSERVER_SWEEP_INTERVAL, APPSERVER_CONFIG,
  APPSERVER_REMOTE, APPSERVER_SSH_KEY, APPSERVER_SSH_PASS, APPSERVER_VERBOSE, ...

Examples:
  appserver -p 9000 -v                         Serve, log each client
  appserver -p 8080 --remote deploy@gw.example.com
  appserver --probe 127.0.0.1:9000 --probe-count 3 --probe-hold 2s
`)
}
