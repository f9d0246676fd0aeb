package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"appserver/config"
	ncerr "appserver/internal/errors"
	"appserver/internal/metrics"
	"appserver/internal/transport"
	"appserver/util"
)

// probeResult is the outcome of one probe client's open.
type probeResult struct {
	id  uint64
	err error
}

// probeListener forwards open outcomes to results and ignores the rest.
type probeListener struct {
	transport.NopListener
	results chan<- probeResult
}

func (p *probeListener) Opened(c *transport.Conn) {
	p.results <- probeResult{id: c.ID()}
}

func (p *probeListener) OpenFailed(reason string, c *transport.Conn) {
	p.results <- probeResult{id: c.ID(), err: ncerr.New(reason)}
}

// runProbe opens cfg.ProbeCount clients to cfg.ProbeAddr, keeps them
// connected for cfg.ProbeHold and then closes them all.
func runProbe(ctx context.Context, cfg *config.Config, logger *util.Logger) error {
	log := logger.Named("probe")
	m := metrics.New()
	results := make(chan probeResult, cfg.ProbeCount)
	l := &probeListener{results: results}

	clients := make([]*transport.Client, 0, cfg.ProbeCount)
	defer func() {
		for _, c := range clients {
			c.Close() //nolint:errcheck
		}
	}()

	for i := 0; i < cfg.ProbeCount; i++ {
		c := transport.NewClient(l,
			transport.WithDialer(&transport.TCPDialer{Timeout: config.DefaultProbeTimeout}),
			transport.WithLogger(log),
			transport.WithMetrics(m),
		)
		clients = append(clients, c)
		c.Open(ctx, cfg.ProbeAddr)
	}

	var failures []string
	for i := 0; i < cfg.ProbeCount; i++ {
		select {
		case r := <-results:
			if r.err != nil {
				failures = append(failures, fmt.Sprintf("#%d: %v", r.id, r.err))
				continue
			}
			log.Info("client #%d connected to %s", r.id, cfg.ProbeAddr)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if len(failures) < cfg.ProbeCount {
		hold := time.NewTimer(cfg.ProbeHold)
		select {
		case <-hold.C:
		case <-ctx.Done():
			hold.Stop()
		}
	}

	if len(failures) > 0 {
		return fmt.Errorf("%d of %d probe client(s) failed: %s",
			len(failures), cfg.ProbeCount, strings.Join(failures, "; "))
	}
	log.Verbose("closing %d client(s)", len(clients))
	log.Debug("metrics: %s", m.JSON())
	return nil
}
