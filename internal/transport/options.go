package transport

import (
	"context"
	"net"

	"appserver/internal/metrics"
	"appserver/internal/retry"
	"appserver/util"
)

// ListenFunc opens the listening socket for address ("host:port").
// The default binds a local TCP socket; the tunnel package supplies
// one that listens on a remote SSH gateway instead.
type ListenFunc func(ctx context.Context, address string) (net.Listener, error)

// Option configures a Server or Client.
type Option func(*options)

type options struct {
	bindHost   string
	listen     ListenFunc
	dialer     *TCPDialer
	metrics    *metrics.Collector
	logger     *util.Logger
	backoff    *retry.Backoff
	queueDepth int
}

func defaultOptions() options {
	return options{
		listen:     listenTCP,
		dialer:     &TCPDialer{},
		logger:     util.NewLogger(0),
		backoff:    retry.AcceptBackoff(),
		queueDepth: DefaultQueueDepth,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithBindHost sets the local address to bind (default: all interfaces).
func WithBindHost(host string) Option {
	return func(o *options) { o.bindHost = host }
}

// WithListenFunc replaces the listening socket factory.
func WithListenFunc(fn ListenFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.listen = fn
		}
	}
}

// WithDialer sets the dialer a Client opens connections with.
func WithDialer(d *TCPDialer) Option {
	return func(o *options) {
		if d != nil {
			o.dialer = d
		}
	}
}

// WithMetrics records byte counts and I/O errors on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *util.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithAcceptBackoff sets the retry policy for transient accept errors.
func WithAcceptBackoff(b *retry.Backoff) Option {
	return func(o *options) {
		if b != nil {
			o.backoff = b
		}
	}
}

// WithQueueDepth sets the dispatch queue size.
func WithQueueDepth(n int) Option {
	return func(o *options) { o.queueDepth = n }
}

func listenTCP(ctx context.Context, address string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", address)
}
