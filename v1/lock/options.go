package lock

import (
	"log/slog"
	"maps"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mirkobrombin/go-lease/v1/metrics"
)

const (
	// DefaultTimeout is the lease duration used when none is configured.
	DefaultTimeout = 30 * time.Second
	// DefaultRetries is the number of extra attempts after the first one.
	DefaultRetries = 2
	// DefaultRetryDelay is the pause between two acquisition attempts.
	DefaultRetryDelay = time.Second
)

// Option configures a Locker.
type Option func(*Locker)

// WithDefaultTimeout sets the lease duration used by AcquireLock when the
// call does not override it.
func WithDefaultTimeout(d time.Duration) Option {
	return func(l *Locker) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithDefaultRetries sets how many times AcquireLock retries after the first
// attempt. Negative values are treated as zero.
func WithDefaultRetries(n int) Option {
	return func(l *Locker) {
		l.retries = max(n, 0)
	}
}

// WithDefaultRetryDelay sets the pause between acquisition attempts.
func WithDefaultRetryDelay(d time.Duration) Option {
	return func(l *Locker) {
		l.retryDelay = max(d, 0)
	}
}

// WithClock replaces time.Now. Tests use it to move leases past their expiry
// without sleeping.
func WithClock(now func() time.Time) Option {
	return func(l *Locker) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger used for reclamation and contention events.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics enables Prometheus metrics collection using the provided
// registerer. Several lockers may share one registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(l *Locker) {
		if err := metrics.Register(reg); err != nil {
			l.metricsEnabled = false
			l.metricsErr = err
			return
		}
		l.metricsEnabled = true
		l.metricsErr = nil
	}
}

// WithTracing enables OpenTelemetry spans for every manager operation.
func WithTracing() Option {
	return func(l *Locker) {
		l.traceEnabled = true
	}
}

// AcquireOption overrides a Locker default for a single AcquireLock call.
type AcquireOption func(*acquireConfig)

type acquireConfig struct {
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	metadata   map[string]any
}

// WithLeaseTimeout sets how long the acquired lease lives.
func WithLeaseTimeout(d time.Duration) AcquireOption {
	return func(c *acquireConfig) {
		c.timeout = d
	}
}

// WithRetries sets how many extra attempts are made when the path is held.
func WithRetries(n int) AcquireOption {
	return func(c *acquireConfig) {
		c.retries = max(n, 0)
	}
}

// WithRetryDelay sets the pause between attempts.
func WithRetryDelay(d time.Duration) AcquireOption {
	return func(c *acquireConfig) {
		c.retryDelay = max(d, 0)
	}
}

// WithMetadata attaches caller annotations to the lease. The map is copied.
func WithMetadata(md map[string]any) AcquireOption {
	return func(c *acquireConfig) {
		c.metadata = maps.Clone(md)
	}
}
