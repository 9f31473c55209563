package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// AcquireCounter counts AcquireLock calls by backend and result
	// (acquired, contended, error).
	AcquireCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lease_acquire_total",
		Help: "Total number of lock acquisitions",
	}, []string{"backend", "result"})
	// AcquireAttempts observes how many attempts an AcquireLock call needed.
	AcquireAttempts = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lease_acquire_attempts",
		Help:    "Attempts made per lock acquisition",
		Buckets: []float64{1, 2, 3, 5, 8, 13},
	}, []string{"backend"})
	// ReleaseCounter counts releases, forced ones included, by result.
	ReleaseCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lease_release_total",
		Help: "Total number of lock releases",
	}, []string{"backend", "result"})
	// ExtendCounter counts ExtendLock calls by result.
	ExtendCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lease_extend_total",
		Help: "Total number of lease extensions",
	}, []string{"backend", "result"})
	// ReclaimCounter counts expired records deleted lazily.
	ReclaimCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lease_reclaim_total",
		Help: "Total number of expired leases reclaimed",
	}, []string{"backend"})
	// OpDuration tracks the latency of manager operations.
	OpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lease_op_duration_seconds",
		Help:    "Latency of lock manager operations",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "op"})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{AcquireCounter, AcquireAttempts, ReleaseCounter, ExtendCounter, ReclaimCounter, OpDuration}
}

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterCoreMetrics registers lease metrics on the provided registry.
// It panics if they are already registered there.
func RegisterCoreMetrics(reg prometheus.Registerer) {
	reg.MustRegister(collectors()...)
}

// Register registers lease metrics on reg, ignoring collectors that reg
// already holds.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
