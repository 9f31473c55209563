package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	leaseerrors "github.com/mirkobrombin/go-lease/v1/errors"
	"github.com/mirkobrombin/go-lease/v1/metrics"
)

var tracer = otel.Tracer("github.com/mirkobrombin/go-lease/v1/lock")

// AcquireResult describes the outcome of AcquireLock. When Acquired is false
// Err explains why; it is never set together with a non-nil error return.
type AcquireResult struct {
	Acquired  bool
	LockID    string
	ExpiresAt time.Time
	Err       error
}

// Manager is the lease-based lock contract. Contention and absence are
// reported as values; a non-nil error always means the substrate failed or
// the input was invalid.
type Manager interface {
	// AcquireLock takes the lease on path, retrying while it is held.
	AcquireLock(ctx context.Context, path string, opts ...AcquireOption) (AcquireResult, error)
	// ReleaseLock deletes the lease on path. An empty lockID releases
	// whatever is stored. Returns false only when lockID does not match.
	ReleaseLock(ctx context.Context, path, lockID string) (bool, error)
	// ForceReleaseLock deletes any lease on path. It always returns true.
	ForceReleaseLock(ctx context.Context, path string) (bool, error)
	// ExtendLock pushes the stored expiry of a live lease forward by d.
	ExtendLock(ctx context.Context, path, lockID string, d time.Duration) (bool, error)
	// GetLockInfo returns the live lease on path or nil.
	GetLockInfo(ctx context.Context, path string) (*Record, error)
	// IsLocked reports whether path holds a live lease.
	IsLocked(ctx context.Context, path string) (bool, error)
}

// Locker implements Manager on top of a Backend. It keeps no per-lock state,
// so any number of Lockers may share one backend, in one process or many.
type Locker struct {
	backend    Backend
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	now        func() time.Time
	logger     *slog.Logger

	metricsEnabled bool
	metricsErr     error
	traceEnabled   bool
}

var _ Manager = (*Locker)(nil)

// New returns a Locker using backend b.
func New(b Backend, opts ...Option) *Locker {
	l := &Locker{
		backend:    b,
		timeout:    DefaultTimeout,
		retries:    DefaultRetries,
		retryDelay: DefaultRetryDelay,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.metricsErr != nil {
		l.logger.Warn("lease: metrics registration failed", "error", l.metricsErr)
	}
	return l
}

// Backend returns the substrate this Locker runs on.
func (l *Locker) Backend() Backend {
	return l.backend
}

// Resolution returns the granularity of stored expiries, zero when the
// backend keeps full time.Time precision.
func (l *Locker) Resolution() time.Duration {
	if r, ok := l.backend.(Resolution); ok {
		return r.Resolution()
	}
	return 0
}

// AcquireLock implements Manager.AcquireLock.
func (l *Locker) AcquireLock(ctx context.Context, path string, opts ...AcquireOption) (res AcquireResult, err error) {
	if path == "" {
		return AcquireResult{}, leaseerrors.ErrInvalidPath
	}
	cfg := acquireConfig{timeout: l.timeout, retries: l.retries, retryDelay: l.retryDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.timeout <= 0 {
		return AcquireResult{}, fmt.Errorf("lease timeout %v: %w", cfg.timeout, leaseerrors.ErrInvalidDuration)
	}

	ctx, done := l.observe(ctx, "acquire", path)
	defer func() {
		result := "contended"
		switch {
		case err != nil:
			result = "error"
		case res.Acquired:
			result = "acquired"
		}
		if l.metricsEnabled {
			metrics.AcquireCounter.WithLabelValues(l.backend.Name(), result).Inc()
		}
		done(result, err)
	}()

	attempts := cfg.retries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err = l.tryAcquire(ctx, path, cfg)
		if err != nil {
			return AcquireResult{}, fmt.Errorf("acquire %q: %w", path, err)
		}
		if res.Acquired {
			if l.metricsEnabled {
				metrics.AcquireAttempts.WithLabelValues(l.backend.Name()).Observe(float64(attempt))
			}
			return res, nil
		}
		l.logger.Debug("lease: path held", "path", path, "attempt", attempt, "attempts", attempts)
		if attempt < attempts {
			if err := wait(ctx, cfg.retryDelay); err != nil {
				return AcquireResult{}, err
			}
		}
	}
	if l.metricsEnabled {
		metrics.AcquireAttempts.WithLabelValues(l.backend.Name()).Observe(float64(attempts))
	}
	l.logger.Info("lease: acquisition gave up", "path", path, "attempts", attempts)
	return AcquireResult{Err: leaseerrors.ErrNotAcquired}, nil
}

// tryAcquire makes a single attempt. A false result means the path was held
// or another writer won the create.
func (l *Locker) tryAcquire(ctx context.Context, path string, cfg acquireConfig) (AcquireResult, error) {
	cur, err := l.live(ctx, path)
	if err != nil {
		return AcquireResult{}, err
	}
	if cur != nil {
		return AcquireResult{}, nil
	}
	now := l.now()
	rec := &Record{
		LockID:     uuid.NewString(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(cfg.timeout),
		Metadata:   cfg.metadata,
	}
	ok, err := l.backend.Create(ctx, path, rec)
	if err != nil || !ok {
		return AcquireResult{}, err
	}
	return AcquireResult{Acquired: true, LockID: rec.LockID, ExpiresAt: rec.ExpiresAt}, nil
}

// ReleaseLock implements Manager.ReleaseLock.
func (l *Locker) ReleaseLock(ctx context.Context, path, lockID string) (released bool, err error) {
	if path == "" {
		return false, leaseerrors.ErrInvalidPath
	}
	ctx, done := l.observe(ctx, "release", path)
	var res DeleteResult
	defer func() {
		result := res.String()
		if err != nil {
			result = "error"
		}
		if l.metricsEnabled {
			metrics.ReleaseCounter.WithLabelValues(l.backend.Name(), result).Inc()
		}
		done(result, err)
	}()

	res, err = l.backend.Delete(ctx, path, lockID)
	if err != nil {
		return false, fmt.Errorf("release %q: %w", path, err)
	}
	return res != Mismatch, nil
}

// ForceReleaseLock implements Manager.ForceReleaseLock. It ignores ownership
// and expiry: a caller racing a fresh acquisition may delete that lease.
func (l *Locker) ForceReleaseLock(ctx context.Context, path string) (_ bool, err error) {
	if path == "" {
		return false, leaseerrors.ErrInvalidPath
	}
	ctx, done := l.observe(ctx, "force_release", path)
	defer func() {
		result := "forced"
		if err != nil {
			result = "error"
		}
		if l.metricsEnabled {
			metrics.ReleaseCounter.WithLabelValues(l.backend.Name(), result).Inc()
		}
		done(result, err)
	}()

	if _, err = l.backend.Delete(ctx, path, ""); err != nil {
		return false, fmt.Errorf("force release %q: %w", path, err)
	}
	return true, nil
}

// ExtendLock implements Manager.ExtendLock. The new expiry is computed from
// the stored one, not from the current time, and is written only if neither
// the id nor the expiry changed since they were read. On a backend with a
// Resolution, d must be a whole multiple of it.
func (l *Locker) ExtendLock(ctx context.Context, path, lockID string, d time.Duration) (extended bool, err error) {
	if path == "" {
		return false, leaseerrors.ErrInvalidPath
	}
	if d <= 0 {
		return false, fmt.Errorf("extend by %v: %w", d, leaseerrors.ErrInvalidDuration)
	}
	if res := l.Resolution(); res > 0 && d%res != 0 {
		return false, fmt.Errorf("extend by %v, not a multiple of %v: %w", d, res, leaseerrors.ErrInvalidDuration)
	}
	ctx, done := l.observe(ctx, "extend", path)
	defer func() {
		result := "rejected"
		switch {
		case err != nil:
			result = "error"
		case extended:
			result = "extended"
		}
		if l.metricsEnabled {
			metrics.ExtendCounter.WithLabelValues(l.backend.Name(), result).Inc()
		}
		done(result, err)
	}()

	rec, err := l.backend.Load(ctx, path)
	if err != nil {
		return false, fmt.Errorf("extend %q: %w", path, err)
	}
	if rec == nil || rec.LockID != lockID {
		return false, nil
	}
	expired, err := rec.Expired(l.now())
	if err != nil {
		return false, fmt.Errorf("extend %q: %w", path, err)
	}
	if expired {
		return false, nil
	}
	ok, err := l.backend.Extend(ctx, path, lockID, rec.ExpiresAt, rec.ExpiresAt.Add(d))
	if err != nil {
		return false, fmt.Errorf("extend %q: %w", path, err)
	}
	return ok, nil
}

// GetLockInfo implements Manager.GetLockInfo. An expired record found on the
// way is deleted before nil is returned.
func (l *Locker) GetLockInfo(ctx context.Context, path string) (_ *Record, err error) {
	if path == "" {
		return nil, leaseerrors.ErrInvalidPath
	}
	ctx, done := l.observe(ctx, "info", path)
	var rec *Record
	defer func() {
		done(presence(rec, err), err)
	}()

	rec, err = l.live(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("info %q: %w", path, err)
	}
	return rec.clone(), nil
}

// IsLocked implements Manager.IsLocked.
func (l *Locker) IsLocked(ctx context.Context, path string) (_ bool, err error) {
	if path == "" {
		return false, leaseerrors.ErrInvalidPath
	}
	ctx, done := l.observe(ctx, "is_locked", path)
	var rec *Record
	defer func() {
		done(presence(rec, err), err)
	}()

	rec, err = l.live(ctx, path)
	if err != nil {
		return false, fmt.Errorf("is locked %q: %w", path, err)
	}
	return rec != nil, nil
}

// live returns the unexpired record on path. Expired records are reclaimed
// with a delete conditioned on their own id, so a lease taken between the
// read and the delete survives and is returned instead.
func (l *Locker) live(ctx context.Context, path string) (*Record, error) {
	rec, err := l.backend.Load(ctx, path)
	if err != nil || rec == nil {
		return nil, err
	}
	expired, err := rec.Expired(l.now())
	if err != nil {
		return nil, err
	}
	if !expired {
		return rec, nil
	}

	res, err := l.backend.Delete(ctx, path, rec.LockID)
	if err != nil {
		l.logger.Warn("lease: reclaim failed", "path", path, "lock_id", rec.LockID, "error", err)
		return nil, fmt.Errorf("reclaim: %w", err)
	}
	switch res {
	case Deleted:
		l.logger.Debug("lease: reclaimed expired lease", "path", path, "lock_id", rec.LockID, "expired_at", rec.ExpiresAt)
		if l.metricsEnabled {
			metrics.ReclaimCounter.WithLabelValues(l.backend.Name()).Inc()
		}
		return nil, nil
	case Mismatch:
		next, err := l.backend.Load(ctx, path)
		if err != nil || next == nil {
			return nil, err
		}
		if expired, err := next.Expired(l.now()); err != nil || expired {
			return nil, err
		}
		return next, nil
	default:
		return nil, nil
	}
}

func (l *Locker) observe(ctx context.Context, op, path string) (context.Context, func(result string, err error)) {
	var span trace.Span
	start := time.Now()
	if l.traceEnabled {
		ctx, span = tracer.Start(ctx, "Lock."+op, trace.WithAttributes(
			attribute.String("lease.path", path),
			attribute.String("lease.backend", l.backend.Name()),
		))
	}
	return ctx, func(result string, err error) {
		if l.metricsEnabled {
			metrics.OpDuration.WithLabelValues(l.backend.Name(), op).Observe(time.Since(start).Seconds())
		}
		if span == nil {
			return
		}
		span.SetAttributes(attribute.String("lease.result", result))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func presence(rec *Record, err error) string {
	switch {
	case err != nil:
		return "error"
	case rec == nil:
		return "free"
	default:
		return "held"
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
