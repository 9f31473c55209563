package lock

import (
	"context"
	stdErrors "errors"
	"fmt"
)

// Do acquires the lease on path, runs fn and releases the lease with the
// acquired id, also when fn fails. If the path stays held it returns the
// ErrNotAcquired carried by the acquisition result.
func Do(ctx context.Context, m Manager, path string, fn func(ctx context.Context, lease AcquireResult) error, opts ...AcquireOption) (err error) {
	res, err := m.AcquireLock(ctx, path, opts...)
	if err != nil {
		return err
	}
	if !res.Acquired {
		return fmt.Errorf("%s: %w", path, res.Err)
	}
	defer func() {
		// the caller's context may be done by now; release regardless
		if _, rerr := m.ReleaseLock(context.WithoutCancel(ctx), path, res.LockID); rerr != nil {
			err = stdErrors.Join(err, fmt.Errorf("release %s: %w", path, rerr))
		}
	}()
	return fn(ctx, res)
}
