package lock

import (
	"context"
	"sync"
	"time"
)

// Renewal is a running background extension of one lease.
type Renewal struct {
	stop     chan struct{}
	lost     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

// KeepAlive wakes every interval and extends the lease (path, lockID) by the
// wall-clock time elapsed since the last extension, so the expiry moves at the
// rate of real time. When m has a Resolution the extension is truncated to it
// and the remainder carried to the next tick. The renewal runs until Stop is
// called, ctx is done, or an extension is refused. A refused extension means
// the lease expired or changed hands: Lost is closed and the renewal ends.
//
// interval should be well below the lease duration, and the lease must also
// outlast one Resolution step.
func KeepAlive(ctx context.Context, m Manager, path, lockID string, interval time.Duration) *Renewal {
	r := &Renewal{
		stop: make(chan struct{}),
		lost: make(chan struct{}),
		done: make(chan struct{}),
	}
	if interval <= 0 {
		interval = DefaultTimeout / 3
	}
	var step time.Duration
	if res, ok := m.(Resolution); ok {
		step = res.Resolution()
	}
	ticker := time.NewTicker(interval)
	last := time.Now()
	go func() {
		defer close(r.done)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				d := now.Sub(last)
				if step > 0 {
					d = d.Truncate(step)
				}
				if d <= 0 {
					continue
				}
				ok, err := m.ExtendLock(ctx, path, lockID, d)
				if err != nil || !ok {
					r.mu.Lock()
					r.err = err
					r.mu.Unlock()
					close(r.lost)
					return
				}
				last = last.Add(d)
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return r
}

// Lost is closed when the lease could not be extended.
func (r *Renewal) Lost() <-chan struct{} {
	return r.lost
}

// Err returns the backend error that ended the renewal, if any. It is nil
// when the extension was refused rather than failed.
func (r *Renewal) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Stop ends the renewal and waits for the background loop to exit. It does
// not release the lease.
func (r *Renewal) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}
