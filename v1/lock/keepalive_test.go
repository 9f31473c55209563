package lock

import (
	"context"
	"testing"
	"time"
)

func TestKeepAliveExtendsLease(t *testing.T) {
	ctx := context.Background()
	l := New(NewInMemory())
	res, err := l.AcquireLock(ctx, "k", WithLeaseTimeout(100*time.Millisecond))
	if err != nil || !res.Acquired {
		t.Fatalf("acquire: %+v %v", res, err)
	}

	r := KeepAlive(ctx, l, "k", res.LockID, 20*time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	r.Stop()

	select {
	case <-r.Lost():
		t.Fatalf("renewal lost the lease: %v", r.Err())
	default:
	}
	info, err := l.GetLockInfo(ctx, "k")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info == nil || info.LockID != res.LockID {
		t.Fatalf("lease expired despite renewal: %+v", info)
	}
}

func TestKeepAliveReportsLoss(t *testing.T) {
	ctx := context.Background()
	l := New(NewInMemory())
	res, err := l.AcquireLock(ctx, "k", WithLeaseTimeout(time.Minute))
	if err != nil || !res.Acquired {
		t.Fatalf("acquire: %+v %v", res, err)
	}

	r := KeepAlive(ctx, l, "k", res.LockID, 10*time.Millisecond)
	defer r.Stop()
	if _, err := l.ForceReleaseLock(ctx, "k"); err != nil {
		t.Fatalf("force release: %v", err)
	}

	select {
	case <-r.Lost():
	case <-time.After(time.Second):
		t.Fatal("expected renewal to report the lost lease")
	}
	if r.Err() != nil {
		t.Fatalf("refusal should not carry an error, got %v", r.Err())
	}
}
