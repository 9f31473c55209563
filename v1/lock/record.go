package lock

import (
	"fmt"
	"maps"
	"time"

	leaseerrors "github.com/mirkobrombin/go-lease/v1/errors"
)

// Record is a lease on a single resource path.
type Record struct {
	LockID     string         `json:"lockId"`
	AcquiredAt time.Time      `json:"acquiredAt"`
	ExpiresAt  time.Time      `json:"expiresAt"`
	Metadata   map[string]any `json:"metadata"`
}

// IsExpired reports whether r is stale at now. A record is expired once now
// reaches its expiry; the expiry instant itself already counts as expired.
func IsExpired(r *Record, now time.Time) (bool, error) {
	if r == nil || r.ExpiresAt.IsZero() {
		return false, fmt.Errorf("is expired: %w", leaseerrors.ErrMissingExpiry)
	}
	return !now.Before(r.ExpiresAt), nil
}

// Expired is IsExpired bound to r.
func (r *Record) Expired(now time.Time) (bool, error) {
	return IsExpired(r, now)
}

// clone returns a copy that shares nothing mutable with r.
func (r *Record) clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Metadata != nil {
		c.Metadata = maps.Clone(r.Metadata)
	}
	return &c
}
