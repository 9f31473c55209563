package errors

import "errors"

var (
	ErrTimeout          = errors.New("timeout")
	ErrConnectionClosed = errors.New("connection closed")

	// ErrNotAcquired is reported in an AcquireResult when every attempt found
	// the path held by someone else.
	ErrNotAcquired = errors.New("failed to acquire lock after retries")

	// ErrMissingExpiry is returned by the expiry policy for records without
	// an expiry timestamp.
	ErrMissingExpiry = errors.New("lease: record has no expiry")

	ErrInvalidPath     = errors.New("lease: path must not be empty")
	ErrInvalidDuration = errors.New("lease: duration must be positive")

	// ErrCorruptState is returned when persisted lock data cannot be decoded.
	ErrCorruptState = errors.New("lease: corrupt lock state")
)
