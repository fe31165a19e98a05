package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for common error conditions
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrUnavailable = errors.New("store unavailable")
	ErrInvalidTTL  = errors.New("ttl must be greater than zero")
)

// MirrorStore is a key-value store with per-key expiration. It holds the
// serialisable copy of live sessions and the owner index so other instances can
// look them up, and so state survives the loss of the in-process registry.
type MirrorStore interface {
	// Set stores value under key, replacing any previous value, expiring after ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns the value stored under key or ErrKeyNotFound if it is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Lifecycle
	Close() error
}

// ValidateTTL rejects zero and negative expirations, every backend requires one.
func ValidateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
