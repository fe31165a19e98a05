package memory

import (
	"context"
	"sync"
	"time"

	"github.com/wolfeidau/deskpool/internal/store"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// MirrorStore implements store.MirrorStore using in-memory storage.
// Data is lost on restart, it is intended for tests and single instance development.
type MirrorStore struct {
	mu      sync.RWMutex
	entries map[string]entry

	now func() time.Time
}

// Option configures a MirrorStore.
type Option func(*MirrorStore)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *MirrorStore) {
		s.now = now
	}
}

// NewMirrorStore creates a new in-memory mirror store.
func NewMirrorStore(opts ...Option) *MirrorStore {
	s := &MirrorStore{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set stores a copy of value under key.
func (s *MirrorStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := store.ValidateTTL(ttl); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Clone to avoid external modifications
	clone := make([]byte, len(value))
	copy(clone, value)

	s.entries[key] = entry{value: clone, expiresAt: s.now().Add(ttl)}
	return nil
}

// Get returns a copy of the value stored under key.
func (s *MirrorStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.entries[key]
	if !exists || !s.now().Before(e.expiresAt) {
		return nil, store.ErrKeyNotFound
	}

	clone := make([]byte, len(e.value))
	copy(clone, e.value)
	return clone, nil
}

// Delete removes the keys.
func (s *MirrorStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

// DeleteExpired drops expired entries and returns how many were removed.
func (s *MirrorStore) DeleteExpired(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
			count++
		}
	}
	return count
}

// Len returns the number of stored entries, including ones that have expired but not been swept.
func (s *MirrorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Close is a no-op.
func (s *MirrorStore) Close() error {
	return nil
}
