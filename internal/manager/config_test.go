package manager

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/deskpool/internal/idpool"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	require.Equal(t, Range{Start: 1, End: 100}, cfg.Displays)
	require.Equal(t, Range{Start: 5901, End: 6000}, cfg.VNCPorts)
	require.Equal(t, Range{Start: 7901, End: 8000}, cfg.WebPorts)
	require.Equal(t, 100, cfg.Capacity.MaxSessions)
	require.Equal(t, 30*time.Minute, cfg.DefaultTimeout)
	require.Equal(t, 240*time.Minute, cfg.MaxTimeout)
	require.Equal(t, 5*time.Minute, cfg.SweepInterval)
	require.Equal(t, time.Hour, cfg.IdleThreshold)
	require.Equal(t, 6*time.Hour, cfg.MirrorTTL)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "inverted display range", mutate: func(c *Config) { c.Displays = Range{Start: 10, End: 1} }},
		{name: "overlapping port ranges", mutate: func(c *Config) { c.WebPorts = Range{Start: 5950, End: 6050} }},
		{name: "ttl equal to max timeout", mutate: func(c *Config) { c.MirrorTTL = c.MaxTimeout }},
		{name: "ttl below max timeout", mutate: func(c *Config) { c.MirrorTTL = time.Minute }},
		{name: "max below default timeout", mutate: func(c *Config) { c.MaxTimeout = time.Minute }},
		{name: "negative sweep", mutate: func(c *Config) { c.SweepInterval = -time.Second }},
		{name: "negative max sessions", mutate: func(c *Config) { c.Capacity.MaxSessions = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: fmt.Errorf("%w: 3 live", ErrCapacityExceeded), want: ReasonCapacity},
		{err: fmt.Errorf("%w: %w", ErrPoolExhausted, idpool.ErrExhausted), want: ReasonCapacity},
		{err: fmt.Errorf("%w: desktop", ErrLaunchFailed), want: ReasonLaunch},
		{err: fmt.Errorf("%w: redis", ErrStoreUnavailable), want: ReasonStore},
		{err: ErrNotFound, want: ReasonNotFound},
		{err: ErrInvalidArgument, want: ReasonInvalid},
		{err: errors.New("boom"), want: ReasonInternal},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, Reason(tt.err), tt.err.Error())
	}
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		maxSeen atomic.Int32
	)

	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("a")
			defer unlock()

			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), maxSeen.Load())
	require.Equal(t, 0, k.size())

	// different keys do not block each other
	unlockA := k.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := k.Lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
}
