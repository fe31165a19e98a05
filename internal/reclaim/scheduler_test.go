package reclaim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	kinds []Trigger
	panic string
}

func (r *recorder) reclaim(_ context.Context, id string, trigger Trigger) {
	if id == r.panic {
		panic("boom")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, id)
	r.kinds = append(r.kinds, trigger)
}

func (r *recorder) snapshot() ([]string, []Trigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...), append([]Trigger(nil), r.kinds...)
}

type staticIdle []string

func (s staticIdle) IdleSince(time.Time) []string { return s }

func TestConfigValidate(t *testing.T) {
	require.Error(t, Config{}.Validate())
	require.Error(t, Config{SweepInterval: time.Second}.Validate())
	require.NoError(t, Config{SweepInterval: time.Second, IdleThreshold: time.Minute}.Validate())
}

func TestScheduleFiresOnce(t *testing.T) {
	rec := &recorder{}
	s, err := New(Config{SweepInterval: time.Hour, IdleThreshold: time.Hour}, staticIdle(nil), rec.reclaim)
	require.NoError(t, err)
	defer s.Stop()

	s.Schedule("a", 20*time.Millisecond)
	require.Equal(t, 1, s.Pending())

	require.Eventually(t, func() bool {
		calls, _ := rec.snapshot()
		return len(calls) == 1
	}, time.Second, 5*time.Millisecond)

	calls, kinds := rec.snapshot()
	require.Equal(t, []string{"a"}, calls)
	require.Equal(t, []Trigger{TriggerTimeout}, kinds)
	require.Equal(t, 0, s.Pending())
}

func TestCancelPreventsFiring(t *testing.T) {
	rec := &recorder{}
	s, err := New(Config{SweepInterval: time.Hour, IdleThreshold: time.Hour}, staticIdle(nil), rec.reclaim)
	require.NoError(t, err)
	defer s.Stop()

	s.Schedule("a", 30*time.Millisecond)
	s.Cancel("a")
	s.Cancel("unknown")

	time.Sleep(80 * time.Millisecond)

	calls, _ := rec.snapshot()
	require.Empty(t, calls)
}

func TestRescheduleReplacesTimer(t *testing.T) {
	rec := &recorder{}
	s, err := New(Config{SweepInterval: time.Hour, IdleThreshold: time.Hour}, staticIdle(nil), rec.reclaim)
	require.NoError(t, err)
	defer s.Stop()

	s.Schedule("a", 20*time.Millisecond)
	s.Schedule("a", 60*time.Millisecond)
	require.Equal(t, 1, s.Pending())

	require.Eventually(t, func() bool {
		calls, _ := rec.snapshot()
		return len(calls) == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(80 * time.Millisecond)
	calls, _ := rec.snapshot()
	require.Len(t, calls, 1)
}

func TestStopDisarmsTimers(t *testing.T) {
	rec := &recorder{}
	s, err := New(Config{SweepInterval: time.Hour, IdleThreshold: time.Hour}, staticIdle(nil), rec.reclaim)
	require.NoError(t, err)

	s.Start()
	s.Schedule("a", 30*time.Millisecond)
	s.Stop()

	// scheduling after stop is ignored
	s.Schedule("b", time.Millisecond)
	require.Equal(t, 0, s.Pending())

	time.Sleep(60 * time.Millisecond)
	calls, _ := rec.snapshot()
	require.Empty(t, calls)
}

func TestSweepIsolatesFailures(t *testing.T) {
	rec := &recorder{panic: "b"}
	s, err := New(Config{SweepInterval: time.Hour, IdleThreshold: time.Hour}, staticIdle{"a", "b", "c"}, rec.reclaim)
	require.NoError(t, err)
	defer s.Stop()

	require.Equal(t, 3, s.Sweep(context.Background()))

	calls, kinds := rec.snapshot()
	require.Equal(t, []string{"a", "c"}, calls)
	require.Equal(t, []Trigger{TriggerIdle, TriggerIdle}, kinds)
}

type cutoffIdle struct {
	mu     sync.Mutex
	cutoff time.Time
}

func (c *cutoffIdle) IdleSince(cutoff time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cutoff = cutoff
	return nil
}

func TestSweepUsesIdleThreshold(t *testing.T) {
	idle := &cutoffIdle{}
	s, err := New(Config{SweepInterval: time.Hour, IdleThreshold: time.Hour}, idle, func(context.Context, string, Trigger) {})
	require.NoError(t, err)
	defer s.Stop()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.Sweep(context.Background())
	require.Equal(t, now.Add(-time.Hour), idle.cutoff)
}

func TestSweepLoopRuns(t *testing.T) {
	rec := &recorder{}
	s, err := New(Config{SweepInterval: 10 * time.Millisecond, IdleThreshold: time.Hour}, staticIdle{"a"}, rec.reclaim)
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool {
		calls, _ := rec.snapshot()
		return len(calls) >= 2
	}, time.Second, 5*time.Millisecond)
	s.Stop()
}
