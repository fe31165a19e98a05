// Package reclaim destroys sessions that reach their hard timeout or sit idle
// past the idle threshold.
package reclaim

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Trigger names what caused a reclamation.
type Trigger string

const (
	TriggerTimeout  Trigger = "timeout"
	TriggerIdle     Trigger = "idle"
	TriggerShutdown Trigger = "shutdown"
)

// ReclaimFunc destroys a session. It must tolerate ids that are already gone.
type ReclaimFunc func(ctx context.Context, id string, trigger Trigger)

// IdleSource lists sessions that have not been accessed since cutoff.
type IdleSource interface {
	IdleSince(cutoff time.Time) []string
}

// Config controls the idle sweep.
type Config struct {
	SweepInterval time.Duration
	IdleThreshold time.Duration
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.SweepInterval <= 0 {
		return errors.New("sweep interval must be greater than zero")
	}
	if c.IdleThreshold <= 0 {
		return errors.New("idle threshold must be greater than zero")
	}
	return nil
}

// Scheduler runs the per-session timeout timers and the periodic idle sweep.
// Both call the reclaim function; cancelling a timer on an early destroy only
// avoids a redundant call.
type Scheduler struct {
	cfg     Config
	idle    IdleSource
	reclaim ReclaimFunc
	now     func() time.Time

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. Call Start to begin sweeping.
func New(cfg Config, idle IdleSource, reclaim ReclaimFunc) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cfg:     cfg,
		idle:    idle,
		reclaim: reclaim,
		now:     time.Now,
		timers:  make(map[string]*time.Timer),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Schedule arranges for the session to be reclaimed once after d, replacing
// any timer already set for it.
func (s *Scheduler) Schedule(id string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	if t, ok := s.timers[id]; ok {
		t.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.stopped || s.timers[id] != timer {
			s.mu.Unlock()
			return
		}
		delete(s.timers, id)
		s.wg.Add(1)
		s.mu.Unlock()

		defer s.wg.Done()

		log.Info().Str("session_id", id).Dur("timeout", d).Msg("Session timeout reached")
		s.reclaim(s.ctx, id, TriggerTimeout)
	})

	s.timers[id] = timer
}

// Cancel stops the timeout timer of a session if one is pending.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// Pending returns the number of armed timeout timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.timers)
}

// Start begins the periodic idle sweep.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.sweepLoop()
}

// Stop ends the sweep loop, disarms all timers and waits for in-flight
// reclamations to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Info().Msg("Idle sweep stopped")
			return

		case <-ticker.C:
			s.Sweep(s.ctx)
		}
	}
}

// Sweep reclaims every session idle for longer than the threshold and
// returns how many were attempted. Each attempt is isolated from the others.
func (s *Scheduler) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.cfg.IdleThreshold)
	ids := s.idle.IdleSince(cutoff)

	log.Debug().Int("idle", len(ids)).Time("cutoff", cutoff).Msg("Running idle sweep")

	attempted := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		attempted++
		s.reclaimOne(ctx, id)
	}

	if attempted > 0 {
		log.Info().Int("reclaimed", attempted).Msg("Idle sweep complete")
	}

	return attempted
}

func (s *Scheduler) reclaimOne(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("session_id", id).Interface("panic", r).Msg("Idle reclamation panicked")
		}
	}()

	log.Info().Str("session_id", id).Dur("idle_threshold", s.cfg.IdleThreshold).Msg("Reclaiming idle session")
	s.reclaim(ctx, id, TriggerIdle)
}
