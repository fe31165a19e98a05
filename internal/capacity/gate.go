// Package capacity implements the soft admission check run before every
// session creation. It estimates demand from a per-session cost and compares it
// with the host envelope; it does not enforce any limit on the processes.
package capacity

import (
	"errors"
	"fmt"
)

// Resources describes an amount of CPU, memory and network bandwidth.
type Resources struct {
	CPUCores      float64 `json:"cpu_cores" yaml:"cpu_cores"`
	MemoryMB      float64 `json:"memory_mb" yaml:"memory_mb"`
	BandwidthMbps float64 `json:"bandwidth_mbps" yaml:"bandwidth_mbps"`
}

// Scale returns r multiplied by n.
func (r Resources) Scale(n int) Resources {
	f := float64(n)
	return Resources{
		CPUCores:      r.CPUCores * f,
		MemoryMB:      r.MemoryMB * f,
		BandwidthMbps: r.BandwidthMbps * f,
	}
}

// Fits reports whether every dimension of r is within limit.
func (r Resources) Fits(limit Resources) bool {
	return r.CPUCores <= limit.CPUCores &&
		r.MemoryMB <= limit.MemoryMB &&
		r.BandwidthMbps <= limit.BandwidthMbps
}

// Config holds the host envelope and the estimated cost of one session.
type Config struct {
	MaxSessions int
	Host        Resources
	PerSession  Resources
}

// DefaultConfig mirrors the defaults the service ships with.
func DefaultConfig() Config {
	return Config{
		MaxSessions: 100,
		Host:        Resources{CPUCores: 64, MemoryMB: 131072, BandwidthMbps: 1000},
		PerSession:  Resources{CPUCores: 0.3, MemoryMB: 400, BandwidthMbps: 5},
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.MaxSessions <= 0 {
		return errors.New("max sessions must be greater than zero")
	}
	if c.PerSession.CPUCores < 0 || c.PerSession.MemoryMB < 0 || c.PerSession.BandwidthMbps < 0 {
		return errors.New("per session cost must not be negative")
	}
	if !c.PerSession.Fits(c.Host) {
		return fmt.Errorf("host envelope %+v cannot fit a single session costing %+v", c.Host, c.PerSession)
	}
	return nil
}

// Gate decides whether one more session may be admitted.
type Gate struct {
	cfg Config
}

// NewGate returns a gate for cfg.
func NewGate(cfg Config) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capacity config: %w", err)
	}
	return &Gate{cfg: cfg}, nil
}

// Admit reports whether current+1 sessions stay within the session ceiling and
// all three host envelopes. It is evaluated fresh on every call.
func (g *Gate) Admit(current int) bool {
	next := current + 1
	if next > g.cfg.MaxSessions {
		return false
	}
	return g.cfg.PerSession.Scale(next).Fits(g.cfg.Host)
}

// Projected returns the estimated demand if current+1 sessions were running.
func (g *Gate) Projected(current int) Resources {
	return g.cfg.PerSession.Scale(current + 1)
}

// MaxSessions returns the configured session ceiling.
func (g *Gate) MaxSessions() int {
	return g.cfg.MaxSessions
}
