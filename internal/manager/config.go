package manager

import (
	"errors"
	"fmt"
	"time"

	"github.com/wolfeidau/deskpool/internal/capacity"
)

// Range is an inclusive range of identifiers.
type Range struct {
	Start int
	End   int
}

func (r Range) overlaps(o Range) bool {
	return r.Start <= o.End && o.Start <= r.End
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Config holds the manager settings.
type Config struct {
	Displays Range
	VNCPorts Range
	WebPorts Range

	Capacity capacity.Config

	DefaultTimeout time.Duration
	MaxTimeout     time.Duration

	SweepInterval time.Duration
	IdleThreshold time.Duration

	// MirrorTTL must be longer than MaxTimeout so timeouts reclaim sessions before records expire.
	MirrorTTL time.Duration

	// PublicHost is the host put in connection URLs handed to callers.
	PublicHost string

	ProbeTimeout time.Duration
	StopTimeout  time.Duration
}

// DefaultConfig returns the defaults the service ships with.
func DefaultConfig() Config {
	cfg := Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	if c.Displays == (Range{}) {
		c.Displays = Range{Start: 1, End: 100}
	}
	if c.VNCPorts == (Range{}) {
		c.VNCPorts = Range{Start: 5901, End: 6000}
	}
	if c.WebPorts == (Range{}) {
		c.WebPorts = Range{Start: 7901, End: 8000}
	}

	defaults := capacity.DefaultConfig()
	if c.Capacity.MaxSessions == 0 {
		c.Capacity.MaxSessions = defaults.MaxSessions
	}
	if c.Capacity.Host == (capacity.Resources{}) {
		c.Capacity.Host = defaults.Host
	}
	if c.Capacity.PerSession == (capacity.Resources{}) {
		c.Capacity.PerSession = defaults.PerSession
	}

	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = 30 * time.Minute
	}
	if c.MaxTimeout == 0 {
		c.MaxTimeout = 240 * time.Minute
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.IdleThreshold == 0 {
		c.IdleThreshold = time.Hour
	}
	if c.MirrorTTL == 0 {
		c.MirrorTTL = 6 * time.Hour
	}
	if c.PublicHost == "" {
		c.PublicHost = "localhost"
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = 10 * time.Second
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = 15 * time.Second
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for name, r := range map[string]Range{"display": c.Displays, "vnc port": c.VNCPorts, "web port": c.WebPorts} {
		if r.Start < 0 || r.End < r.Start {
			return fmt.Errorf("invalid %s range %s", name, r)
		}
	}

	if c.VNCPorts.overlaps(c.WebPorts) {
		return fmt.Errorf("vnc port range %s overlaps web port range %s", c.VNCPorts, c.WebPorts)
	}

	if err := c.Capacity.Validate(); err != nil {
		return fmt.Errorf("invalid capacity: %w", err)
	}

	if c.DefaultTimeout <= 0 {
		return errors.New("default timeout must be greater than zero")
	}
	if c.MaxTimeout < c.DefaultTimeout {
		return fmt.Errorf("max timeout %s is less than default timeout %s", c.MaxTimeout, c.DefaultTimeout)
	}
	if c.MirrorTTL <= c.MaxTimeout {
		return fmt.Errorf("mirror ttl %s must be greater than max timeout %s", c.MirrorTTL, c.MaxTimeout)
	}

	if c.SweepInterval <= 0 || c.IdleThreshold <= 0 {
		return errors.New("sweep interval and idle threshold must be greater than zero")
	}

	if c.ProbeTimeout <= 0 || c.StopTimeout <= 0 {
		return errors.New("probe and stop timeouts must be greater than zero")
	}

	return nil
}

// ClampTimeout applies the default to unset timeouts and caps the rest at MaxTimeout.
func (c *Config) ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return c.DefaultTimeout
	case d > c.MaxTimeout:
		return c.MaxTimeout
	default:
		return d
	}
}
