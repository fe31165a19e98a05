// Package idpool hands out integer identifiers (display numbers, ports) from a
// fixed contiguous range. Acquire always returns the lowest free identifier so
// allocation is deterministic regardless of the order identifiers come back.
package idpool

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrExhausted is returned by Acquire when every identifier in the range is held.
	ErrExhausted = errors.New("pool exhausted")
	// ErrNotHeld is returned by Release for an identifier that is already free.
	ErrNotHeld = errors.New("identifier not held")
	// ErrOutOfRange is returned by Release for an identifier outside the configured range.
	ErrOutOfRange = errors.New("identifier out of range")
)

// Pool is a mutex guarded free set over [start, end].
type Pool struct {
	name  string
	start int
	end   int

	mu    sync.Mutex
	held  []bool
	nheld int
}

// Occupancy is a point in time view of a pool.
type Occupancy struct {
	Name  string `json:"name"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Size  int    `json:"size"`
	Held  int    `json:"held"`
	Free  int    `json:"free"`
}

// New creates a pool covering start through end inclusive.
func New(name string, start, end int) (*Pool, error) {
	if end < start {
		return nil, fmt.Errorf("invalid %s range %d-%d: end before start", name, start, end)
	}
	if start < 0 {
		return nil, fmt.Errorf("invalid %s range %d-%d: negative start", name, start, end)
	}

	return &Pool{
		name:  name,
		start: start,
		end:   end,
		held:  make([]bool, end-start+1),
	}, nil
}

// Name returns the pool name used in logs and stats.
func (p *Pool) Name() string {
	return p.name
}

// Acquire removes and returns the lowest free identifier.
func (p *Pool) Acquire() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, held := range p.held {
		if !held {
			p.held[i] = true
			p.nheld++
			return p.start + i, nil
		}
	}

	return 0, fmt.Errorf("%s: %w", p.name, ErrExhausted)
}

// Release returns id to the free set.
func (p *Pool) Release(id int) error {
	if id < p.start || id > p.end {
		return fmt.Errorf("%s %d: %w", p.name, id, ErrOutOfRange)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	i := id - p.start
	if !p.held[i] {
		return fmt.Errorf("%s %d: %w", p.name, id, ErrNotHeld)
	}
	p.held[i] = false
	p.nheld--

	return nil
}

// IsHeld reports whether id is currently allocated.
func (p *Pool) IsHeld(id int) bool {
	if id < p.start || id > p.end {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.held[id-p.start]
}

// Contains reports whether id falls inside the configured range.
func (p *Pool) Contains(id int) bool {
	return id >= p.start && id <= p.end
}

// Available returns the number of free identifiers.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.held) - p.nheld
}

// Occupancy returns a snapshot of the pool's usage.
func (p *Pool) Occupancy() Occupancy {
	p.mu.Lock()
	defer p.mu.Unlock()

	size := len(p.held)
	return Occupancy{
		Name:  p.name,
		Start: p.start,
		End:   p.end,
		Size:  size,
		Held:  p.nheld,
		Free:  size - p.nheld,
	}
}
