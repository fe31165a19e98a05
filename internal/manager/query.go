package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/deskpool/internal/idpool"
	"github.com/wolfeidau/deskpool/internal/models"
	"github.com/wolfeidau/deskpool/internal/registry"
)

// Get returns a session by id and refreshes its last access time. Sessions
// not held locally are resolved from the mirror.
func (m *Manager) Get(ctx context.Context, id string) (models.ConnectionInfo, error) {
	if s, ok := m.registry.Touch(id); ok {
		return m.connectionInfo(s, false), nil
	}

	rec, err := m.registry.LoadRecord(ctx, id)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return models.ConnectionInfo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	case errors.Is(err, registry.ErrCorruptRecord):
		log.Warn().Err(err).Str("session_id", id).Msg("Ignoring unreadable session record")
		return models.ConnectionInfo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	case err != nil:
		return models.ConnectionInfo{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return m.connectionInfo(rec.Session(), false), nil
}

// List returns summaries of the local sessions, without credentials.
func (m *Manager) List() models.SessionList {
	sessions := m.registry.List()

	summaries := make([]models.Summary, 0, len(sessions))
	live := 0
	for _, s := range sessions {
		summaries = append(summaries, s.Summary())
		if s.Status.Live() {
			live++
		}
	}

	return models.SessionList{
		Total:     len(summaries),
		Max:       m.cfg.Capacity.MaxSessions,
		Available: m.available(live),
		Sessions:  summaries,
	}
}

// available is the number of sessions that could still be created, bounded
// by both the session ceiling and free displays.
func (m *Manager) available(live int) int {
	available := max(m.cfg.Capacity.MaxSessions-live, 0)
	return min(available, m.displays.Available())
}

// Stats reports host utilisation and pool occupancy. It is informational,
// admission does not use it.
func (m *Manager) Stats(ctx context.Context) models.Stats {
	stats := models.Stats{
		ActiveSessions: m.registry.Count(),
		MaxSessions:    m.cfg.Capacity.MaxSessions,
	}

	sample, err := m.sampler.Sample(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to sample host utilisation")
	} else {
		stats.CPUPercent = sample.CPUPercent
		stats.MemoryPercent = sample.MemoryPercent
	}

	stats.Pools = m.Pools()

	return stats
}

// Pools reports the occupancy of the display and port pools.
func (m *Manager) Pools() []models.PoolStats {
	pools := make([]models.PoolStats, 0, 3)
	for _, pool := range []*idpool.Pool{m.displays, m.vncPorts, m.webPorts} {
		occ := pool.Occupancy()
		pools = append(pools, models.PoolStats{
			Name: occ.Name,
			Size: occ.Size,
			Held: occ.Held,
			Free: occ.Free,
		})
	}
	return pools
}

// Health reports liveness and remaining display capacity.
func (m *Manager) Health() models.Health {
	return models.Health{
		Status:            "healthy",
		ActiveSessions:    m.registry.Count(),
		AvailableDisplays: m.displays.Available(),
		Timestamp:         m.now().UTC(),
	}
}

// QueueStatus always reports an empty queue, admission either accepts or rejects.
func (m *Manager) QueueStatus() models.QueueStatus {
	return models.QueueStatus{}
}
