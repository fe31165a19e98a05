package models

import "time"

// PoolStats is the occupancy of one identifier pool.
type PoolStats struct {
	Name string `json:"name"`
	Size int    `json:"size"`
	Held int    `json:"held"`
	Free int    `json:"free"`
}

// Stats reports host load and pool occupancy for capacity dashboards.
type Stats struct {
	CPUPercent     float64     `json:"cpu_percent"`
	MemoryPercent  float64     `json:"memory_percent"`
	ActiveSessions int         `json:"active_sessions"`
	MaxSessions    int         `json:"max_sessions"`
	Pools          []PoolStats `json:"pools"`
}

// Health is the liveness summary of the manager.
type Health struct {
	Status            string    `json:"status"`
	ActiveSessions    int       `json:"active_sessions"`
	AvailableDisplays int       `json:"available_displays"`
	Timestamp         time.Time `json:"timestamp"`
}

// QueueStatus is reported for callers that poll for a queue position. There is
// no queue, admission is accept or reject.
type QueueStatus struct {
	Position int `json:"position"`
	Total    int `json:"total"`
}
