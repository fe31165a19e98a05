package models

import (
	"time"
)

// Status is the lifecycle state of a desktop session.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusActive    Status = "active"
	StatusStopping  Status = "stopping"
	StatusDestroyed Status = "destroyed"
	StatusFailed    Status = "failed"
)

// Live returns true for states that hold pool identifiers and count against capacity.
func (s Status) Live() bool {
	return s == StatusStarting || s == StatusActive || s == StatusStopping
}

// Session is one allocated remote desktop with its display/port triple.
// The Credential is handed to the caller once at creation and kept so reuse
// and lookups can return it; it is never written to logs.
type Session struct {
	ID      string        `json:"session_id"` // UUIDv7, the only external handle
	OwnerID string        `json:"user_id"`
	TaskID  *int64        `json:"task_id,omitempty"`
	Display int           `json:"display"`
	VNCPort int           `json:"vnc_port"`
	WebPort int           `json:"web_port"`
	Status  Status        `json:"status"`
	Timeout time.Duration `json:"-"`

	Credential string `json:"password,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// Summary returns the listing view of the session, without secrets.
func (s *Session) Summary() Summary {
	return Summary{
		SessionID: s.ID,
		OwnerID:   s.OwnerID,
		Display:   s.Display,
		Status:    s.Status,
		CreatedAt: s.CreatedAt,
	}
}

// IdleSince returns true if the session has not been accessed since cutoff.
func (s *Session) IdleSince(cutoff time.Time) bool {
	return s.LastAccessedAt.Before(cutoff)
}

// Summary is the listing projection of a session.
type Summary struct {
	SessionID string    `json:"session_id"`
	OwnerID   string    `json:"user_id"`
	Display   int       `json:"display"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionList is the response of a listing.
type SessionList struct {
	Total     int       `json:"total"`
	Max       int       `json:"max"`
	Available int       `json:"available"`
	Sessions  []Summary `json:"sessions"`
}

// ConnectionInfo is returned to the caller of a create.
type ConnectionInfo struct {
	SessionID  string `json:"session_id"`
	OwnerID    string `json:"user_id"`
	TaskID     *int64 `json:"task_id,omitempty"`
	Display    int    `json:"display"`
	VNCPort    int    `json:"vnc_port"`
	WebPort    int    `json:"web_port"`
	Credential string `json:"password"`
	VNCURL     string `json:"vnc_url"`
	WebURL     string `json:"web_url"`
	Status     Status `json:"status"`
	Reused     bool   `json:"reused"`
}
