// Package registry tracks live sessions in process and mirrors them to a
// key-value store with expiry so other instances can find them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/deskpool/internal/launcher"
	"github.com/wolfeidau/deskpool/internal/models"
	"github.com/wolfeidau/deskpool/internal/store"
)

var (
	// ErrNotFound indicates no session exists for the id or owner
	ErrNotFound = errors.New("session not found")
	// ErrExists indicates the id or owner already has a live session
	ErrExists = errors.New("session already exists")
)

// Entry is the in-process record of a session. It exclusively owns the
// process handles of the session.
type Entry struct {
	Session models.Session
	Desktop launcher.Process
	Proxy   launcher.Process
}

// Registry tracks live sessions in process and mirrors them to a TTL
// key-value store for lookups from other instances.
//
// The in-process map is authoritative for sessions this process created, the
// mirror is only consulted when the local entry is absent.
type Registry struct {
	mirror store.MirrorStore
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]*Entry
	owners  map[string]string // owner id -> session id
}

// New creates a registry writing mirror records with the given TTL.
func New(mirror store.MirrorStore, ttl time.Duration) (*Registry, error) {
	if mirror == nil {
		return nil, errors.New("mirror store is required")
	}
	if err := store.ValidateTTL(ttl); err != nil {
		return nil, err
	}

	return &Registry{
		mirror:  mirror,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*Entry),
		owners:  make(map[string]string),
	}, nil
}

func sessionKey(id string) string { return "session:" + id }

func ownerKey(owner string) string { return "user_session:" + owner }

// Reserve inserts a new entry for the session. It fails if the id is taken or
// the owner already has a live session.
func (r *Registry) Reserve(s models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[s.ID]; ok {
		return fmt.Errorf("%w: id %s", ErrExists, s.ID)
	}
	if id, ok := r.owners[s.OwnerID]; ok {
		return fmt.Errorf("%w: owner %s holds %s", ErrExists, s.OwnerID, id)
	}

	r.entries[s.ID] = &Entry{Session: s}
	r.owners[s.OwnerID] = s.ID

	return nil
}

// Update applies fn to the entry under the registry lock.
func (r *Registry) Update(id string, fn func(e *Entry)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}

	fn(e)
	return nil
}

// Publish writes the session record and owner index to the mirror. On
// failure nothing is left behind in the mirror.
func (r *Registry) Publish(ctx context.Context, id string) error {
	r.mu.RLock()
	e, ok := r.entries[id]
	var rec Record
	if ok {
		rec = RecordFromSession(e.Session)
	}
	r.mu.RUnlock()

	if !ok {
		return ErrNotFound
	}

	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}

	if err := r.mirror.Set(ctx, sessionKey(id), data, r.ttl); err != nil {
		return fmt.Errorf("failed to write session record: %w", err)
	}

	if err := r.mirror.Set(ctx, ownerKey(rec.OwnerID), []byte(id), r.ttl); err != nil {
		if delErr := r.mirror.Delete(ctx, sessionKey(id)); delErr != nil {
			log.Warn().Err(delErr).Str("session_id", id).Msg("Failed to remove session record after owner index write failed")
		}
		return fmt.Errorf("failed to write owner index: %w", err)
	}

	return nil
}

// Get returns a copy of the local entry.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Touch refreshes the last access time of a local session and returns a copy of it.
func (r *Registry) Touch(id string) (models.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return models.Session{}, false
	}

	e.Session.LastAccessedAt = r.now()
	return e.Session, true
}

// OwnerSession returns the id of the owner's local session.
func (r *Registry) OwnerSession(owner string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.owners[owner]
	return id, ok
}

// Remove deletes the local entry and returns it.
func (r *Registry) Remove(id string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}

	delete(r.entries, id)
	if r.owners[e.Session.OwnerID] == id {
		delete(r.owners, e.Session.OwnerID)
	}

	return *e, true
}

// LoadRecord reads the mirror record for a session.
func (r *Registry) LoadRecord(ctx context.Context, id string) (Record, error) {
	data, err := r.mirror.Get(ctx, sessionKey(id))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("failed to read session record: %w", err)
	}

	return DecodeRecord(data)
}

// LookupOwner resolves the owner index in the mirror to a session record.
func (r *Registry) LookupOwner(ctx context.Context, owner string) (Record, error) {
	id, err := r.mirror.Get(ctx, ownerKey(owner))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("failed to read owner index: %w", err)
	}

	rec, err := r.LoadRecord(ctx, string(id))
	if err != nil {
		return Record{}, err
	}

	if rec.OwnerID != owner {
		return Record{}, fmt.Errorf("%w: owner index for %s points at session of %s", ErrCorruptRecord, owner, rec.OwnerID)
	}

	return rec, nil
}

// Unpublish deletes the session record and, when it still points at this
// session, the owner index.
func (r *Registry) Unpublish(ctx context.Context, id, owner string) error {
	keys := []string{sessionKey(id)}

	if owner != "" {
		current, err := r.mirror.Get(ctx, ownerKey(owner))
		switch {
		case err == nil && string(current) == id:
			keys = append(keys, ownerKey(owner))
		case err != nil && !errors.Is(err, store.ErrKeyNotFound):
			// fall back to removing it, a stale index only causes a failed reuse lookup
			keys = append(keys, ownerKey(owner))
		}
	}

	if err := r.mirror.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("failed to delete session record: %w", err)
	}

	return nil
}

// List returns copies of all local sessions ordered by display.
func (r *Registry) List() []models.Session {
	r.mu.RLock()
	sessions := make([]models.Session, 0, len(r.entries))
	for _, e := range r.entries {
		sessions = append(sessions, e.Session)
	}
	r.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Display < sessions[j].Display
	})

	return sessions
}

// Count returns the number of local sessions holding pool identifiers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.entries {
		if e.Session.Status.Live() {
			n++
		}
	}
	return n
}

// IdleSince returns ids of active sessions not accessed since cutoff.
func (r *Registry) IdleSince(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, e := range r.entries {
		if e.Session.Status == models.StatusActive && e.Session.IdleSince(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// IDs returns the ids of all local sessions.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
