// Package manager coordinates the session lifecycle. It is the only caller of
// the identifier pools, the registry and the launcher, and it guarantees that a
// failed create leaves nothing behind and that destroy is idempotent.
package manager

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/deskpool/internal/capacity"
	"github.com/wolfeidau/deskpool/internal/hoststat"
	"github.com/wolfeidau/deskpool/internal/idpool"
	"github.com/wolfeidau/deskpool/internal/launcher"
	"github.com/wolfeidau/deskpool/internal/models"
	"github.com/wolfeidau/deskpool/internal/reclaim"
	"github.com/wolfeidau/deskpool/internal/registry"
	"github.com/wolfeidau/deskpool/internal/store"
	"github.com/wolfeidau/deskpool/internal/telemetry"
)

// Launcher starts and stops the processes backing a session.
type Launcher interface {
	StartDesktop(ctx context.Context, req launcher.DesktopRequest) (launcher.Process, error)
	StartProxy(ctx context.Context, req launcher.ProxyRequest) (launcher.Process, error)
	Stop(ctx context.Context, p launcher.Process) error
	WaitForPort(ctx context.Context, port int, timeout time.Duration) error
	KillDisplay(ctx context.Context, display int) error
}

// CreateRequest asks for a session for an owner.
type CreateRequest struct {
	OwnerID string
	TaskID  *int64
	// Timeout is the hard lifetime of the session, zero selects the default.
	Timeout time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithSampler sets the host utilisation sampler used by Stats.
func WithSampler(s hoststat.Sampler) Option {
	return func(m *Manager) {
		m.sampler = s
	}
}

// WithCredentialGenerator overrides how session credentials are generated.
func WithCredentialGenerator(gen func() (string, error)) Option {
	return func(m *Manager) {
		m.newCredential = gen
	}
}

// Manager is the lifecycle orchestrator for desktop sessions.
type Manager struct {
	cfg Config

	displays *idpool.Pool
	vncPorts *idpool.Pool
	webPorts *idpool.Pool
	gate     *capacity.Gate

	launcher  Launcher
	registry  *registry.Registry
	scheduler *reclaim.Scheduler
	sampler   hoststat.Sampler
	metrics   *telemetry.Metrics

	// admission covers the gate check, pool acquisition and registry
	// reservation so concurrent creates observe each other.
	admission sync.Mutex
	locks     *keyedMutex

	now           func() time.Time
	newCredential func() (string, error)
}

// New creates a manager. Call Start to begin idle sweeping.
func New(cfg Config, mirror store.MirrorStore, l Launcher, opts ...Option) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manager config: %w", err)
	}

	displays, err := idpool.New("display", cfg.Displays.Start, cfg.Displays.End)
	if err != nil {
		return nil, err
	}
	vncPorts, err := idpool.New("vnc_port", cfg.VNCPorts.Start, cfg.VNCPorts.End)
	if err != nil {
		return nil, err
	}
	webPorts, err := idpool.New("web_port", cfg.WebPorts.Start, cfg.WebPorts.End)
	if err != nil {
		return nil, err
	}

	gate, err := capacity.NewGate(cfg.Capacity)
	if err != nil {
		return nil, err
	}

	reg, err := registry.New(mirror, cfg.MirrorTTL)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:           cfg,
		displays:      displays,
		vncPorts:      vncPorts,
		webPorts:      webPorts,
		gate:          gate,
		launcher:      l,
		registry:      reg,
		sampler:       hoststat.NewSystemSampler(100 * time.Millisecond),
		metrics:       telemetry.GetMetrics(),
		locks:         newKeyedMutex(),
		now:           time.Now,
		newCredential: launcher.GenerateCredential,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.scheduler, err = reclaim.New(reclaim.Config{
		SweepInterval: cfg.SweepInterval,
		IdleThreshold: cfg.IdleThreshold,
	}, reg, m.reclaim)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Start begins the periodic idle sweep.
func (m *Manager) Start() {
	m.scheduler.Start()

	log.Info().
		Int("max_sessions", m.cfg.Capacity.MaxSessions).
		Str("displays", m.cfg.Displays.String()).
		Str("vnc_ports", m.cfg.VNCPorts.String()).
		Str("web_ports", m.cfg.WebPorts.String()).
		Dur("sweep_interval", m.cfg.SweepInterval).
		Dur("idle_threshold", m.cfg.IdleThreshold).
		Msg("Session manager started")
}

// Shutdown stops reclamation and, when destroyAll is set, destroys every live
// session so no desktop outlives the manager.
func (m *Manager) Shutdown(ctx context.Context, destroyAll bool) {
	m.scheduler.Stop()

	if !destroyAll {
		return
	}

	ids := m.registry.IDs()
	log.Info().Int("sessions", len(ids)).Msg("Destroying sessions on shutdown")

	for _, id := range ids {
		m.reclaim(ctx, id, reclaim.TriggerShutdown)
	}
}

// Create returns connection details for a session owned by req.OwnerID,
// reusing the owner's live session when there is one.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (models.ConnectionInfo, error) {
	if req.OwnerID == "" {
		return models.ConnectionInfo{}, fmt.Errorf("%w: owner id is required", ErrInvalidArgument)
	}

	unlock := m.locks.Lock(ownerLockKey(req.OwnerID))
	defer unlock()

	if info, ok := m.reuse(ctx, req.OwnerID); ok {
		m.metrics.SessionsReusedTotal.Add(ctx, 1)
		return info, nil
	}

	info, err := m.create(ctx, req)
	if err != nil {
		m.metrics.SessionsFailedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", Reason(err))))
		return models.ConnectionInfo{}, err
	}

	return info, nil
}

// reuse looks for a live session of the owner, locally first and then in the
// mirror. Mirror failures are treated as no prior session.
func (m *Manager) reuse(ctx context.Context, owner string) (models.ConnectionInfo, bool) {
	if id, ok := m.registry.OwnerSession(owner); ok {
		s, ok := m.registry.Touch(id)
		if ok && s.Status == models.StatusActive {
			log.Info().Str("session_id", s.ID).Str("owner_id", owner).Msg("Reusing session")
			return m.connectionInfo(s, true), true
		}
	}

	rec, err := m.registry.LookupOwner(ctx, owner)
	if err != nil {
		if !errors.Is(err, registry.ErrNotFound) {
			m.metrics.MirrorErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", "lookup_owner")))
			log.Warn().Err(err).Str("owner_id", owner).Msg("Owner lookup failed, continuing without reuse")
		}
		return models.ConnectionInfo{}, false
	}

	if rec.Status != models.StatusActive {
		return models.ConnectionInfo{}, false
	}

	log.Info().Str("session_id", rec.SessionID).Str("owner_id", owner).Msg("Reusing session recorded by another instance")
	return m.connectionInfo(rec.Session(), true), true
}

// allocation is what a create attempt holds and must give back on failure.
type allocation struct {
	id      string
	display int
	vncPort int
	webPort int
	desktop launcher.Process
	proxy   launcher.Process

	// desktopAttempted is set once StartDesktop has run, even if it failed.
	desktopAttempted bool
}

func (m *Manager) create(ctx context.Context, req CreateRequest) (models.ConnectionInfo, error) {
	started := m.now()
	timeout := m.cfg.ClampTimeout(req.Timeout)

	session, err := m.admit(req, timeout)
	if err != nil {
		return models.ConnectionInfo{}, err
	}

	alloc := &allocation{
		id:      session.ID,
		display: session.Display,
		vncPort: session.VNCPort,
		webPort: session.WebPort,
	}

	logger := log.With().
		Str("session_id", session.ID).
		Str("owner_id", session.OwnerID).
		Int("display", session.Display).
		Int("vnc_port", session.VNCPort).
		Int("web_port", session.WebPort).
		Logger()

	logger.Info().Dur("timeout", timeout).Msg("Starting session")

	if err := m.launch(ctx, alloc, session.Credential); err != nil {
		logger.Error().Err(err).Msg("Session launch failed, rolling back")
		m.rollback(ctx, alloc)
		return models.ConnectionInfo{}, err
	}

	var active models.Session
	err = m.registry.Update(session.ID, func(e *registry.Entry) {
		e.Desktop = alloc.desktop
		e.Proxy = alloc.proxy
		e.Session.Status = models.StatusActive
		e.Session.LastAccessedAt = m.now()
		active = e.Session
	})
	if err != nil {
		m.rollback(ctx, alloc)
		return models.ConnectionInfo{}, fmt.Errorf("session %s vanished during launch: %w", session.ID, err)
	}

	if err := m.registry.Publish(ctx, session.ID); err != nil {
		m.metrics.MirrorErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", "publish")))
		logger.Error().Err(err).Msg("Failed to record session, rolling back")
		m.rollback(ctx, alloc)
		return models.ConnectionInfo{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	// the timeout runs from creation, launch time included
	m.scheduler.Schedule(session.ID, max(timeout-m.now().Sub(session.CreatedAt), 0))

	m.metrics.SessionsCreatedTotal.Add(ctx, 1)
	m.metrics.ActiveSessions.Add(ctx, 1)
	m.metrics.LaunchDuration.Record(ctx, float64(m.now().Sub(started).Milliseconds()))

	logger.Info().Dur("duration", m.now().Sub(started)).Msg("Session active")

	return m.connectionInfo(active, false), nil
}

// admit runs the capacity gate, acquires one identifier from each pool and
// reserves the registry entry, all under the admission lock.
func (m *Manager) admit(req CreateRequest, timeout time.Duration) (models.Session, error) {
	m.admission.Lock()
	defer m.admission.Unlock()

	current := m.registry.Count()
	if !m.gate.Admit(current) {
		return models.Session{}, fmt.Errorf("%w: %d live sessions, projected %+v", ErrCapacityExceeded, current, m.gate.Projected(current))
	}

	var acquired []heldID
	release := func() {
		for _, h := range acquired {
			if err := h.pool.Release(h.id); err != nil {
				log.Error().Err(err).Str("pool", h.pool.Name()).Int("id", h.id).Msg("Failed to release identifier")
			}
		}
	}

	ids := make([]int, 0, 3)
	for _, pool := range []*idpool.Pool{m.displays, m.vncPorts, m.webPorts} {
		id, err := pool.Acquire()
		if err != nil {
			release()
			return models.Session{}, fmt.Errorf("%w: %w", ErrPoolExhausted, err)
		}
		acquired = append(acquired, heldID{pool: pool, id: id})
		ids = append(ids, id)
	}

	id, err := uuid.NewV7()
	if err != nil {
		release()
		return models.Session{}, fmt.Errorf("failed to generate session id: %w", err)
	}

	credential, err := m.newCredential()
	if err != nil {
		release()
		return models.Session{}, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}

	now := m.now()
	session := models.Session{
		ID:             id.String(),
		OwnerID:        req.OwnerID,
		TaskID:         req.TaskID,
		Display:        ids[0],
		VNCPort:        ids[1],
		WebPort:        ids[2],
		Status:         models.StatusStarting,
		Timeout:        timeout,
		Credential:     credential,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	if err := m.registry.Reserve(session); err != nil {
		release()
		return models.Session{}, err
	}

	return session, nil
}

type heldID struct {
	pool *idpool.Pool
	id   int
}

// launch starts the desktop, waits for its port and starts the proxy, in that
// order. Started processes are recorded on alloc for rollback.
func (m *Manager) launch(ctx context.Context, alloc *allocation, credential string) error {
	alloc.desktopAttempted = true
	desktop, err := m.launcher.StartDesktop(ctx, launcher.DesktopRequest{
		SessionID:  alloc.id,
		Display:    alloc.display,
		VNCPort:    alloc.vncPort,
		Credential: credential,
	})
	if err != nil {
		return fmt.Errorf("%w: desktop server: %w", ErrLaunchFailed, err)
	}
	alloc.desktop = desktop

	if err := m.launcher.WaitForPort(ctx, alloc.vncPort, m.cfg.ProbeTimeout); err != nil {
		return fmt.Errorf("%w: desktop server: %w", ErrLaunchFailed, err)
	}

	proxy, err := m.launcher.StartProxy(ctx, launcher.ProxyRequest{
		SessionID: alloc.id,
		WebPort:   alloc.webPort,
		VNCPort:   alloc.vncPort,
	})
	if err != nil {
		return fmt.Errorf("%w: web proxy: %w", ErrLaunchFailed, err)
	}
	alloc.proxy = proxy

	return nil
}

// rollback undoes a failed create: stop what was started, return the
// identifiers and drop the registry entry, before the error reaches the caller.
func (m *Manager) rollback(ctx context.Context, alloc *allocation) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.StopTimeout)
	defer cancel()

	m.stopProcesses(stopCtx, alloc.id, alloc.proxy, alloc.desktop)

	// a failed start can still leave the daemonized server on the display
	if alloc.desktopAttempted && alloc.desktop == nil {
		if err := m.launcher.KillDisplay(stopCtx, alloc.display); err != nil {
			log.Warn().Err(err).Str("session_id", alloc.id).Int("display", alloc.display).Msg("Failed to stop desktop server after failed start")
		}
	}

	m.admission.Lock()
	m.releaseIDs(alloc.id, alloc.display, alloc.vncPort, alloc.webPort)
	m.registry.Remove(alloc.id)
	m.admission.Unlock()
}

// Destroy tears down a session. Unknown and already destroyed ids are a no-op,
// process stop failures are logged, so it always succeeds.
func (m *Manager) Destroy(ctx context.Context, id string) {
	if m.destroy(ctx, id) {
		m.metrics.SessionsDestroyedTotal.Add(ctx, 1)
	}
}

func (m *Manager) reclaim(ctx context.Context, id string, trigger reclaim.Trigger) {
	if m.destroy(ctx, id) {
		m.metrics.SessionsDestroyedTotal.Add(ctx, 1)
		m.metrics.SessionsReclaimedTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", string(trigger))))
		log.Info().Str("session_id", id).Str("trigger", string(trigger)).Msg("Session reclaimed")
	}
}

// destroy returns true if a local session was torn down.
func (m *Manager) destroy(ctx context.Context, id string) bool {
	if id == "" {
		return false
	}

	unlockID := m.locks.Lock(idLockKey(id))
	defer unlockID()

	entry, ok := m.registry.Get(id)
	if !ok {
		m.destroyRecorded(ctx, id)
		return false
	}

	unlockOwner := m.locks.Lock(ownerLockKey(entry.Session.OwnerID))
	defer unlockOwner()

	// a create for the same owner may have rolled the entry back while we waited
	entry, ok = m.registry.Get(id)
	if !ok || !entry.Session.Status.Live() {
		return false
	}

	_ = m.registry.Update(id, func(e *registry.Entry) {
		e.Session.Status = models.StatusStopping
	})

	m.scheduler.Cancel(id)

	logger := log.With().Str("session_id", id).Int("display", entry.Session.Display).Logger()
	logger.Info().Msg("Destroying session")

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.StopTimeout)
	defer cancel()

	m.stopProcesses(stopCtx, id, entry.Proxy, entry.Desktop)

	m.admission.Lock()
	m.releaseIDs(id, entry.Session.Display, entry.Session.VNCPort, entry.Session.WebPort)
	m.registry.Remove(id)
	m.admission.Unlock()

	if err := m.registry.Unpublish(stopCtx, id, entry.Session.OwnerID); err != nil {
		m.metrics.MirrorErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", "unpublish")))
		logger.Warn().Err(err).Msg("Failed to remove session record, it will expire")
	}

	m.metrics.ActiveSessions.Add(ctx, -1)
	logger.Info().Msg("Session destroyed")

	return true
}

// destroyRecorded cleans up a session known only to the mirror, for example
// one created before a restart.
func (m *Manager) destroyRecorded(ctx context.Context, id string) {
	rec, err := m.registry.LoadRecord(ctx, id)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return
	case errors.Is(err, registry.ErrCorruptRecord):
		log.Warn().Err(err).Str("session_id", id).Msg("Removing unreadable session record")
		if err := m.registry.Unpublish(ctx, id, ""); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("Failed to remove session record")
		}
		return
	case err != nil:
		m.metrics.MirrorErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", "load")))
		log.Warn().Err(err).Str("session_id", id).Msg("Failed to read session record, nothing destroyed")
		return
	}

	logger := log.With().Str("session_id", id).Int("display", rec.Display).Logger()
	logger.Info().Msg("Destroying session known only to the mirror")

	if err := m.registry.Unpublish(ctx, id, rec.OwnerID); err != nil {
		logger.Warn().Err(err).Msg("Failed to remove session record, it will expire")
	}

	m.admission.Lock()
	held := m.displays.IsHeld(rec.Display)
	m.admission.Unlock()

	if held {
		logger.Info().Msg("Display belongs to a local session, leaving it running")
		return
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.StopTimeout)
	defer cancel()

	if err := m.launcher.KillDisplay(stopCtx, rec.Display); err != nil {
		logger.Warn().Err(err).Msg("Failed to stop desktop server")
	}
}

func (m *Manager) stopProcesses(ctx context.Context, id string, procs ...launcher.Process) {
	for _, p := range procs {
		if p == nil {
			continue
		}
		if err := m.launcher.Stop(ctx, p); err != nil {
			log.Warn().Err(err).Str("session_id", id).Str("process", string(p.Kind())).Msg("Failed to stop process")
		}
	}
}

// releaseIDs must be called with the admission lock held.
func (m *Manager) releaseIDs(id string, display, vncPort, webPort int) {
	for _, h := range []heldID{{m.displays, display}, {m.vncPorts, vncPort}, {m.webPorts, webPort}} {
		if err := h.pool.Release(h.id); err != nil {
			log.Error().Err(err).Str("session_id", id).Str("pool", h.pool.Name()).Int("id", h.id).Msg("Failed to release identifier")
		}
	}
}

func (m *Manager) connectionInfo(s models.Session, reused bool) models.ConnectionInfo {
	hostPort := net.JoinHostPort(m.cfg.PublicHost, strconv.Itoa(s.WebPort))

	return models.ConnectionInfo{
		SessionID:  s.ID,
		OwnerID:    s.OwnerID,
		TaskID:     s.TaskID,
		Display:    s.Display,
		VNCPort:    s.VNCPort,
		WebPort:    s.WebPort,
		Credential: s.Credential,
		VNCURL:     "ws://" + hostPort + "/websockify",
		WebURL:     "http://" + hostPort + "/vnc.html",
		Status:     s.Status,
		Reused:     reused,
	}
}

func ownerLockKey(owner string) string { return "owner:" + owner }

func idLockKey(id string) string { return "id:" + id }
