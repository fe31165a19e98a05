package client

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/deskpool/internal/api"
	"github.com/wolfeidau/deskpool/internal/manager"
	"github.com/wolfeidau/deskpool/internal/models"
	"github.com/wolfeidau/deskpool/internal/server"
)

type stubSessions struct {
	statsCalls atomic.Int32
	listCalls  atomic.Int32
}

func (s *stubSessions) Create(_ context.Context, req manager.CreateRequest) (models.ConnectionInfo, error) {
	if req.OwnerID == "full" {
		return models.ConnectionInfo{}, manager.ErrPoolExhausted
	}
	return models.ConnectionInfo{SessionID: "s1", OwnerID: req.OwnerID, Display: 1, Status: models.StatusActive}, nil
}

func (s *stubSessions) Destroy(context.Context, string) {}

func (s *stubSessions) Get(_ context.Context, id string) (models.ConnectionInfo, error) {
	if id != "s1" {
		return models.ConnectionInfo{}, manager.ErrNotFound
	}
	return models.ConnectionInfo{SessionID: "s1", Display: 1, Status: models.StatusActive}, nil
}

func (s *stubSessions) List() models.SessionList {
	s.listCalls.Add(1)
	return models.SessionList{Total: 0, Max: 10, Available: 10, Sessions: []models.Summary{}}
}

func (s *stubSessions) Stats(context.Context) models.Stats {
	s.statsCalls.Add(1)
	return models.Stats{CPUPercent: 5, MaxSessions: 10}
}

func (s *stubSessions) Health() models.Health {
	return models.Health{Status: "healthy", AvailableDisplays: 10, Timestamp: time.Now()}
}

func (s *stubSessions) QueueStatus() models.QueueStatus { return models.QueueStatus{} }

func newTestClients(t *testing.T) (*Clients, *stubSessions) {
	t.Helper()

	sessions := &stubSessions{}
	ts := httptest.NewServer(server.NewServer(sessions).Handler())
	t.Cleanup(ts.Close)

	cfg := DefaultConfig()
	cfg.ServerURL = ts.URL
	cfg.Timeout = 10 * time.Second

	return NewClients(cfg), sessions
}

func TestSessionClientRoundTrip(t *testing.T) {
	clients, _ := newTestClients(t)
	ctx := context.Background()

	info, err := clients.Sessions.Create(ctx, &api.CreateSessionRequest{UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, "s1", info.SessionID)

	got, err := clients.Sessions.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, 1, got.Display)

	destroyed, err := clients.Sessions.Destroy(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "Session destroyed", destroyed.Message)

	health, err := clients.Sessions.Health(ctx)
	require.NoError(t, err)
	require.Equal(t, "healthy", health.Status)

	queue, err := clients.Sessions.QueueStatus(ctx)
	require.NoError(t, err)
	require.Zero(t, queue.Total)
}

func TestSessionClientErrors(t *testing.T) {
	clients, _ := newTestClients(t)
	ctx := context.Background()

	_, err := clients.Sessions.Get(ctx, "missing")
	require.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
	require.Equal(t, manager.ReasonNotFound, Reason(err))

	_, err = clients.Sessions.Create(ctx, &api.CreateSessionRequest{UserID: "full"})
	require.Equal(t, connect.CodeResourceExhausted, connect.CodeOf(err))
	require.Equal(t, manager.ReasonCapacity, Reason(err))

	require.Empty(t, Reason(nil))
}

func TestStatsServedFromCache(t *testing.T) {
	clients, sessions := newTestClients(t)
	ctx := context.Background()

	first, err := clients.Sessions.Stats(ctx)
	require.NoError(t, err)
	second, err := clients.Sessions.Stats(ctx)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, int32(1), sessions.statsCalls.Load())
}

func TestCachingHTTPClientDisk(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "private, max-age=60")
		_, _ = w.Write([]byte("ok"))
	}))
	defer ts.Close()

	client := NewCachingHTTPClient(t.TempDir(), nil)

	for range 3 {
		resp, err := client.Get(ts.URL)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		require.Equal(t, "ok", string(body))
		resp.Body.Close()
	}

	require.Equal(t, int32(1), hits.Load())
}
