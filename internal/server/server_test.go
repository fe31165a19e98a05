package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/deskpool/internal/api"
	"github.com/wolfeidau/deskpool/internal/manager"
	"github.com/wolfeidau/deskpool/internal/models"
)

// fakeSessions records calls and returns canned results.
type fakeSessions struct {
	mu        sync.Mutex
	createErr error
	getErr    error
	created   []manager.CreateRequest
	destroyed []string
	statsHits int
}

func (f *fakeSessions) Create(_ context.Context, req manager.CreateRequest) (models.ConnectionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return models.ConnectionInfo{}, f.createErr
	}
	f.created = append(f.created, req)
	return models.ConnectionInfo{
		SessionID:  "0199b0c4-0000-7000-8000-000000000001",
		OwnerID:    req.OwnerID,
		TaskID:     req.TaskID,
		Display:    1,
		VNCPort:    5901,
		WebPort:    7901,
		Credential: "abcdefgh",
		VNCURL:     "ws://desk.example.com:7901/websockify",
		WebURL:     "http://desk.example.com:7901/vnc.html",
		Status:     models.StatusActive,
	}, nil
}

func (f *fakeSessions) Destroy(_ context.Context, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, id)
}

func (f *fakeSessions) Get(_ context.Context, id string) (models.ConnectionInfo, error) {
	if f.getErr != nil {
		return models.ConnectionInfo{}, f.getErr
	}
	return models.ConnectionInfo{SessionID: id, Display: 2, Status: models.StatusActive}, nil
}

func (f *fakeSessions) List() models.SessionList {
	return models.SessionList{
		Total:     1,
		Max:       100,
		Available: 99,
		Sessions:  []models.Summary{{SessionID: "s1", OwnerID: "u1", Display: 1, Status: models.StatusActive}},
	}
}

func (f *fakeSessions) Stats(context.Context) models.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statsHits++
	return models.Stats{CPUPercent: 12.5, MemoryPercent: 40, ActiveSessions: 1, MaxSessions: 100}
}

func (f *fakeSessions) Health() models.Health {
	return models.Health{Status: "healthy", ActiveSessions: 1, AvailableDisplays: 99, Timestamp: time.Now()}
}

func (f *fakeSessions) QueueStatus() models.QueueStatus {
	return models.QueueStatus{}
}

func newTestServer(t *testing.T, sessions Sessions) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(NewServer(sessions).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestRESTCreate(t *testing.T) {
	sessions := &fakeSessions{}
	ts := newTestServer(t, sessions)

	body := `{"user_id":"u1","task_id":42,"timeout_minutes":15}`
	resp, err := http.Post(ts.URL+"/api/sessions/create", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info models.ConnectionInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	require.Equal(t, "u1", info.OwnerID)
	require.Equal(t, 7901, info.WebPort)
	require.Equal(t, "abcdefgh", info.Credential)

	require.Len(t, sessions.created, 1)
	require.Equal(t, 15*time.Minute, sessions.created[0].Timeout)
	require.Equal(t, int64(42), *sessions.created[0].TaskID)
}

func TestRESTCreateHugeTimeoutClampsToMax(t *testing.T) {
	sessions := &fakeSessions{}
	ts := newTestServer(t, sessions)

	body := `{"user_id":"u1","timeout_minutes":307445735}`
	resp, err := http.Post(ts.URL+"/api/sessions/create", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, sessions.created, 1)
	cfg := manager.DefaultConfig()
	require.Equal(t, cfg.MaxTimeout, cfg.ClampTimeout(sessions.created[0].Timeout))
}

func TestRESTCreateErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		createErr  error
		wantStatus int
		wantReason string
	}{
		{name: "capacity", body: `{"user_id":"u1"}`, createErr: fmt.Errorf("%w: 100 live", manager.ErrCapacityExceeded), wantStatus: http.StatusServiceUnavailable, wantReason: manager.ReasonCapacity},
		{name: "pool exhausted", body: `{"user_id":"u1"}`, createErr: manager.ErrPoolExhausted, wantStatus: http.StatusServiceUnavailable, wantReason: manager.ReasonCapacity},
		{name: "launch", body: `{"user_id":"u1"}`, createErr: fmt.Errorf("%w: desktop", manager.ErrLaunchFailed), wantStatus: http.StatusInternalServerError, wantReason: manager.ReasonLaunch},
		{name: "store", body: `{"user_id":"u1"}`, createErr: fmt.Errorf("%w: redis", manager.ErrStoreUnavailable), wantStatus: http.StatusServiceUnavailable, wantReason: manager.ReasonStore},
		{name: "missing owner", body: `{}`, wantStatus: http.StatusBadRequest, wantReason: manager.ReasonInvalid},
		{name: "malformed body", body: `{"user_id":`, wantStatus: http.StatusBadRequest, wantReason: manager.ReasonInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &fakeSessions{createErr: tt.createErr})

			resp, err := http.Post(ts.URL+"/api/sessions/create", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			require.Equal(t, tt.wantStatus, resp.StatusCode)

			var body api.ErrorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			require.Equal(t, tt.wantReason, body.Reason)
			require.NotEmpty(t, body.Detail)
		})
	}
}

func TestRESTDestroy(t *testing.T) {
	sessions := &fakeSessions{}
	ts := newTestServer(t, sessions)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/sessions/s-123", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body api.DestroySessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "Session destroyed", body.Message)
	require.Equal(t, []string{"s-123"}, sessions.destroyed)
}

func TestRESTGet(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		ts := newTestServer(t, &fakeSessions{})

		resp, err := http.Get(ts.URL + "/api/sessions/s-1")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var info models.ConnectionInfo
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
		require.Equal(t, "s-1", info.SessionID)
	})

	t.Run("not found", func(t *testing.T) {
		ts := newTestServer(t, &fakeSessions{getErr: manager.ErrNotFound})

		resp, err := http.Get(ts.URL + "/api/sessions/missing")
		require.NoError(t, err)
		defer resp.Body.Close()

		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestRESTReadEndpoints(t *testing.T) {
	ts := newTestServer(t, &fakeSessions{})

	tests := []struct {
		path string
		want string
	}{
		{path: "/api/sessions", want: `"available":99`},
		{path: "/api/sessions/stats", want: `"cpu_percent":12.5`},
		{path: "/api/sessions/queue/status", want: `"position":0`},
		{path: "/api/health", want: `"status":"healthy"`},
		{path: "/health", want: `"status":"ok"`},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(ts.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			require.Equal(t, http.StatusOK, resp.StatusCode)
			data, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			require.Contains(t, string(data), tt.want)
		})
	}
}

func TestRESTGzip(t *testing.T) {
	ts := newTestServer(t, &fakeSessions{})

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/sessions", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")

	// a transport without transparent decompression so the header is visible
	client := &http.Client{Transport: &http.Transport{DisableCompression: true}}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Vary"), "Accept-Encoding")
}

func rpcClient[Req, Res any](ts *httptest.Server, procedure string, opts ...connect.ClientOption) *connect.Client[Req, Res] {
	return connect.NewClient[Req, Res](http.DefaultClient, ts.URL+procedure, append([]connect.ClientOption{connect.WithCodec(api.Codec{})}, opts...)...)
}

func TestRPCCreateSession(t *testing.T) {
	sessions := &fakeSessions{}
	ts := newTestServer(t, sessions)

	client := rpcClient[api.CreateSessionRequest, models.ConnectionInfo](ts, api.CreateSessionProcedure)

	resp, err := client.CallUnary(context.Background(), connect.NewRequest(&api.CreateSessionRequest{UserID: "u1"}))
	require.NoError(t, err)
	require.Equal(t, "u1", resp.Msg.OwnerID)
	require.Equal(t, "http://desk.example.com:7901/vnc.html", resp.Msg.WebURL)
	require.Zero(t, sessions.created[0].Timeout)
}

func TestRPCErrorCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode connect.Code
	}{
		{name: "capacity", err: manager.ErrPoolExhausted, wantCode: connect.CodeResourceExhausted},
		{name: "launch", err: manager.ErrLaunchFailed, wantCode: connect.CodeInternal},
		{name: "store", err: manager.ErrStoreUnavailable, wantCode: connect.CodeUnavailable},
		{name: "not found", err: manager.ErrNotFound, wantCode: connect.CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, &fakeSessions{createErr: tt.err})
			client := rpcClient[api.CreateSessionRequest, models.ConnectionInfo](ts, api.CreateSessionProcedure)

			_, err := client.CallUnary(context.Background(), connect.NewRequest(&api.CreateSessionRequest{UserID: "u1"}))
			require.Error(t, err)
			require.Equal(t, tt.wantCode, connect.CodeOf(err))

			var cerr *connect.Error
			require.ErrorAs(t, err, &cerr)
			require.Equal(t, manager.Reason(tt.err), cerr.Meta().Get(ReasonHeader))
		})
	}
}

func TestRPCValidation(t *testing.T) {
	ts := newTestServer(t, &fakeSessions{})

	create := rpcClient[api.CreateSessionRequest, models.ConnectionInfo](ts, api.CreateSessionProcedure)
	_, err := create.CallUnary(context.Background(), connect.NewRequest(&api.CreateSessionRequest{}))
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	destroy := rpcClient[api.DestroySessionRequest, api.DestroySessionResponse](ts, api.DestroySessionProcedure)
	_, err = destroy.CallUnary(context.Background(), connect.NewRequest(&api.DestroySessionRequest{}))
	require.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestRPCGetStatsOverHTTPGet(t *testing.T) {
	ts := newTestServer(t, &fakeSessions{})

	client := rpcClient[api.GetStatsRequest, models.Stats](ts, api.GetStatsProcedure,
		connect.WithHTTPGet(),
		connect.WithIdempotency(connect.IdempotencyNoSideEffects),
	)

	resp, err := client.CallUnary(context.Background(), connect.NewRequest(&api.GetStatsRequest{}))
	require.NoError(t, err)
	require.Equal(t, 12.5, resp.Msg.CPUPercent)
	require.Equal(t, "private, max-age=5", resp.Header().Get("Cache-Control"))
}

func TestRPCPlainJSONPost(t *testing.T) {
	ts := newTestServer(t, &fakeSessions{})

	resp, err := http.Post(ts.URL+api.GetHealthProcedure, "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health models.Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	require.Equal(t, "healthy", health.Status)
	require.Equal(t, 99, health.AvailableDisplays)
}
