package client

import (
	"context"
	"errors"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/wolfeidau/deskpool/internal/api"
	"github.com/wolfeidau/deskpool/internal/models"
)

// ReasonHeader mirrors the error metadata key set by the server.
const ReasonHeader = "Deskpool-Reason"

// Config holds common client configuration
type Config struct {
	ServerURL string
	Timeout   time.Duration
	CacheDir  string
	Debug     bool
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		ServerURL: "http://localhost:8000",
		Timeout:   2 * time.Minute,
	}
}

// SessionClient calls session.v1.SessionService.
type SessionClient struct {
	create      *connect.Client[api.CreateSessionRequest, models.ConnectionInfo]
	destroy     *connect.Client[api.DestroySessionRequest, api.DestroySessionResponse]
	get         *connect.Client[api.GetSessionRequest, models.ConnectionInfo]
	list        *connect.Client[api.ListSessionsRequest, models.SessionList]
	stats       *connect.Client[api.GetStatsRequest, models.Stats]
	health      *connect.Client[api.GetHealthRequest, models.Health]
	queueStatus *connect.Client[api.GetQueueStatusRequest, models.QueueStatus]
}

// NewSessionClient creates a session client. Side-effect-free calls are sent
// as HTTP GET so a caching transport can serve them.
func NewSessionClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *SessionClient {
	base := append([]connect.ClientOption{connect.WithCodec(api.Codec{})}, opts...)
	readOnly := append([]connect.ClientOption{
		connect.WithHTTPGet(),
		connect.WithIdempotency(connect.IdempotencyNoSideEffects),
	}, base...)

	return &SessionClient{
		create:      connect.NewClient[api.CreateSessionRequest, models.ConnectionInfo](httpClient, baseURL+api.CreateSessionProcedure, base...),
		destroy:     connect.NewClient[api.DestroySessionRequest, api.DestroySessionResponse](httpClient, baseURL+api.DestroySessionProcedure, base...),
		get:         connect.NewClient[api.GetSessionRequest, models.ConnectionInfo](httpClient, baseURL+api.GetSessionProcedure, base...),
		list:        connect.NewClient[api.ListSessionsRequest, models.SessionList](httpClient, baseURL+api.ListSessionsProcedure, readOnly...),
		stats:       connect.NewClient[api.GetStatsRequest, models.Stats](httpClient, baseURL+api.GetStatsProcedure, readOnly...),
		health:      connect.NewClient[api.GetHealthRequest, models.Health](httpClient, baseURL+api.GetHealthProcedure, readOnly...),
		queueStatus: connect.NewClient[api.GetQueueStatusRequest, models.QueueStatus](httpClient, baseURL+api.GetQueueStatusProcedure, readOnly...),
	}
}

func (c *SessionClient) Create(ctx context.Context, req *api.CreateSessionRequest) (*models.ConnectionInfo, error) {
	resp, err := c.create.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *SessionClient) Destroy(ctx context.Context, sessionID string) (*api.DestroySessionResponse, error) {
	resp, err := c.destroy.CallUnary(ctx, connect.NewRequest(&api.DestroySessionRequest{SessionID: sessionID}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *SessionClient) Get(ctx context.Context, sessionID string) (*models.ConnectionInfo, error) {
	resp, err := c.get.CallUnary(ctx, connect.NewRequest(&api.GetSessionRequest{SessionID: sessionID}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *SessionClient) List(ctx context.Context) (*models.SessionList, error) {
	resp, err := c.list.CallUnary(ctx, connect.NewRequest(&api.ListSessionsRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *SessionClient) Stats(ctx context.Context) (*models.Stats, error) {
	resp, err := c.stats.CallUnary(ctx, connect.NewRequest(&api.GetStatsRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *SessionClient) Health(ctx context.Context) (*models.Health, error) {
	resp, err := c.health.CallUnary(ctx, connect.NewRequest(&api.GetHealthRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *SessionClient) QueueStatus(ctx context.Context) (*models.QueueStatus, error) {
	resp, err := c.queueStatus.CallUnary(ctx, connect.NewRequest(&api.GetQueueStatusRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Clients holds the RPC clients
type Clients struct {
	Sessions *SessionClient
}

// NewClients creates new RPC clients with the given configuration
func NewClients(config Config, opts ...connect.ClientOption) *Clients {
	httpClient := NewCachingHTTPClient(config.CacheDir, http.DefaultTransport)
	httpClient.Timeout = config.Timeout

	return &Clients{
		Sessions: NewSessionClient(httpClient, config.ServerURL, opts...),
	}
}

// Reason returns the server reported reason for a failed call, if any.
func Reason(err error) string {
	var cerr *connect.Error
	if errors.As(err, &cerr) {
		return cerr.Meta().Get(ReasonHeader)
	}
	return ""
}
