package server

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/deskpool/internal/api"
	"github.com/wolfeidau/deskpool/internal/manager"
	"github.com/wolfeidau/deskpool/internal/models"
)

// ReasonHeader carries the error reason on failed RPCs.
const ReasonHeader = "Deskpool-Reason"

// Sessions is the session lifecycle surface exposed by the server.
type Sessions interface {
	Create(ctx context.Context, req manager.CreateRequest) (models.ConnectionInfo, error)
	Destroy(ctx context.Context, id string)
	Get(ctx context.Context, id string) (models.ConnectionInfo, error)
	List() models.SessionList
	Stats(ctx context.Context) models.Stats
	Health() models.Health
	QueueStatus() models.QueueStatus
}

var _ Sessions = (*manager.Manager)(nil)

// SessionServer implements session.v1.SessionService.
type SessionServer struct {
	sessions Sessions
}

func NewSessionServer(sessions Sessions) *SessionServer {
	return &SessionServer{
		sessions: sessions,
	}
}

func (s *SessionServer) CreateSession(ctx context.Context, req *connect.Request[api.CreateSessionRequest]) (*connect.Response[models.ConnectionInfo], error) {
	if err := req.Msg.Validate(); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	info, err := s.sessions.Create(ctx, createRequest(req.Msg))
	if err != nil {
		return nil, connectError(err)
	}

	return connect.NewResponse(&info), nil
}

func (s *SessionServer) DestroySession(ctx context.Context, req *connect.Request[api.DestroySessionRequest]) (*connect.Response[api.DestroySessionResponse], error) {
	if req.Msg.SessionID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("session_id is required"))
	}

	s.sessions.Destroy(ctx, req.Msg.SessionID)

	return connect.NewResponse(&api.DestroySessionResponse{Message: "Session destroyed"}), nil
}

func (s *SessionServer) GetSession(ctx context.Context, req *connect.Request[api.GetSessionRequest]) (*connect.Response[models.ConnectionInfo], error) {
	if req.Msg.SessionID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("session_id is required"))
	}

	info, err := s.sessions.Get(ctx, req.Msg.SessionID)
	if err != nil {
		return nil, connectError(err)
	}

	return connect.NewResponse(&info), nil
}

func (s *SessionServer) ListSessions(ctx context.Context, req *connect.Request[api.ListSessionsRequest]) (*connect.Response[models.SessionList], error) {
	list := s.sessions.List()

	resp := connect.NewResponse(&list)
	resp.Header().Set("Cache-Control", "private, max-age=1")
	return resp, nil
}

// GetStats samples host load, which takes a moment, so responses are
// cacheable for a few seconds.
func (s *SessionServer) GetStats(ctx context.Context, req *connect.Request[api.GetStatsRequest]) (*connect.Response[models.Stats], error) {
	stats := s.sessions.Stats(ctx)

	resp := connect.NewResponse(&stats)
	resp.Header().Set("Cache-Control", "private, max-age=5")
	return resp, nil
}

func (s *SessionServer) GetHealth(ctx context.Context, req *connect.Request[api.GetHealthRequest]) (*connect.Response[models.Health], error) {
	health := s.sessions.Health()
	return connect.NewResponse(&health), nil
}

func (s *SessionServer) GetQueueStatus(ctx context.Context, req *connect.Request[api.GetQueueStatusRequest]) (*connect.Response[models.QueueStatus], error) {
	status := s.sessions.QueueStatus()
	return connect.NewResponse(&status), nil
}

func createRequest(msg *api.CreateSessionRequest) manager.CreateRequest {
	return manager.CreateRequest{
		OwnerID: msg.UserID,
		TaskID:  msg.TaskID,
		Timeout: msg.Timeout(),
	}
}

func connectError(err error) *connect.Error {
	reason := manager.Reason(err)

	var code connect.Code
	switch reason {
	case manager.ReasonCapacity:
		code = connect.CodeResourceExhausted
	case manager.ReasonStore:
		code = connect.CodeUnavailable
	case manager.ReasonNotFound:
		code = connect.CodeNotFound
	case manager.ReasonInvalid:
		code = connect.CodeInvalidArgument
	default:
		code = connect.CodeInternal
	}

	if code == connect.CodeInternal {
		log.Error().Err(err).Str("reason", reason).Msg("Session request failed")
	}

	cerr := connect.NewError(code, err)
	cerr.Meta().Set(ReasonHeader, reason)
	return cerr
}
