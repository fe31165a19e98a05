package server

import (
	"net/http"
	"slices"

	"connectrpc.com/connect"
	"github.com/wolfeidau/deskpool/internal/api"
)

// Server wraps the session service and the REST endpoints
type Server struct {
	sessionServer *SessionServer
	rest          *restHandler
}

// NewServer creates a new server backed by the given session manager
func NewServer(sessions Sessions) *Server {
	return &Server{
		sessionServer: NewSessionServer(sessions),
		rest:          &restHandler{sessions: sessions},
	}
}

// Handler returns the HTTP handler for the server
func (s *Server) Handler(interceptors ...connect.Interceptor) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint for load balancer
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	opts := []connect.HandlerOption{
		connect.WithCodec(api.Codec{}),
		connect.WithInterceptors(interceptors...),
	}
	readOnly := slices.Concat(opts, []connect.HandlerOption{
		connect.WithIdempotency(connect.IdempotencyNoSideEffects),
	})

	mux.Handle(api.CreateSessionProcedure, connect.NewUnaryHandler(api.CreateSessionProcedure, s.sessionServer.CreateSession, opts...))
	mux.Handle(api.DestroySessionProcedure, connect.NewUnaryHandler(api.DestroySessionProcedure, s.sessionServer.DestroySession,
		slices.Concat(opts, []connect.HandlerOption{connect.WithIdempotency(connect.IdempotencyIdempotent)})...))
	mux.Handle(api.GetSessionProcedure, connect.NewUnaryHandler(api.GetSessionProcedure, s.sessionServer.GetSession, opts...))
	mux.Handle(api.ListSessionsProcedure, connect.NewUnaryHandler(api.ListSessionsProcedure, s.sessionServer.ListSessions, readOnly...))
	mux.Handle(api.GetStatsProcedure, connect.NewUnaryHandler(api.GetStatsProcedure, s.sessionServer.GetStats, readOnly...))
	mux.Handle(api.GetHealthProcedure, connect.NewUnaryHandler(api.GetHealthProcedure, s.sessionServer.GetHealth, readOnly...))
	mux.Handle(api.GetQueueStatusProcedure, connect.NewUnaryHandler(api.GetQueueStatusProcedure, s.sessionServer.GetQueueStatus, readOnly...))

	mux.Handle("/api/", s.rest.routes())

	return mux
}
