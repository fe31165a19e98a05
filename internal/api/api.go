// Package api defines the session.v1.SessionService procedures and their
// messages. Messages are plain Go structs carried by the JSON codec.
package api

import (
	"encoding/json"
	"errors"
	"math"
	"time"
)

const (
	// SessionServiceName is the fully-qualified name of the session service.
	SessionServiceName = "session.v1.SessionService"

	CreateSessionProcedure  = "/session.v1.SessionService/CreateSession"
	DestroySessionProcedure = "/session.v1.SessionService/DestroySession"
	GetSessionProcedure     = "/session.v1.SessionService/GetSession"
	ListSessionsProcedure   = "/session.v1.SessionService/ListSessions"
	GetStatsProcedure       = "/session.v1.SessionService/GetStats"
	GetHealthProcedure      = "/session.v1.SessionService/GetHealth"
	GetQueueStatusProcedure = "/session.v1.SessionService/GetQueueStatus"
)

// CreateSessionRequest asks for a desktop session. It is also the body of the REST create endpoint.
type CreateSessionRequest struct {
	UserID         string `json:"user_id"`
	TaskID         *int64 `json:"task_id,omitempty"`
	TimeoutMinutes int    `json:"timeout_minutes,omitempty"`
}

// Validate checks the request fields.
func (r *CreateSessionRequest) Validate() error {
	if r.UserID == "" {
		return errors.New("user_id is required")
	}
	if r.TimeoutMinutes < 0 {
		return errors.New("timeout_minutes must not be negative")
	}
	return nil
}

// maxTimeoutMinutes is the largest minute count that fits a time.Duration.
const maxTimeoutMinutes = math.MaxInt64 / int64(time.Minute)

// Timeout converts TimeoutMinutes to a duration, saturating instead of
// overflowing so oversized values still clamp to the configured maximum.
func (r *CreateSessionRequest) Timeout() time.Duration {
	if int64(r.TimeoutMinutes) > maxTimeoutMinutes {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(r.TimeoutMinutes) * time.Minute
}

type DestroySessionRequest struct {
	SessionID string `json:"session_id"`
}

type DestroySessionResponse struct {
	Message string `json:"message"`
}

type GetSessionRequest struct {
	SessionID string `json:"session_id"`
}

type ListSessionsRequest struct{}

type GetStatsRequest struct{}

type GetHealthRequest struct{}

type GetQueueStatusRequest struct{}

// ErrorBody is returned by the REST endpoints on failure.
type ErrorBody struct {
	Detail string `json:"detail"`
	Reason string `json:"reason"`
}

// Codec marshals messages as JSON. It is registered under the name "json" so
// it replaces the protobuf JSON codec on both handlers and clients.
type Codec struct{}

func (Codec) Name() string { return "json" }

func (Codec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (Codec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, msg)
}
