package logger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/deskpool/internal/models"
)

func TestIsCallerError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{err: connect.NewError(connect.CodeNotFound, errors.New("missing")), want: true},
		{err: connect.NewError(connect.CodeInvalidArgument, errors.New("bad")), want: true},
		{err: connect.NewError(connect.CodeResourceExhausted, errors.New("full")), want: true},
		{err: fmt.Errorf("wrapped: %w", connect.NewError(connect.CodeNotFound, errors.New("missing"))), want: true},
		{err: connect.NewError(connect.CodeInternal, errors.New("launch")), want: false},
		{err: connect.NewError(connect.CodeUnavailable, errors.New("store")), want: false},
		{err: errors.New("plain"), want: false},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, isCallerError(tt.err), tt.err.Error())
	}
}

func TestSetupLevels(t *testing.T) {
	require.Equal(t, zerolog.InfoLevel, Setup(false).GetLevel())
	require.Equal(t, zerolog.DebugLevel, Setup(true).GetLevel())
}

type fakeRequest struct {
	connect.AnyRequest
}

func (fakeRequest) Spec() connect.Spec {
	return connect.Spec{Procedure: "/session.v1.SessionService/GetSession"}
}

func (fakeRequest) Peer() connect.Peer {
	return connect.Peer{Addr: "127.0.0.1:5555", Protocol: connect.ProtocolConnect}
}

func TestConnectRequestsLogsLevel(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantLevel string
	}{
		{name: "success", wantLevel: `"level":"info"`},
		{name: "not found", err: connect.NewError(connect.CodeNotFound, errors.New("missing")), wantLevel: `"level":"warn"`},
		{name: "internal", err: connect.NewError(connect.CodeInternal, errors.New("boom")), wantLevel: `"level":"error"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			interceptor := NewConnectRequests(zerolog.New(&buf))

			next := func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
				return nil, tt.err
			}

			_, err := interceptor.WrapUnary(next)(context.Background(), fakeRequest{})
			require.Equal(t, tt.err, err)

			require.Contains(t, buf.String(), tt.wantLevel)
			require.Contains(t, buf.String(), `"procedure":"/session.v1.SessionService/GetSession"`)
			require.Contains(t, buf.String(), `"addr":"127.0.0.1:5555"`)
		})
	}
}

func TestConnectRequestsLogsSessionWithoutCredential(t *testing.T) {
	var buf bytes.Buffer
	interceptor := NewConnectRequests(zerolog.New(&buf))

	next := func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		return connect.NewResponse(&models.ConnectionInfo{
			SessionID:  "sess-1",
			Display:    4,
			Credential: "pw123456",
			Reused:     true,
		}), nil
	}

	_, err := interceptor.WrapUnary(next)(context.Background(), fakeRequest{})
	require.NoError(t, err)

	require.Contains(t, buf.String(), `"session_id":"sess-1"`)
	require.Contains(t, buf.String(), `"display":4`)
	require.Contains(t, buf.String(), `"reused":true`)
	require.NotContains(t, buf.String(), "pw123456")
}
