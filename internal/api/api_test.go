package api

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateSessionRequestValidate(t *testing.T) {
	require.Error(t, (&CreateSessionRequest{}).Validate())
	require.Error(t, (&CreateSessionRequest{UserID: "u", TimeoutMinutes: -1}).Validate())
	require.NoError(t, (&CreateSessionRequest{UserID: "u", TimeoutMinutes: 30}).Validate())
}

func TestCodecEmptyBody(t *testing.T) {
	var req ListSessionsRequest
	require.NoError(t, Codec{}.Unmarshal(nil, &req))

	var create CreateSessionRequest
	require.NoError(t, Codec{}.Unmarshal([]byte(`{"user_id":"u","task_id":5}`), &create))
	require.Equal(t, "u", create.UserID)
	require.Equal(t, int64(5), *create.TaskID)
}

func TestCreateSessionRequestTimeout(t *testing.T) {
	tests := []struct {
		name    string
		minutes int
		want    time.Duration
	}{
		{name: "unset", minutes: 0, want: 0},
		{name: "minutes", minutes: 45, want: 45 * time.Minute},
		{name: "largest exact", minutes: int(maxTimeoutMinutes), want: time.Duration(maxTimeoutMinutes) * time.Minute},
		{name: "overflow saturates", minutes: 307445735, want: time.Duration(math.MaxInt64)},
		{name: "max int saturates", minutes: math.MaxInt, want: time.Duration(math.MaxInt64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &CreateSessionRequest{UserID: "u", TimeoutMinutes: tt.minutes}
			require.NoError(t, req.Validate())
			require.Equal(t, tt.want, req.Timeout())
		})
	}
}
