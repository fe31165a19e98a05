//go:build integration

package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/wolfeidau/deskpool/internal/store"
)

func setupRedisContainer(t *testing.T, ctx context.Context) (*MirrorStore, func()) {
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	st, err := NewMirrorStore(ctx, &Config{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	require.NoError(t, err)

	cleanup := func() {
		_ = st.Close()
		_ = container.Terminate(ctx)
	}

	return st, cleanup
}

func TestIntegration_MirrorStore(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupRedisContainer(t, ctx)
	defer cleanup()

	t.Run("set get delete", func(t *testing.T) {
		require.NoError(t, st.Set(ctx, "session:a", []byte(`{"display":1}`), time.Hour))

		value, err := st.Get(ctx, "session:a")
		require.NoError(t, err)
		require.JSONEq(t, `{"display":1}`, string(value))

		require.NoError(t, st.Delete(ctx, "session:a", "missing"))
		_, err = st.Get(ctx, "session:a")
		require.ErrorIs(t, err, store.ErrKeyNotFound)
	})

	t.Run("ttl expires key", func(t *testing.T) {
		require.NoError(t, st.Set(ctx, "short", []byte("1"), time.Second))
		require.Eventually(t, func() bool {
			_, err := st.Get(ctx, "short")
			return err != nil
		}, 5*time.Second, 100*time.Millisecond)
	})
}

func TestNewMirrorStoreUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := NewMirrorStore(ctx, &Config{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	require.ErrorIs(t, err, store.ErrUnavailable)
}
