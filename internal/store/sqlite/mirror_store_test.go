package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/deskpool/internal/store"
)

func openTestStore(t *testing.T) *MirrorStore {
	t.Helper()

	st, err := Open(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestMirrorStore(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	require.NoError(t, st.Set(ctx, "session:a", []byte(`{"display":7}`), time.Hour))
	require.NoError(t, st.Set(ctx, "user_session:alice", []byte("a"), time.Hour))

	value, err := st.Get(ctx, "session:a")
	require.NoError(t, err)
	require.JSONEq(t, `{"display":7}`, string(value))

	require.NoError(t, st.Set(ctx, "session:a", []byte(`{"display":8}`), time.Hour))
	value, err = st.Get(ctx, "session:a")
	require.NoError(t, err)
	require.JSONEq(t, `{"display":8}`, string(value))

	require.NoError(t, st.Delete(ctx, "session:a", "user_session:alice", "missing"))
	_, err = st.Get(ctx, "session:a")
	require.ErrorIs(t, err, store.ErrKeyNotFound)
	_, err = st.Get(ctx, "user_session:alice")
	require.ErrorIs(t, err, store.ErrKeyNotFound)
}

func TestMirrorStoreExpiry(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return now }

	require.NoError(t, st.Set(ctx, "short", []byte("1"), time.Minute))
	require.NoError(t, st.Set(ctx, "long", []byte("2"), time.Hour))

	now = now.Add(5 * time.Minute)

	_, err := st.Get(ctx, "short")
	require.ErrorIs(t, err, store.ErrKeyNotFound)
	_, err = st.Get(ctx, "long")
	require.NoError(t, err)

	count, err := st.DeleteExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestMirrorStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mirror.db")

	st, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Set(ctx, "session:b", []byte("payload"), time.Hour))
	require.NoError(t, st.Close())

	st, err = Open(path)
	require.NoError(t, err)
	defer st.Close()

	value, err := st.Get(ctx, "session:b")
	require.NoError(t, err)
	require.Equal(t, "payload", string(value))
}

func TestMirrorStoreRejectsZeroTTL(t *testing.T) {
	st := openTestStore(t)
	require.ErrorIs(t, st.Set(context.Background(), "k", []byte("v"), 0), store.ErrInvalidTTL)
}
