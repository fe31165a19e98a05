package commands

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/deskpool/internal/manager"
)

type testCLI struct {
	Server ServerCmd `cmd:""`
}

func parseServer(t *testing.T, args ...string) (*ServerCmd, error) {
	t.Helper()

	var cli testCLI
	parser, err := kong.New(&cli, kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	require.NoError(t, err)

	_, err = parser.Parse(append([]string{"server"}, args...))
	return &cli.Server, err
}

func TestServerCmdDefaults(t *testing.T) {
	cmd, err := parseServer(t)
	require.NoError(t, err)

	cfg := cmd.managerConfig()
	require.NoError(t, cfg.Validate())

	require.Equal(t, manager.Range{Start: 1, End: 100}, cfg.Displays)
	require.Equal(t, manager.Range{Start: 5901, End: 6000}, cfg.VNCPorts)
	require.Equal(t, manager.Range{Start: 7901, End: 8000}, cfg.WebPorts)
	require.Equal(t, 100, cfg.Capacity.MaxSessions)
	require.Equal(t, 64.0, cfg.Capacity.Host.CPUCores)
	require.Equal(t, 0.3, cfg.Capacity.PerSession.CPUCores)
	require.Equal(t, 30*time.Minute, cfg.DefaultTimeout)
	require.Equal(t, 240*time.Minute, cfg.MaxTimeout)
	require.Equal(t, 6*time.Hour, cfg.MirrorTTL)
	require.Equal(t, "localhost", cfg.PublicHost)
	require.Equal(t, "memory", cmd.Mirror.Type)
	require.True(t, cmd.DestroyOnShutdown)
}

func TestServerCmdEnv(t *testing.T) {
	t.Setenv("DESKPOOL_MAX_SESSIONS", "7")
	t.Setenv("DESKPOOL_DISPLAY_START", "10")
	t.Setenv("DESKPOOL_DISPLAY_END", "20")
	t.Setenv("DESKPOOL_VNC_PUBLIC_HOST", "desk.example.com")

	cmd, err := parseServer(t, "--no-destroy-on-shutdown")
	require.NoError(t, err)

	cfg := cmd.managerConfig()
	require.Equal(t, 7, cfg.Capacity.MaxSessions)
	require.Equal(t, manager.Range{Start: 10, End: 20}, cfg.Displays)
	require.Equal(t, "desk.example.com", cfg.PublicHost)
	require.False(t, cmd.DestroyOnShutdown)
}

func TestServerCmdValidate(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "ttl not above max timeout", args: []string{"--mirror-ttl=4h", "--timeout-max=4h"}},
		{name: "overlapping ports", args: []string{"--pool-web-port-start=5950", "--pool-web-port-end=6050"}},
		{name: "cert without key", args: []string{"--cert=cert.pem"}},
		{name: "unknown mirror", args: []string{"--mirror-type=etcd"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseServer(t, tt.args...)
			require.Error(t, err)
		})
	}
}

func TestOpenMirror(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cmd, err := parseServer(t)
		require.NoError(t, err)

		m, err := cmd.openMirror(ctx)
		require.NoError(t, err)

		require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
		got, err := m.Get(ctx, "k")
		require.NoError(t, err)
		require.Equal(t, []byte("v"), got)
		require.NoError(t, m.Close())
	})

	t.Run("sqlite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mirror.db")
		cmd, err := parseServer(t, "--mirror-type=sqlite", "--sqlite-path="+path)
		require.NoError(t, err)

		m, err := cmd.openMirror(ctx)
		require.NoError(t, err)

		require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
		require.NoError(t, m.Close())
		require.FileExists(t, path)
	})

	t.Run("postgres requires connection string", func(t *testing.T) {
		cmd, err := parseServer(t, "--mirror-type=postgres")
		require.NoError(t, err)

		_, err = cmd.openMirror(ctx)
		require.ErrorContains(t, err, "connection string is required")
	})
}

func TestLaunchProfileRunDirOverride(t *testing.T) {
	dir := t.TempDir()
	cmd, err := parseServer(t, "--run-dir="+dir)
	require.NoError(t, err)

	profile, err := cmd.launchProfile()
	require.NoError(t, err)
	require.Equal(t, dir, profile.RunDir)
}
