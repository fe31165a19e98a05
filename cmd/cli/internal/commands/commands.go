package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/otelconnect"
	"github.com/wolfeidau/deskpool/internal/client"
)

type Globals struct {
	Debug   bool
	Version string
	Out     io.Writer
}

// ClientFlags are shared by every command that talks to the server.
type ClientFlags struct {
	Server   string        `help:"Server URL" default:"http://localhost:8000" env:"DESKPOOL_SERVER"`
	Timeout  time.Duration `help:"Request timeout" default:"2m" env:"DESKPOOL_CLIENT_TIMEOUT"`
	CacheDir string        `help:"directory for the HTTP response cache, in memory when empty" env:"DESKPOOL_CACHE_DIR"`
	JSON     bool          `help:"Print raw JSON responses"`
}

func (f *ClientFlags) clients(globals *Globals) (*client.Clients, error) {
	otelInterceptor, err := otelconnect.NewInterceptor()
	if err != nil {
		return nil, fmt.Errorf("failed to create interceptor: %w", err)
	}

	config := client.Config{
		ServerURL: f.Server,
		Timeout:   f.Timeout,
		CacheDir:  f.CacheDir,
		Debug:     globals.Debug,
	}
	return client.NewClients(config, connect.WithInterceptors(otelInterceptor)), nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// describeError adds the server's reason to a failed call.
func describeError(action string, err error) error {
	if reason := client.Reason(err); reason != "" {
		return fmt.Errorf("failed to %s (%s): %w", action, reason, err)
	}
	return fmt.Errorf("failed to %s: %w", action, err)
}
