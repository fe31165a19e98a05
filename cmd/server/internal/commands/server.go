package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	connectcors "connectrpc.com/cors"
	"connectrpc.com/otelconnect"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/wolfeidau/deskpool/internal/capacity"
	httpmiddleware "github.com/wolfeidau/deskpool/internal/http"
	"github.com/wolfeidau/deskpool/internal/launcher"
	"github.com/wolfeidau/deskpool/internal/logger"
	"github.com/wolfeidau/deskpool/internal/manager"
	"github.com/wolfeidau/deskpool/internal/server"
	"github.com/wolfeidau/deskpool/internal/telemetry"
)

type ServerCmd struct {
	// Server configuration
	Listen     string `help:"HTTP server listen address" default:"0.0.0.0:8000" env:"DESKPOOL_LISTEN"`
	Cert       string `help:"path to TLS cert file, cleartext HTTP/2 is served without one" default:"" env:"DESKPOOL_TLS_CERT"`
	Key        string `help:"path to TLS key file" default:"" env:"DESKPOOL_TLS_KEY"`
	TrustProxy bool   `help:"trust X-Forwarded-For and X-Real-IP for client addresses" default:"false" env:"DESKPOOL_TRUST_PROXY"`
	PublicHost string `help:"host placed in connection URLs handed to callers" default:"localhost" env:"DESKPOOL_VNC_PUBLIC_HOST"`
	Profile    string `help:"path to a launch profile YAML file" type:"existingfile" env:"DESKPOOL_LAUNCH_PROFILE"`
	RunDir     string `help:"directory for credential files, overrides the launch profile" env:"DESKPOOL_RUN_DIR"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for API requests" default:"http://localhost:3000" env:"DESKPOOL_CORS_ORIGINS"`

	// Shutdown behaviour
	DestroyOnShutdown bool          `help:"destroy every live session when the server stops" default:"true" negatable:"" env:"DESKPOOL_DESTROY_ON_SHUTDOWN"`
	ShutdownTimeout   time.Duration `help:"time allowed for draining requests and tearing down sessions" default:"30s" env:"DESKPOOL_SHUTDOWN_TIMEOUT"`

	// Telemetry
	Tracing          bool    `help:"enable tracing and metrics export over OTLP" default:"false" env:"DESKPOOL_TRACING"`
	TraceSampleRatio float64 `help:"fraction of traces sampled" default:"1" env:"DESKPOOL_TRACE_SAMPLE_RATIO"`

	Pool     PoolFlags          `embed:"" prefix:"pool-"`
	Capacity CapacityFlags      `embed:"" prefix:"capacity-"`
	Timeout  TimeoutFlags       `embed:"" prefix:"timeout-"`
	Reclaim  ReclaimFlags       `embed:"" prefix:"reclaim-"`
	Mirror   MirrorFlags        `embed:"" prefix:"mirror-"`
	Postgres PostgresStoreFlags `embed:"" prefix:"postgres-"`
	Redis    RedisFlags         `embed:"" prefix:"redis-"`
	SQLite   SQLiteFlags        `embed:"" prefix:"sqlite-"`
}

type PoolFlags struct {
	DisplayStart int `help:"first X display number" default:"1" env:"DESKPOOL_DISPLAY_START"`
	DisplayEnd   int `help:"last X display number" default:"100" env:"DESKPOOL_DISPLAY_END"`
	VNCPortStart int `help:"first VNC port" default:"5901" env:"DESKPOOL_VNC_PORT_START"`
	VNCPortEnd   int `help:"last VNC port" default:"6000" env:"DESKPOOL_VNC_PORT_END"`
	WebPortStart int `help:"first websocket proxy port" default:"7901" env:"DESKPOOL_WEB_PORT_START"`
	WebPortEnd   int `help:"last websocket proxy port" default:"8000" env:"DESKPOOL_WEB_PORT_END"`
}

type CapacityFlags struct {
	MaxSessions          int     `help:"maximum concurrent sessions" default:"100" env:"DESKPOOL_MAX_SESSIONS"`
	HostCPUCores         float64 `help:"host CPU cores available to sessions" default:"64" env:"DESKPOOL_HOST_CPU_CORES"`
	HostMemoryMB         float64 `help:"host memory in MB available to sessions" default:"131072" env:"DESKPOOL_HOST_MEMORY_MB"`
	HostBandwidthMbps    float64 `help:"host bandwidth in Mbps available to sessions" default:"1000" env:"DESKPOOL_HOST_BANDWIDTH_MBPS"`
	SessionCPUCores      float64 `help:"estimated CPU cores per session" default:"0.3" env:"DESKPOOL_SESSION_CPU_CORES"`
	SessionMemoryMB      float64 `help:"estimated memory in MB per session" default:"400" env:"DESKPOOL_SESSION_MEMORY_MB"`
	SessionBandwidthMbps float64 `help:"estimated bandwidth in Mbps per session" default:"5" env:"DESKPOOL_SESSION_BANDWIDTH_MBPS"`
}

type TimeoutFlags struct {
	Default time.Duration `help:"session lifetime when the caller does not ask for one" default:"30m" env:"DESKPOOL_DEFAULT_TIMEOUT"`
	Max     time.Duration `help:"upper bound on requested session lifetimes" default:"240m" env:"DESKPOOL_MAX_TIMEOUT"`
	Probe   time.Duration `help:"how long to wait for the desktop server port" default:"10s" env:"DESKPOOL_PROBE_TIMEOUT"`
	Stop    time.Duration `help:"time allowed for stopping a session's processes" default:"15s" env:"DESKPOOL_STOP_TIMEOUT"`
}

type ReclaimFlags struct {
	SweepInterval time.Duration `help:"how often idle sessions are swept" default:"5m" env:"DESKPOOL_CLEANUP_INTERVAL"`
	IdleThreshold time.Duration `help:"sessions not accessed for this long are reclaimed" default:"1h" env:"DESKPOOL_IDLE_THRESHOLD"`
}

// Validate is called by kong after parsing.
func (c *ServerCmd) Validate() error {
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("TLS certificate and key must be provided together (--cert and --key)")
	}
	if c.Mirror.CleanupInterval <= 0 {
		return errors.New("mirror cleanup interval must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	cfg := c.managerConfig()
	return cfg.Validate()
}

func (c *ServerCmd) managerConfig() manager.Config {
	return manager.Config{
		Displays: manager.Range{Start: c.Pool.DisplayStart, End: c.Pool.DisplayEnd},
		VNCPorts: manager.Range{Start: c.Pool.VNCPortStart, End: c.Pool.VNCPortEnd},
		WebPorts: manager.Range{Start: c.Pool.WebPortStart, End: c.Pool.WebPortEnd},
		Capacity: capacity.Config{
			MaxSessions: c.Capacity.MaxSessions,
			Host: capacity.Resources{
				CPUCores:      c.Capacity.HostCPUCores,
				MemoryMB:      c.Capacity.HostMemoryMB,
				BandwidthMbps: c.Capacity.HostBandwidthMbps,
			},
			PerSession: capacity.Resources{
				CPUCores:      c.Capacity.SessionCPUCores,
				MemoryMB:      c.Capacity.SessionMemoryMB,
				BandwidthMbps: c.Capacity.SessionBandwidthMbps,
			},
		},
		DefaultTimeout: c.Timeout.Default,
		MaxTimeout:     c.Timeout.Max,
		SweepInterval:  c.Reclaim.SweepInterval,
		IdleThreshold:  c.Reclaim.IdleThreshold,
		MirrorTTL:      c.Mirror.TTL,
		PublicHost:     c.PublicHost,
		ProbeTimeout:   c.Timeout.Probe,
		StopTimeout:    c.Timeout.Stop,
	}
}

func (c *ServerCmd) launchProfile() (launcher.Profile, error) {
	profile := launcher.DefaultProfile()
	if c.Profile != "" {
		var err error
		profile, err = launcher.LoadProfile(c.Profile)
		if err != nil {
			return launcher.Profile{}, err
		}
	}
	if c.RunDir != "" {
		profile.RunDir = c.RunDir
	}
	return profile, nil
}

func (c *ServerCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")

	// Setup telemetry if enabled
	interceptors := []connect.Interceptor{logger.NewConnectRequests(log)}
	if c.Tracing {
		log.Info().Float64("sample_ratio", c.TraceSampleRatio).Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Options{
			ServiceName: "deskpool-server",
			Version:     globals.Version,
			SampleRatio: c.TraceSampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
		otelInterceptor, err := otelconnect.NewInterceptor()
		if err != nil {
			return fmt.Errorf("failed to create OTEL interceptor: %w", err)
		}
		interceptors = append(interceptors, otelInterceptor)
	}

	mirror, err := c.openMirror(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := mirror.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close session mirror")
		}
	}()

	profile, err := c.launchProfile()
	if err != nil {
		return fmt.Errorf("failed to load launch profile: %w", err)
	}
	l, err := launcher.New(profile)
	if err != nil {
		return fmt.Errorf("failed to create launcher: %w", err)
	}

	cfg := c.managerConfig()
	mgr, err := manager.New(cfg, mirror, l)
	if err != nil {
		return err
	}
	mgr.Start()

	if c.Tracing {
		reg, err := telemetry.ObservePools(mgr.Pools)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to register pool gauges")
		} else {
			defer func() { _ = reg.Unregister() }()
		}
	}

	log.Info().
		Stringer("displays", cfg.Displays).
		Stringer("vnc_ports", cfg.VNCPorts).
		Stringer("web_ports", cfg.WebPorts).
		Int("max_sessions", cfg.Capacity.MaxSessions).
		Str("mirror", c.Mirror.Type).
		Msg("Session manager started")

	handler := server.NewServer(mgr).Handler(interceptors...)
	handler = withCORS(c.CORSOrigins, handler)
	if c.Tracing {
		handler = otelhttp.NewHandler(handler, "deskpool-server")
	}
	handler = httpmiddleware.RequestLogger(log)(handler)
	handler = httpmiddleware.ClientIPMiddleware(c.TrustProxy)(handler)

	useTLS := c.Cert != "" && c.Key != ""
	if !useTLS {
		// Connect and gRPC clients need HTTP/2 without TLS
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	httpServer := configureHTTPServer(c.Listen, handler, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Bool("tls", useTLS).Msg("Starting HTTP server")
		if useTLS {
			errCh <- httpServer.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- httpServer.ListenAndServe()
	}()

	var serveErr error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to drain HTTP server")
	}

	mgr.Shutdown(shutdownCtx, c.DestroyOnShutdown)
	log.Info().Bool("destroyed_sessions", c.DestroyOnShutdown).Msg("Session manager stopped")

	return serveErr
}

// withCORS adds CORS support to a Connect HTTP handler.
func withCORS(allowedOrigins []string, h http.Handler) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: append(connectcors.AllowedMethods(), http.MethodDelete),
		AllowedHeaders: connectcors.AllowedHeaders(),
		ExposedHeaders: append(connectcors.ExposedHeaders(), server.ReasonHeader),
	})
	return middleware.Handler(h)
}
