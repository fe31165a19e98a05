// Package launcher starts and stops the desktop server and web proxy for a
// session and waits for their ports to accept connections.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	consolestream "github.com/wolfeidau/console-stream"
)

// Kind identifies the type of process behind a handle.
type Kind string

const (
	KindDesktop Kind = "desktop"
	KindProxy   Kind = "proxy"
)

// Process is an opaque handle for a launched process, passed back to Stop.
type Process interface {
	Kind() Kind
	PID() int
}

// DesktopRequest describes the desktop server to start for a session.
type DesktopRequest struct {
	SessionID  string
	Display    int
	VNCPort    int
	Credential string
}

// ProxyRequest describes the web proxy to start for a session.
type ProxyRequest struct {
	SessionID string
	WebPort   int
	VNCPort   int
}

type desktopProcess struct {
	display  int
	pid      int
	passfile string
}

func (d *desktopProcess) Kind() Kind { return KindDesktop }
func (d *desktopProcess) PID() int   { return d.pid }

type proxyProcess struct {
	cmd     *exec.Cmd
	webPort int
	done    chan struct{}
	waitErr error
}

func (p *proxyProcess) Kind() Kind { return KindProxy }
func (p *proxyProcess) PID() int   { return p.cmd.Process.Pid }

func (p *proxyProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Launcher starts and stops the external processes backing a session.
type Launcher struct {
	profile Profile

	xstartupOnce sync.Once
	xstartupErr  error
}

// New creates a launcher for the given profile. Defaults are applied to unset fields.
func New(profile Profile) (*Launcher, error) {
	profile.ApplyDefaults()
	if err := profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid launch profile: %w", err)
	}

	if err := os.MkdirAll(profile.RunDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create run dir %s: %w", profile.RunDir, err)
	}

	return &Launcher{profile: profile}, nil
}

// Profile returns the effective launch profile.
func (l *Launcher) Profile() Profile {
	return l.profile
}

// StartDesktop provisions the credential file and starts the desktop server.
// The desktop server daemonizes, so a zero exit status means the display is
// being brought up; readiness is confirmed separately with WaitForPort.
func (l *Launcher) StartDesktop(ctx context.Context, req DesktopRequest) (Process, error) {
	if err := l.ensureXStartup(); err != nil {
		log.Warn().Err(err).Msg("Desktop startup script unavailable, desktop server will use its default")
	}

	passfile, err := l.writeCredentialFile(ctx, req.SessionID, req.Credential)
	if err != nil {
		return nil, err
	}

	handle := &desktopProcess{display: req.Display, passfile: passfile}

	args := l.profile.expand(l.profile.Desktop.Args, vars{
		sessionID: req.SessionID,
		display:   req.Display,
		vncPort:   req.VNCPort,
		passfile:  passfile,
	})

	opts := []consolestream.ProcessOption{
		consolestream.WithPipeMode(),
		consolestream.WithFlushInterval(100 * time.Millisecond),
	}
	if len(l.profile.Desktop.Env) > 0 {
		opts = append(opts, consolestream.WithEnvMap(l.profile.Desktop.Env))
	}

	process := consolestream.NewProcess(l.profile.Desktop.Command, args, opts...)

	logger := log.With().Str("session_id", req.SessionID).Int("display", req.Display).Logger()

	var lastError error
	for event, err := range process.ExecuteAndStream(ctx) {
		if err != nil {
			lastError = err
			break
		}

		switch e := event.Event.(type) {
		case *consolestream.ProcessStart:
			handle.pid = int(e.PID)
		case *consolestream.OutputData:
			logger.Debug().Str("output", strings.TrimSpace(string(e.Data))).Msg("Desktop server output")
		case *consolestream.ProcessEnd:
			if e.ExitCode != 0 {
				l.removePassfile(passfile)
				return nil, fmt.Errorf("%w: %s exited with code %d", ErrStartFailed, l.profile.Desktop.Command, e.ExitCode)
			}
			logger.Info().Int("vnc_port", req.VNCPort).Msg("Desktop server started")
			return handle, nil
		}
	}

	l.removePassfile(passfile)

	if lastError != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStartFailed, l.profile.Desktop.Command, lastError)
	}

	return nil, fmt.Errorf("%w: %s ended without exit status", ErrStartFailed, l.profile.Desktop.Command)
}

// StartProxy starts the web proxy bridging the web port to the desktop port.
// The proxy runs in the foreground and is reaped by a background goroutine.
func (l *Launcher) StartProxy(ctx context.Context, req ProxyRequest) (Process, error) {
	args := l.profile.expand(l.profile.Proxy.Args, vars{
		sessionID: req.SessionID,
		webPort:   req.WebPort,
		vncPort:   req.VNCPort,
	})

	logger := log.With().
		Str("session_id", req.SessionID).
		Str("process", string(KindProxy)).
		Int("web_port", req.WebPort).
		Logger()

	// The proxy outlives the request that created it, so ctx only bounds startup.
	// #nosec G204 - command comes from the operator supplied launch profile
	cmd := exec.Command(l.profile.Proxy.Command, args...)
	cmd.Stdout = logger
	cmd.Stderr = logger
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStartFailed, l.profile.Proxy.Command, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrStartFailed, l.profile.Proxy.Command, err)
	}

	handle := &proxyProcess{cmd: cmd, webPort: req.WebPort, done: make(chan struct{})}
	go func() {
		handle.waitErr = cmd.Wait()
		close(handle.done)
	}()

	logger.Info().Int("pid", cmd.Process.Pid).Msg("Web proxy started")

	return handle, nil
}

// Stop terminates a launched process. Processes that already exited are not
// an error.
func (l *Launcher) Stop(ctx context.Context, p Process) error {
	switch h := p.(type) {
	case *desktopProcess:
		defer l.removePassfile(h.passfile)
		return l.KillDisplay(ctx, h.display)
	case *proxyProcess:
		return l.stopProxy(ctx, h)
	default:
		return ErrUnknownProcess
	}
}

// KillDisplay stops the desktop server on a display. A failing kill command is
// treated as the display already being gone.
func (l *Launcher) KillDisplay(ctx context.Context, display int) error {
	args := l.profile.expand(l.profile.Desktop.KillArgs, vars{display: display})

	// #nosec G204 - command comes from the operator supplied launch profile
	cmd := exec.CommandContext(ctx, l.profile.Desktop.Command, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			log.Warn().
				Int("display", display).
				Int("exit_code", exitErr.ExitCode()).
				Str("output", strings.TrimSpace(string(output))).
				Msg("Desktop server kill reported failure, assuming already stopped")
			return nil
		}
		return fmt.Errorf("failed to kill display :%d: %w", display, err)
	}

	log.Debug().Int("display", display).Msg("Desktop server stopped")
	return nil
}

func (l *Launcher) stopProxy(ctx context.Context, h *proxyProcess) error {
	if h.exited() {
		return nil
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("failed to signal proxy pid %d: %w", h.cmd.Process.Pid, err)
	}

	grace := time.NewTimer(l.profile.Proxy.StopGrace)
	defer grace.Stop()

	select {
	case <-h.done:
		log.Debug().Int("web_port", h.webPort).Msg("Web proxy stopped")
		return nil
	case <-grace.C:
	case <-ctx.Done():
	}

	log.Warn().Int("web_port", h.webPort).Int("pid", h.cmd.Process.Pid).Msg("Web proxy did not exit, killing")

	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill proxy pid %d: %w", h.cmd.Process.Pid, err)
	}

	<-h.done
	return nil
}

// ensureXStartup writes the desktop startup script that launches the window
// manager unless an executable one is already in place.
func (l *Launcher) ensureXStartup() error {
	if l.profile.Desktop.XStartup == "" {
		return nil
	}

	l.xstartupOnce.Do(func() {
		path := l.profile.Desktop.XStartup
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0 {
			return
		}

		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			l.xstartupErr = fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
			return
		}

		script := fmt.Sprintf("#!/bin/sh\nunset SESSION_MANAGER\nunset DBUS_SESSION_BUS_ADDRESS\nexec %s\n", l.profile.Desktop.WindowManager)

		// #nosec G306 - startup script must be executable
		if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
			l.xstartupErr = fmt.Errorf("failed to write %s: %w", path, err)
			return
		}
		// WriteFile keeps the mode of an existing file
		if err := os.Chmod(path, 0o755); err != nil {
			l.xstartupErr = fmt.Errorf("failed to chmod %s: %w", path, err)
			return
		}

		log.Info().Str("path", path).Msg("Wrote desktop startup script")
	})

	return l.xstartupErr
}

func (l *Launcher) removePassfile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("Failed to remove credential file")
	}
}

// WaitForPort polls the probe host using the profile probe settings.
func (l *Launcher) WaitForPort(ctx context.Context, port int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = l.profile.Probe.Timeout
	}
	return WaitForPort(ctx, l.profile.Probe.Host, port, timeout, l.profile.Probe.Interval, l.profile.Probe.DialTimeout)
}
