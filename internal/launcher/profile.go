package launcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile describes how desktop servers and web proxies are launched. Args
// entries may contain placeholders which are expanded per session:
// {display}, {vnc_port}, {web_port}, {passfile}, {session_id}, {geometry},
// {depth} and {web_root}.
type Profile struct {
	RunDir  string         `yaml:"run_dir"`
	Desktop DesktopProfile `yaml:"desktop"`
	Proxy   ProxyProfile   `yaml:"proxy"`
	Probe   ProbeProfile   `yaml:"probe"`
}

type DesktopProfile struct {
	Command       string            `yaml:"command"`
	Args          []string          `yaml:"args"`
	KillArgs      []string          `yaml:"kill_args"`
	PasswdCommand string            `yaml:"passwd_command"`
	PasswdArgs    []string          `yaml:"passwd_args"`
	Geometry      string            `yaml:"geometry"`
	Depth         int               `yaml:"depth"`
	XStartup      string            `yaml:"xstartup"`
	WindowManager string            `yaml:"window_manager"`
	Env           map[string]string `yaml:"env"`
}

type ProxyProfile struct {
	Command   string        `yaml:"command"`
	Args      []string      `yaml:"args"`
	WebRoot   string        `yaml:"web_root"`
	StopGrace time.Duration `yaml:"stop_grace"`
}

type ProbeProfile struct {
	Host        string        `yaml:"host"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// DefaultProfile launches TigerVNC and websockify serving noVNC.
func DefaultProfile() Profile {
	p := Profile{}
	p.ApplyDefaults()
	return p
}

// LoadProfile reads a YAML profile, unset fields take their defaults.
func LoadProfile(path string) (Profile, error) {
	var p Profile

	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("failed to read launch profile: %w", err)
	}

	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse launch profile %s: %w", path, err)
	}

	p.ApplyDefaults()

	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("invalid launch profile %s: %w", path, err)
	}

	return p, nil
}

// ApplyDefaults applies default values to unset fields.
func (p *Profile) ApplyDefaults() {
	if p.RunDir == "" {
		p.RunDir = os.TempDir()
	}

	d := &p.Desktop
	if d.Command == "" {
		d.Command = "vncserver"
	}
	if len(d.Args) == 0 {
		d.Args = []string{
			":{display}",
			"-geometry", "{geometry}",
			"-depth", "{depth}",
			"-rfbport", "{vnc_port}",
			"-rfbauth", "{passfile}",
			"-desktop", "Session-{session_id}",
		}
	}
	if len(d.KillArgs) == 0 {
		d.KillArgs = []string{"-kill", ":{display}"}
	}
	if d.PasswdCommand == "" {
		d.PasswdCommand = "vncpasswd"
	}
	if d.PasswdArgs == nil {
		d.PasswdArgs = []string{"-f"}
	}
	if d.Geometry == "" {
		d.Geometry = "1920x1080"
	}
	if d.Depth == 0 {
		d.Depth = 24
	}
	if d.WindowManager == "" {
		d.WindowManager = "startfluxbox"
	}
	if d.XStartup == "" {
		if home, err := os.UserHomeDir(); err == nil {
			d.XStartup = filepath.Join(home, ".vnc", "xstartup")
		}
	}

	x := &p.Proxy
	if x.Command == "" {
		x.Command = "python3"
	}
	if len(x.Args) == 0 {
		x.Args = []string{"-m", "websockify", "--web", "{web_root}", "{web_port}", "localhost:{vnc_port}"}
	}
	if x.WebRoot == "" {
		x.WebRoot = "/opt/noVNC"
	}
	if x.StopGrace == 0 {
		x.StopGrace = 5 * time.Second
	}

	pr := &p.Probe
	if pr.Host == "" {
		pr.Host = "127.0.0.1"
	}
	if pr.Timeout == 0 {
		pr.Timeout = 10 * time.Second
	}
	if pr.Interval == 0 {
		pr.Interval = 200 * time.Millisecond
	}
	if pr.DialTimeout == 0 {
		pr.DialTimeout = 500 * time.Millisecond
	}
}

// Validate checks the profile after defaults have been applied.
func (p *Profile) Validate() error {
	width, height, ok := strings.Cut(p.Desktop.Geometry, "x")
	if !ok {
		return fmt.Errorf("geometry %q must be WIDTHxHEIGHT", p.Desktop.Geometry)
	}
	for _, v := range []string{width, height} {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("geometry %q must be WIDTHxHEIGHT", p.Desktop.Geometry)
		}
	}

	switch p.Desktop.Depth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("depth %d must be one of 8, 16, 24, 32", p.Desktop.Depth)
	}

	if p.Probe.Interval <= 0 || p.Probe.Timeout <= 0 || p.Probe.DialTimeout <= 0 {
		return fmt.Errorf("probe durations must be greater than zero")
	}
	if p.Probe.Interval > p.Probe.Timeout {
		return fmt.Errorf("probe interval %s exceeds probe timeout %s", p.Probe.Interval, p.Probe.Timeout)
	}

	return nil
}

type vars struct {
	sessionID string
	display   int
	vncPort   int
	webPort   int
	passfile  string
}

func (p *Profile) expand(args []string, v vars) []string {
	r := strings.NewReplacer(
		"{display}", strconv.Itoa(v.display),
		"{vnc_port}", strconv.Itoa(v.vncPort),
		"{web_port}", strconv.Itoa(v.webPort),
		"{passfile}", v.passfile,
		"{session_id}", v.sessionID,
		"{geometry}", p.Desktop.Geometry,
		"{depth}", strconv.Itoa(p.Desktop.Depth),
		"{web_root}", p.Proxy.WebRoot,
	)

	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = r.Replace(arg)
	}
	return out
}
