package driver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webshot/internal/capture"
)

const (
	defaultStartupTimeout = 15 * time.Second
	defaultKillGrace      = 3 * time.Second
	healthPollInterval    = 100 * time.Millisecond

	// activePortFile is written by Chrome into --user-data-dir once its
	// DevTools server is listening: the port, then the browser target path.
	activePortFile = "DevToolsActivePort"
)

var baseFlags = []string{
	"--no-first-run",
	"--no-default-browser-check",
	"--disable-gpu",
	"--disable-extensions",
	"--disable-background-networking",
	"--disable-dev-shm-usage",
	"--hide-scrollbars",
	"--mute-audio",
}

// Config controls how browser processes are launched.
type Config struct {
	// Path is an executable path or name; empty means discover.
	Path string
	// Headless adds --headless=new.
	Headless bool
	// StartupTimeout bounds the wait for the DevTools endpoint.
	StartupTimeout time.Duration
	// KillGrace is the wait between SIGTERM and SIGKILL.
	KillGrace time.Duration
	// ExtraFlags are appended to every launch.
	ExtraFlags []string
	// Env is appended to the inherited environment.
	Env []string
	// StderrTail is the number of stderr bytes kept per process.
	StderrTail int
}

// LaunchOptions describe one acquisition. A positive Port launches a
// DevTools-enabled browser and waits for its endpoint; Port 0 launches a
// one-shot process that runs Args and exits on its own.
type LaunchOptions struct {
	Port int
	Args []string
}

// Observer receives driver lifecycle notifications.
type Observer interface {
	DriverStarted(mode string)
	DriverReleased(mode string, forced bool)
}

// Supervisor spawns browser processes and guarantees they are torn down.
type Supervisor struct {
	cfg      Config
	path     string
	logger   *zap.Logger
	client   *http.Client
	observer Observer

	mu   sync.Mutex
	live map[*Process]struct{}
}

// Option customizes a Supervisor.
type Option func(*Supervisor)

// WithObserver attaches lifecycle notifications.
func WithObserver(o Observer) Option {
	return func(s *Supervisor) { s.observer = o }
}

// NewSupervisor resolves the executable and returns a Supervisor. It fails
// with capture.ErrDriverNotFound before any process is started.
func NewSupervisor(cfg Config, logger *zap.Logger, opts ...Option) (*Supervisor, error) {
	path, err := Discover(cfg.Path)
	if err != nil {
		return nil, err
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = defaultStartupTimeout
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = defaultKillGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Supervisor{
		cfg:    cfg,
		path:   path,
		logger: logger,
		client: &http.Client{Timeout: time.Second},
		live:   make(map[*Process]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	logger.Info("browser driver resolved", zap.String("path", path))
	return s, nil
}

// Path returns the resolved executable.
func (s *Supervisor) Path() string {
	return s.path
}

// Acquire starts a browser process. In DevTools mode it returns only after
// the endpoint answers; on any failure the child is already released.
func (s *Supervisor) Acquire(ctx context.Context, opts LaunchOptions) (*Process, error) {
	if opts.Port < 0 || opts.Port > 65535 {
		return nil, fmt.Errorf("%w: invalid port %d", capture.ErrDriverSpawn, opts.Port)
	}
	if opts.Port > 0 {
		if err := checkPortFree(ctx, opts.Port); err != nil {
			return nil, err
		}
	}
	profileDir, err := os.MkdirTemp("", "webshot-profile-")
	if err != nil {
		return nil, fmt.Errorf("%w: create profile dir: %w", capture.ErrDriverSpawn, err)
	}
	args := s.buildArgs(opts, profileDir)

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = os.RemoveAll(profileDir)
		return nil, fmt.Errorf("%w: stderr pipe: %w", capture.ErrDriverSpawn, err)
	}

	// #nosec G204 -- the executable is resolved from operator configuration.
	cmd := exec.Command(s.path, args...)
	cmd.Stderr = stderrW
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		_ = stderrR.Close()
		_ = stderrW.Close()
		_ = os.RemoveAll(profileDir)
		return nil, fmt.Errorf("%w: start %s: %w", capture.ErrDriverSpawn, s.path, err)
	}
	_ = stderrW.Close()

	mode := modeName(opts.Port)
	p := &Process{
		cmd:        cmd,
		pid:        cmd.Process.Pid,
		port:       opts.Port,
		profileDir: profileDir,
		grace:      s.cfg.KillGrace,
		logger:     s.logger.With(zap.Int("pid", cmd.Process.Pid), zap.String("mode", mode)),
		stderr:     newTailBuffer(s.cfg.StderrTail),
		stderrR:    stderrR,
		drainDone:  make(chan struct{}),
		exited:     make(chan struct{}),
		onRelease: func(p *Process, forced bool) {
			s.forget(p)
			if s.observer != nil {
				s.observer.DriverReleased(mode, forced)
			}
		},
	}
	go p.drain()
	go p.reap()
	s.track(p)
	if s.observer != nil {
		s.observer.DriverStarted(mode)
	}
	p.logger.Debug("driver spawned", zap.Int("port", opts.Port))

	if opts.Port == 0 {
		return p, nil
	}
	ws, err := s.waitReady(ctx, p)
	if err != nil {
		releaseErr := p.Release(context.Background())
		return nil, errors.Join(err, releaseErr)
	}
	p.wsURL = ws
	p.logger.Info("driver ready", zap.Int("port", p.port))
	return p, nil
}

// Close releases every process still owned by the Supervisor.
func (s *Supervisor) Close(ctx context.Context) error {
	s.mu.Lock()
	procs := make([]*Process, 0, len(s.live))
	for p := range s.live {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	var errs []error
	for _, p := range procs {
		if err := p.Release(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Live returns the number of processes not yet released.
func (s *Supervisor) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

func (s *Supervisor) buildArgs(opts LaunchOptions, profileDir string) []string {
	args := make([]string, 0, len(baseFlags)+len(s.cfg.ExtraFlags)+len(opts.Args)+3)
	if s.cfg.Headless {
		args = append(args, "--headless=new")
	}
	args = append(args, baseFlags...)
	args = append(args, "--user-data-dir="+profileDir)
	if opts.Port > 0 {
		args = append(args, "--remote-debugging-port="+strconv.Itoa(opts.Port))
	}
	args = append(args, s.cfg.ExtraFlags...)
	args = append(args, opts.Args...)
	return args
}

type versionInfo struct {
	Browser              string `json:"Browser"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// waitReady accepts the endpoint only once the child's own profile reports
// the same port and browser path, so a server some other process runs on the
// port is never mistaken for ours.
func (s *Supervisor) waitReady(ctx context.Context, p *Process) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StartupTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("http://127.0.0.1:%d/json/version", p.port)
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()
	var mismatch error
	for {
		if active, err := readActivePort(p.profileDir); err == nil {
			if active.port != p.port {
				mismatch = fmt.Errorf("profile reports port %d, want %d", active.port, p.port)
			} else if info, ok := s.probeVersion(ctx, endpoint); ok {
				if wsPath(info.WebSocketDebuggerURL) == active.path {
					p.logger.Debug("devtools endpoint up", zap.String("browser", info.Browser))
					return info.WebSocketDebuggerURL, nil
				}
				mismatch = fmt.Errorf("endpoint %s does not match profile path %s", info.WebSocketDebuggerURL, active.path)
			}
		}
		select {
		case <-p.exited:
			p.settleStderr()
			return "", fmt.Errorf("%w: driver exited during startup: %v: %s",
				capture.ErrDriverSpawn, p.waitErr, strings.TrimSpace(p.Stderr()))
		case <-ctx.Done():
			if mismatch != nil {
				return "", fmt.Errorf("%w: devtools endpoint not ready: %w: %w", capture.ErrDriverSpawn, ctx.Err(), mismatch)
			}
			return "", fmt.Errorf("%w: devtools endpoint not ready: %w", capture.ErrDriverSpawn, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) probeVersion(ctx context.Context, endpoint string) (versionInfo, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return versionInfo{}, false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return versionInfo{}, false
	}
	defer resp.Body.Close() //nolint:errcheck // body drained by decoder
	if resp.StatusCode != http.StatusOK {
		return versionInfo{}, false
	}
	var info versionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil || info.WebSocketDebuggerURL == "" {
		return versionInfo{}, false
	}
	return info, true
}

type activePort struct {
	port int
	path string
}

func readActivePort(profileDir string) (activePort, error) {
	// #nosec G304 -- the profile dir is created by Acquire.
	data, err := os.ReadFile(filepath.Join(profileDir, activePortFile))
	if err != nil {
		return activePort{}, fmt.Errorf("read %s: %w", activePortFile, err)
	}
	lines := strings.Fields(string(data))
	if len(lines) < 2 {
		return activePort{}, fmt.Errorf("%s is incomplete", activePortFile)
	}
	port, err := strconv.Atoi(lines[0])
	if err != nil {
		return activePort{}, fmt.Errorf("parse %s port: %w", activePortFile, err)
	}
	return activePort{port: port, path: lines[1]}, nil
}

func wsPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Path
}

// checkPortFree fails fast when something already listens on the DevTools
// port; the browser would not bind it and the endpoint there is not ours.
func checkPortFree(ctx context.Context, port int) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("%w: devtools port %d is already in use: %w", capture.ErrDriverSpawn, port, err)
	}
	if err := ln.Close(); err != nil {
		return fmt.Errorf("%w: release port check: %w", capture.ErrDriverSpawn, err)
	}
	return nil
}

func (s *Supervisor) track(p *Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live[p] = struct{}{}
}

func (s *Supervisor) forget(p *Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, p)
}

func modeName(port int) string {
	if port > 0 {
		return "devtools"
	}
	return "oneshot"
}
