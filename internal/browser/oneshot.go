package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/webshot/internal/capture"
	"github.com/JakeFAU/webshot/internal/driver"
)

// Launcher starts supervised processes; *driver.Supervisor implements it.
type Launcher interface {
	Acquire(ctx context.Context, opts driver.LaunchOptions) (*driver.Process, error)
}

// OneShotFactory captures each target with its own short-lived process
// invoked as `<browser> --headless --screenshot=<file> --window-size=W,H <url>`.
// The launcher must be configured for headless mode.
type OneShotFactory struct {
	launcher Launcher
	cfg      Config
	tmpDir   string
	logger   *zap.Logger
}

// NewOneShotFactory creates the scratch directory used for screenshot files.
func NewOneShotFactory(launcher Launcher, cfg Config, logger *zap.Logger) (*OneShotFactory, error) {
	if launcher == nil {
		return nil, fmt.Errorf("launcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dir, err := os.MkdirTemp("", "webshot-oneshot-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	return &OneShotFactory{
		launcher: launcher,
		cfg:      cfg.withDefaults(),
		tmpDir:   dir,
		logger:   logger,
	}, nil
}

// Open returns a handle for the slot.
func (f *OneShotFactory) Open(_ context.Context, slot int) (capture.Handle, error) {
	return &oneShotHandle{factory: f, slot: slot}, nil
}

// Close removes the scratch directory.
func (f *OneShotFactory) Close() error {
	if err := os.RemoveAll(f.tmpDir); err != nil {
		return fmt.Errorf("remove scratch dir: %w", err)
	}
	return nil
}

type oneShotHandle struct {
	factory *OneShotFactory
	slot    int
}

// Capture runs one process to completion. Cancelling ctx kills it.
func (h *oneShotHandle) Capture(ctx context.Context, target capture.Target) (capture.Shot, error) {
	f := h.factory
	out, err := os.CreateTemp(f.tmpDir, "slot"+strconv.Itoa(h.slot)+"-*.png")
	if err != nil {
		return capture.Shot{}, fmt.Errorf("%w: create screenshot file: %w", capture.ErrCaptureFailed, err)
	}
	path := out.Name()
	_ = out.Close()
	defer os.Remove(path) //nolint:errcheck // best-effort scratch cleanup

	proc, err := f.launcher.Acquire(ctx, driver.LaunchOptions{Args: f.args(path, target)})
	if err != nil {
		return capture.Shot{}, fmt.Errorf("%w: %w", capture.ErrCaptureFailed, err)
	}
	defer func() {
		if releaseErr := proc.Release(context.Background()); releaseErr != nil {
			f.logger.Warn("one-shot release failed", zap.Int("slot", h.slot), zap.Error(releaseErr))
		}
	}()

	if err := proc.Wait(ctx); err != nil {
		return capture.Shot{}, fmt.Errorf("%w: one-shot run: %w", capture.ErrCaptureFailed, err)
	}
	// #nosec G304 -- path is created above inside the scratch directory.
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return capture.Shot{}, fmt.Errorf("%w: read screenshot: %w", capture.ErrCaptureFailed, err)
	}
	if len(data) == 0 {
		return capture.Shot{}, fmt.Errorf("%w: browser wrote no screenshot: %s", capture.ErrCaptureFailed, proc.Stderr())
	}
	return capture.Shot{PNG: data}, nil
}

func (f *OneShotFactory) args(path string, target capture.Target) []string {
	args := []string{
		"--screenshot=" + path,
		"--window-size=" + strconv.Itoa(f.cfg.Width) + "," + strconv.Itoa(f.cfg.Height),
	}
	if f.cfg.UserAgent != "" {
		args = append(args, "--user-agent="+f.cfg.UserAgent)
	}
	return append(args, target.Raw)
}

// Reset is a no-op; every capture already uses a fresh process.
func (h *oneShotHandle) Reset(context.Context) error { return nil }

// Close is a no-op.
func (h *oneShotHandle) Close() error { return nil }
