package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Process is a supervised browser process. Only the Supervisor creates one.
type Process struct {
	cmd        *exec.Cmd
	pid        int
	port       int
	wsURL      string
	profileDir string
	grace      time.Duration
	logger     *zap.Logger

	stderr    *tailBuffer
	stderrR   *os.File
	drainDone chan struct{}

	exited  chan struct{}
	waitErr error

	releaseOnce sync.Once
	releaseErr  error
	onRelease   func(p *Process, forced bool)
}

// PID returns the OS process id.
func (p *Process) PID() int { return p.pid }

// Port returns the DevTools port, or 0 for one-shot processes.
func (p *Process) Port() int { return p.port }

// WebSocketURL returns the browser-level DevTools endpoint.
func (p *Process) WebSocketURL() string { return p.wsURL }

// Stderr returns the most recent stderr output.
func (p *Process) Stderr() string { return p.stderr.String() }

// Alive reports whether the process is still running.
func (p *Process) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Wait blocks until the process exits or ctx ends. It returns the exit error.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.exited:
		return p.waitErr
	case <-ctx.Done():
		return fmt.Errorf("wait for driver exit: %w", ctx.Err())
	}
}

// Release terminates the process group and cleans up. The first call does the
// work; later calls return the same result. Release never blocks longer than
// roughly twice the kill grace (or until ctx ends, whichever is first, after
// which the group is force-killed).
func (p *Process) Release(ctx context.Context) error {
	if p == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	p.releaseOnce.Do(func() {
		p.releaseErr = p.release(ctx)
	})
	return p.releaseErr
}

func (p *Process) release(ctx context.Context) error {
	var errs []error
	forced := false
	if p.Alive() {
		if err := terminateGroup(p.pid); err != nil {
			errs = append(errs, fmt.Errorf("terminate driver: %w", err))
		}
		timer := time.NewTimer(p.grace)
		select {
		case <-p.exited:
		case <-timer.C:
			forced = true
		case <-ctx.Done():
			forced = true
		}
		timer.Stop()
	}
	// Helpers may outlive the leader; the group kill reaps them too.
	if err := killGroup(p.pid); err != nil {
		errs = append(errs, fmt.Errorf("kill driver group: %w", err))
	}
	if forced {
		select {
		case <-p.exited:
		case <-time.After(p.grace):
			errs = append(errs, fmt.Errorf("driver pid %d did not exit after SIGKILL", p.pid))
		}
	}
	p.joinDrain()
	if p.profileDir != "" {
		if err := os.RemoveAll(p.profileDir); err != nil {
			errs = append(errs, fmt.Errorf("remove profile dir: %w", err))
		}
	}
	p.logger.Info("driver released",
		zap.Int("pid", p.pid),
		zap.Bool("forced", forced),
	)
	if p.onRelease != nil {
		p.onRelease(p, forced)
	}
	return errors.Join(errs...)
}

func (p *Process) joinDrain() {
	if p.drainDone == nil {
		return
	}
	select {
	case <-p.drainDone:
		return
	case <-time.After(p.grace):
	}
	// A detached helper still holds the write end; closing our end unblocks the copy.
	_ = p.stderrR.Close()
	<-p.drainDone
}

// settleStderr gives the drain a moment to read what an exited process wrote.
func (p *Process) settleStderr() {
	select {
	case <-p.drainDone:
	case <-time.After(p.grace):
	}
}

func (p *Process) drain() {
	defer close(p.drainDone)
	defer p.stderrR.Close() //nolint:errcheck // read end owned by the drain
	if _, err := io.Copy(p.stderr, p.stderrR); err != nil && !errors.Is(err, os.ErrClosed) {
		p.logger.Debug("driver stderr drain stopped", zap.Error(err))
	}
}

func (p *Process) reap() {
	p.waitErr = p.cmd.Wait()
	close(p.exited)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func newTailBuffer(limit int) *tailBuffer {
	if limit <= 0 {
		limit = 8 * 1024
	}
	return &tailBuffer{limit: limit}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
