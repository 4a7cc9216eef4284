// Package worker runs one capture task at a time for a scheduler slot: host
// pacing, the liveness probe, the capture raced against its deadline, and the
// write to the result sink.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/webshot/internal/capture"
	"github.com/JakeFAU/webshot/internal/clock/system"
	"github.com/JakeFAU/webshot/internal/progress"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultResetTimeout = 10 * time.Second
)

// Config controls Worker behavior.
type Config struct {
	RunID uuid.UUID
	// Timeout bounds navigate+capture for one target.
	Timeout time.Duration
	// ProbeBudget is passed to the Prober.
	ProbeBudget time.Duration
	// ResetTimeout bounds reopening the handle after a timeout or panic.
	ResetTimeout time.Duration
}

// Deps are the collaborators shared by every slot in a run. Prober and Pacer
// may be nil; Events defaults to progress.Discard.
type Deps struct {
	Prober capture.Prober
	Sink   capture.ResultSink
	Pacer  *Pacer
	Events progress.Emitter
	Clock  capture.Clock
	// SiteOf maps a raw URL to its event/metric label.
	SiteOf func(rawURL string) string
}

// Worker executes tasks sequentially on one Handle.
type Worker struct {
	handle capture.Handle
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker that owns handle for the life of a slot.
func New(handle capture.Handle, deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = defaultResetTimeout
	}
	if deps.Events == nil {
		deps.Events = progress.Discard{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.SiteOf == nil {
		deps.SiteOf = func(string) string { return "" }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{handle: handle, deps: deps, cfg: cfg, logger: logger}
}

// Execute runs one task to an Outcome. It never panics and never returns
// without an outcome; a timed-out capture releases the slot at the deadline.
func (w *Worker) Execute(ctx context.Context, task capture.Task) (out capture.Outcome) {
	target := task.Target
	started := w.deps.Clock.Now()
	out = capture.Outcome{
		RunID:   w.cfg.RunID.String(),
		Target:  target,
		Slot:    task.Slot,
		Started: started,
	}
	site := w.deps.SiteOf(target.Raw)
	w.deps.Events.Emit(progress.Event{
		RunID: progress.UUIDToBytes(w.cfg.RunID),
		TS:    started,
		Stage: progress.StageCaptureStart,
		Slot:  task.Slot,
		Site:  site,
		URL:   target.Raw,
	})

	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("capture task panicked",
				zap.String("url", target.Raw),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			out.Err = fmt.Errorf("%w: task panic: %v", capture.ErrCaptureFailed, rec)
			w.resetHandle(ctx, "panic")
		}
		out.Status = capture.Classify(out.Err)
		out.Duration = w.deps.Clock.Now().Sub(started)
		w.finish(out, site)
	}()

	out.Err = w.run(ctx, target, &out)
	return out
}

func (w *Worker) run(ctx context.Context, target capture.Target, out *capture.Outcome) error {
	if err := w.deps.Pacer.Wait(ctx, target); err != nil {
		return err
	}

	if w.deps.Prober != nil {
		verdict := w.deps.Prober.Probe(ctx, target, w.cfg.ProbeBudget)
		out.HTTPStatus = verdict.StatusCode
		if !verdict.Alive {
			if verdict.Err != nil {
				return verdict.Err
			}
			return capture.ErrTargetUnreachable
		}
	}

	shot, err := w.capture(ctx, target)
	if err != nil {
		return err
	}
	if shot.HTTPStatus != 0 {
		out.HTTPStatus = shot.HTTPStatus
	}
	out.Title = shot.Title
	out.Bytes = len(shot.PNG)

	if w.deps.Sink == nil {
		return fmt.Errorf("%w: no result sink configured", capture.ErrResultWrite)
	}
	uri, err := w.deps.Sink.Store(ctx, target, shot.PNG)
	if err != nil {
		if !errors.Is(err, capture.ErrResultWrite) {
			err = fmt.Errorf("%w: %w", capture.ErrResultWrite, err)
		}
		return err
	}
	out.URI = uri
	return nil
}

type captureResult struct {
	shot     capture.Shot
	err      error
	panicked bool
}

// capture races the handle against the deadline. The handle call runs on its
// own goroutine so the slot is released when the timer fires even if the
// engine ignores cancellation.
func (w *Worker) capture(ctx context.Context, target capture.Target) (capture.Shot, error) {
	capCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan captureResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- captureResult{
					err:      fmt.Errorf("%w: capture panic: %v", capture.ErrCaptureFailed, rec),
					panicked: true,
				}
			}
		}()
		shot, err := w.handle.Capture(capCtx, target)
		done <- captureResult{shot: shot, err: err}
	}()

	timer := time.NewTimer(w.cfg.Timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		switch {
		case res.panicked:
			w.resetHandle(ctx, "panic")
		case res.err != nil && errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil:
			// Engine-side deadline: the tab may be wedged.
			w.resetHandle(ctx, "engine deadline")
		}
		return res.shot, res.err
	case <-timer.C:
		cancel()
		w.resetHandle(ctx, "timeout")
		return capture.Shot{}, fmt.Errorf("%w: no capture within %s", capture.ErrTargetTimedOut, w.cfg.Timeout)
	case <-ctx.Done():
		return capture.Shot{}, fmt.Errorf("capture interrupted: %w", ctx.Err())
	}
}

func (w *Worker) resetHandle(ctx context.Context, reason string) {
	if ctx.Err() != nil {
		return
	}
	resetCtx, cancel := context.WithTimeout(ctx, w.cfg.ResetTimeout)
	defer cancel()
	if err := w.handle.Reset(resetCtx); err != nil {
		w.logger.Warn("handle reset failed", zap.String("reason", reason), zap.Error(err))
		return
	}
	w.logger.Debug("handle reset", zap.String("reason", reason))
}

func (w *Worker) finish(out capture.Outcome, site string) {
	Record(w.deps.Events, w.logger, w.cfg.RunID, out, site)
}

// Record emits the CAPTURE_DONE event for out and logs it. The scheduler uses
// it for targets that never reached a worker.
func Record(events progress.Emitter, logger *zap.Logger, runID uuid.UUID, out capture.Outcome, site string) {
	evt := progress.Event{
		RunID:      progress.UUIDToBytes(runID),
		TS:         out.Started.Add(out.Duration),
		Stage:      progress.StageCaptureDone,
		Slot:       out.Slot,
		Site:       site,
		URL:        out.Target.Raw,
		Outcome:    string(out.Status),
		HTTPStatus: out.HTTPStatus,
		Bytes:      int64(out.Bytes),
		URI:        out.URI,
		Title:      out.Title,
		Dur:        out.Duration,
		Note:       out.Reason(),
	}
	events.Emit(evt)

	fields := []zap.Field{
		zap.String("url", out.Target.Raw),
		zap.String("status", string(out.Status)),
		zap.Int("http_status", out.HTTPStatus),
		zap.Duration("dur", out.Duration),
	}
	if out.OK() {
		logger.Info("capture done", append(fields, zap.String("uri", out.URI), zap.Int("bytes", out.Bytes))...)
		return
	}
	logger.Warn("capture failed", append(fields, zap.Error(out.Err))...)
}
