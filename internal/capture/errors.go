package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTarget marks input that is not an absolute http(s) URL.
	ErrInvalidTarget = errors.New("invalid target url")
	// ErrDriverNotFound means no browser executable could be located.
	ErrDriverNotFound = errors.New("browser driver not found")
	// ErrDriverSpawn means the browser process failed to start or become ready.
	ErrDriverSpawn = errors.New("browser driver spawn failed")
	// ErrTargetTimedOut marks a target that exceeded its probe or capture budget.
	ErrTargetTimedOut = errors.New("target timed out")
	// ErrCaptureFailed marks an engine-level navigation or screenshot failure.
	ErrCaptureFailed = errors.New("capture failed")
	// ErrTargetUnreachable marks a target whose liveness probe failed outright.
	ErrTargetUnreachable = fmt.Errorf("target unreachable: %w", ErrCaptureFailed)
	// ErrResultWrite marks a failure to persist captured bytes.
	ErrResultWrite = errors.New("result write failed")
	// ErrSchedulerFatal marks infrastructure failures that abort a run.
	ErrSchedulerFatal = errors.New("scheduler fatal error")
	// ErrRunAborted is recorded for targets that never ran because the run stopped early.
	ErrRunAborted = errors.New("run aborted before target started")
)
