package capture

import (
	"context"
	"errors"
	"time"
)

// Status is the terminal state of one capture task.
type Status string

// Outcome statuses.
const (
	StatusSuccess  Status = "success"
	StatusTimedOut Status = "timed_out"
	StatusFailed   Status = "failed"
)

// Task pairs a target with the worker slot that executes it.
type Task struct {
	Target Target
	Slot   int
}

// Shot is what a Handle returns for a successful capture.
type Shot struct {
	PNG        []byte
	Title      string
	HTTPStatus int
}

// Outcome is the result of exactly one scheduled target.
type Outcome struct {
	RunID      string
	Target     Target
	Slot       int
	Status     Status
	Title      string
	HTTPStatus int
	Bytes      int
	URI        string
	Err        error
	Started    time.Time
	Duration   time.Duration
}

// Reason returns the error text for non-successful outcomes.
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// OK reports whether the capture succeeded.
func (o Outcome) OK() bool {
	return o.Status == StatusSuccess
}

// Classify maps an error returned by a pipeline stage to an outcome status.
func Classify(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrTargetTimedOut), errors.Is(err, context.DeadlineExceeded):
		return StatusTimedOut
	default:
		return StatusFailed
	}
}

// Verdict is the result of a liveness probe.
type Verdict struct {
	Alive      bool
	TimedOut   bool
	StatusCode int
	Err        error
	Elapsed    time.Duration
}
