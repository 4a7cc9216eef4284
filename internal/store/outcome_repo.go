package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunStatus mirrors the runs table status column.
type RunStatus string

// Run statuses persisted in the runs table.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// CaptureRecord is one persisted capture outcome.
type CaptureRecord struct {
	RunID      uuid.UUID
	URL        string
	Site       string
	Slot       int
	Status     string
	HTTPStatus int
	Bytes      int64
	URI        string
	Title      string
	Reason     string
	Duration   time.Duration
	FinishedAt time.Time
}

// OutcomeRepository persists runs and their per-target outcomes.
type OutcomeRepository interface {
	// StartRun records a run as running with the number of scheduled targets.
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time, targets int) error
	// RecordCaptures appends outcome rows for a run.
	RecordCaptures(ctx context.Context, records []CaptureRecord) error
	// FinishRun marks the run finished with the given status and optional error.
	FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
}
