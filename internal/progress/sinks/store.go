package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/webshot/internal/progress"
	"github.com/JakeFAU/webshot/internal/store"
)

// StoreSink persists runs and capture outcomes via a store.OutcomeRepository.
// Capture rows are buffered per batch and written before any run completion
// in the same batch.
type StoreSink struct {
	repo   store.OutcomeRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.OutcomeRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards the batch to the repository and returns the first error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var pending []store.CaptureRecord
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := s.repo.RecordCaptures(ctx, pending); err != nil {
			return fmt.Errorf("record captures: %w", err)
		}
		pending = nil
		return nil
	}

	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, evt.RunUUID(), evt.TS, evt.Targets); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StageCaptureDone:
			pending = append(pending, recordFromEvent(evt))
		case progress.StageRunDone, progress.StageRunError:
			if err := flush(); err != nil {
				return err
			}
			status := store.RunSuccess
			var note *string
			if evt.Stage == progress.StageRunError {
				status = store.RunError
				if evt.Note != "" {
					msg := evt.Note
					note = &msg
				}
			}
			if err := s.repo.FinishRun(ctx, evt.RunUUID(), evt.TS, status, note); err != nil {
				return fmt.Errorf("finish run: %w", err)
			}
		}
	}
	return flush()
}

func recordFromEvent(evt progress.Event) store.CaptureRecord {
	return store.CaptureRecord{
		RunID:      evt.RunUUID(),
		URL:        evt.URL,
		Site:       evt.Site,
		Slot:       evt.Slot,
		Status:     evt.Outcome,
		HTTPStatus: evt.HTTPStatus,
		Bytes:      evt.Bytes,
		URI:        evt.URI,
		Title:      evt.Title,
		Reason:     evt.Note,
		Duration:   evt.Dur,
		FinishedAt: evt.TS,
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
