package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/webshot/internal/progress"
)

// LogSink writes one structured log line per event at debug level.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageCaptureStart, progress.StageCaptureDone:
			fields = append(fields,
				zap.Int("slot", evt.Slot),
				zap.String("site", evt.Site),
				zap.String("url", evt.URL),
			)
			if evt.Stage == progress.StageCaptureDone {
				fields = append(fields,
					zap.String("outcome", evt.Outcome),
					zap.Int("http_status", evt.HTTPStatus),
					zap.Int64("bytes", evt.Bytes),
					zap.Duration("dur", evt.Dur),
				)
			}
		default:
			fields = append(fields, zap.Int("targets", evt.Targets), zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
