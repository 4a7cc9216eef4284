package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webshot/internal/capture"
	"github.com/JakeFAU/webshot/internal/progress"
)

// Notification is the JSON payload published for finished captures and runs.
type Notification struct {
	Kind       string  `json:"kind"`
	RunID      string  `json:"run_id"`
	URL        string  `json:"url,omitempty"`
	Status     string  `json:"status"`
	HTTPStatus int     `json:"http_status,omitempty"`
	URI        string  `json:"uri,omitempty"`
	Bytes      int64   `json:"bytes,omitempty"`
	Targets    int     `json:"targets,omitempty"`
	Seconds    float64 `json:"seconds"`
	Error      string  `json:"error,omitempty"`
	Timestamp  string  `json:"ts"`
}

// PublisherSink publishes a Notification per finished capture and per finished run.
type PublisherSink struct {
	publisher capture.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublisherSink builds a sink that publishes to topic.
func NewPublisherSink(publisher capture.Publisher, topic string, logger *zap.Logger) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{publisher: publisher, topic: topic, logger: logger}
}

// Consume publishes notifications for terminal events in order.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		msg, ok := notificationFor(evt)
		if !ok {
			continue
		}
		id, err := s.publisher.Publish(ctx, s.topic, msg)
		if err != nil {
			return fmt.Errorf("publish %s notification: %w", msg.Kind, err)
		}
		s.logger.Debug("notification published",
			zap.String("kind", msg.Kind),
			zap.String("message_id", id),
		)
	}
	return nil
}

func notificationFor(evt progress.Event) (Notification, bool) {
	msg := Notification{
		RunID:     evt.RunUUID().String(),
		Seconds:   evt.Dur.Seconds(),
		Error:     evt.Note,
		Timestamp: evt.TS.UTC().Format(time.RFC3339Nano),
	}
	switch evt.Stage {
	case progress.StageCaptureDone:
		msg.Kind = "capture"
		msg.URL = evt.URL
		msg.Status = evt.Outcome
		msg.HTTPStatus = evt.HTTPStatus
		msg.URI = evt.URI
		msg.Bytes = evt.Bytes
	case progress.StageRunDone:
		msg.Kind = "run"
		msg.Status = "success"
		msg.Targets = evt.Targets
	case progress.StageRunError:
		msg.Kind = "run"
		msg.Status = "error"
		msg.Targets = evt.Targets
	default:
		return Notification{}, false
	}
	return msg, true
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
