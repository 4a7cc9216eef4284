package progress

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	base := sampleEvent(StageCaptureDone)
	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr string
	}{
		{name: "valid"},
		{name: "missing run id", mutate: func(e *Event) { e.RunID = [16]byte{} }, wantErr: "run id"},
		{name: "missing ts", mutate: func(e *Event) { e.TS = time.Time{} }, wantErr: "timestamp"},
		{name: "unknown stage", mutate: func(e *Event) { e.Stage = "NOPE" }, wantErr: "unknown stage"},
		{name: "done without outcome", mutate: func(e *Event) { e.Outcome = "" }, wantErr: "outcome"},
		{name: "done without url", mutate: func(e *Event) { e.URL = "" }, wantErr: "url"},
		{name: "negative duration", mutate: func(e *Event) { e.Dur = -time.Second }, wantErr: "duration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			evt := base
			if tt.mutate != nil {
				tt.mutate(&evt)
			}
			err := evt.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRunUUIDRoundTrip(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	evt := Event{RunID: UUIDToBytes(id)}
	assert.Equal(t, id, evt.RunUUID())
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Status2xx, ClassifyStatus(204))
	assert.Equal(t, Status3xx, ClassifyStatus(301))
	assert.Equal(t, Status4xx, ClassifyStatus(404))
	assert.Equal(t, Status5xx, ClassifyStatus(503))
	assert.Equal(t, StatusOther, ClassifyStatus(0))
}
