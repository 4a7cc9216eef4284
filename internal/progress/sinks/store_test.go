package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webshot/internal/progress"
	"github.com/JakeFAU/webshot/internal/store"
)

func TestStoreSinkPersistsRunAndCaptures(t *testing.T) {
	t.Parallel()

	repo := &fakeOutcomeRepo{}
	sink := NewStoreSink(repo, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now().UTC()

	batch := []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: now, Targets: 2},
		{RunID: runID, Stage: progress.StageCaptureStart, TS: now, URL: "https://a.example"},
		{
			RunID: runID, Stage: progress.StageCaptureDone, TS: now.Add(time.Second),
			URL: "https://a.example", Site: "a.example", Outcome: "success", Bytes: 10, URI: "file:///a.png",
		},
		{
			RunID: runID, Stage: progress.StageCaptureDone, TS: now.Add(2 * time.Second),
			URL: "https://b.example", Site: "b.example", Outcome: "timed_out", Note: "target timed out",
		},
		{RunID: runID, Stage: progress.StageRunDone, TS: now.Add(3 * time.Second), Targets: 2},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, []uuid.UUID{runUUID}, repo.starts)
	require.Equal(t, 2, repo.startTargets)
	require.Len(t, repo.records, 2)
	require.Equal(t, "success", repo.records[0].Status)
	require.Equal(t, "target timed out", repo.records[1].Reason)
	require.Equal(t, []store.RunStatus{store.RunSuccess}, repo.finishes)
	require.Equal(t, []string{"records", "finish"}, repo.order[1:])
}

func TestStoreSinkRunErrorCarriesNote(t *testing.T) {
	t.Parallel()

	repo := &fakeOutcomeRepo{}
	sink := NewStoreSink(repo, nil)
	runID := progress.UUIDToBytes(uuid.New())

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunError, TS: time.Now(), Note: "scheduler fatal"},
	}))
	require.Equal(t, []store.RunStatus{store.RunError}, repo.finishes)
	require.NotNil(t, repo.lastNote)
	require.Equal(t, "scheduler fatal", *repo.lastNote)
}

func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeOutcomeRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	runID := progress.UUIDToBytes(uuid.New())
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: time.Now()},
	})
	require.ErrorContains(t, err, "start run")

	err = sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, Stage: progress.StageCaptureDone, TS: time.Now(), URL: "https://a.example", Outcome: "failed"},
	})
	require.ErrorContains(t, err, "record captures")
}

func TestStoreSinkNilRepo(t *testing.T) {
	t.Parallel()

	sink := NewStoreSink(nil, nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{{Stage: progress.StageRunStart}}))
	require.NoError(t, sink.Close(context.Background()))
}

type fakeOutcomeRepo struct {
	fail         bool
	starts       []uuid.UUID
	startTargets int
	records      []store.CaptureRecord
	finishes     []store.RunStatus
	lastNote     *string
	order        []string
}

func (f *fakeOutcomeRepo) StartRun(_ context.Context, runID uuid.UUID, _ time.Time, targets int) error {
	if f.fail {
		return assertErr("start")
	}
	f.starts = append(f.starts, runID)
	f.startTargets = targets
	f.order = append(f.order, "start")
	return nil
}

func (f *fakeOutcomeRepo) RecordCaptures(_ context.Context, records []store.CaptureRecord) error {
	if f.fail {
		return assertErr("records")
	}
	f.records = append(f.records, records...)
	f.order = append(f.order, "records")
	return nil
}

func (f *fakeOutcomeRepo) FinishRun(
	_ context.Context,
	_ uuid.UUID,
	_ time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	if f.fail {
		return assertErr("finish")
	}
	f.finishes = append(f.finishes, status)
	f.lastNote = errMsg
	f.order = append(f.order, "finish")
	return nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
