package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webshot/internal/store"
)

func TestNewOutcomeStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewOutcomeStoreWithPool(mock, "bad-name;drop")
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewOutcomeStoreWithPool(nil, "")
	require.Error(t, err)

	s, err := NewOutcomeStoreWithPool(mock, "")
	require.NoError(t, err)
	require.Equal(t, "capture_outcomes", s.table)
	require.Equal(t, "capture_outcomes_runs", s.runsTable)
}

func TestNewOutcomeStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewOutcomeStore(context.Background(), Config{})
	require.ErrorContains(t, err, "db.dsn")
}

func TestStartRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewOutcomeStoreWithPool(mock, "shots")
	require.NoError(t, err)

	runID := uuid.New()
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("INSERT INTO shots_runs").
		WithArgs(runID, now, 3, store.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.StartRun(context.Background(), runID, now, 3))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCapturesUsesTransaction(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewOutcomeStoreWithPool(mock, "shots")
	require.NoError(t, err)

	runID := uuid.New()
	now := time.Unix(1700000000, 0).UTC()
	records := []store.CaptureRecord{
		{
			RunID: runID, URL: "https://example.com", Site: "example.com", Slot: 0,
			Status: "success", HTTPStatus: 200, Bytes: 42, URI: "file:///tmp/a.png",
			Title: "Example", Duration: 1500 * time.Millisecond, FinishedAt: now,
		},
		{
			RunID: runID, URL: "https://dead.example", Site: "dead.example", Slot: 1,
			Status: "failed", Reason: "target unreachable", Duration: 10 * time.Millisecond, FinishedAt: now,
		},
	}

	mock.ExpectBegin()
	for _, rec := range records {
		mock.ExpectExec("INSERT INTO shots").
			WithArgs(
				rec.RunID, rec.URL, rec.Site, rec.Slot, rec.Status, rec.HTTPStatus,
				rec.Bytes, rec.URI, rec.Title, rec.Reason, rec.Duration.Milliseconds(), rec.FinishedAt,
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, s.RecordCaptures(context.Background(), records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCapturesRollsBackOnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewOutcomeStoreWithPool(mock, "shots")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO shots").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = s.RecordCaptures(context.Background(), []store.CaptureRecord{{RunID: uuid.New(), URL: "https://a.example"}})
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordCapturesEmptyIsNoop(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewOutcomeStoreWithPool(mock, "")
	require.NoError(t, err)
	require.NoError(t, s.RecordCaptures(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRun(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewOutcomeStoreWithPool(mock, "shots")
	require.NoError(t, err)

	runID := uuid.New()
	now := time.Unix(1700000000, 0).UTC()
	msg := "driver crashed"

	mock.ExpectExec("UPDATE shots_runs").
		WithArgs(now, store.RunError, &msg, runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.FinishRun(context.Background(), runID, now, store.RunError, &msg))

	mock.ExpectExec("UPDATE shots_runs").
		WithArgs(now, store.RunSuccess, (*string)(nil), runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorContains(t, s.FinishRun(context.Background(), runID, now, store.RunSuccess, nil), "no such run")

	require.NoError(t, mock.ExpectationsWereMet())
}
