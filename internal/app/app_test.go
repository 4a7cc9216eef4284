package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webshot/internal/app"
	"github.com/JakeFAU/webshot/internal/capture"
	"github.com/JakeFAU/webshot/internal/config"
	pubmemory "github.com/JakeFAU/webshot/internal/publisher/memory"
	"github.com/JakeFAU/webshot/internal/report"
	"github.com/JakeFAU/webshot/internal/store"
)

// MockOutcomeRepository mocks the store.OutcomeRepository interface.
type MockOutcomeRepository struct {
	mock.Mock
}

// StartRun satisfies store.OutcomeRepository.
func (m *MockOutcomeRepository) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time, targets int) error {
	args := m.Called(ctx, runID, startedAt, targets)
	return args.Error(0)
}

// RecordCaptures satisfies store.OutcomeRepository.
func (m *MockOutcomeRepository) RecordCaptures(ctx context.Context, records []store.CaptureRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

// FinishRun satisfies store.OutcomeRepository.
func (m *MockOutcomeRepository) FinishRun(
	ctx context.Context, runID uuid.UUID, finishedAt time.Time, status store.RunStatus, errMsg *string,
) error {
	args := m.Called(ctx, runID, finishedAt, status, errMsg)
	return args.Error(0)
}

type fakeFactory struct {
	hangOn    string
	inFlight  atomic.Int32
	maxFlight atomic.Int32
	closed    atomic.Bool
}

func (f *fakeFactory) Open(context.Context, int) (capture.Handle, error) {
	return &fakeHandle{f: f}, nil
}

func (f *fakeFactory) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeHandle struct{ f *fakeFactory }

func (h *fakeHandle) Capture(ctx context.Context, target capture.Target) (capture.Shot, error) {
	n := h.f.inFlight.Add(1)
	defer h.f.inFlight.Add(-1)
	for {
		cur := h.f.maxFlight.Load()
		if n <= cur || h.f.maxFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	delay := 20 * time.Millisecond
	if h.f.hangOn != "" && strings.Contains(target.Raw, h.f.hangOn) {
		delay = time.Hour
	}
	select {
	case <-time.After(delay):
		return capture.Shot{PNG: []byte("\x89PNG" + target.Raw), Title: "Example", HTTPStatus: 200}, nil
	case <-ctx.Done():
		return capture.Shot{}, ctx.Err()
	}
}

func (h *fakeHandle) Reset(context.Context) error { return nil }
func (h *fakeHandle) Close() error                { return nil }

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.Capture.Concurrency = 2
	cfg.Capture.Timeout = 2 * time.Second
	cfg.Liveness.Enabled = false
	cfg.Output.Dir = t.TempDir()
	return cfg
}

func pngFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.png"))
	require.NoError(t, err)
	return matches
}

func closeApp(t *testing.T, a *app.App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))
}

func TestRunCapturesValidTargetsAndDropsMalformed(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Output.Report = filepath.Join(t.TempDir(), "run.json")
	factory := &fakeFactory{}
	a, err := app.New(context.Background(), cfg, zap.NewNop(), app.WithHandleFactory(factory))
	require.NoError(t, err)

	res, err := a.Run(context.Background(), []string{"https://example.com", "not a url", "https://example.com/page"})
	require.NoError(t, err)
	closeApp(t, a)

	require.Len(t, res.Outcomes, 2)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, "not a url", res.Rejected[0].Input)
	assert.True(t, res.AllSucceeded())
	for _, out := range res.Outcomes {
		assert.Equal(t, res.RunID.String(), out.RunID)
		assert.True(t, strings.HasPrefix(out.URI, "file://"), out.URI)
	}
	assert.Len(t, pngFiles(t, cfg.Output.Dir), 2)
	assert.LessOrEqual(t, factory.maxFlight.Load(), int32(2))
	assert.True(t, factory.closed.Load())

	data, err := os.ReadFile(cfg.Output.Report)
	require.NoError(t, err)
	var rep report.Report
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.Equal(t, res.RunID.String(), rep.RunID)
	assert.Equal(t, report.Totals{Inputs: 3, Scheduled: 2, Dropped: 1, Succeeded: 2}, rep.Totals)
}

func TestRunTimesOutHangingTarget(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Capture.Timeout = 200 * time.Millisecond
	a, err := app.New(context.Background(), cfg, zap.NewNop(), app.WithHandleFactory(&fakeFactory{hangOn: "slow"}))
	require.NoError(t, err)
	defer closeApp(t, a)

	start := time.Now()
	res, err := a.Run(context.Background(), []string{"https://slow.example", "https://fast.example"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	ok, timedOut, failed := res.Counts()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, timedOut)
	assert.Equal(t, 0, failed)
	assert.False(t, res.AllSucceeded())
}

func TestRunCancelledStillAccountsForEveryTarget(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Capture.Concurrency = 1
	cfg.Capture.Timeout = time.Minute
	a, err := app.New(context.Background(), cfg, zap.NewNop(), app.WithHandleFactory(&fakeFactory{hangOn: "example"}))
	require.NoError(t, err)
	defer closeApp(t, a)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(100*time.Millisecond, cancel)
	res, err := a.Run(ctx, []string{"https://a.example", "https://b.example", "https://c.example"})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 3)
	_, _, failed := res.Counts()
	assert.Equal(t, 3, failed)
}

type fixedIDs struct{ id uuid.UUID }

func (f fixedIDs) NewRunID() (uuid.UUID, error) { return f.id, nil }

type recordingRepository struct {
	mu   sync.Mutex
	recs []store.CaptureRecord
}

func (r *recordingRepository) StartRun(context.Context, uuid.UUID, time.Time, int) error { return nil }

func (r *recordingRepository) RecordCaptures(_ context.Context, recs []store.CaptureRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, recs...)
	return nil
}

func (r *recordingRepository) FinishRun(context.Context, uuid.UUID, time.Time, store.RunStatus, *string) error {
	return nil
}

func TestRunCancelledRecordsEveryOutcome(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Capture.Concurrency = 1
	cfg.Capture.Timeout = time.Minute
	repo := &recordingRepository{}
	a, err := app.New(context.Background(), cfg, zap.NewNop(),
		app.WithHandleFactory(&fakeFactory{hangOn: "example"}),
		app.WithOutcomeRepository(repo),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(100*time.Millisecond, cancel)
	res, err := a.Run(ctx, []string{"https://a.example", "https://b.example", "https://c.example"})
	require.NoError(t, err)
	closeApp(t, a)

	require.Len(t, res.Outcomes, 3)
	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Len(t, repo.recs, len(res.Outcomes))
	for _, rec := range repo.recs {
		assert.Equal(t, string(capture.StatusFailed), rec.Status, rec.URL)
	}
	snap := a.Tracker().Snapshot()
	assert.Equal(t, 3, snap.Completed)
	assert.Equal(t, 3, snap.Outcomes[string(capture.StatusFailed)])
}

func TestRunFansOutToStoreAndPublisher(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.PubSub.ProjectID = "proj"
	cfg.PubSub.Topic = "captures"
	runID := uuid.MustParse("01890a5d-ac96-774b-bcce-b302099a8057")
	repo := &MockOutcomeRepository{}
	repo.On("StartRun", mock.Anything, runID, mock.Anything, 2).Return(nil).Once()
	repo.On("RecordCaptures", mock.Anything, mock.MatchedBy(func(recs []store.CaptureRecord) bool {
		return len(recs) == 2
	})).Return(nil).Once()
	repo.On("FinishRun", mock.Anything, mock.Anything, mock.Anything, store.RunSuccess, mock.Anything).Return(nil).Once()
	pub := pubmemory.New()
	reg := prometheus.NewRegistry()

	a, err := app.New(context.Background(), cfg, zap.NewNop(),
		app.WithHandleFactory(&fakeFactory{}),
		app.WithOutcomeRepository(repo),
		app.WithPublisher(pub),
		app.WithRegistry(reg),
		app.WithIDGenerator(fixedIDs{id: runID}),
	)
	require.NoError(t, err)

	res, err := a.Run(context.Background(), []string{"https://example.com", "https://example.org"})
	require.NoError(t, err)
	assert.Equal(t, runID, res.RunID)
	closeApp(t, a)

	repo.AssertExpectations(t)
	assert.Len(t, pub.Topic("captures"), 3)
	count, err := testutil.GatherAndCount(reg, "webshot_captures_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStatusServerReportsRun(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Metrics.Addr = "127.0.0.1:0"
	a, err := app.New(context.Background(), cfg, zap.NewNop(), app.WithHandleFactory(&fakeFactory{}))
	require.NoError(t, err)
	defer closeApp(t, a)
	require.NotEmpty(t, a.StatusAddr())

	resp, err := http.Get("http://" + a.StatusAddr() + "/readyz")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	res, err := a.Run(context.Background(), []string{"https://example.com"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap := a.Tracker().Snapshot()
		return snap.Status == "success" && snap.Completed == 1
	}, 2*time.Second, 20*time.Millisecond)

	resp, err = http.Get("http://" + a.StatusAddr() + "/v1/run")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Run struct {
			RunID string `json:"run_id"`
		} `json:"run"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, res.RunID.String(), body.Run.RunID)
}

func TestNewFailsOnUnwritableOutput(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	cfg.Output.Dir = filepath.Join(file, "sub")

	factory := &fakeFactory{}
	_, err := app.New(context.Background(), cfg, zap.NewNop(), app.WithHandleFactory(factory))
	require.ErrorIs(t, err, capture.ErrSchedulerFatal)
	assert.True(t, factory.closed.Load(), "backend must be released when startup fails")
}

func TestNewFailsWithoutDriver(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Driver.Path = "definitely-not-a-browser"
	_, err := app.New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, capture.ErrDriverNotFound), err)
}
