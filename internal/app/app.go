// Package app wires configuration into a ready-to-run capture pipeline and
// owns every long-lived resource it creates: the browser process, the capture
// backend, storage and notification clients, the progress hub, and the
// status server. Callers defer Close.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	gcstorage "cloud.google.com/go/storage"
	gpubsub "cloud.google.com/go/pubsub"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/webshot/internal/api"
	"github.com/JakeFAU/webshot/internal/browser"
	"github.com/JakeFAU/webshot/internal/capture"
	"github.com/JakeFAU/webshot/internal/clock/system"
	"github.com/JakeFAU/webshot/internal/config"
	"github.com/JakeFAU/webshot/internal/driver"
	"github.com/JakeFAU/webshot/internal/hash/sha256"
	idgen "github.com/JakeFAU/webshot/internal/id/uuid"
	"github.com/JakeFAU/webshot/internal/liveness"
	"github.com/JakeFAU/webshot/internal/metrics"
	"github.com/JakeFAU/webshot/internal/partition"
	"github.com/JakeFAU/webshot/internal/progress"
	"github.com/JakeFAU/webshot/internal/progress/sinks"
	pspublisher "github.com/JakeFAU/webshot/internal/publisher/pubsub"
	"github.com/JakeFAU/webshot/internal/report"
	"github.com/JakeFAU/webshot/internal/scheduler"
	"github.com/JakeFAU/webshot/internal/storage"
	"github.com/JakeFAU/webshot/internal/storage/gcs"
	"github.com/JakeFAU/webshot/internal/storage/local"
	"github.com/JakeFAU/webshot/internal/storage/postgres"
	"github.com/JakeFAU/webshot/internal/store"
	"github.com/JakeFAU/webshot/internal/worker"
)

const (
	hashLength   = 12
	closeTimeout = 15 * time.Second
)

// Option overrides one collaborator, mostly for tests.
type Option func(*options)

type options struct {
	factory   capture.HandleFactory
	prober    capture.Prober
	blobs     capture.BlobStore
	repo      store.OutcomeRepository
	publisher capture.Publisher
	registry  *prometheus.Registry
	clock     capture.Clock
	ids       capture.IDGenerator
}

// WithHandleFactory replaces the browser backend; no driver is started.
func WithHandleFactory(f capture.HandleFactory) Option {
	return func(o *options) { o.factory = f }
}

// WithProber replaces the liveness gate.
func WithProber(p capture.Prober) Option {
	return func(o *options) { o.prober = p }
}

// WithBlobStore replaces the configured result storage backend.
func WithBlobStore(b capture.BlobStore) Option {
	return func(o *options) { o.blobs = b }
}

// WithOutcomeRepository records outcomes to repo instead of db.dsn.
func WithOutcomeRepository(repo store.OutcomeRepository) Option {
	return func(o *options) { o.repo = repo }
}

// WithPublisher sends notifications through p instead of a Pub/Sub client.
// pubsub.topic must still be set.
func WithPublisher(p capture.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithRegistry registers collectors on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(ids capture.IDGenerator) Option {
	return func(o *options) { o.ids = ids }
}

// WithClock overrides the wall clock.
func WithClock(c capture.Clock) Option {
	return func(o *options) { o.clock = c }
}

// App holds the services shared by every run.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  capture.Clock
	ids    capture.IDGenerator

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	supervisor *driver.Supervisor
	process    *driver.Process
	factory    capture.HandleFactory
	prober     capture.Prober
	sink       capture.ResultSink

	hub     *progress.Hub
	tracker *api.Tracker

	status     *api.Server
	statusAddr string
	stopStatus context.CancelFunc
	statusDone chan error

	closers   []func(ctx context.Context) error
	closeOnce sync.Once
	closeErr  error
}

// Result is what one Run produced.
type Result struct {
	RunID      uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []capture.Outcome
	Rejected   []capture.Rejection
}

// Counts tallies outcomes by status.
func (r Result) Counts() (succeeded, timedOut, failed int) {
	for _, out := range r.Outcomes {
		switch out.Status {
		case capture.StatusSuccess:
			succeeded++
		case capture.StatusTimedOut:
			timedOut++
		case capture.StatusFailed:
			failed++
		}
	}
	return succeeded, timedOut, failed
}

// AllSucceeded reports whether every scheduled target was captured.
func (r Result) AllSucceeded() bool {
	ok, _, _ := r.Counts()
	return ok == len(r.Outcomes)
}

// New builds the pipeline described by cfg. On failure everything already
// acquired is released before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger, clock: o.clock, ids: o.ids, tracker: api.NewTracker()}
	if a.clock == nil {
		a.clock = system.New()
	}
	if a.ids == nil {
		a.ids = idgen.New()
	}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
			defer cancel()
			if cerr := a.Close(closeCtx); cerr != nil {
				logger.Warn("cleanup after failed start", zap.Error(cerr))
			}
		}
	}()

	if err := a.initMetrics(o.registry); err != nil {
		return nil, err
	}
	if err := a.initBackend(ctx, o.factory); err != nil {
		return nil, err
	}
	a.initProber(o.prober)
	if err := a.initSink(ctx, o.blobs); err != nil {
		return nil, err
	}
	if err := a.initProgress(ctx, o.repo, o.publisher); err != nil {
		return nil, err
	}
	if err := a.initStatus(ctx); err != nil {
		return nil, err
	}

	logger.Info("pipeline ready",
		zap.String("backend", cfg.Capture.Backend),
		zap.Int("concurrency", cfg.Capture.Concurrency),
		zap.String("sink", cfg.Output.Sink),
		zap.Bool("liveness", a.prober != nil),
	)
	return a, nil
}

func (a *App) initMetrics(reg *prometheus.Registry) error {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}
	a.registry = reg
	a.metrics = m
	return nil
}

func (a *App) browserConfig() browser.Config {
	return browser.Config{
		Width:     a.cfg.Capture.Width,
		Height:    a.cfg.Capture.Height,
		FullPage:  a.cfg.Capture.FullPage,
		Quality:   a.cfg.Capture.Quality,
		UserAgent: a.cfg.Capture.UserAgent,
	}
}

func (a *App) initBackend(ctx context.Context, injected capture.HandleFactory) error {
	if injected != nil {
		a.factory = injected
		return nil
	}

	headless := a.cfg.Driver.Headless
	if a.cfg.Capture.Backend == config.BackendOneShot {
		headless = true
	}
	sup, err := driver.NewSupervisor(driver.Config{
		Path:           a.cfg.Driver.Path,
		Headless:       headless,
		StartupTimeout: a.cfg.Driver.StartupTimeout,
		KillGrace:      a.cfg.Driver.KillGrace,
		ExtraFlags:     a.cfg.Driver.ExtraFlags,
	}, a.logger.Named("driver"), driver.WithObserver(a.metrics))
	if err != nil {
		return fmt.Errorf("start driver supervisor: %w", err)
	}
	a.supervisor = sup

	switch a.cfg.Capture.Backend {
	case config.BackendOneShot:
		f, err := browser.NewOneShotFactory(sup, a.browserConfig(), a.logger.Named("browser"))
		if err != nil {
			return fmt.Errorf("create oneshot backend: %w", err)
		}
		a.factory = f
	default:
		proc, err := sup.Acquire(ctx, driver.LaunchOptions{Port: a.cfg.Driver.Port})
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		a.process = proc
		f, err := browser.NewCDPFactory(ctx, proc.WebSocketURL(), a.browserConfig(), a.logger.Named("browser"))
		if err != nil {
			return fmt.Errorf("connect browser: %w", err)
		}
		a.factory = f
	}
	return nil
}

func (a *App) initProber(injected capture.Prober) {
	switch {
	case injected != nil:
		a.prober = injected
	case a.cfg.Liveness.Enabled:
		a.prober = liveness.New(liveness.Config{
			UserAgent: a.cfg.Liveness.UserAgent,
			Budget:    a.cfg.Liveness.Budget,
		}, a.metrics)
	}
}

func (a *App) initSink(ctx context.Context, blobs capture.BlobStore) error {
	prefix := ""
	switch {
	case blobs != nil:
	case a.cfg.Output.Sink == config.SinkGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		b, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Output.GCSBucket})
		if err != nil {
			return fmt.Errorf("create gcs blob store: %w", err)
		}
		blobs = b
		prefix = a.cfg.Output.GCSPrefix
	default:
		b, err := local.New(local.Config{BaseDir: a.cfg.Output.Dir})
		if err != nil {
			return fmt.Errorf("%w: prepare output dir: %w", capture.ErrSchedulerFatal, err)
		}
		a.logger.Info("writing screenshots", zap.String("dir", b.Dir()))
		blobs = b
	}
	sink, err := storage.NewSink(blobs, sha256.NewTruncated(hashLength), prefix)
	if err != nil {
		return fmt.Errorf("create result sink: %w", err)
	}
	a.sink = sink
	return nil
}

func (a *App) initProgress(ctx context.Context, repo store.OutcomeRepository, pub capture.Publisher) error {
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("create prometheus sink: %w", err)
	}
	hubSinks := []progress.Sink{
		sinks.NewLogSink(a.logger.Named("progress")),
		promSink,
		a.tracker,
	}

	if repo == nil && a.cfg.DB.DSN != "" {
		pgStore, err := postgres.NewOutcomeStore(ctx, postgres.Config{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.DB.Table,
			MaxConns: a.cfg.DB.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("open outcome store: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error {
			pgStore.Close()
			return nil
		})
		repo = pgStore
	}
	if repo != nil {
		hubSinks = append(hubSinks, sinks.NewStoreSink(repo, a.logger.Named("store")))
	}

	if a.cfg.PubSub.Topic != "" {
		if pub == nil {
			client, err := gpubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
			if err != nil {
				return fmt.Errorf("create pubsub client: %w", err)
			}
			publisher := pspublisher.New(client)
			// Topics are stopped before the client closes.
			a.closers = append(a.closers, func(context.Context) error { return client.Close() })
			a.closers = append(a.closers, func(context.Context) error {
				publisher.Close()
				return nil
			})
			pub = publisher
		}
		hubSinks = append(hubSinks, sinks.NewPublisherSink(pub, a.cfg.PubSub.Topic, a.logger.Named("publisher")))
	}

	a.hub = progress.NewHub(progress.Config{Logger: a.logger.Named("hub")}, hubSinks...)
	return nil
}

func (a *App) initStatus(ctx context.Context) error {
	if a.cfg.Metrics.Addr == "" {
		return nil
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("listen status server: %w", err)
	}
	a.status = api.NewServer(a.registry, a.metrics, a.tracker, a.logger.Named("api"))
	a.statusAddr = ln.Addr().String()

	serveCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopStatus = cancel
	a.statusDone = make(chan error, 1)
	go func() {
		a.statusDone <- a.status.Serve(serveCtx, ln)
	}()
	a.status.SetReady(true)
	a.logger.Info("status server listening", zap.String("addr", a.statusAddr))
	return nil
}

// StatusAddr returns the bound status server address, or "" when disabled.
func (a *App) StatusAddr() string {
	return a.statusAddr
}

// Registry exposes the metrics registry.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Tracker exposes the live run view.
func (a *App) Tracker() *api.Tracker {
	return a.tracker
}

// Run is RunLines for raw strings numbered by position.
func (a *App) Run(ctx context.Context, lines []string) (Result, error) {
	targets, rejected := capture.ParseTargets(lines)
	return a.run(ctx, targets, rejected)
}

// RunLines validates lines, captures every accepted target, and writes the
// optional run report. The error is non-nil only for run-level failures;
// per-target failures live in the outcomes.
func (a *App) RunLines(ctx context.Context, lines []capture.Line) (Result, error) {
	targets, rejected := capture.ParseLines(lines)
	return a.run(ctx, targets, rejected)
}

func (a *App) run(ctx context.Context, targets []capture.Target, rejected []capture.Rejection) (Result, error) {
	for _, rej := range rejected {
		a.logger.Warn("dropping malformed input",
			zap.String("source", rej.Source),
			zap.Int("line", rej.Line),
			zap.String("input", rej.Input),
			zap.Error(rej.Err),
		)
	}

	runID, err := a.ids.NewRunID()
	if err != nil {
		return Result{Rejected: rejected}, fmt.Errorf("generate run id: %w", err)
	}
	res := Result{RunID: runID, StartedAt: a.clock.Now(), Rejected: rejected}
	runLogger := a.logger.With(zap.String("run_id", runID.String()))
	runLogger.Info("run started", zap.Int("targets", len(targets)), zap.Int("dropped", len(rejected)))
	a.hub.Emit(progress.Event{
		RunID:   runID,
		TS:      res.StartedAt,
		Stage:   progress.StageRunStart,
		Targets: len(targets),
	})

	runErr := a.execute(ctx, runID, targets, &res)

	res.FinishedAt = a.clock.Now()
	done := progress.Event{
		RunID:   runID,
		TS:      res.FinishedAt,
		Stage:   progress.StageRunDone,
		Targets: len(targets),
		Dur:     res.FinishedAt.Sub(res.StartedAt),
	}
	ok, timedOut, failed := res.Counts()
	if runErr != nil {
		done.Stage = progress.StageRunError
		done.Note = runErr.Error()
		runLogger.Error("run failed", zap.Error(runErr))
	} else {
		runLogger.Info("run finished",
			zap.Int("succeeded", ok),
			zap.Int("timed_out", timedOut),
			zap.Int("failed", failed),
			zap.Duration("duration", done.Dur),
		)
	}
	a.hub.Emit(done)
	if n := a.hub.Dropped(); n > 0 {
		runLogger.Warn("progress events dropped; persisted outcomes are incomplete", zap.Int64("dropped", n))
	}

	if path := a.cfg.Output.Report; path != "" {
		rep := report.Build(report.Run{
			ID:            runID.String(),
			StartedAt:     res.StartedAt,
			FinishedAt:    res.FinishedAt,
			Err:           runErr,
			Settings:      a.reportSettings(),
			EventsDropped: a.hub.Dropped(),
		}, res.Outcomes, res.Rejected)
		if err := report.WriteFile(path, rep); err != nil {
			runLogger.Error("write run report", zap.Error(err), zap.String("path", path))
			runErr = errors.Join(runErr, fmt.Errorf("write run report: %w", err))
		}
	}
	return res, runErr
}

func (a *App) execute(ctx context.Context, runID uuid.UUID, targets []capture.Target, res *Result) error {
	policy, err := partition.ParsePolicy(a.cfg.Capture.Partition)
	if err != nil {
		return fmt.Errorf("%w: %w", capture.ErrSchedulerFatal, err)
	}
	var pacer *worker.Pacer
	if a.cfg.Capture.HostQPS > 0 {
		pacer = worker.NewPacer(a.cfg.Capture.HostQPS, a.metrics, metrics.SanitizeSite)
	}
	sched, err := scheduler.New(a.factory, worker.Deps{
		Prober: a.prober,
		Sink:   a.sink,
		Pacer:  pacer,
		Events: a.hub,
		Clock:  a.clock,
		SiteOf: metrics.SanitizeSite,
	}, scheduler.Config{
		Concurrency: a.cfg.Capture.Concurrency,
		Partition:   policy,
		Worker: worker.Config{
			RunID:       runID,
			Timeout:     a.cfg.Capture.Timeout,
			ProbeBudget: a.cfg.Liveness.Budget,
		},
	}, a.logger.Named("scheduler"))
	if err != nil {
		return fmt.Errorf("%w: %w", capture.ErrSchedulerFatal, err)
	}
	outcomes, err := sched.Run(ctx, targets)
	res.Outcomes = outcomes
	return err
}

func (a *App) reportSettings() report.Settings {
	return report.Settings{
		Concurrency: a.cfg.Capture.Concurrency,
		Timeout:     a.cfg.Capture.Timeout.String(),
		Backend:     a.cfg.Capture.Backend,
		Partition:   a.cfg.Capture.Partition,
		Sink:        a.cfg.Output.Sink,
	}
}

// Close flushes progress sinks and releases every resource in reverse order
// of acquisition. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		var errs []error
		if a.status != nil {
			a.status.SetReady(false)
		}
		if a.hub != nil {
			if err := a.hub.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close progress hub: %w", err))
			}
		}
		if a.stopStatus != nil {
			a.stopStatus()
			if err := <-a.statusDone; err != nil {
				errs = append(errs, err)
			}
		}
		if a.factory != nil {
			if err := a.factory.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close capture backend: %w", err))
			}
		}
		if a.process != nil {
			if err := a.process.Release(ctx); err != nil {
				errs = append(errs, fmt.Errorf("release browser: %w", err))
			}
		}
		if a.supervisor != nil {
			if err := a.supervisor.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("close driver supervisor: %w", err))
			}
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		a.closeErr = errors.Join(errs...)
		if a.closeErr != nil {
			a.logger.Warn("shutdown finished with errors", zap.Error(a.closeErr))
		} else {
			a.logger.Info("shutdown complete")
		}
	})
	return a.closeErr
}
