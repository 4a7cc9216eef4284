// Package scheduler runs a batch of capture targets across a fixed number of
// worker slots. It caps in-flight captures at the slot count and returns
// exactly one outcome per target, whatever happens to the run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/webshot/internal/capture"
	"github.com/JakeFAU/webshot/internal/clock/system"
	"github.com/JakeFAU/webshot/internal/partition"
	"github.com/JakeFAU/webshot/internal/progress"
	"github.com/JakeFAU/webshot/internal/worker"
)

const defaultConcurrency = 4

// Config controls the scheduler.
type Config struct {
	Concurrency int
	Partition   partition.Policy
	Worker      worker.Config
}

// Scheduler borrows one Handle per slot from a HandleFactory for each run.
type Scheduler struct {
	factory capture.HandleFactory
	deps    worker.Deps
	cfg     Config
	logger  *zap.Logger
}

// New validates cfg and returns a Scheduler.
func New(factory capture.HandleFactory, deps worker.Deps, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if factory == nil {
		return nil, fmt.Errorf("handle factory is required")
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("concurrency must be > 0, got %d", cfg.Concurrency)
	}
	if cfg.Partition == "" {
		cfg.Partition = partition.PolicyPull
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = progress.Discard{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.SiteOf == nil {
		deps.SiteOf = func(string) string { return "" }
	}
	return &Scheduler{factory: factory, deps: deps, cfg: cfg, logger: logger}, nil
}

// Run executes every target and returns the outcomes in completion order,
// followed by outcomes for targets that never ran. The returned error is
// non-nil only for infrastructure failures (wrapping capture.ErrSchedulerFatal);
// the outcome count always equals len(targets). Run returns after every slot
// has exited.
func (s *Scheduler) Run(ctx context.Context, targets []capture.Target) ([]capture.Outcome, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	if err := checkIndexes(targets); err != nil {
		return nil, fmt.Errorf("%w: %w", capture.ErrSchedulerFatal, err)
	}
	slots := min(s.cfg.Concurrency, len(targets))
	sources, err := partition.Sources(s.cfg.Partition, targets, slots)
	if err != nil {
		return nil, fmt.Errorf("%w: partition targets: %w", capture.ErrSchedulerFatal, err)
	}
	s.logger.Info("scheduler starting",
		zap.Int("targets", len(targets)),
		zap.Int("slots", len(sources)),
		zap.String("partition", string(s.cfg.Partition)),
	)

	c := newCollector(len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for slot, src := range sources {
		g.Go(func() error {
			return s.runSlot(gctx, slot, src, c)
		})
	}
	runErr := g.Wait()

	cause := runErr
	if cause == nil {
		cause = ctx.Err()
	}
	if cause != nil {
		drained := c.abortRest(targets, cause, s.cfg.Worker.RunID.String(), s.deps.Clock.Now())
		s.recordDrained(drained)
	}
	outcomes := c.outcomes()
	s.logger.Info("scheduler finished",
		zap.Int("outcomes", len(outcomes)),
		zap.Bool("aborted", cause != nil),
	)
	return outcomes, runErr
}

func (s *Scheduler) runSlot(ctx context.Context, slot int, src partition.Source, c *collector) error {
	logger := s.logger.Named("worker").With(zap.Int("slot", slot))
	handle, err := s.factory.Open(ctx, slot)
	if err != nil {
		if ctx.Err() != nil {
			// Another slot already failed or the run was cancelled.
			return nil
		}
		return fmt.Errorf("%w: open handle for slot %d: %w", capture.ErrSchedulerFatal, slot, err)
	}
	defer func() {
		if err := handle.Close(); err != nil {
			logger.Warn("handle close failed", zap.Error(err))
		}
	}()

	w := worker.New(handle, s.deps, s.cfg.Worker, logger)
	for {
		task, ok := src.Next(ctx)
		if !ok {
			return nil
		}
		c.add(w.Execute(ctx, task))
	}
}

// recordDrained reports outcomes for targets that never reached a slot, the
// same way a worker reports the ones it ran.
func (s *Scheduler) recordDrained(drained []capture.Outcome) {
	if len(drained) == 0 {
		return
	}
	logger := s.logger.Named("drain")
	for _, out := range drained {
		worker.Record(s.deps.Events, logger, s.cfg.Worker.RunID, out, s.deps.SiteOf(out.Target.Raw))
	}
	s.logger.Warn("run aborted before all targets ran", zap.Int("drained", len(drained)))
}

func checkIndexes(targets []capture.Target) error {
	seen := make(map[int]struct{}, len(targets))
	for _, t := range targets {
		if _, dup := seen[t.Index]; dup {
			return fmt.Errorf("duplicate target index %d (%s)", t.Index, t.Raw)
		}
		seen[t.Index] = struct{}{}
	}
	return nil
}

type collector struct {
	mu   sync.Mutex
	done map[int]bool
	list []capture.Outcome
}

func newCollector(n int) *collector {
	return &collector{done: make(map[int]bool, n), list: make([]capture.Outcome, 0, n)}
}

func (c *collector) add(out capture.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done[out.Target.Index] = true
	c.list = append(c.list, out)
}

// abortRest records a Failed outcome for every target that never produced one
// and returns those outcomes.
func (c *collector) abortRest(targets []capture.Target, cause error, runID string, now time.Time) []capture.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	reason := capture.ErrRunAborted
	if !errors.Is(cause, capture.ErrRunAborted) {
		reason = fmt.Errorf("%w: %w", capture.ErrRunAborted, cause)
	}
	var drained []capture.Outcome
	for _, target := range targets {
		if c.done[target.Index] {
			continue
		}
		c.done[target.Index] = true
		out := capture.Outcome{
			RunID:   runID,
			Target:  target,
			Slot:    -1,
			Status:  capture.StatusFailed,
			Err:     reason,
			Started: now,
		}
		c.list = append(c.list, out)
		drained = append(drained, out)
	}
	return drained
}

func (c *collector) outcomes() []capture.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]capture.Outcome(nil), c.list...)
}
