// Package scheduler invokes the cycle runner on cron specs. A cycle still
// running when the next tick fires is skipped, never overlapped.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alejandrodnm/wxbot/internal/application/engine"
	"github.com/alejandrodnm/wxbot/internal/domain"
)

// Runner es lo que el scheduler dispara en cada tick.
type Runner interface {
	RunCycle(ctx context.Context, cycleID string) (*engine.CycleResult, error)
}

// Config holds the schedule.
type Config struct {
	Specs        []string // 6 campos, con segundos
	Location     *time.Location
	BoundaryHour int
	Clock        func() time.Time
}

// Scheduler wraps a cron with seconds-precision specs.
type Scheduler struct {
	cfg    Config
	runner Runner
	cron   *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	last    *engine.CycleResult
	lastErr error
	runs    int
}

// New validates the specs and registers one job per spec.
func New(cfg Config, runner Runner) (*Scheduler, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.BoundaryHour <= 0 {
		cfg.BoundaryHour = 12
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	s := &Scheduler{cfg: cfg, runner: runner, ctx: context.Background()}
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLocation(cfg.Location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if len(cfg.Specs) == 0 {
		return nil, fmt.Errorf("scheduler.New: no cron specs")
	}
	for _, spec := range cfg.Specs {
		if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
			return nil, fmt.Errorf("scheduler.New: spec %q: %w", spec, err)
		}
	}
	return s, nil
}

// Start runs the cron until ctx is done, then waits for a running cycle.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	for _, e := range s.cron.Entries() {
		slog.Info("scheduler: next cycle", "at", e.Next.Format(time.RFC3339))
	}
	<-ctx.Done()

	slog.Info("scheduler: stopping, waiting for running cycle")
	<-s.cron.Stop().Done()
	slog.Info("scheduler: stopped")
}

// RunNow runs one cycle synchronously with the current cycle id.
func (s *Scheduler) RunNow(ctx context.Context) (*engine.CycleResult, error) {
	id := domain.CycleID(s.cfg.Clock(), s.cfg.Location, s.cfg.BoundaryHour)
	res, err := s.runner.RunCycle(ctx, id)

	s.mu.Lock()
	s.runs++
	s.last, s.lastErr = res, err
	s.mu.Unlock()

	if err != nil {
		slog.Error("scheduler: cycle failed", "cycle_id", id, "err", err)
		return nil, err
	}
	return res, nil
}

// Last returns the most recent cycle result, the number of cycles run and
// the error of the last one.
func (s *Scheduler) Last() (*engine.CycleResult, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.runs, s.lastErr
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	_, _ = s.RunNow(ctx)
}
