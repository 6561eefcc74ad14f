// Package engine runs one trading cycle: protection, capital sync, parallel
// subject evaluation, exits, entries, settlement and reporting.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/wxbot/internal/application/dedup"
	"github.com/alejandrodnm/wxbot/internal/application/edge"
	"github.com/alejandrodnm/wxbot/internal/application/estimator"
	"github.com/alejandrodnm/wxbot/internal/application/lockin"
	"github.com/alejandrodnm/wxbot/internal/application/position"
	"github.com/alejandrodnm/wxbot/internal/application/risk"
	"github.com/alejandrodnm/wxbot/internal/application/sanity"
	"github.com/alejandrodnm/wxbot/internal/domain"
	"github.com/alejandrodnm/wxbot/internal/ports"
)

const (
	defaultCycleBudget   = 4 * time.Minute
	defaultCallTimeout   = 15 * time.Second
	defaultSubmitTimeout = 10 * time.Second
	defaultMaxTrades     = 3
	defaultMinEdge       = 0.15
)

// Config holds the cycle tunables.
type Config struct {
	Subjects          []domain.Subject
	Workers           int // <= 0: NumCPU × 2
	CycleBudget       time.Duration
	CallTimeout       time.Duration
	SubmitTimeout     time.Duration
	TradeTomorrow     bool
	KillSwitchFile    string
	DryRun            bool
	MaxTradesPerCycle int
	MinEdge           float64

	// Limits of the loss breaker; the counters come from the BreakerStore.
	MaxLosses    int
	LossCooldown time.Duration
	MaxDrawdown  domain.Cents
}

// Deps are the collaborators of the engine. Journal, Notifier, Breakers and
// Metrics are optional.
type Deps struct {
	Weather   ports.WeatherProvider
	Exchange  ports.Exchange
	Estimator *estimator.Estimator
	LockIn    *lockin.Detector
	Sanity    *sanity.Gate
	Edge      *edge.Calculator
	Dedup     *dedup.Deduplicator
	Risk      *risk.Manager
	Positions *position.Manager
	Breakers  ports.BreakerStore
	Journal   ports.Journal
	Notifier  ports.Notifier
	Metrics   ports.Metrics
	Clock     func() time.Time
}

// CycleResult contains everything produced by one cycle.
type CycleResult struct {
	CycleID         string
	StartedAt       time.Time
	Duration        time.Duration
	Results         []domain.SignalResult
	Violations      []domain.Violation
	Mismatches      []domain.Mismatch
	Settled         int
	SettledPnL      domain.Cents
	RealizedPnL     domain.Cents
	SkippedSubjects int
	EntriesBlocked  string // motivo si no se abren posiciones este ciclo
	Capital         domain.CapitalState
	Warnings        []string
}

// Count returns how many signals ended with outcome o.
func (r *CycleResult) Count(o domain.Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Engine is the cycle orchestrator. RunCycle calls are serialized.
type Engine struct {
	cfg     Config
	deps    Deps
	metrics ports.Metrics
	clock   func() time.Time
	mu      sync.Mutex
}

// New creates an engine, filling zero tunables with the stock values.
func New(cfg Config, deps Deps) *Engine {
	if cfg.CycleBudget <= 0 {
		cfg.CycleBudget = defaultCycleBudget
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}
	if cfg.MaxTradesPerCycle <= 0 {
		cfg.MaxTradesPerCycle = defaultMaxTrades
	}
	if cfg.MinEdge <= 0 {
		cfg.MinEdge = defaultMinEdge
	}
	e := &Engine{cfg: cfg, deps: deps, metrics: deps.Metrics, clock: deps.Clock}
	if e.metrics == nil {
		e.metrics = nopMetrics{}
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	return e
}

// RunCycle executes one cycle. It returns an error only when the cycle could
// not run at all; in that case no order was submitted.
func (e *Engine) RunCycle(ctx context.Context, cycleID string) (*CycleResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	result := &CycleResult{CycleID: cycleID, StartedAt: now}
	slog.Info("engine: cycle start", "cycle_id", cycleID, "subjects", len(e.cfg.Subjects))

	// Budget for evaluation and new entries. Exits, settlement and reporting
	// use ctx so in-flight work is never cut short.
	budgetCtx, cancel := context.WithTimeout(ctx, e.cfg.CycleBudget)
	defer cancel()

	// 1. Protection: kill switch + loss breaker
	cb := e.loadBreaker(ctx)
	if e.killSwitch() {
		result.EntriesBlocked = "kill switch"
		result.Warnings = append(result.Warnings, "KILL SWITCH: "+e.cfg.KillSwitchFile+" present, no entries")
		slog.Warn("engine: kill switch active, entries disabled", "file", e.cfg.KillSwitchFile)
	} else if !cb.IsOpen(now) {
		result.EntriesBlocked = "circuit breaker"
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("CIRCUIT BREAKER: %s, pausing entries until %s",
				cb.TriggeredReason, cb.CooldownUntil.Format("15:04:05")))
		slog.Warn("engine: circuit breaker active, entries disabled", "reason", cb.TriggeredReason)
	}

	// 2. Capital sync: fail closed
	live, err := e.syncCapital(ctx)
	if err != nil {
		return nil, err
	}
	held := make(map[string]domain.Side, len(live))
	for _, p := range live {
		held[p.Ticker] = p.Side
	}

	// 3. Evaluation: one task per subject, skipped once the budget is spent
	evals, skipped := e.evaluateConcurrent(budgetCtx, evalInput{cycleID: cycleID, held: held, now: now})
	result.SkippedSubjects = skipped
	var entries []domain.Signal
	quotes := make(map[string]domain.Bracket)
	for _, ev := range evals {
		entries = append(entries, ev.signals...)
		result.Violations = append(result.Violations, ev.violations...)
		for _, b := range ev.brackets {
			quotes[b.Ticker] = b
		}
	}

	// 4. Exits: always run, before entries
	exitResults, realized := e.runExits(ctx, live, quotes, cycleID, &cb, now)
	result.Results = append(result.Results, exitResults...)
	result.RealizedPnL += realized

	// 5. Entries: placement pipeline
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].EdgePct != entries[j].EdgePct {
			return entries[i].EdgePct > entries[j].EdgePct
		}
		return entries[i].Bracket.Ticker < entries[j].Bracket.Ticker
	})
	result.Results = append(result.Results, e.runPlacementPipeline(budgetCtx, ctx, entries, result.EntriesBlocked, now)...)

	// 6. Settlement: past dates with unsettled positions
	e.runSettlement(ctx, result, &cb, now)
	e.saveBreaker(ctx, cb)

	// 7. Reporting: journal, metrics, notifier
	result.Capital = e.deps.Risk.Ledger().Snapshot()
	result.Duration = e.clock().Sub(now)
	e.report(ctx, result)
	return result, nil
}

// Snapshot exposes the current capital state for reporting.
func (e *Engine) Snapshot() domain.CapitalState {
	return e.deps.Risk.Ledger().Snapshot()
}

// ResetBreaker clears a tripped loss breaker.
func (e *Engine) ResetBreaker(ctx context.Context) error {
	if e.deps.Breakers == nil {
		return nil
	}
	cb, err := e.deps.Breakers.CircuitBreaker(ctx)
	if err != nil {
		return fmt.Errorf("engine.ResetBreaker: %w", err)
	}
	cb.Reset()
	if err := e.deps.Breakers.SaveCircuitBreaker(ctx, cb); err != nil {
		return fmt.Errorf("engine.ResetBreaker: %w", err)
	}
	slog.Info("engine: circuit breaker reset")
	return nil
}

func (e *Engine) killSwitch() bool {
	if e.cfg.KillSwitchFile == "" {
		return false
	}
	_, err := os.Stat(e.cfg.KillSwitchFile)
	return err == nil
}

// loadBreaker restores the persisted counters with the configured limits.
func (e *Engine) loadBreaker(ctx context.Context) domain.CircuitBreaker {
	var cb domain.CircuitBreaker
	if e.deps.Breakers != nil {
		loaded, err := e.deps.Breakers.CircuitBreaker(ctx)
		if err != nil {
			slog.Warn("engine: load circuit breaker", "err", err)
		} else {
			cb = loaded
		}
	}
	cb.MaxLosses = e.cfg.MaxLosses
	cb.CooldownDuration = e.cfg.LossCooldown
	cb.MaxDrawdown = e.cfg.MaxDrawdown
	return cb
}

func (e *Engine) saveBreaker(ctx context.Context, cb domain.CircuitBreaker) {
	if e.deps.Breakers == nil {
		return
	}
	if err := e.deps.Breakers.SaveCircuitBreaker(ctx, cb); err != nil {
		slog.Warn("engine: save circuit breaker", "err", err)
	}
}

// syncCapital loads the balance and the live positions into the ledger.
func (e *Engine) syncCapital(ctx context.Context) ([]*domain.Position, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	balance, err := e.deps.Exchange.Balance(callCtx)
	if err != nil {
		return nil, fmt.Errorf("engine.RunCycle: balance: %w", err)
	}
	live, err := e.deps.Positions.Live(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine.RunCycle: positions: %w", err)
	}
	e.deps.Risk.Ledger().Sync(balance, live)
	st := e.deps.Risk.Ledger().Snapshot()
	e.metrics.Capital(st)
	slog.Info("engine: capital synced",
		"balance", st.Balance.String(),
		"exposure", st.OpenExposure.String(),
		"live_positions", len(live),
	)
	return live, nil
}

func (e *Engine) report(ctx context.Context, result *CycleResult) {
	for _, res := range result.Results {
		e.metrics.SignalOutcome(res.Outcome, res.Reason)
		if e.deps.Journal == nil {
			continue
		}
		if err := e.deps.Journal.Record(ctx, res, result.StartedAt); err != nil {
			slog.Warn("engine: journal", "ticker", res.Signal.Bracket.Ticker, "err", err)
		}
	}
	e.metrics.Capital(result.Capital)
	e.metrics.CycleCompleted(result.Duration, result.SkippedSubjects)

	slog.Info("engine: cycle done",
		"cycle_id", result.CycleID,
		"executed", result.Count(domain.OutcomeExecuted),
		"skipped", result.Count(domain.OutcomeSkipped),
		"rejected", result.Count(domain.OutcomeRejected),
		"violations", len(result.Violations),
		"settled", result.Settled,
		"skipped_subjects", result.SkippedSubjects,
		"duration", result.Duration.Round(time.Millisecond),
	)

	if e.deps.Notifier != nil {
		if err := e.deps.Notifier.NotifyCycle(ctx, result.CycleID, result.Results); err != nil {
			slog.Warn("engine: notify", "err", err)
		}
	}
}

// nopMetrics se usa cuando no hay recorder configurado.
type nopMetrics struct{}

func (nopMetrics) CycleCompleted(time.Duration, int)    {}
func (nopMetrics) SignalOutcome(domain.Outcome, string) {}
func (nopMetrics) DuplicateSignal()                     {}
func (nopMetrics) SanityViolation(string)               {}
func (nopMetrics) Capital(domain.CapitalState)          {}
func (nopMetrics) OrderSubmitted(domain.Action, bool)   {}
