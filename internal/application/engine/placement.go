package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alejandrodnm/wxbot/internal/application/position"
	"github.com/alejandrodnm/wxbot/internal/domain"
)

type skipReason int

const (
	skipReasonBlocked skipReason = iota
	skipReasonDeadline
	skipReasonMaxTrades
	skipReasonInvalid
	skipReasonDuplicate
	skipReasonDedupStore
	skipReasonCapital
	skipReasonDryRun
	skipReasonNotFilled
	skipReasonRejected
	skipReasonUnknown
)

// label is what the journal and the metrics see.
func (r skipReason) label() string {
	switch r {
	case skipReasonBlocked:
		return "entries_blocked"
	case skipReasonDeadline:
		return "deadline"
	case skipReasonMaxTrades:
		return "max_trades"
	case skipReasonInvalid:
		return "invalid"
	case skipReasonDuplicate:
		return "duplicate"
	case skipReasonDedupStore:
		return "dedup_unavailable"
	case skipReasonCapital:
		return "capital_exceeded"
	case skipReasonDryRun:
		return "dry_run"
	case skipReasonNotFilled:
		return "not_filled"
	case skipReasonRejected:
		return "order_rejected"
	case skipReasonUnknown:
		return "order_state_unknown"
	}
	return "unknown"
}

func (r skipReason) outcome() domain.Outcome {
	switch r {
	case skipReasonInvalid, skipReasonRejected, skipReasonUnknown:
		return domain.OutcomeRejected
	}
	return domain.OutcomeSkipped
}

// runPlacementPipeline sends the entries best edge first. New work stops when
// budgetCtx is done; an order already in flight completes on ctx.
func (e *Engine) runPlacementPipeline(budgetCtx, ctx context.Context, entries []domain.Signal, blocked string, now time.Time) []domain.SignalResult {
	var stats pipelineStats
	results := make([]domain.SignalResult, 0, len(entries))
	skip := func(sig domain.Signal, r skipReason, contracts int) {
		stats.record(r)
		results = append(results, domain.SignalResult{Signal: sig, Outcome: r.outcome(), Reason: r.label(), Contracts: contracts})
	}

	opened := 0
	for _, sig := range entries {
		if blocked != "" {
			skip(sig, skipReasonBlocked, 0)
			continue
		}
		if budgetCtx.Err() != nil {
			skip(sig, skipReasonDeadline, 0)
			continue
		}
		if opened >= e.cfg.MaxTradesPerCycle {
			skip(sig, skipReasonMaxTrades, 0)
			continue
		}
		if err := sig.Validate(); err != nil {
			slog.Warn("engine: invalid signal", "ticker", sig.Bracket.Ticker, "err", err)
			skip(sig, skipReasonInvalid, 0)
			continue
		}
		if err := e.deps.Dedup.Claim(ctx, sig, now); err != nil {
			if errors.Is(err, domain.ErrDuplicateSignal) {
				skip(sig, skipReasonDuplicate, 0)
			} else {
				slog.Warn("engine: dedup store unavailable, entry skipped", "ticker", sig.Bracket.Ticker, "err", err)
				skip(sig, skipReasonDedupStore, 0)
			}
			continue
		}

		// Reserva bajo el lock del ledger; el lock se suelta antes de enviar.
		rsv, err := e.deps.Risk.Reserve(sig, sig.Contracts)
		if err != nil {
			if !errors.Is(err, domain.ErrCapitalExceeded) {
				slog.Warn("engine: reserve", "ticker", sig.Bracket.Ticker, "err", err)
			}
			skip(sig, skipReasonCapital, 0)
			continue
		}
		if e.cfg.DryRun {
			e.deps.Risk.Release(rsv)
			slog.Info("engine: dry run, order not sent",
				"ticker", sig.Bracket.Ticker,
				"side", sig.Side,
				"contracts", rsv.Contracts,
				"limit", sig.LimitPrice,
				"edge", sig.EdgePct,
			)
			skip(sig, skipReasonDryRun, rsv.Contracts)
			continue
		}

		res, err := e.submit(ctx, sig, rsv.Contracts)
		if err != nil {
			e.deps.Risk.Release(rsv)
			r := skipReasonRejected
			if errors.Is(err, errOrderStateUnknown) {
				r = skipReasonUnknown
				slog.Error("engine: order state unknown, capital released until next sync",
					"ticker", sig.Bracket.Ticker, "err", err)
			} else {
				slog.Warn("engine: order rejected", "ticker", sig.Bracket.Ticker, "err", err)
			}
			stats.record(r)
			results = append(results, domain.SignalResult{Signal: sig, Outcome: r.outcome(), Reason: r.label(), OrderID: res.OrderID})
			continue
		}
		filled := min(res.FilledContracts, rsv.Contracts)
		if filled <= 0 {
			e.deps.Risk.Release(rsv)
			stats.record(skipReasonNotFilled)
			results = append(results, domain.SignalResult{Signal: sig, Outcome: domain.OutcomeSkipped, Reason: skipReasonNotFilled.label(), OrderID: res.OrderID})
			continue
		}

		f := fill(sig, res, filled)
		e.deps.Risk.Commit(rsv, filled, f.Price)
		if _, err := e.deps.Positions.ApplyFill(ctx, f); err != nil {
			slog.Error("engine: fill not booked", "ticker", sig.Bracket.Ticker, "order_id", res.OrderID, "err", err)
		}
		opened++
		results = append(results, domain.SignalResult{
			Signal:    sig,
			Outcome:   domain.OutcomeExecuted,
			Reason:    sig.Reason,
			Contracts: filled,
			OrderID:   res.OrderID,
		})
	}

	stats.log(len(entries), opened)
	return results
}

// runExits closes what the position manager asks for. Every exit sells the
// held side; a position already closing is never closed twice.
func (e *Engine) runExits(ctx context.Context, live []*domain.Position, quotes map[string]domain.Bracket, cycleID string, cb *domain.CircuitBreaker, now time.Time) ([]domain.SignalResult, domain.Cents) {
	e.fillMissingQuotes(ctx, live, quotes)

	exits, err := e.deps.Positions.EvaluateExits(ctx, quotes, cycleID, now)
	if err != nil {
		slog.Warn("engine: evaluate exits", "err", err)
	}

	var results []domain.SignalResult
	var realized domain.Cents
	for _, sig := range exits {
		res := e.exit(ctx, sig, cb, now, &realized)
		results = append(results, res)
	}
	return results, realized
}

func (e *Engine) exit(ctx context.Context, sig domain.Signal, cb *domain.CircuitBreaker, now time.Time, realized *domain.Cents) domain.SignalResult {
	ticker := sig.Bracket.Ticker
	out := domain.SignalResult{Signal: sig}

	if err := e.deps.Dedup.Claim(ctx, sig, now); err != nil {
		out.Outcome = domain.OutcomeSkipped
		out.Reason = skipReasonDuplicate.label()
		if !errors.Is(err, domain.ErrDuplicateSignal) {
			out.Reason = skipReasonDedupStore.label()
		}
		return out
	}
	if err := e.deps.Positions.BeginClose(ctx, ticker); err != nil {
		if !position.IsRejected(err) {
			slog.Warn("engine: begin close", "ticker", ticker, "err", err)
		}
		out.Outcome, out.Reason = domain.OutcomeSkipped, "already_closing"
		return out
	}
	abort := func() {
		if err := e.deps.Positions.AbortClose(ctx, ticker); err != nil {
			slog.Warn("engine: abort close", "ticker", ticker, "err", err)
		}
	}

	if e.cfg.DryRun {
		abort()
		out.Outcome, out.Reason, out.Contracts = domain.OutcomeSkipped, skipReasonDryRun.label(), sig.Contracts
		return out
	}

	res, err := e.submit(ctx, sig, sig.Contracts)
	out.OrderID = res.OrderID
	if err != nil {
		abort()
		r := skipReasonRejected
		if errors.Is(err, errOrderStateUnknown) {
			r = skipReasonUnknown
		}
		slog.Warn("engine: exit failed", "ticker", ticker, "reason", sig.Reason, "err", err)
		out.Outcome, out.Reason = r.outcome(), r.label()
		return out
	}
	filled := min(res.FilledContracts, sig.Contracts)
	if filled <= 0 {
		abort()
		out.Outcome, out.Reason = domain.OutcomeSkipped, skipReasonNotFilled.label()
		return out
	}

	pnl, err := e.deps.Positions.ApplyFill(ctx, fill(sig, res, filled))
	if err != nil {
		slog.Error("engine: exit fill not booked", "ticker", ticker, "order_id", res.OrderID, "err", err)
	}
	if sig.Reason == position.ReasonRollingProfit {
		if err := e.deps.Positions.ConfirmRolling(ctx, now); err != nil {
			slog.Warn("engine: rolling trigger not re-armed", "ticker", ticker, "err", err)
		}
	}
	if filled < sig.Contracts {
		// Parcial: Reduce ya la dejó OPEN con el resto.
		slog.Info("engine: partial exit", "ticker", ticker, "filled", filled, "wanted", sig.Contracts)
	}
	*realized += pnl
	cb.Record(pnl, now)

	slog.Info("engine: EXIT",
		"ticker", ticker,
		"side", sig.Side,
		"reason", sig.Reason,
		"contracts", filled,
		"price", sig.LimitPrice,
		"pnl", pnl.String(),
	)
	out.Outcome, out.Reason, out.Contracts = domain.OutcomeExecuted, sig.Reason, filled
	return out
}

// fillMissingQuotes refreshes live positions whose subject was not evaluated.
func (e *Engine) fillMissingQuotes(ctx context.Context, live []*domain.Position, quotes map[string]domain.Bracket) {
	for _, p := range live {
		if _, ok := quotes[p.Ticker]; ok {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		b, err := e.deps.Exchange.Quote(callCtx, p.Ticker)
		cancel()
		if err != nil {
			slog.Debug("engine: quote unavailable", "ticker", p.Ticker, "err", err)
			continue
		}
		quotes[p.Ticker] = b
	}
}

type pipelineStats struct {
	blocked, deadline, maxTrades, invalid, duplicate, dedupStore int
	capital, dryRun, notFilled, rejected, unknown                int
}

func (s *pipelineStats) record(r skipReason) {
	switch r {
	case skipReasonBlocked:
		s.blocked++
	case skipReasonDeadline:
		s.deadline++
	case skipReasonMaxTrades:
		s.maxTrades++
	case skipReasonInvalid:
		s.invalid++
	case skipReasonDuplicate:
		s.duplicate++
	case skipReasonDedupStore:
		s.dedupStore++
	case skipReasonCapital:
		s.capital++
	case skipReasonDryRun:
		s.dryRun++
	case skipReasonNotFilled:
		s.notFilled++
	case skipReasonRejected:
		s.rejected++
	case skipReasonUnknown:
		s.unknown++
	}
}

func (s *pipelineStats) log(total, opened int) {
	slog.Info("engine: placement pipeline",
		"signals", total,
		"skip_blocked", s.blocked,
		"skip_deadline", s.deadline,
		"skip_max_trades", s.maxTrades,
		"skip_invalid", s.invalid,
		"skip_duplicate", s.duplicate,
		"skip_dedup_store", s.dedupStore,
		"skip_capital", s.capital,
		"skip_dry_run", s.dryRun,
		"skip_not_filled", s.notFilled,
		"rejected", s.rejected,
		"unknown", s.unknown,
		"opened", opened,
	)
}
