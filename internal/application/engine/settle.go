package engine

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/wxbot/internal/domain"
)

type eventKey struct {
	subject string
	period  domain.Period
	date    string
}

// runSettlement polls the exchange for every past event that still has
// unsettled positions. Realized settlement P&L feeds the loss breaker.
func (e *Engine) runSettlement(ctx context.Context, result *CycleResult, cb *domain.CircuitBreaker, now time.Time) {
	n, pnl, mismatches := e.Settle(ctx, now, func(p domain.Cents) { cb.Record(p, now) })
	result.Settled += n
	result.SettledPnL += pnl
	result.Mismatches = append(result.Mismatches, mismatches...)
	result.RealizedPnL += pnl
}

// Settle applies the settlement notices of past events. onPnL receives the
// P&L of each settled event. It is safe to call outside a cycle.
func (e *Engine) Settle(ctx context.Context, now time.Time, onPnL func(domain.Cents)) (int, domain.Cents, []domain.Mismatch) {
	subjects := make(map[string]domain.Subject, len(e.cfg.Subjects))
	for _, s := range e.cfg.Subjects {
		subjects[s.Code] = s
	}

	pending, err := e.pendingEvents(ctx, subjects, now)
	if err != nil {
		slog.Warn("engine: settlement scan", "err", err)
		return 0, 0, nil
	}

	var (
		settled    int
		total      domain.Cents
		mismatches []domain.Mismatch
	)
	for _, k := range pending {
		s := subjects[k.subject]
		date, err := time.ParseInLocation("2006-01-02", k.date, s.Location)
		if err != nil {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		st, err := e.deps.Exchange.Settlement(callCtx, s, k.period, date)
		cancel()
		if err != nil {
			slog.Warn("engine: settlement unavailable", "subject", k.subject, "period", k.period, "date", k.date, "err", err)
			continue
		}
		if !st.Final {
			slog.Debug("engine: settlement pending", "subject", k.subject, "period", k.period, "date", k.date)
			continue
		}
		res, err := e.deps.Positions.ApplySettlement(ctx, s, st, now)
		if err != nil {
			slog.Warn("engine: apply settlement", "subject", k.subject, "date", k.date, "err", err)
		}
		if res.Mismatch != nil {
			mismatches = append(mismatches, *res.Mismatch)
		}
		if res.Settled == 0 {
			continue
		}
		settled += res.Settled
		total += res.PnL
		if onPnL != nil {
			onPnL(res.PnL)
		}
	}
	return settled, total, mismatches
}

// pendingEvents lists the (subject, period, date) of unsettled positions
// whose settlement day is over.
func (e *Engine) pendingEvents(ctx context.Context, subjects map[string]domain.Subject, now time.Time) ([]eventKey, error) {
	unsettled, err := e.deps.Positions.Unsettled(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[eventKey]bool)
	var keys []eventKey
	for _, p := range unsettled {
		s, ok := subjects[p.Subject]
		if !ok {
			continue
		}
		if !s.Day(p.TargetDate).Before(s.Day(now)) {
			continue
		}
		k := eventKey{subject: p.Subject, period: p.Period, date: domain.DateKey(s.Day(p.TargetDate))}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].date != keys[j].date {
			return keys[i].date < keys[j].date
		}
		if keys[i].subject != keys[j].subject {
			return keys[i].subject < keys[j].subject
		}
		return keys[i].period < keys[j].period
	})
	return keys, nil
}
