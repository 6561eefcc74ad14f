package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alejandrodnm/wxbot/internal/application/position"
	"github.com/alejandrodnm/wxbot/internal/domain"
)

// PositionView is a live position with its current estimate and margin.
type PositionView struct {
	Position   *domain.Position
	Bid        domain.Cents // 0 si no hay cotización
	Mean       *float64
	Running    *float64
	Margin     position.Margin
	Unrealized domain.Cents
}

// Positions is the read API over live positions. Each one is graded against
// a fresh estimate; positions whose estimate is unavailable keep an empty
// margin. The capital ledger is refreshed on the way.
func (e *Engine) Positions(ctx context.Context) ([]PositionView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.syncCapital(ctx); err != nil {
		slog.Warn("engine: capital sync for report", "err", err)
	}
	live, err := e.deps.Positions.Live(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine.Positions: %w", err)
	}
	subjects := make(map[string]domain.Subject, len(e.cfg.Subjects))
	for _, s := range e.cfg.Subjects {
		subjects[s.Code] = s
	}

	now := e.clock()
	views := make([]PositionView, 0, len(live))
	for _, p := range live {
		v := PositionView{Position: p}
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		b, err := e.deps.Exchange.Quote(callCtx, p.Ticker)
		cancel()
		if err == nil {
			v.Bid = b.Bid(p.Side)
			v.Unrealized = p.UnrealizedPnL(v.Bid)
		}

		s, ok := subjects[p.Subject]
		if !ok {
			views = append(views, v)
			continue
		}
		if e.deps.LockIn != nil && s.SameDay(now, p.TargetDate) {
			running, err := e.deps.LockIn.Running(ctx, s, p.Period, p.TargetDate)
			if err != nil {
				slog.Warn("engine: running extreme", "subject", s.Code, "err", err)
			}
			v.Running = running
		}
		primary, surrounding := e.observations(ctx, s)
		est, err := e.estimate(ctx, s, p.Period, p.TargetDate, primary, surrounding, now)
		if err != nil {
			slog.Debug("engine: no estimate for position", "ticker", p.Ticker, "err", err)
			views = append(views, v)
			continue
		}
		mean := est.Mean
		v.Mean = &mean
		v.Margin = position.Classify(p, mean, v.Running)
		views = append(views, v)
	}

	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Position.Ticker < views[j].Position.Ticker
	})
	return views, nil
}
