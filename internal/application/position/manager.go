// Package position owns the position lifecycle: fills, exits, the rolling
// profit-take and settlement reconciliation. Exits always sell the held side.
package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/wxbot/internal/application/risk"
	"github.com/alejandrodnm/wxbot/internal/domain"
	"github.com/alejandrodnm/wxbot/internal/ports"
)

// Config holds the exit rules.
type Config struct {
	TakeProfitPct       float64 // gain over entry that triggers a profit-take
	CutLossPct          float64 // loss over entry that triggers a cut-loss
	MinExitPrice        domain.Cents
	RollingTarget       domain.Cents
	SettlementTolerance float64
	Location            *time.Location // session boundaries
}

// Stores groups the persistence the manager writes to.
type Stores struct {
	Positions  ports.PositionStore
	Rolling    ports.RollingStore
	Mismatches ports.MismatchStore
	Extremes   ports.ExtremeStore
}

// ReasonRollingProfit tags the close raised by the rolling profit-take.
const ReasonRollingProfit = "rolling_profit"

// Manager is the single writer of positions.
type Manager struct {
	cfg     Config
	st      Stores
	ledger  *risk.Ledger
	mu      sync.Mutex
	now     func() time.Time
	pending map[string]domain.Cents // sesión -> umbral a armar cuando el cierre rolling se llene
}

// NewManager creates a Manager. ledger receives exposure released by exits
// and settlements.
func NewManager(cfg Config, st Stores, ledger *risk.Ledger) *Manager {
	if cfg.TakeProfitPct <= 0 {
		cfg.TakeProfitPct = 0.35
	}
	if cfg.CutLossPct <= 0 {
		cfg.CutLossPct = 0.42
	}
	if cfg.MinExitPrice <= 0 {
		cfg.MinExitPrice = 2
	}
	if cfg.RollingTarget <= 0 {
		cfg.RollingTarget = 1000
	}
	if cfg.SettlementTolerance <= 0 {
		cfg.SettlementTolerance = 1.0
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Manager{cfg: cfg, st: st, ledger: ledger, now: time.Now, pending: make(map[string]domain.Cents)}
}

// Live returns every open or closing position.
func (m *Manager) Live(ctx context.Context) ([]*domain.Position, error) {
	ps, err := m.st.Positions.LivePositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("position.Live: %w", err)
	}
	return ps, nil
}

// Unsettled returns every position still waiting for a settlement notice,
// closed ones included.
func (m *Manager) Unsettled(ctx context.Context) ([]*domain.Position, error) {
	ps, err := m.st.Positions.UnsettledPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("position.Unsettled: %w", err)
	}
	return ps, nil
}

// All returns the full history for reporting.
func (m *Manager) All(ctx context.Context) ([]*domain.Position, error) {
	ps, err := m.st.Positions.AllPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("position.All: %w", err)
	}
	return ps, nil
}

// Held maps ticker to the side of its live position.
func (m *Manager) Held(ctx context.Context) (map[string]domain.Side, error) {
	live, err := m.Live(ctx)
	if err != nil {
		return nil, err
	}
	held := make(map[string]domain.Side, len(live))
	for _, p := range live {
		held[p.Ticker] = p.Side
	}
	return held, nil
}

// ApplyFill books an execution. Opens create or add to a position; closes
// reduce it and return the realized P&L.
func (m *Manager) ApplyFill(ctx context.Context, f domain.Fill) (domain.Cents, error) {
	if !f.Side.Valid() || !f.Action.Valid() {
		return 0, fmt.Errorf("position.ApplyFill: %s: invalid side/action", f.Bracket.Ticker)
	}
	if f.Contracts <= 0 {
		return 0, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.liveByTicker(ctx, f.Bracket.Ticker)
	if err != nil {
		return 0, err
	}

	var realized domain.Cents
	switch f.Action {
	case domain.ActionOpen:
		switch {
		case p == nil:
			p, err = domain.NewPosition(uuid.NewString(), f.Bracket, f.Side, f.Contracts, f.Price, f.At)
		case p.Side != f.Side:
			err = fmt.Errorf("%s holds %s, fill is %s: %w", p.Ticker, p.Side, f.Side, domain.ErrInvalidTransition)
		default:
			err = p.Add(f.Contracts, f.Price, f.At)
		}
	case domain.ActionClose:
		if p == nil || p.Side != f.Side {
			return 0, fmt.Errorf("position.ApplyFill: close %s %s without matching position: %w",
				f.Bracket.Ticker, f.Side, domain.ErrInvalidTransition)
		}
		freed := domain.Cents(math.Round(float64(f.Contracts) * p.AvgEntry))
		realized, err = p.Reduce(f.Contracts, f.Price, f.At)
		if err == nil && m.ledger != nil {
			m.ledger.Closed(p.Ticker, f.Contracts, freed, f.Price*domain.Cents(f.Contracts))
		}
	}
	if err != nil {
		return 0, fmt.Errorf("position.ApplyFill: %w", err)
	}

	if err := m.st.Positions.SavePosition(ctx, p); err != nil {
		return 0, fmt.Errorf("position.ApplyFill: save %s: %w", p.Ticker, err)
	}
	if f.Action == domain.ActionClose {
		if err := m.addRealized(ctx, f.At, realized); err != nil {
			return realized, err
		}
	}

	slog.Info("position: fill applied",
		"ticker", p.Ticker,
		"side", p.Side,
		"action", f.Action,
		"contracts", f.Contracts,
		"price", f.Price,
		"state", p.State(),
		"remaining", p.Contracts,
		"realized", realized.String(),
	)
	return realized, nil
}

// BeginClose moves the position on ticker to CLOSING. A second close for the
// same position fails with domain.ErrInvalidTransition.
func (m *Manager) BeginClose(ctx context.Context, ticker string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.liveByTicker(ctx, ticker)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("position.BeginClose: %s: %w", ticker, domain.ErrNotFound)
	}
	if err := p.BeginClose(m.now()); err != nil {
		return fmt.Errorf("position.BeginClose: %w", err)
	}
	if err := m.st.Positions.SavePosition(ctx, p); err != nil {
		return fmt.Errorf("position.BeginClose: save %s: %w", ticker, err)
	}
	return nil
}

// AbortClose returns a CLOSING position to OPEN after an exit that did not fill.
func (m *Manager) AbortClose(ctx context.Context, ticker string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.liveByTicker(ctx, ticker)
	if err != nil || p == nil {
		return err
	}
	p.AbortClose(m.now())
	if err := m.st.Positions.SavePosition(ctx, p); err != nil {
		return fmt.Errorf("position.AbortClose: save %s: %w", ticker, err)
	}
	return nil
}

// EvaluateExits returns the closing signals for this cycle: per-position
// take-profit and cut-loss, then the rolling profit-take. Every signal sells
// the held side for at most the contracts held.
func (m *Manager) EvaluateExits(ctx context.Context, quotes map[string]domain.Bracket, cycleID string, now time.Time) ([]domain.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	live, err := m.st.Positions.LivePositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("position.EvaluateExits: %w", err)
	}

	var exits []domain.Signal
	closing := make(map[string]bool)
	for _, p := range live {
		if p.Status != domain.StatusOpen {
			continue
		}
		b, ok := quotes[p.Ticker]
		if !ok {
			continue
		}
		bid := b.Bid(p.Side)
		if bid <= 0 {
			continue
		}
		gain := p.GainPct(bid)
		switch {
		case gain >= m.cfg.TakeProfitPct:
			exits = append(exits, closeSignal(p, b, bid, "take_profit", cycleID, now))
		case gain <= -m.cfg.CutLossPct && bid >= m.cfg.MinExitPrice:
			exits = append(exits, closeSignal(p, b, bid, "cut_loss", cycleID, now))
		default:
			continue
		}
		closing[p.Ticker] = true
	}

	pick, err := m.rolling(ctx, live, quotes, closing, now)
	if err != nil {
		return exits, err
	}
	if pick != nil {
		b := quotes[pick.Ticker]
		exits = append(exits, closeSignal(pick, b, b.Bid(pick.Side), ReasonRollingProfit, cycleID, now))
	}
	return exits, nil
}

func closeSignal(p *domain.Position, b domain.Bracket, bid domain.Cents, reason, cycleID string, now time.Time) domain.Signal {
	return domain.Signal{
		ID:         uuid.NewString(),
		Subject:    p.Subject,
		Period:     p.Period,
		TargetDate: p.TargetDate,
		Bracket:    b,
		Side:       p.Side,
		Action:     domain.ActionClose,
		MarketProb: bid.Probability(),
		CycleID:    cycleID,
		CreatedAt:  now,
		LimitPrice: bid,
		Contracts:  p.Contracts,
		Reason:     reason,
	}
}

// SettleResult summarizes one applied settlement notice.
type SettleResult struct {
	Settled  int
	PnL      domain.Cents
	Mismatch *domain.Mismatch
}

// ApplySettlement settles every unsettled position of the notice's event and
// flags a mismatch when the settled value disagrees with the tracked extreme.
// Pending notices change nothing.
func (m *Manager) ApplySettlement(ctx context.Context, subject domain.Subject, st domain.Settlement, now time.Time) (SettleResult, error) {
	var res SettleResult
	if !st.Final {
		return res, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.st.Positions.UnsettledPositions(ctx)
	if err != nil {
		return res, fmt.Errorf("position.ApplySettlement: %w", err)
	}

	var tickers []string
	for _, p := range all {
		if p.Subject != subject.Code || p.Period != st.Period || domain.DateKey(p.TargetDate) != domain.DateKey(st.Date) {
			continue
		}
		winner, ok := st.Winner(p.Bracket)
		if !ok {
			slog.Warn("position: settlement without result", "ticker", p.Ticker)
			continue
		}
		wasLive, contracts, freed := p.Live(), p.Contracts, p.Exposure()
		pnl, err := p.Settle(winner, now)
		if err != nil {
			return res, fmt.Errorf("position.ApplySettlement: %w", err)
		}
		if err := m.st.Positions.SavePosition(ctx, p); err != nil {
			return res, fmt.Errorf("position.ApplySettlement: save %s: %w", p.Ticker, err)
		}
		if wasLive && m.ledger != nil {
			var payout domain.Cents
			if winner == p.Side {
				payout = domain.Payout * domain.Cents(contracts)
			}
			m.ledger.Settled(p.Ticker, contracts, freed, payout)
		}
		res.Settled++
		res.PnL += pnl
		tickers = append(tickers, p.Ticker)

		slog.Info("position: settled",
			"ticker", p.Ticker,
			"side", p.Side,
			"winner", winner,
			"contracts", contracts,
			"pnl", pnl.String(),
		)
	}
	if res.Settled == 0 {
		return res, nil
	}

	mm, err := m.reconcile(ctx, subject, st, tickers, now)
	if err != nil {
		return res, err
	}
	res.Mismatch = mm
	return res, nil
}

// reconcile compares the settled value with the tracked running extreme.
func (m *Manager) reconcile(ctx context.Context, subject domain.Subject, st domain.Settlement, tickers []string, now time.Time) (*domain.Mismatch, error) {
	if st.Value == nil || m.st.Extremes == nil {
		return nil, nil
	}
	ext, ok, err := m.st.Extremes.DailyExtreme(ctx, subject.PrimaryStation, subject.Day(st.Date))
	if err != nil {
		return nil, fmt.Errorf("position.reconcile: %w", err)
	}
	if !ok {
		return nil, nil
	}
	tracked := ext.Value(st.Period)
	if math.Abs(*st.Value-tracked) <= m.cfg.SettlementTolerance {
		return nil, nil
	}
	sort.Strings(tickers)
	mm := &domain.Mismatch{
		Subject:      subject.Code,
		Period:       st.Period,
		TargetDate:   domain.DateKey(st.Date),
		SettledValue: *st.Value,
		TrackedValue: tracked,
		Tolerance:    m.cfg.SettlementTolerance,
		Tickers:      tickers,
	}
	slog.Warn("position: settlement mismatch, manual review",
		"subject", mm.Subject,
		"period", mm.Period,
		"date", mm.TargetDate,
		"settled", mm.SettledValue,
		"tracked", mm.TrackedValue,
	)
	if m.st.Mismatches != nil {
		if err := m.st.Mismatches.SaveMismatch(ctx, *mm, now); err != nil {
			return mm, fmt.Errorf("position.reconcile: %w", err)
		}
	}
	return mm, nil
}

// liveByTicker returns the live position on ticker, nil if none. Caller holds mu.
func (m *Manager) liveByTicker(ctx context.Context, ticker string) (*domain.Position, error) {
	live, err := m.st.Positions.LivePositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("position: load live: %w", err)
	}
	for _, p := range live {
		if p.Ticker == ticker {
			return p, nil
		}
	}
	return nil, nil
}

// IsRejected reports whether err is a state-machine refusal rather than a fault.
func IsRejected(err error) bool {
	return errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound)
}
