package position_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/wxbot/internal/application/position"
	"github.com/alejandrodnm/wxbot/internal/application/risk"
	"github.com/alejandrodnm/wxbot/internal/domain"
	"github.com/alejandrodnm/wxbot/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore copies on read and write, like a real database.
type memStore struct {
	mu         sync.Mutex
	positions  map[string]domain.Position
	rolling    map[string]ports.RollingState
	mismatches []domain.Mismatch
	extremes   map[string]domain.DailyExtreme
}

func newMemStore() *memStore {
	return &memStore{
		positions: map[string]domain.Position{},
		rolling:   map[string]ports.RollingState{},
		extremes:  map[string]domain.DailyExtreme{},
	}
}

func (s *memStore) SavePosition(_ context.Context, p *domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.ID] = *p
	return nil
}

func (s *memStore) list(keep func(domain.Position) bool) []*domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Position
	for _, p := range s.positions {
		if keep(p) {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out
}

func (s *memStore) LivePositions(context.Context) ([]*domain.Position, error) {
	return s.list(func(p domain.Position) bool { return p.Live() }), nil
}

func (s *memStore) UnsettledPositions(context.Context) ([]*domain.Position, error) {
	return s.list(func(p domain.Position) bool { return p.Status != domain.StatusSettled }), nil
}

func (s *memStore) AllPositions(context.Context) ([]*domain.Position, error) {
	return s.list(func(domain.Position) bool { return true }), nil
}

func (s *memStore) RollingState(_ context.Context, session string) (ports.RollingState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.rolling[session]
	return st, ok, nil
}

func (s *memStore) SaveRollingState(_ context.Context, st ports.RollingState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolling[st.Session] = st
	return nil
}

func (s *memStore) SaveMismatch(_ context.Context, m domain.Mismatch, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mismatches = append(s.mismatches, m)
	return nil
}

func (s *memStore) RecordObservation(_ context.Context, station string, date time.Time, v float64, at time.Time) (domain.DailyExtreme, error) {
	e := domain.DailyExtreme{Station: station, Date: date, High: v, Low: v, LastObservedAt: at, Count: 1}
	s.extremes[station+"|"+domain.DateKey(date)] = e
	return e, nil
}

func (s *memStore) DailyExtreme(_ context.Context, station string, date time.Time) (domain.DailyExtreme, bool, error) {
	e, ok := s.extremes[station+"|"+domain.DateKey(date)]
	return e, ok, nil
}

var (
	day = time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC)
	now = day.Add(15 * time.Hour)
)

func bracket(ticker string, floor, cap float64) domain.Bracket {
	return domain.Bracket{Ticker: ticker, Subject: "NYC", Period: domain.PeriodHigh, Date: day, Floor: floor, Cap: cap}
}

type harness struct {
	store  *memStore
	ledger *risk.Ledger
	mgr    *position.Manager
}

func newHarness(cfg position.Config) harness {
	store := newMemStore()
	ledger := risk.NewLedger()
	ledger.Sync(100000, nil)
	mgr := position.NewManager(cfg, position.Stores{
		Positions:  store,
		Rolling:    store,
		Mismatches: store,
		Extremes:   store,
	}, ledger)
	return harness{store: store, ledger: ledger, mgr: mgr}
}

func (h harness) open(t *testing.T, b domain.Bracket, side domain.Side, n int, price domain.Cents) {
	t.Helper()
	_, err := h.mgr.ApplyFill(context.Background(), domain.Fill{
		Bracket: b, Side: side, Action: domain.ActionOpen, Contracts: n, Price: price, At: now,
	})
	require.NoError(t, err)
}

func (h harness) live(t *testing.T) []*domain.Position {
	t.Helper()
	live, err := h.mgr.Live(context.Background())
	require.NoError(t, err)
	return live
}

// --- Fills ---

func TestApplyFill_OpenThenAdd(t *testing.T) {
	h := newHarness(position.Config{})
	b := bracket("KXHIGHNY-26JUL10-B88.5", 87.5, 89.5)

	h.open(t, b, domain.SideYes, 10, 20)
	h.open(t, b, domain.SideYes, 10, 30)

	live := h.live(t)
	require.Len(t, live, 1)
	assert.Equal(t, 20, live[0].Contracts)
	assert.InDelta(t, 25.0, live[0].AvgEntry, 1e-9)
	assert.Equal(t, "open(adjusted)", live[0].State())
}

func TestApplyFill_OppositeSideRejected(t *testing.T) {
	h := newHarness(position.Config{})
	b := bracket("KXHIGHNY-26JUL10-B88.5", 87.5, 89.5)
	h.open(t, b, domain.SideYes, 10, 20)

	_, err := h.mgr.ApplyFill(context.Background(), domain.Fill{
		Bracket: b, Side: domain.SideNo, Action: domain.ActionOpen, Contracts: 5, Price: 70, At: now,
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidTransition))
}

func TestApplyFill_CloseWithoutPositionRejected(t *testing.T) {
	h := newHarness(position.Config{})
	_, err := h.mgr.ApplyFill(context.Background(), domain.Fill{
		Bracket: bracket("KXHIGHNY-26JUL10-B88.5", 87.5, 89.5), Side: domain.SideYes,
		Action: domain.ActionClose, Contracts: 5, Price: 30, At: now,
	})
	assert.True(t, position.IsRejected(err))
}

// --- Exits ---

func TestEvaluateExits_TakeProfitSellsHeldSide(t *testing.T) {
	ctx := context.Background()
	h := newHarness(position.Config{TakeProfitPct: 0.35, RollingTarget: 1 << 40})
	b := bracket("KXHIGHNY-26JUL10-B88.5", 87.5, 89.5)
	h.open(t, b, domain.SideNo, 10, 20)

	q := b
	q.NoBid, q.NoAsk = 30, 32
	exits, err := h.mgr.EvaluateExits(ctx, map[string]domain.Bracket{b.Ticker: q}, "2026-07-10-PM", now)
	require.NoError(t, err)
	require.Len(t, exits, 1)

	x := exits[0]
	assert.Equal(t, domain.ActionClose, x.Action)
	assert.Equal(t, "sell", x.Action.ExchangeVerb())
	assert.Equal(t, domain.SideNo, x.Side)
	assert.Equal(t, 10, x.Contracts)
	assert.Equal(t, domain.Cents(30), x.LimitPrice)
	assert.Equal(t, "take_profit", x.Reason)

	require.NoError(t, h.mgr.BeginClose(ctx, b.Ticker))
	realized, err := h.mgr.ApplyFill(ctx, domain.Fill{
		Bracket: b, Side: x.Side, Action: x.Action, Contracts: x.Contracts, Price: x.LimitPrice, At: now,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.Cents(100), realized)
	assert.Empty(t, h.live(t))
	assert.Equal(t, domain.Cents(0), h.ledger.Snapshot().OpenExposure)
}

func TestEvaluateExits_CutLoss(t *testing.T) {
	h := newHarness(position.Config{CutLossPct: 0.42, MinExitPrice: 2, RollingTarget: 1 << 40})
	b := bracket("KXHIGHNY-26JUL10-B88.5", 87.5, 89.5)
	h.open(t, b, domain.SideYes, 10, 50)

	q := b
	q.YesBid, q.YesAsk = 25, 27
	exits, err := h.mgr.EvaluateExits(context.Background(), map[string]domain.Bracket{b.Ticker: q}, "c", now)
	require.NoError(t, err)
	require.Len(t, exits, 1)
	assert.Equal(t, "cut_loss", exits[0].Reason)
	assert.Equal(t, domain.SideYes, exits[0].Side)

	// sin comprador no hay salida
	q.YesBid = 1
	exits, err = h.mgr.EvaluateExits(context.Background(), map[string]domain.Bracket{b.Ticker: q}, "c", now)
	require.NoError(t, err)
	assert.Empty(t, exits)
}

func TestClosingNeverIncreasesExposure(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		side  domain.Side
		entry domain.Cents
		bid   domain.Cents
	}{
		{domain.SideYes, 20, 40}, {domain.SideYes, 50, 20}, {domain.SideNo, 20, 30},
		{domain.SideNo, 60, 25}, {domain.SideYes, 10, 90}, {domain.SideNo, 5, 50},
	}
	for _, c := range cases {
		h := newHarness(position.Config{RollingTarget: 1 << 40})
		b := bracket("KXHIGHNY-26JUL10-B88.5", 87.5, 89.5)
		h.open(t, b, c.side, 10, c.entry)
		h.ledger.Sync(100000, h.live(t))

		q := b
		if c.side == domain.SideYes {
			q.YesBid = c.bid
		} else {
			q.NoBid = c.bid
		}
		exits, err := h.mgr.EvaluateExits(ctx, map[string]domain.Bracket{b.Ticker: q}, "c", now)
		require.NoError(t, err)
		require.Len(t, exits, 1, "side=%s entry=%d bid=%d", c.side, c.entry, c.bid)

		before := h.ledger.Snapshot().OpenExposure
		x := exits[0]
		assert.Equal(t, domain.ActionClose, x.Action)
		assert.Equal(t, c.side, x.Side)

		require.NoError(t, h.mgr.BeginClose(ctx, b.Ticker))
		_, err = h.mgr.ApplyFill(ctx, domain.Fill{Bracket: b, Side: x.Side, Action: x.Action, Contracts: 4, Price: x.LimitPrice, At: now})
		require.NoError(t, err)

		live := h.live(t)
		require.Len(t, live, 1)
		assert.Equal(t, 6, live[0].Contracts)
		assert.Less(t, h.ledger.Snapshot().OpenExposure, before)
	}
}

func TestBeginClose_OnlyOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(position.Config{RollingTarget: 1 << 40})
	b := bracket("KXHIGHNY-26JUL10-B88.5", 87.5, 89.5)
	h.open(t, b, domain.SideYes, 10, 20)

	require.NoError(t, h.mgr.BeginClose(ctx, b.Ticker))
	assert.True(t, errors.Is(h.mgr.BeginClose(ctx, b.Ticker), domain.ErrInvalidTransition))

	// a closing position gets no further exit
	q := b
	q.YesBid = 60
	exits, err := h.mgr.EvaluateExits(ctx, map[string]domain.Bracket{b.Ticker: q}, "c", now)
	require.NoError(t, err)
	assert.Empty(t, exits)

	require.NoError(t, h.mgr.AbortClose(ctx, b.Ticker))
	assert.Equal(t, domain.StatusOpen, h.live(t)[0].Status)
}

// --- Rolling profit-take ---

func TestRollingProfitTake_FiresOnceAndReArms(t *testing.T) {
	ctx := context.Background()
	h := newHarness(position.Config{TakeProfitPct: 10, CutLossPct: 10, RollingTarget: 1000})
	a := bracket("KXHIGHNY-26JUL10-B88.5", 87.5, 89.5)
	b := bracket("KXHIGHNY-26JUL10-B90.5", 89.5, 91.5)
	h.open(t, a, domain.SideYes, 20, 40)
	h.open(t, b, domain.SideYes, 30, 50)

	step := func(bidA, bidB domain.Cents) []domain.Signal {
		qa, qb := a, b
		qa.YesBid, qb.YesBid = bidA, bidB
		exits, err := h.mgr.EvaluateExits(ctx, map[string]domain.Bracket{a.Ticker: qa, b.Ticker: qb}, "c", now)
		require.NoError(t, err)
		return exits
	}

	assert.Empty(t, step(60, 60)) // 400 + 300 = $7

	exits := step(80, 60) // 800 + 300 = $11: crosses $10
	require.Len(t, exits, 1)
	assert.Equal(t, position.ReasonRollingProfit, exits[0].Reason)
	assert.Equal(t, a.Ticker, exits[0].Bracket.Ticker) // most profitable
	assert.Equal(t, domain.ActionClose, exits[0].Action)
	require.NoError(t, h.mgr.ConfirmRolling(ctx, now))

	// oscillating around the crossed level does not refire
	assert.Empty(t, step(75, 60)) // $10.00
	assert.Empty(t, step(78, 58)) // $10.00
	assert.Empty(t, step(80, 60)) // $11.00

	st, err := h.mgr.Rolling(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Fired)
	assert.Equal(t, domain.Cents(2100), st.NextThreshold)

	// new accumulation past the re-armed threshold fires again
	exits = step(95, 85) // 1100 + 1050 = $21.50
	require.Len(t, exits, 1)
	assert.Equal(t, a.Ticker, exits[0].Bracket.Ticker)
	require.NoError(t, h.mgr.ConfirmRolling(ctx, now))
	st, err = h.mgr.Rolling(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Fired)
}

func TestRollingProfitTake_UnfilledCloseRefires(t *testing.T) {
	ctx := context.Background()
	h := newHarness(position.Config{TakeProfitPct: 10, CutLossPct: 10, RollingTarget: 1000})
	b := bracket("KXHIGHNY-26JUL10-B88.5", 87.5, 89.5)
	h.open(t, b, domain.SideNo, 50, 59)

	quotes := func() map[string]domain.Bracket {
		q := b
		q.YesBid, q.YesAsk = 19, 21 // NO bid 79: +$10.00
		return map[string]domain.Bracket{b.Ticker: q}
	}

	exits, err := h.mgr.EvaluateExits(ctx, quotes(), "c", now)
	require.NoError(t, err)
	require.Len(t, exits, 1)

	// the close never filled: nothing consumed, same crossing fires again
	st, err := h.mgr.Rolling(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, st.Fired)
	assert.Equal(t, domain.Cents(1000), st.NextThreshold)

	exits, err = h.mgr.EvaluateExits(ctx, quotes(), "c", now.Add(15*time.Minute))
	require.NoError(t, err)
	require.Len(t, exits, 1)
	assert.Equal(t, position.ReasonRollingProfit, exits[0].Reason)
	assert.Equal(t, 50, exits[0].Contracts)

	require.NoError(t, h.mgr.ConfirmRolling(ctx, now.Add(15*time.Minute)))
	st, err = h.mgr.Rolling(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Fired)
	assert.Equal(t, domain.Cents(2000), st.NextThreshold)
}

func TestConfirmRolling_WithoutTriggerIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(position.Config{RollingTarget: 1000})
	require.NoError(t, h.mgr.ConfirmRolling(ctx, now))

	st, err := h.mgr.Rolling(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, st.Fired)
	assert.Equal(t, domain.Cents(1000), st.NextThreshold)
}

// --- Settlement ---

func nycSubject() domain.Subject {
	return domain.Subject{Code: "NYC", Location: time.UTC, PrimaryStation: "KNYC"}
}

func TestApplySettlement_NoSidePnL(t *testing.T) {
	for _, tc := range []struct {
		name   string
		winner domain.Side
		pnl    domain.Cents
	}{
		{"no wins", domain.SideNo, 800},
		{"yes wins", domain.SideYes, -200},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(position.Config{})
			b := bracket("KXHIGHNY-26JUL10-B88.5", 87.5, 89.5)
			h.open(t, b, domain.SideNo, 10, 20)

			res, err := h.mgr.ApplySettlement(ctx, nycSubject(), domain.Settlement{
				Subject: "NYC", Period: domain.PeriodHigh, Date: day, Final: true,
				Results: map[string]domain.Side{b.Ticker: tc.winner},
			}, day.AddDate(0, 0, 1))
			require.NoError(t, err)
			assert.Equal(t, 1, res.Settled)
			assert.Equal(t, tc.pnl, res.PnL)

			all, err := h.store.AllPositions(ctx)
			require.NoError(t, err)
			require.Len(t, all, 1)
			assert.Equal(t, domain.StatusSettled, all[0].Status)
		})
	}
}

func TestApplySettlement_PendingChangesNothing(t *testing.T) {
	h := newHarness(position.Config{})
	b := bracket("KXHIGHNY-26JUL10-B88.5", 87.5, 89.5)
	h.open(t, b, domain.SideYes, 10, 20)

	res, err := h.mgr.ApplySettlement(context.Background(), nycSubject(), domain.Settlement{
		Subject: "NYC", Period: domain.PeriodHigh, Date: day,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Settled)
	assert.Len(t, h.live(t), 1)
}

func TestApplySettlement_FlagsMismatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(position.Config{SettlementTolerance: 1})
	b := bracket("KXHIGHNY-26JUL10-B88.5", 87.5, 89.5)
	h.open(t, b, domain.SideYes, 10, 20)
	_, err := h.store.RecordObservation(ctx, "KNYC", day, 88, now)
	require.NoError(t, err)

	settled := 91.0
	res, err := h.mgr.ApplySettlement(ctx, nycSubject(), domain.Settlement{
		Subject: "NYC", Period: domain.PeriodHigh, Date: day, Final: true, Value: &settled,
	}, day.AddDate(0, 0, 1))
	require.NoError(t, err)

	// value decides the winner; the tracked 88 disagrees by 3 > 1
	assert.Equal(t, domain.Cents(-200), res.PnL)
	require.NotNil(t, res.Mismatch)
	assert.True(t, errors.Is(res.Mismatch, domain.ErrSettlementMismatch))
	require.Len(t, h.store.mismatches, 1)
	assert.Equal(t, []string{b.Ticker}, h.store.mismatches[0].Tickers)
}

func TestApplySettlement_ClosedPositionReachesSettled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(position.Config{})
	b := bracket("KXHIGHNY-26JUL10-B88.5", 87.5, 89.5)
	h.open(t, b, domain.SideYes, 10, 20)
	require.NoError(t, h.mgr.BeginClose(ctx, b.Ticker))
	_, err := h.mgr.ApplyFill(ctx, domain.Fill{Bracket: b, Side: domain.SideYes, Action: domain.ActionClose, Contracts: 10, Price: 30, At: now})
	require.NoError(t, err)

	res, err := h.mgr.ApplySettlement(ctx, nycSubject(), domain.Settlement{
		Subject: "NYC", Period: domain.PeriodHigh, Date: day, Final: true,
		Results: map[string]domain.Side{b.Ticker: domain.SideYes},
	}, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Settled)
	assert.Equal(t, domain.Cents(0), res.PnL)

	all, err := h.store.AllPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSettled, all[0].Status)
	assert.Equal(t, domain.Cents(100), all[0].RealizedPnL)
}
