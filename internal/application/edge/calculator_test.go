package edge_test

import (
	"math"
	"testing"
	"time"

	"github.com/alejandrodnm/wxbot/internal/application/edge"
	"github.com/alejandrodnm/wxbot/internal/application/lockin"
	"github.com/alejandrodnm/wxbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC)

func newCalculator() *edge.Calculator {
	return edge.New(edge.Config{
		ProbFloor:     0.01,
		ProbCeil:      0.99,
		MinEntryPrice: 2,
		MinNoYesPrice: 10,
		NoMargin:      3,
	}, lockin.New(lockin.Config{Buffer: 1}, nil))
}

func bracket(ticker string, floor, cap float64, yesBid, yesAsk domain.Cents) domain.Bracket {
	return domain.Bracket{
		Ticker:  ticker,
		Subject: "NYC",
		Period:  domain.PeriodHigh,
		Date:    day,
		Floor:   floor,
		Cap:     cap,
		YesBid:  yesBid,
		YesAsk:  yesAsk,
		Status:  "active",
	}
}

func modelBrackets() []domain.Bracket {
	return []domain.Bracket{
		bracket("KXHIGHNY-26JUL10-B86.5", 85.5, 87.5, 8, 10),
		bracket("KXHIGHNY-26JUL10-B88.5", 87.5, 89.5, 28, 30),
		bracket("KXHIGHNY-26JUL10-B90.5", 89.5, 91.5, 38, 40),
		bracket("KXHIGHNY-26JUL10-T95", 95.5, math.Inf(1), 28, 30),
	}
}

func modelEstimate() domain.DistributionEstimate {
	return domain.DistributionEstimate{
		Subject:    "NYC",
		Period:     domain.PeriodHigh,
		TargetDate: day,
		Mean:       88,
		StdDev:     1.5,
		Confidence: 0.8,
		Basis:      domain.BasisModel,
	}
}

// --- Quotes ---

func TestQuotes_EdgeIsModelMinusMarket(t *testing.T) {
	c := newCalculator()
	est := modelEstimate()
	b := modelBrackets()[1]

	quotes := c.Quotes(est, []domain.Bracket{b})
	require.Len(t, quotes, 2)

	p := domain.BracketProbability(est, b)
	for _, q := range quotes {
		switch q.Side {
		case domain.SideYes:
			assert.Equal(t, domain.Cents(30), q.Price)
			assert.InDelta(t, p-0.30, q.Edge, 1e-12)
		case domain.SideNo:
			// sin no_ask publicado: 100 − yes_bid
			assert.Equal(t, domain.Cents(72), q.Price)
			assert.InDelta(t, (1-p)-0.72, q.Edge, 1e-12)
		}
	}
}

// --- Signals ---

func TestSignals_ModelEstimate(t *testing.T) {
	c := newCalculator()

	signals := c.Signals(edge.Input{
		Estimate: modelEstimate(),
		Brackets: modelBrackets(),
		MinEdge:  0.15,
		CycleID:  "2026-07-10-PM",
		Now:      day.Add(15 * time.Hour),
	})
	require.Len(t, signals, 3)

	// best edge first: NO on the far tail
	assert.Equal(t, "KXHIGHNY-26JUL10-T95", signals[0].Bracket.Ticker)
	assert.Equal(t, domain.SideNo, signals[0].Side)
	assert.Equal(t, domain.Cents(72), signals[0].LimitPrice)

	assert.Equal(t, "KXHIGHNY-26JUL10-B86.5", signals[1].Bracket.Ticker)
	assert.Equal(t, domain.SideYes, signals[1].Side)
	assert.Equal(t, "KXHIGHNY-26JUL10-B88.5", signals[2].Bracket.Ticker)

	for _, s := range signals {
		assert.Equal(t, domain.ActionOpen, s.Action)
		assert.Equal(t, "2026-07-10-PM", s.CycleID)
		assert.Equal(t, "model", s.Reason)
		assert.Greater(t, s.EdgePct, 0.15)
		assert.NotEmpty(t, s.ID)
		require.NoError(t, s.Validate())
	}
}

func TestSignals_NoInsideMarginSkipped(t *testing.T) {
	c := newCalculator()
	// B90.5 NO has ~23% edge but the mean sits within 3°F of the bracket
	signals := c.Signals(edge.Input{
		Estimate: modelEstimate(),
		Brackets: []domain.Bracket{modelBrackets()[2]},
		MinEdge:  0.15,
	})
	assert.Empty(t, signals)
}

func TestSignals_NeverOppositeNorModelAdd(t *testing.T) {
	c := newCalculator()
	signals := c.Signals(edge.Input{
		Estimate: modelEstimate(),
		Brackets: modelBrackets(),
		MinEdge:  0.15,
		Held: map[string]domain.Side{
			"KXHIGHNY-26JUL10-B86.5": domain.SideYes, // same side: model does not add
			"KXHIGHNY-26JUL10-B88.5": domain.SideNo,  // opposite side
		},
	})
	require.Len(t, signals, 1)
	assert.Equal(t, "KXHIGHNY-26JUL10-T95", signals[0].Bracket.Ticker)
}

func TestSignals_ClosedMarketSkipped(t *testing.T) {
	c := newCalculator()
	b := modelBrackets()[0]
	b.Status = "closed"
	assert.Empty(t, c.Signals(edge.Input{Estimate: modelEstimate(), Brackets: []domain.Bracket{b}, MinEdge: 0.15}))
}

// --- Lock-in ---

func lockedEstimate() domain.DistributionEstimate {
	return domain.DistributionEstimate{
		Subject:    "NYC",
		Period:     domain.PeriodHigh,
		TargetDate: day,
		Mean:       91,
		StdDev:     0.3,
		Confidence: 0.95,
		Basis:      domain.BasisLockIn,
	}
}

func TestSignals_LockInThresholdOverride(t *testing.T) {
	c := newCalculator()
	brackets := []domain.Bracket{
		bracket("KXHIGHNY-26JUL10-B91.5", 90.5, 92.5, 90, 93),
		bracket("KXHIGHNY-26JUL10-B93.5", 92.5, 94.5, 1, 2),
	}

	locked := c.Signals(edge.Input{Estimate: lockedEstimate(), Brackets: brackets, MinEdge: 0.01})
	require.Len(t, locked, 1)
	assert.Equal(t, "KXHIGHNY-26JUL10-B91.5", locked[0].Bracket.Ticker)
	assert.Equal(t, domain.SideYes, locked[0].Side)
	assert.InDelta(t, 0.022, locked[0].EdgePct, 0.001)
	assert.Equal(t, domain.BasisLockIn, locked[0].Basis)
	assert.Equal(t, "lock_in", locked[0].Reason)

	normal := c.Signals(edge.Input{Estimate: lockedEstimate(), Brackets: brackets, MinEdge: 0.15})
	assert.Empty(t, normal)
}

func TestSignals_LockInMayAdd(t *testing.T) {
	c := newCalculator()
	b := bracket("KXHIGHNY-26JUL10-B91.5", 90.5, 92.5, 90, 93)

	signals := c.Signals(edge.Input{
		Estimate: lockedEstimate(),
		Brackets: []domain.Bracket{b},
		MinEdge:  0.01,
		Held:     map[string]domain.Side{b.Ticker: domain.SideYes},
	})
	assert.Len(t, signals, 1)
}
