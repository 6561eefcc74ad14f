package sanity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alejandrodnm/wxbot/internal/application/sanity"
	"github.com/alejandrodnm/wxbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memViolations struct{ saved []domain.Violation }

func (m *memViolations) SaveViolation(_ context.Context, v domain.Violation, _ time.Time) error {
	m.saved = append(m.saved, v)
	return nil
}

func f(v float64) *float64 { return &v }

func newGate(store *memViolations) *sanity.Gate {
	return sanity.New(sanity.Config{
		MaxForecastDivergence: 3,
		MaxStationDivergence:  8,
		MinObservationWeight:  0.5,
		MaxModelEdge:          0.9,
		LiquidYesPrice:        20,
	}, store, nil)
}

func estimate(forecast, primary, surr *float64, weight float64) domain.DistributionEstimate {
	return domain.DistributionEstimate{
		Subject:        "NYC",
		Period:         domain.PeriodHigh,
		TargetDate:     time.Date(2026, 7, 10, 0, 0, 0, 0, time.UTC),
		Basis:          domain.BasisModel,
		Forecast:       forecast,
		Primary:        primary,
		SurroundingAvg: surr,
		ObsWeight:      weight,
	}
}

// --- Estimate checks ---

func TestCheck_ForecastDivergenceBlocks(t *testing.T) {
	g := newGate(&memViolations{})

	v := g.Check(estimate(f(75), f(82), f(81), 0.7))
	require.NotNil(t, v)
	assert.Equal(t, sanity.CheckForecastDivergence, v.Check)
	assert.Equal(t, 7.0, v.Observed)
	assert.Equal(t, 3.0, v.Limit)
	assert.True(t, errors.Is(v, domain.ErrSanityCheckFailed))
}

func TestCheck_WithinThresholdPasses(t *testing.T) {
	g := newGate(&memViolations{})
	assert.Nil(t, g.Check(estimate(f(80), f(82.5), f(82), 0.7)))
}

func TestCheck_ForecastCheckWaitsForObservationWeight(t *testing.T) {
	g := newGate(&memViolations{})
	// madrugada: la observación apenas pesa, el pronóstico del máximo manda
	assert.Nil(t, g.Check(estimate(f(75), f(62), f(61), 0.1)))
}

func TestCheck_ObservationPastForecastBlocksAtAnyWeight(t *testing.T) {
	g := newGate(&memViolations{})

	v := g.Check(estimate(f(75), f(82), nil, 0.3))
	require.NotNil(t, v)
	assert.Equal(t, sanity.CheckForecastDivergence, v.Check)
	assert.Equal(t, 7.0, v.Observed)

	low := estimate(f(60), f(52), nil, 0.1)
	low.Period = domain.PeriodLow
	v = g.Check(low)
	require.NotNil(t, v)
	assert.Equal(t, sanity.CheckForecastDivergence, v.Check)

	// un mínimo observado por encima del pronóstico todavía puede bajar
	low = estimate(f(60), f(68), nil, 0.1)
	low.Period = domain.PeriodLow
	assert.Nil(t, g.Check(low))
}

func TestCheck_StationDivergence(t *testing.T) {
	g := newGate(&memViolations{})
	v := g.Check(estimate(f(80), f(80), f(70), 0.7))
	require.NotNil(t, v)
	assert.Equal(t, sanity.CheckStationDivergence, v.Check)
}

func TestCheck_LockInSkipped(t *testing.T) {
	g := newGate(&memViolations{})
	est := estimate(f(75), f(82), nil, 1)
	est.Basis = domain.BasisLockIn
	assert.Nil(t, g.Check(est))
}

// --- Signal checks ---

func TestCheckSignal_ImplausibleEdge(t *testing.T) {
	g := newGate(&memViolations{})
	sig := domain.Signal{
		Subject: "NYC", Period: domain.PeriodHigh, Action: domain.ActionOpen, Side: domain.SideYes,
		Basis: domain.BasisModel, EdgePct: 0.93,
		Bracket: domain.Bracket{Ticker: "KXHIGHNY-26JUL10-B88.5", YesAsk: 5, YesBid: 3},
	}
	// mercado ilíquido: se deja pasar
	assert.Nil(t, g.CheckSignal(sig))

	sig.Bracket.YesAsk = 25
	v := g.CheckSignal(sig)
	require.NotNil(t, v)
	assert.Equal(t, sanity.CheckImplausibleEdge, v.Check)
	assert.Equal(t, "KXHIGHNY-26JUL10-B88.5", v.Ticker)

	sig.Basis = domain.BasisLockIn
	assert.Nil(t, g.CheckSignal(sig))
}

func TestRecord_PersistsWithCycle(t *testing.T) {
	store := &memViolations{}
	g := newGate(store)
	v := g.Check(estimate(f(75), f(82), f(81), 0.7))
	require.NotNil(t, v)

	require.NoError(t, g.Record(context.Background(), v, "2026-07-10-PM", time.Now()))
	require.Len(t, store.saved, 1)
	assert.Equal(t, "2026-07-10-PM", store.saved[0].CycleID)
	assert.Contains(t, store.saved[0].Cause, "forecast 75.0 vs observation 82.0")
}
