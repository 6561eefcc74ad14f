// Package sanity blocks signals whose inputs disagree implausibly.
// A violation is never just logged: the subject/period produces no signal.
package sanity

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/alejandrodnm/wxbot/internal/domain"
	"github.com/alejandrodnm/wxbot/internal/ports"
)

// Checks recorded in domain.Violation.Check.
const (
	CheckForecastDivergence = "forecast_divergence"
	CheckStationDivergence  = "station_divergence"
	CheckImplausibleEdge    = "implausible_edge"
)

// Config holds the gate thresholds.
type Config struct {
	MaxForecastDivergence float64 // °F between forecast and primary observation
	MaxStationDivergence  float64 // °F between primary and surrounding average
	MinObservationWeight  float64 // below it only an observation past the forecast extreme blocks
	MaxModelEdge          float64
	LiquidYesPrice        domain.Cents
}

// Gate checks estimates and signals and records what it blocks.
type Gate struct {
	cfg     Config
	store   ports.ViolationStore
	metrics ports.Metrics
}

// New creates a Gate. metrics may be nil.
func New(cfg Config, store ports.ViolationStore, metrics ports.Metrics) *Gate {
	if cfg.MaxForecastDivergence <= 0 {
		cfg.MaxForecastDivergence = 3
	}
	if cfg.MaxStationDivergence <= 0 {
		cfg.MaxStationDivergence = 8
	}
	if cfg.MaxModelEdge <= 0 {
		cfg.MaxModelEdge = 0.90
	}
	if cfg.LiquidYesPrice <= 0 {
		cfg.LiquidYesPrice = 20
	}
	return &Gate{cfg: cfg, store: store, metrics: metrics}
}

// Check validates the inputs of a model estimate. Lock-in estimates come from
// the settlement station alone and are not cross-checked here.
func (g *Gate) Check(est domain.DistributionEstimate) *domain.Violation {
	if est.LockedIn() {
		return nil
	}
	if est.Primary != nil && est.SurroundingAvg != nil {
		if d := math.Abs(*est.Primary - *est.SurroundingAvg); d > g.cfg.MaxStationDivergence {
			return g.violation(est, CheckStationDivergence, d, g.cfg.MaxStationDivergence,
				fmt.Sprintf("primary %.1f vs surrounding avg %.1f", *est.Primary, *est.SurroundingAvg))
		}
	}
	if est.Forecast != nil && est.Primary != nil {
		d := math.Abs(*est.Forecast - *est.Primary)
		if d > g.cfg.MaxForecastDivergence && (pastForecast(est) || est.ObsWeight >= g.cfg.MinObservationWeight) {
			return g.violation(est, CheckForecastDivergence, d, g.cfg.MaxForecastDivergence,
				fmt.Sprintf("forecast %.1f vs observation %.1f", *est.Forecast, *est.Primary))
		}
	}
	return nil
}

// pastForecast reports an observation already beyond the forecast extreme:
// above a forecast high or below a forecast low. The day can still get
// there from the other side, never back from this one, so it blocks at any
// observation weight.
func pastForecast(est domain.DistributionEstimate) bool {
	if est.Period == domain.PeriodLow {
		return *est.Primary < *est.Forecast
	}
	return *est.Primary > *est.Forecast
}

// CheckSignal blocks a model signal claiming an edge no liquid market leaves
// on the table; such edges come from bad inputs, not mispricing.
func (g *Gate) CheckSignal(sig domain.Signal) *domain.Violation {
	if sig.Basis == domain.BasisLockIn || sig.Action != domain.ActionOpen {
		return nil
	}
	if sig.EdgePct <= g.cfg.MaxModelEdge || sig.Bracket.YesAsk < g.cfg.LiquidYesPrice {
		return nil
	}
	return &domain.Violation{
		Subject:    sig.Subject,
		Period:     sig.Period,
		TargetDate: domain.DateKey(sig.TargetDate),
		CycleID:    sig.CycleID,
		Check:      CheckImplausibleEdge,
		Cause: fmt.Sprintf("%s %s edge %.0f%% on yes ask %d¢",
			sig.Bracket.Ticker, sig.Side, sig.EdgePct*100, sig.Bracket.YesAsk),
		Observed: sig.EdgePct,
		Limit:    g.cfg.MaxModelEdge,
		Ticker:   sig.Bracket.Ticker,
	}
}

// Record persists a violation with its cycle id and counts it.
func (g *Gate) Record(ctx context.Context, v *domain.Violation, cycleID string, at time.Time) error {
	v.CycleID = cycleID
	slog.Warn("sanity: blocked",
		"subject", v.Subject,
		"period", v.Period,
		"check", v.Check,
		"cause", v.Cause,
		"cycle_id", cycleID,
	)
	if g.metrics != nil {
		g.metrics.SanityViolation(v.Check)
	}
	if err := g.store.SaveViolation(ctx, *v, at); err != nil {
		return fmt.Errorf("sanity.Record: %w", err)
	}
	return nil
}

func (g *Gate) violation(est domain.DistributionEstimate, check string, observed, limit float64, cause string) *domain.Violation {
	return &domain.Violation{
		Subject:    est.Subject,
		Period:     est.Period,
		TargetDate: domain.DateKey(est.TargetDate),
		Check:      check,
		Cause:      cause,
		Observed:   observed,
		Limit:      limit,
	}
}
