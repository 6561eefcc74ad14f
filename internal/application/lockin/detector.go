// Package lockin detects when a day's high or low is already fixed by what
// the settlement station has reported.
package lockin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/wxbot/internal/domain"
	"github.com/alejandrodnm/wxbot/internal/ports"
)

// Config holds the lock-in tunables.
type Config struct {
	HighCutoffHour int     // local hour after which the running max is final
	LowCutoffHour  int     // local hour after which the running min is final
	StdDev         float64 // spread of a locked estimate
	Buffer         float64 // °F the extreme may still move
	Confidence     float64
	MinEdge        float64 // minimum edge while locked
}

// Detector tracks running extremes and turns them into lock-in estimates.
type Detector struct {
	cfg   Config
	store ports.ExtremeStore
}

// New creates a Detector backed by store.
func New(cfg Config, store ports.ExtremeStore) *Detector {
	if cfg.HighCutoffHour <= 0 {
		cfg.HighCutoffHour = 18
	}
	if cfg.LowCutoffHour <= 0 {
		cfg.LowCutoffHour = 8
	}
	if cfg.StdDev <= 0 {
		cfg.StdDev = 0.3
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1.0
	}
	if cfg.Confidence <= 0 {
		cfg.Confidence = 0.95
	}
	if cfg.MinEdge <= 0 {
		cfg.MinEdge = 0.01
	}
	return &Detector{cfg: cfg, store: store}
}

// MinEdge is the minimum edge the edge calculator uses for locked estimates.
func (d *Detector) MinEdge() float64 { return d.cfg.MinEdge }

// Observe folds a primary-station reading into the running extreme of the
// reading's own local day.
func (d *Detector) Observe(ctx context.Context, subject domain.Subject, obs domain.Observation) (domain.DailyExtreme, error) {
	day := subject.Day(obs.ObservedAt)
	ext, err := d.store.RecordObservation(ctx, obs.Station, day, obs.Value, obs.ObservedAt)
	if err != nil {
		return domain.DailyExtreme{}, fmt.Errorf("lockin.Observe: %s: %w", obs.Station, err)
	}
	return ext, nil
}

// Detect returns a lock-in estimate when the period's cutoff has passed on
// the target day and the running extreme belongs to that same day.
func (d *Detector) Detect(ctx context.Context, subject domain.Subject, period domain.Period, target, now time.Time) (domain.DistributionEstimate, bool, error) {
	if !subject.SameDay(now, target) {
		return domain.DistributionEstimate{}, false, nil
	}
	if subject.Local(now).Hour() < d.cutoff(period) {
		return domain.DistributionEstimate{}, false, nil
	}

	ext, ok, err := d.store.DailyExtreme(ctx, subject.PrimaryStation, subject.Day(target))
	if err != nil {
		return domain.DistributionEstimate{}, false, fmt.Errorf("lockin.Detect: %s: %w", subject.Code, err)
	}
	if !ok || ext.Count == 0 {
		return domain.DistributionEstimate{}, false, nil
	}
	// A stale reading must never lock the current day.
	if domain.DateKey(ext.Date) != domain.DateKey(subject.Day(target)) || !subject.SameDay(ext.LastObservedAt, target) {
		slog.Warn("lockin: extreme outside target window",
			"subject", subject.Code,
			"period", period,
			"target", domain.DateKey(target),
			"observed_at", ext.LastObservedAt,
		)
		return domain.DistributionEstimate{}, false, nil
	}

	return domain.DistributionEstimate{
		Subject:     subject.Code,
		Period:      period,
		TargetDate:  target,
		Mean:        ext.Value(period),
		StdDev:      d.cfg.StdDev,
		Confidence:  d.cfg.Confidence,
		Tier:        domain.TierHigh,
		GeneratedAt: now,
		Basis:       domain.BasisLockIn,
		ObsWeight:   1,
	}, true, nil
}

// Decisive reports which side a locked extreme makes (near) certain for a
// bracket. A high can still rise and a low can still fall by up to Buffer, so
// only brackets clear of that margin are decisive.
func (d *Detector) Decisive(est domain.DistributionEstimate, b domain.Bracket) (domain.Side, bool) {
	if !est.LockedIn() {
		return 0, false
	}
	v, buf := est.Mean, d.cfg.Buffer
	switch est.Period {
	case domain.PeriodHigh:
		if b.Cap <= v || b.Floor > v+buf {
			return domain.SideNo, true
		}
		if b.Floor <= v && v+buf < b.Cap {
			return domain.SideYes, true
		}
	case domain.PeriodLow:
		if b.Floor > v || b.Cap <= v-buf {
			return domain.SideNo, true
		}
		if b.Cap > v && v-buf >= b.Floor {
			return domain.SideYes, true
		}
	}
	return 0, false
}

func (d *Detector) cutoff(p domain.Period) int {
	if p == domain.PeriodLow {
		return d.cfg.LowCutoffHour
	}
	return d.cfg.HighCutoffHour
}

// Running returns the running extreme of the subject's primary station for
// the target day, or nil when nothing was observed that day.
func (d *Detector) Running(ctx context.Context, subject domain.Subject, period domain.Period, target time.Time) (*float64, error) {
	ext, ok, err := d.store.DailyExtreme(ctx, subject.PrimaryStation, subject.Day(target))
	if err != nil {
		return nil, fmt.Errorf("lockin.Running: %s: %w", subject.Code, err)
	}
	if !ok || ext.Count == 0 {
		return nil, nil
	}
	v := ext.Value(period)
	return &v, nil
}
