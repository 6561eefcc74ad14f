package estimator_test

import (
	"testing"
	"time"

	"github.com/alejandrodnm/wxbot/internal/application/estimator"
	"github.com/alejandrodnm/wxbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nyc(t *testing.T) domain.Subject {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return domain.Subject{Code: "NYC", Location: loc, PrimaryStation: "KNYC", SurroundingStations: []string{"KLGA", "KJFK"}}
}

func newEstimator() *estimator.Estimator {
	return estimator.New(estimator.Config{
		HighSchedule: []estimator.BlendStep{
			{FromHour: 0, ObservationWeight: 0.1, Confidence: 0.5, StdScale: 1},
			{FromHour: 10, ObservationWeight: 0.3, Confidence: 0.6, StdScale: 1},
			{FromHour: 11, ObservationWeight: 0.5, Confidence: 0.7, StdScale: 0.7},
			{FromHour: 14, ObservationWeight: 0.7, Confidence: 0.8, StdScale: 0.4},
			{FromHour: 18, ObservationWeight: 0.85, Confidence: 0.85, StdScale: 0.4},
		},
		Calibration: map[string]estimator.Calibration{
			"NYC": {FloorHigh: 1.0, FloorMedium: 1.5, FloorLow: 2.5},
			"MIA": {BiasHigh: 2.5, FloorHigh: 1.0, FloorMedium: 1.5, FloorLow: 2.5},
		},
	})
}

type fixture struct {
	subject domain.Subject
	now     time.Time
	day     time.Time
}

func newFixture(t *testing.T) fixture {
	s := nyc(t)
	now := time.Date(2026, 7, 10, 15, 0, 0, 0, s.Location)
	return fixture{subject: s, now: now, day: s.Day(now)}
}

func (f fixture) obs(role domain.StationRole, v float64) domain.Observation {
	return domain.Observation{Subject: f.subject.Code, Role: role, Value: v, ObservedAt: f.now.Add(-10 * time.Minute)}
}

func (f fixture) forecast(v float64) *domain.Forecast {
	return &domain.Forecast{Subject: f.subject.Code, TargetDate: f.day, Period: domain.PeriodHigh, Value: v}
}

func TestEstimate_BlendsForecastAndObservations(t *testing.T) {
	f := newFixture(t)
	primary := f.obs(domain.RolePrimary, 88)

	est, err := newEstimator().Estimate(estimator.Inputs{
		Subject:     f.subject,
		Period:      domain.PeriodHigh,
		TargetDate:  f.day,
		Forecast:    f.forecast(90),
		Primary:     &primary,
		Surrounding: []domain.Observation{f.obs(domain.RoleSurrounding, 86), f.obs(domain.RoleSurrounding, 88)},
		Now:         f.now,
	})
	require.NoError(t, err)

	// observed = 0.7×88 + 0.3×87 = 87.7; mean = 0.3×90 + 0.7×87.7
	assert.InDelta(t, 88.39, est.Mean, 1e-9)
	assert.Equal(t, domain.TierHigh, est.Tier)
	assert.InDelta(t, 1.0, est.StdDev, 1e-9) // (4 − 2×0.8)×0.4 = 0.96 → floor 1.0
	assert.Equal(t, domain.BasisModel, est.Basis)
	assert.False(t, est.Widened)
	assert.InDelta(t, 0.7, est.ObsWeight, 1e-9)
}

func TestEstimate_NoSurroundingWidensOneTier(t *testing.T) {
	f := newFixture(t)
	primary := f.obs(domain.RolePrimary, 88)
	in := estimator.Inputs{
		Subject:    f.subject,
		Period:     domain.PeriodHigh,
		TargetDate: f.day,
		Forecast:   f.forecast(90),
		Primary:    &primary,
		Now:        f.now,
	}

	est, err := newEstimator().Estimate(in)
	require.NoError(t, err)

	assert.True(t, est.Widened)
	assert.Equal(t, domain.TierMedium, est.Tier)
	assert.InDelta(t, 88.6, est.Mean, 1e-9)
	assert.InDelta(t, 1.5, est.StdDev, 1e-9)

	in.Surrounding = []domain.Observation{f.obs(domain.RoleSurrounding, 88)}
	full, err := newEstimator().Estimate(in)
	require.NoError(t, err)
	assert.Greater(t, est.StdDev, full.StdDev)
}

func TestEstimate_AppliesSubjectBias(t *testing.T) {
	f := newFixture(t)
	f.subject.Code = "MIA"

	est, err := newEstimator().Estimate(estimator.Inputs{
		Subject:    f.subject,
		Period:     domain.PeriodHigh,
		TargetDate: f.day,
		Forecast:   f.forecast(84),
		Now:        f.now,
	})
	require.NoError(t, err)
	assert.InDelta(t, 86.5, est.Mean, 1e-9)
	assert.Equal(t, 2.5, est.BiasApplied)
}

func TestEstimate_NothingAvailable(t *testing.T) {
	f := newFixture(t)
	_, err := newEstimator().Estimate(estimator.Inputs{
		Subject:    f.subject,
		Period:     domain.PeriodHigh,
		TargetDate: f.day,
		Now:        f.now,
	})
	assert.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func TestEstimate_TomorrowIgnoresObservations(t *testing.T) {
	f := newFixture(t)
	primary := f.obs(domain.RolePrimary, 95)
	tomorrow := f.day.AddDate(0, 0, 1)

	est, err := newEstimator().Estimate(estimator.Inputs{
		Subject:    f.subject,
		Period:     domain.PeriodHigh,
		TargetDate: tomorrow,
		Forecast:   &domain.Forecast{TargetDate: tomorrow, Period: domain.PeriodHigh, Value: 70},
		Primary:    &primary,
		Now:        f.now,
	})
	require.NoError(t, err)
	assert.Equal(t, 70.0, est.Mean)
	assert.Nil(t, est.Primary)
	assert.Equal(t, domain.TierLow, est.Tier)
	assert.InDelta(t, 3.6, est.StdDev, 1e-9)
}

func TestEstimate_StalePrimaryIsIgnored(t *testing.T) {
	f := newFixture(t)
	stale := f.obs(domain.RolePrimary, 60)
	stale.ObservedAt = f.now.Add(-20 * time.Hour)

	est, err := newEstimator().Estimate(estimator.Inputs{
		Subject:    f.subject,
		Period:     domain.PeriodHigh,
		TargetDate: f.day,
		Forecast:   f.forecast(90),
		Primary:    &stale,
		Now:        f.now,
	})
	require.NoError(t, err)
	assert.Equal(t, 90.0, est.Mean)
	assert.Nil(t, est.Primary)
}

func TestEstimate_HighNeverBelowObserved(t *testing.T) {
	f := newFixture(t)
	primary := f.obs(domain.RolePrimary, 85)

	est, err := newEstimator().Estimate(estimator.Inputs{
		Subject:     f.subject,
		Period:      domain.PeriodHigh,
		TargetDate:  f.day,
		Forecast:    f.forecast(80),
		Primary:     &primary,
		Surrounding: []domain.Observation{f.obs(domain.RoleSurrounding, 85)},
		Now:         f.now,
	})
	require.NoError(t, err)
	assert.Equal(t, 85.0, est.Mean)
}

func TestStep_Schedule(t *testing.T) {
	e := newEstimator()
	assert.Equal(t, 0, e.Step(domain.PeriodHigh, 9).FromHour)
	assert.Equal(t, 11, e.Step(domain.PeriodHigh, 13).FromHour)
	assert.Equal(t, 18, e.Step(domain.PeriodHigh, 23).FromHour)
	// sin schedule de low: paso neutro
	assert.Equal(t, 0.0, e.Step(domain.PeriodLow, 5).ObservationWeight)
}
