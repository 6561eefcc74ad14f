package domain

import (
	"fmt"
	"time"
)

// Period is the attribute being predicted for a subject's day.
type Period string

const (
	PeriodHigh Period = "high"
	PeriodLow  Period = "low"
)

// Periods lists both periods in evaluation order.
var Periods = []Period{PeriodHigh, PeriodLow}

// ParsePeriod accepts "high" or "low".
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case PeriodHigh, PeriodLow:
		return Period(s), nil
	}
	return "", fmt.Errorf("domain.ParsePeriod: unknown period %q", s)
}

// StationRole separates the settlement station from its neighbours.
type StationRole string

const (
	RolePrimary     StationRole = "primary"
	RoleSurrounding StationRole = "surrounding"
)

// Subject is a settlement location: the station the exchange settles on plus
// the nearby stations used as a cross-check.
type Subject struct {
	Code                string // "NYC"
	Location            *time.Location
	PrimaryStation      string   // "KNYC"
	SurroundingStations []string // "KLGA", "KJFK", ...
	Lat                 float64
	Lon                 float64
	HighSeries          string // "KXHIGHNY"
	LowSeries           string // "KXLOWTNYC"
}

// Series returns the exchange series ticker for the period.
func (s Subject) Series(p Period) string {
	if p == PeriodLow {
		return s.LowSeries
	}
	return s.HighSeries
}

// Local converts t to the subject's wall clock.
func (s Subject) Local(t time.Time) time.Time {
	if s.Location == nil {
		return t
	}
	return t.In(s.Location)
}

// Day truncates t to local midnight of the subject's calendar day.
func (s Subject) Day(t time.Time) time.Time {
	lt := s.Local(t)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, lt.Location())
}

// SameDay reports whether a and b fall on the same local calendar day.
func (s Subject) SameDay(a, b time.Time) bool {
	return s.Day(a).Equal(s.Day(b))
}

// Observation es una lectura de temperatura inmutable de una estación.
type Observation struct {
	Subject    string
	Station    string
	Role       StationRole
	Value      float64 // °F
	ObservedAt time.Time
}

// Forecast is the latest issued forecast for (subject, target date, period).
type Forecast struct {
	Subject    string
	TargetDate time.Time
	Period     Period
	Value      float64 // °F
	IssuedAt   time.Time
}

// Basis records which path produced an estimate.
type Basis string

const (
	BasisModel  Basis = "model"
	BasisLockIn Basis = "lock_in"
)

// ConfidenceTier buckets estimator confidence; each tier has its own std-dev floor.
type ConfidenceTier int

const (
	TierHigh ConfidenceTier = iota
	TierMedium
	TierLow
)

func (t ConfidenceTier) String() string {
	switch t {
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	case TierLow:
		return "low"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Wider returns the next less confident tier; TierLow is already the widest.
func (t ConfidenceTier) Wider() ConfidenceTier {
	if t >= TierLow {
		return TierLow
	}
	return t + 1
}

// DistributionEstimate is a normal distribution over the settlement value.
// Mean already includes the bias correction.
type DistributionEstimate struct {
	Subject     string
	Period      Period
	TargetDate  time.Time
	Mean        float64
	StdDev      float64
	Confidence  float64
	Tier        ConfidenceTier
	BiasApplied float64
	GeneratedAt time.Time
	Basis       Basis

	// Inputs kept for the sanity gate and journaling.
	Forecast       *float64
	Primary        *float64
	SurroundingAvg *float64
	ObsWeight      float64
	Widened        bool
}

// LockedIn reports whether the estimate came from the lock-in path.
func (e DistributionEstimate) LockedIn() bool {
	return e.Basis == BasisLockIn
}

// DailyExtreme is the running high/low of a station for one local day.
type DailyExtreme struct {
	Station        string
	Date           time.Time
	High           float64
	Low            float64
	LastObservedAt time.Time
	Count          int
}

// Value returns the running extreme relevant to the period.
func (e DailyExtreme) Value(p Period) float64 {
	if p == PeriodLow {
		return e.Low
	}
	return e.High
}
