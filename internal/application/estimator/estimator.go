// Package estimator turns a forecast and station observations into a normal
// distribution over the settlement value.
package estimator

import (
	"fmt"
	"math"
	"time"

	"github.com/alejandrodnm/wxbot/internal/domain"
)

// BlendStep applies from FromHour (subject local time) until the next step.
type BlendStep struct {
	FromHour          int
	ObservationWeight float64 // 0 = forecast only, 1 = observation only
	Confidence        float64
	StdScale          float64 // 0 = 1.0
}

// Calibration holds the per-subject constants. They are data, not code.
type Calibration struct {
	BiasHigh    float64
	BiasLow     float64
	FloorHigh   float64
	FloorMedium float64
	FloorLow    float64
}

// Bias returns the additive correction for the period.
func (c Calibration) Bias(p domain.Period) float64 {
	if p == domain.PeriodLow {
		return c.BiasLow
	}
	return c.BiasHigh
}

// Floor returns the std-dev floor of the tier.
func (c Calibration) Floor(t domain.ConfidenceTier) float64 {
	switch t {
	case domain.TierHigh:
		return c.FloorHigh
	case domain.TierMedium:
		return c.FloorMedium
	default:
		return c.FloorLow
	}
}

// Config holds the estimator tunables.
type Config struct {
	PrimaryWeight         float64
	BaseStd               float64
	ConfidenceAttenuation float64
	TierStep              float64
	HighTierMin           float64
	MediumTierMin         float64
	TomorrowConfidence    float64
	MaxConfidence         float64
	HighSchedule          []BlendStep
	LowSchedule           []BlendStep
	Calibration           map[string]Calibration
	DefaultCalibration    Calibration
}

// Inputs is everything fetched for one (subject, period, target date).
// Nil pointers mean the collaborator had nothing usable.
type Inputs struct {
	Subject     domain.Subject
	Period      domain.Period
	TargetDate  time.Time
	Forecast    *domain.Forecast
	Primary     *domain.Observation
	Surrounding []domain.Observation
	Now         time.Time
}

// Estimator is stateless; Estimate is safe for concurrent use.
type Estimator struct {
	cfg Config
}

// New creates an Estimator, filling zero tunables with the stock values.
func New(cfg Config) *Estimator {
	if cfg.PrimaryWeight <= 0 || cfg.PrimaryWeight > 1 {
		cfg.PrimaryWeight = 0.7
	}
	if cfg.BaseStd <= 0 {
		cfg.BaseStd = 4.0
	}
	if cfg.ConfidenceAttenuation <= 0 {
		cfg.ConfidenceAttenuation = 2.0
	}
	if cfg.TierStep <= 0 {
		cfg.TierStep = 0.2
	}
	if cfg.HighTierMin <= 0 {
		cfg.HighTierMin = 0.75
	}
	if cfg.MediumTierMin <= 0 {
		cfg.MediumTierMin = 0.55
	}
	if cfg.TomorrowConfidence <= 0 {
		cfg.TomorrowConfidence = 0.4
	}
	if cfg.MaxConfidence <= 0 {
		cfg.MaxConfidence = 0.95
	}
	if cfg.DefaultCalibration == (Calibration{}) {
		cfg.DefaultCalibration = Calibration{FloorHigh: 1.0, FloorMedium: 1.5, FloorLow: 2.5}
	}
	return &Estimator{cfg: cfg}
}

// Estimate produces the model-basis estimate, or domain.ErrDataUnavailable
// when neither a forecast nor an observation can be used.
func (e *Estimator) Estimate(in Inputs) (domain.DistributionEstimate, error) {
	today := in.Subject.SameDay(in.Now, in.TargetDate)

	var forecast, primary, surrAvg *float64
	if in.Forecast != nil {
		forecast = ptr(in.Forecast.Value)
	}
	// Only readings from the settlement day itself count.
	if today && in.Primary != nil && in.Subject.SameDay(in.Primary.ObservedAt, in.TargetDate) {
		primary = ptr(in.Primary.Value)
	}
	if primary != nil {
		if avg, ok := average(in.Surrounding, in.Subject, in.TargetDate); ok {
			surrAvg = ptr(avg)
		}
	}

	if forecast == nil && primary == nil {
		return domain.DistributionEstimate{}, fmt.Errorf("estimator.Estimate: %s %s %s: %w",
			in.Subject.Code, in.Period, domain.DateKey(in.TargetDate), domain.ErrDataUnavailable)
	}

	step := e.Step(in.Period, in.Subject.Local(in.Now).Hour())
	if !today {
		step = BlendStep{ObservationWeight: 0, Confidence: e.cfg.TomorrowConfidence, StdScale: 1}
	}

	var (
		mean    float64
		weight  float64
		conf    = step.Confidence
		widened = surrAvg == nil
	)

	var observed float64
	if primary != nil {
		observed = *primary
		if surrAvg != nil {
			pw := e.cfg.PrimaryWeight
			observed = pw*(*primary) + (1-pw)*(*surrAvg)
		}
	}

	switch {
	case forecast != nil && primary != nil:
		weight = step.ObservationWeight
		mean = (1-weight)*(*forecast) + weight*observed
	case forecast != nil:
		mean = *forecast
	default:
		// Observation only: trust it as much as the schedule trusts observations.
		weight = 1
		mean = observed
		conf *= step.ObservationWeight
	}

	// Today's reading bounds the day's extreme.
	if primary != nil {
		if in.Period == domain.PeriodHigh {
			mean = math.Max(mean, *primary)
		} else {
			mean = math.Min(mean, *primary)
		}
	}

	calib := e.calibration(in.Subject.Code)
	bias := calib.Bias(in.Period)
	mean += bias

	conf = math.Min(conf, e.cfg.MaxConfidence)
	tier := e.tier(conf)
	if widened {
		tier = tier.Wider()
		conf = math.Max(0, conf-e.cfg.TierStep)
	}

	scale := step.StdScale
	if scale <= 0 {
		scale = 1
	}
	floor := calib.Floor(tier)
	if floor <= 0 {
		floor = e.cfg.DefaultCalibration.Floor(tier)
	}
	std := math.Max((e.cfg.BaseStd-e.cfg.ConfidenceAttenuation*conf)*scale, floor)

	return domain.DistributionEstimate{
		Subject:        in.Subject.Code,
		Period:         in.Period,
		TargetDate:     in.TargetDate,
		Mean:           mean,
		StdDev:         std,
		Confidence:     conf,
		Tier:           tier,
		BiasApplied:    bias,
		GeneratedAt:    in.Now,
		Basis:          domain.BasisModel,
		Forecast:       forecast,
		Primary:        primary,
		SurroundingAvg: surrAvg,
		ObsWeight:      weight,
		Widened:        widened,
	}, nil
}

// Step returns the blend step in effect at the local hour.
func (e *Estimator) Step(p domain.Period, hour int) BlendStep {
	sched := e.cfg.HighSchedule
	if p == domain.PeriodLow {
		sched = e.cfg.LowSchedule
	}
	step := BlendStep{ObservationWeight: 0, Confidence: 0.5, StdScale: 1}
	for _, s := range sched {
		if hour < s.FromHour {
			break
		}
		step = s
	}
	return step
}

func (e *Estimator) tier(conf float64) domain.ConfidenceTier {
	switch {
	case conf >= e.cfg.HighTierMin:
		return domain.TierHigh
	case conf >= e.cfg.MediumTierMin:
		return domain.TierMedium
	default:
		return domain.TierLow
	}
}

func (e *Estimator) calibration(code string) Calibration {
	if c, ok := e.cfg.Calibration[code]; ok {
		return c
	}
	return e.cfg.DefaultCalibration
}

func average(obs []domain.Observation, subject domain.Subject, date time.Time) (float64, bool) {
	var sum float64
	var n int
	for _, o := range obs {
		if !subject.SameDay(o.ObservedAt, date) {
			continue
		}
		sum += o.Value
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func ptr(v float64) *float64 { return &v }
