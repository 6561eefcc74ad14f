package domain

import "errors"

// Error taxonomy of the decision engine.
var (
	// ErrDataUnavailable: no usable forecast or observation; skip the subject this cycle.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrSanityCheckFailed: inputs disagree beyond the configured divergence; trade blocked.
	ErrSanityCheckFailed = errors.New("sanity check failed")

	// ErrCapitalExceeded: the order cannot fit the caps. A normal outcome, not a fault.
	ErrCapitalExceeded = errors.New("capital exceeded")

	// ErrDuplicateSignal: the opportunity was already acted on this cycle.
	ErrDuplicateSignal = errors.New("duplicate signal")

	// ErrOrderRejected: the exchange refused the order.
	ErrOrderRejected = errors.New("order rejected")

	// ErrSettlementMismatch: the settled value disagrees with the tracked extreme.
	ErrSettlementMismatch = errors.New("settlement mismatch")

	ErrInvalidTransition = errors.New("invalid position transition")
	ErrNotFound          = errors.New("not found")
)

// Violation is a recorded sanity-gate block.
type Violation struct {
	Subject    string
	Period     Period
	TargetDate string
	CycleID    string
	Check      string // "forecast_divergence", "station_divergence", "implausible_edge"
	Cause      string
	Observed   float64
	Limit      float64
	Ticker     string
}

// Error makes a Violation usable with errors.Is(err, ErrSanityCheckFailed).
func (v *Violation) Error() string {
	return "sanity check failed: " + v.Check + ": " + v.Cause
}

func (v *Violation) Unwrap() error { return ErrSanityCheckFailed }

// Mismatch flags a settlement for manual review. Never auto-corrected.
type Mismatch struct {
	Subject      string
	Period       Period
	TargetDate   string
	SettledValue float64
	TrackedValue float64
	Tolerance    float64
	Tickers      []string
}

func (m *Mismatch) Error() string {
	return "settlement mismatch: " + m.Subject + " " + string(m.Period) + " " + m.TargetDate
}

func (m *Mismatch) Unwrap() error { return ErrSettlementMismatch }
