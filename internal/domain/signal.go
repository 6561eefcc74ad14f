package domain

import (
	"fmt"
	"time"
)

// Signal is one actionable opportunity produced in a cycle. Open signals come
// from the edge calculator; close signals come from the position manager.
type Signal struct {
	ID         string
	Subject    string
	Period     Period
	TargetDate time.Time
	Bracket    Bracket
	Side       Side
	Action     Action
	EdgePct    float64 // model_prob - market_prob, in [−1, 1]
	ModelProb  float64
	MarketProb float64
	Confidence float64
	Basis      Basis
	CycleID    string
	CreatedAt  time.Time
	LimitPrice Cents
	Contracts  int    // fijado para cierres; las entradas lo dimensiona el risk manager
	Reason     string // "model", "lock_in", "take_profit", "cut_loss", "rolling_profit"
}

// DedupKey identifies the opportunity within a cycle: (subject, period, bracket, cycle).
// A close is keyed per attempt (reason, size and the minute it was raised):
// a position opened earlier in the cycle can still be closed, and a close
// that did not fill is tried again on the next tick.
func (s Signal) DedupKey() string {
	k := fmt.Sprintf("%s|%s|%s|%s", s.Subject, s.Period, s.Bracket.Ticker, s.CycleID)
	if s.Action != ActionClose {
		return k
	}
	return fmt.Sprintf("%s|close|%s|%d|%s", k, s.Reason, s.Contracts, s.CreatedAt.UTC().Format("200601021504"))
}

// Validate rejects signals whose enums are outside their closed sets.
func (s Signal) Validate() error {
	if !s.Side.Valid() {
		return fmt.Errorf("domain.Signal: invalid side %d", uint8(s.Side))
	}
	if !s.Action.Valid() {
		return fmt.Errorf("domain.Signal: invalid action %d", uint8(s.Action))
	}
	if s.Action == ActionClose && s.Contracts <= 0 {
		return fmt.Errorf("domain.Signal: close without contracts")
	}
	if s.LimitPrice <= 0 || s.LimitPrice >= Payout {
		return fmt.Errorf("domain.Signal: limit price %d out of range", s.LimitPrice)
	}
	return nil
}

// Outcome is what happened to a signal in a cycle.
type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeRejected Outcome = "rejected"
)

// SignalResult pairs a signal with its outcome for the cycle report and journal.
type SignalResult struct {
	Signal    Signal
	Outcome   Outcome
	Reason    string
	Contracts int
	OrderID   string
}
