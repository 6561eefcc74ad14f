package domain

import (
	"fmt"
	"math"
	"time"
)

// PositionStatus is the lifecycle of a position:
// NONE → OPEN → OPEN(adjusted) → CLOSING → CLOSED → SETTLED.
type PositionStatus string

const (
	StatusOpen    PositionStatus = "open"
	StatusClosing PositionStatus = "closing"
	StatusClosed  PositionStatus = "closed"
	StatusSettled PositionStatus = "settled"
)

// Position is the holding on one (ticker, side). Side never changes after
// creation; contracts only grow through Add.
type Position struct {
	ID          string
	Ticker      string
	Subject     string
	Period      Period
	TargetDate  time.Time
	Side        Side
	Contracts   int
	AvgEntry    float64 // cents por contrato
	Status      PositionStatus
	Adjusted    bool
	RealizedPnL Cents
	OpenedAt    time.Time
	UpdatedAt   time.Time
	Outcome     Side // lado ganador, solo tras liquidar
	SettledAt   *time.Time
	Bracket     Bracket
}

// NewPosition creates a position from its first fill.
func NewPosition(id string, b Bracket, side Side, contracts int, price Cents, at time.Time) (*Position, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("domain.NewPosition: invalid side %d", uint8(side))
	}
	if contracts <= 0 {
		return nil, fmt.Errorf("domain.NewPosition: contracts must be positive, got %d", contracts)
	}
	return &Position{
		ID:         id,
		Ticker:     b.Ticker,
		Subject:    b.Subject,
		Period:     b.Period,
		TargetDate: b.Date,
		Side:       side,
		Contracts:  contracts,
		AvgEntry:   float64(price),
		Status:     StatusOpen,
		OpenedAt:   at,
		UpdatedAt:  at,
		Bracket:    b,
	}, nil
}

// State returns the state-machine label, distinguishing OPEN(adjusted).
func (p *Position) State() string {
	if p.Status == StatusOpen && p.Adjusted {
		return "open(adjusted)"
	}
	return string(p.Status)
}

// Live reports whether the position still carries exposure.
func (p *Position) Live() bool {
	return p.Status == StatusOpen || p.Status == StatusClosing
}

// Add is the only way contracts increase.
func (p *Position) Add(contracts int, price Cents, at time.Time) error {
	if p.Status != StatusOpen {
		return fmt.Errorf("domain.Position.Add: %s in state %s: %w", p.Ticker, p.State(), ErrInvalidTransition)
	}
	if contracts <= 0 {
		return fmt.Errorf("domain.Position.Add: contracts must be positive, got %d", contracts)
	}
	total := p.Contracts + contracts
	p.AvgEntry = (p.AvgEntry*float64(p.Contracts) + float64(price)*float64(contracts)) / float64(total)
	p.Contracts = total
	p.Adjusted = true
	p.UpdatedAt = at
	return nil
}

// BeginClose marks a closing order as in flight. A position already closing
// cannot be closed twice.
func (p *Position) BeginClose(at time.Time) error {
	if p.Status != StatusOpen {
		return fmt.Errorf("domain.Position.BeginClose: %s in state %s: %w", p.Ticker, p.State(), ErrInvalidTransition)
	}
	p.Status = StatusClosing
	p.UpdatedAt = at
	return nil
}

// AbortClose returns a closing position to open when the exit did not fill.
func (p *Position) AbortClose(at time.Time) {
	if p.Status == StatusClosing {
		p.Status = StatusOpen
		p.UpdatedAt = at
	}
}

// Reduce books a closing fill. Contracts strictly decrease.
func (p *Position) Reduce(contracts int, price Cents, at time.Time) (Cents, error) {
	if p.Status != StatusOpen && p.Status != StatusClosing {
		return 0, fmt.Errorf("domain.Position.Reduce: %s in state %s: %w", p.Ticker, p.State(), ErrInvalidTransition)
	}
	if contracts <= 0 || contracts > p.Contracts {
		return 0, fmt.Errorf("domain.Position.Reduce: %s: cannot close %d of %d contracts: %w",
			p.Ticker, contracts, p.Contracts, ErrInvalidTransition)
	}
	realized := Cents(math.Round(float64(contracts) * (float64(price) - p.AvgEntry)))
	p.Contracts -= contracts
	p.RealizedPnL += realized
	p.UpdatedAt = at
	if p.Contracts == 0 {
		p.Status = StatusClosed
	} else {
		p.Status = StatusOpen
		p.Adjusted = true
	}
	return realized, nil
}

// UnrealizedPnL = contracts × (current price of the held side − avg entry).
func (p *Position) UnrealizedPnL(current Cents) Cents {
	if !p.Live() {
		return 0
	}
	return Cents(math.Round(float64(p.Contracts) * (float64(current) - p.AvgEntry)))
}

// SettlementPnL is the P&L of the remaining contracts if winner settles.
// Parameterized only by the held side and the winning side.
func (p *Position) SettlementPnL(winner Side) Cents {
	n := float64(p.Contracts)
	if p.Side == winner {
		return Cents(math.Round(n * (float64(Payout) - p.AvgEntry)))
	}
	return Cents(math.Round(-n * p.AvgEntry))
}

// Settle applies a confirmed settlement notice. Closed positions settle with
// zero remaining contracts so the audit trail still reaches SETTLED.
func (p *Position) Settle(winner Side, at time.Time) (Cents, error) {
	if !winner.Valid() {
		return 0, fmt.Errorf("domain.Position.Settle: invalid winner %d", uint8(winner))
	}
	if p.Status == StatusSettled {
		return 0, fmt.Errorf("domain.Position.Settle: %s already settled: %w", p.Ticker, ErrInvalidTransition)
	}
	pnl := p.SettlementPnL(winner)
	p.RealizedPnL += pnl
	p.Status = StatusSettled
	p.Outcome = winner
	p.SettledAt = &at
	p.UpdatedAt = at
	return pnl, nil
}

// Exposure is the capital at risk: contracts × avg entry while live.
func (p *Position) Exposure() Cents {
	if !p.Live() {
		return 0
	}
	return Cents(math.Round(float64(p.Contracts) * p.AvgEntry))
}

// GainPct is the relative move of price against the entry.
func (p *Position) GainPct(current Cents) float64 {
	if p.AvgEntry <= 0 {
		return 0
	}
	return (float64(current) - p.AvgEntry) / p.AvgEntry
}
