package domain

import "time"

// CircuitBreaker halts new entries after consecutive realized losses or a
// session drawdown. Exits and settlement keep running while it is tripped.
type CircuitBreaker struct {
	ConsecutiveLosses int
	MaxLosses         int
	CooldownUntil     time.Time
	CooldownDuration  time.Duration
	SessionPnL        Cents
	MaxDrawdown       Cents // negative cents threshold
	Triggered         bool
	TriggeredReason   string
}

// IsOpen returns true if new entries are allowed.
func (cb *CircuitBreaker) IsOpen(now time.Time) bool {
	if cb.Triggered {
		return false
	}
	return !now.Before(cb.CooldownUntil)
}

// Record feeds one realized P&L event (a close or a settlement).
func (cb *CircuitBreaker) Record(pnl Cents, now time.Time) {
	cb.SessionPnL += pnl
	if pnl > 0 {
		cb.ConsecutiveLosses = 0
		return
	}
	if pnl == 0 {
		return
	}
	cb.ConsecutiveLosses++
	if cb.MaxLosses > 0 && cb.ConsecutiveLosses >= cb.MaxLosses {
		cb.CooldownUntil = now.Add(cb.CooldownDuration)
		cb.ConsecutiveLosses = 0
		cb.TriggeredReason = "consecutive losses"
	}
	if cb.MaxDrawdown < 0 && cb.SessionPnL < cb.MaxDrawdown {
		cb.Triggered = true
		cb.TriggeredReason = "max drawdown exceeded"
	}
}

// Reset clears a tripped breaker at the start of a new session.
func (cb *CircuitBreaker) Reset() {
	cb.ConsecutiveLosses = 0
	cb.SessionPnL = 0
	cb.Triggered = false
	cb.TriggeredReason = ""
	cb.CooldownUntil = time.Time{}
}
