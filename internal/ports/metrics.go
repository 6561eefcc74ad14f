package ports

import (
	"time"

	"github.com/alejandrodnm/wxbot/internal/domain"
)

// Metrics receives engine counters. Implementations must be safe for concurrent use.
type Metrics interface {
	CycleCompleted(d time.Duration, skippedSubjects int)
	SignalOutcome(outcome domain.Outcome, reason string)
	DuplicateSignal()
	SanityViolation(check string)
	Capital(state domain.CapitalState)
	OrderSubmitted(action domain.Action, accepted bool)
}
