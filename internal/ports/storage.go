package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/wxbot/internal/domain"
)

// PositionStore persiste posiciones. Nunca borra: las liquidadas quedan como auditoría.
type PositionStore interface {
	SavePosition(ctx context.Context, p *domain.Position) error
	LivePositions(ctx context.Context) ([]*domain.Position, error)
	UnsettledPositions(ctx context.Context) ([]*domain.Position, error)
	AllPositions(ctx context.Context) ([]*domain.Position, error)
}

// DedupStore records claimed (subject, period, bracket, cycle) keys.
type DedupStore interface {
	// Claim stores key if absent and reports whether this call stored it.
	Claim(ctx context.Context, key string, at time.Time) (bool, error)
}

// ViolationStore records sanity-gate blocks with their cause.
type ViolationStore interface {
	SaveViolation(ctx context.Context, v domain.Violation, at time.Time) error
}

// MismatchStore flags settlements for manual review.
type MismatchStore interface {
	SaveMismatch(ctx context.Context, m domain.Mismatch, at time.Time) error
}

// ExtremeStore keeps the running daily high/low per station.
type ExtremeStore interface {
	// RecordObservation folds one reading into the station's extreme for date.
	RecordObservation(ctx context.Context, station string, date time.Time, value float64, at time.Time) (domain.DailyExtreme, error)
	DailyExtreme(ctx context.Context, station string, date time.Time) (domain.DailyExtreme, bool, error)
}

// RollingState is the persisted rolling profit-take trigger of a session.
type RollingState struct {
	Session       string
	NextThreshold domain.Cents
	RealizedPnL   domain.Cents
	Fired         int
	LastFiredAt   *time.Time
}

// RollingStore persists the rolling profit-take trigger so a restart does not re-arm it.
type RollingStore interface {
	RollingState(ctx context.Context, session string) (RollingState, bool, error)
	SaveRollingState(ctx context.Context, st RollingState) error
}

// BreakerStore persists the loss circuit breaker.
type BreakerStore interface {
	CircuitBreaker(ctx context.Context) (domain.CircuitBreaker, error)
	SaveCircuitBreaker(ctx context.Context, cb domain.CircuitBreaker) error
}

// Journal is the append-only record of every signal outcome.
type Journal interface {
	Record(ctx context.Context, res domain.SignalResult, at time.Time) error
}
