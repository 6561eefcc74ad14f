// Package breaker wraps the read side of the weather provider and the
// exchange in circuit breakers. Order submission and order lookup are never
// short-circuited: an ambiguous order must always be checkable.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/alejandrodnm/wxbot/internal/domain"
	"github.com/alejandrodnm/wxbot/internal/ports"
)

// Settings configures a breaker. Zero values use 5 consecutive failures and
// a 60s open period.
type Settings struct {
	MaxFailures uint32
	Timeout     time.Duration
}

func newBreaker(name string, s Settings) *gobreaker.CircuitBreaker {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.Timeout <= 0 {
		s.Timeout = 60 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: 5 * time.Minute,
		Timeout:  s.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= s.MaxFailures
		},
		// Ausencia de datos no es un fallo del servicio.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domain.ErrDataUnavailable) ||
				errors.Is(err, domain.ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("breaker: state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
}

// execute runs fn through cb and types the result.
func execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	out, err := cb.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		var zero T
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("breaker %s: %w", cb.Name(), err)
		}
		return zero, err
	}
	return out.(T), nil
}

// Weather is a ports.WeatherProvider behind a breaker. An open breaker reads
// as missing data, so the subject is skipped for the cycle.
type Weather struct {
	next ports.WeatherProvider
	cb   *gobreaker.CircuitBreaker
}

// NewWeather wraps next.
func NewWeather(next ports.WeatherProvider, s Settings) *Weather {
	return &Weather{next: next, cb: newBreaker("weather", s)}
}

func (w *Weather) LatestObservation(ctx context.Context, station string) (domain.Observation, error) {
	obs, err := execute(w.cb, func() (domain.Observation, error) {
		return w.next.LatestObservation(ctx, station)
	})
	return obs, unavailable(err)
}

func (w *Weather) Forecast(ctx context.Context, s domain.Subject, p domain.Period, date time.Time) (domain.Forecast, error) {
	f, err := execute(w.cb, func() (domain.Forecast, error) {
		return w.next.Forecast(ctx, s, p, date)
	})
	return f, unavailable(err)
}

// State reports the breaker state for status output.
func (w *Weather) State() string { return w.cb.State().String() }

func unavailable(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errors.Join(err, domain.ErrDataUnavailable)
	}
	return err
}

// Exchange is a ports.Exchange whose reads go through a breaker.
type Exchange struct {
	next ports.Exchange
	cb   *gobreaker.CircuitBreaker
}

// NewExchange wraps next.
func NewExchange(next ports.Exchange, s Settings) *Exchange {
	return &Exchange{next: next, cb: newBreaker("exchange", s)}
}

func (x *Exchange) Quotes(ctx context.Context, s domain.Subject, p domain.Period, date time.Time) ([]domain.Bracket, error) {
	return execute(x.cb, func() ([]domain.Bracket, error) {
		return x.next.Quotes(ctx, s, p, date)
	})
}

func (x *Exchange) Quote(ctx context.Context, ticker string) (domain.Bracket, error) {
	return execute(x.cb, func() (domain.Bracket, error) {
		return x.next.Quote(ctx, ticker)
	})
}

func (x *Exchange) Settlement(ctx context.Context, s domain.Subject, p domain.Period, date time.Time) (domain.Settlement, error) {
	return execute(x.cb, func() (domain.Settlement, error) {
		return x.next.Settlement(ctx, s, p, date)
	})
}

func (x *Exchange) Balance(ctx context.Context) (domain.Cents, error) {
	return execute(x.cb, func() (domain.Cents, error) {
		return x.next.Balance(ctx)
	})
}

// SubmitOrder bypasses the breaker.
func (x *Exchange) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return x.next.SubmitOrder(ctx, req)
}

// OrderByClientID bypasses the breaker.
func (x *Exchange) OrderByClientID(ctx context.Context, id string) (domain.OrderResult, bool, error) {
	return x.next.OrderByClientID(ctx, id)
}

// State reports the breaker state for status output.
func (x *Exchange) State() string { return x.cb.State().String() }
