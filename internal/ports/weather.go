package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/wxbot/internal/domain"
)

// WeatherProvider is the read-only source of observations and forecasts.
// Results may be stale or missing; absence is reported as domain.ErrDataUnavailable.
type WeatherProvider interface {
	// LatestObservation returns the most recent reading of a station.
	LatestObservation(ctx context.Context, station string) (domain.Observation, error)

	// Forecast returns the latest forecast of the subject's high or low for date.
	Forecast(ctx context.Context, subject domain.Subject, period domain.Period, date time.Time) (domain.Forecast, error)
}
