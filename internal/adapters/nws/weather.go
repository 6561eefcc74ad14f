// Package nws implements ports.WeatherProvider over api.weather.gov: latest
// station observations and the 12-hour point forecast.
package nws

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/alejandrodnm/wxbot/internal/domain"
)

// LatestObservation returns the latest temperature of a station in °F.
func (c *Client) LatestObservation(ctx context.Context, station string) (domain.Observation, error) {
	u := fmt.Sprintf("%s/stations/%s/observations/latest", c.base, url.PathEscape(station))
	var resp observationResponse
	if err := c.get(ctx, u, &resp); err != nil {
		if isNotFound(err) {
			return domain.Observation{}, fmt.Errorf("nws.LatestObservation: %s: %w", station, domain.ErrDataUnavailable)
		}
		return domain.Observation{}, fmt.Errorf("nws.LatestObservation: %s: %w", station, err)
	}

	p := resp.Properties
	f, ok := fahrenheit(p.Temperature)
	if !ok || p.Timestamp.IsZero() {
		return domain.Observation{}, fmt.Errorf("nws.LatestObservation: %s: no temperature: %w", station, domain.ErrDataUnavailable)
	}
	return domain.Observation{
		Station:    station,
		Value:      f,
		ObservedAt: p.Timestamp,
	}, nil
}

// Forecast returns the forecast high or low of date in the subject's time
// zone. The high is the daytime period starting on date; the low is the
// overnight period ending on the morning of date.
func (c *Client) Forecast(ctx context.Context, s domain.Subject, period domain.Period, date time.Time) (domain.Forecast, error) {
	forecastURL, err := c.forecastURL(ctx, s)
	if err != nil {
		return domain.Forecast{}, fmt.Errorf("nws.Forecast: %s: %w", s.Code, err)
	}

	var resp forecastResponse
	if err := c.get(ctx, forecastURL, &resp); err != nil {
		return domain.Forecast{}, fmt.Errorf("nws.Forecast: %s: %w", s.Code, err)
	}

	day := s.Day(date)
	for _, fp := range resp.Properties.Periods {
		if fp.Temperature == nil || fp.IsDaytime != (period == domain.PeriodHigh) {
			continue
		}
		anchor := fp.StartTime
		if period == domain.PeriodLow {
			anchor = fp.EndTime
		}
		if !s.Day(anchor).Equal(day) {
			continue
		}
		issued := resp.Properties.UpdateTime
		if issued.IsZero() {
			issued = resp.Properties.GeneratedAt
		}
		return domain.Forecast{
			Subject:    s.Code,
			TargetDate: day,
			Period:     period,
			Value:      periodFahrenheit(*fp.Temperature, fp.TemperatureUnit),
			IssuedAt:   issued,
		}, nil
	}
	return domain.Forecast{}, fmt.Errorf("nws.Forecast: %s %s %s: no matching period: %w",
		s.Code, period, domain.DateKey(day), domain.ErrDataUnavailable)
}

// forecastURL resolves the gridpoint forecast URL of the subject once.
func (c *Client) forecastURL(ctx context.Context, s domain.Subject) (string, error) {
	if s.Lat == 0 && s.Lon == 0 {
		return "", fmt.Errorf("no coordinates: %w", domain.ErrDataUnavailable)
	}
	key := fmt.Sprintf("%.4f,%.4f", s.Lat, s.Lon)

	c.mu.Lock()
	cached, ok := c.points[key]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	var resp pointResponse
	if err := c.get(ctx, fmt.Sprintf("%s/points/%s", c.base, key), &resp); err != nil {
		return "", fmt.Errorf("points: %w", err)
	}
	if resp.Properties.Forecast == "" {
		return "", fmt.Errorf("points %s: no forecast url: %w", key, domain.ErrDataUnavailable)
	}

	c.mu.Lock()
	c.points[key] = resp.Properties.Forecast
	c.mu.Unlock()
	return resp.Properties.Forecast, nil
}

// fahrenheit converts an observation quantity to °F, rounded to a tenth.
func fahrenheit(q quantity) (float64, bool) {
	if q.Value == nil {
		return 0, false
	}
	v := *q.Value
	if !strings.HasSuffix(q.UnitCode, "degF") {
		v = v*9/5 + 32
	}
	return math.Round(v*10) / 10, true
}

func periodFahrenheit(v float64, unit string) float64 {
	if strings.EqualFold(unit, "C") {
		return math.Round((v*9/5+32)*10) / 10
	}
	return v
}
