package nws

import "time"

// DTOs raw de api.weather.gov. La conversión a domain se hace en weather.go.

// quantity es un valor con unidad ("wmoUnit:degC"); Value es nulo si la estación no lo reporta.
type quantity struct {
	UnitCode string   `json:"unitCode"`
	Value    *float64 `json:"value"`
}

// observationResponse es GET /stations/{id}/observations/latest.
type observationResponse struct {
	Properties struct {
		Station     string    `json:"station"`
		Timestamp   time.Time `json:"timestamp"`
		Temperature quantity  `json:"temperature"`
	} `json:"properties"`
}

// pointResponse es GET /points/{lat},{lon}.
type pointResponse struct {
	Properties struct {
		Forecast string `json:"forecast"`
		TimeZone string `json:"timeZone"`
	} `json:"properties"`
}

// forecastResponse es el pronóstico de 12 h por periodo (día / noche).
type forecastResponse struct {
	Properties struct {
		UpdateTime  time.Time        `json:"updateTime"`
		GeneratedAt time.Time        `json:"generatedAt"`
		Periods     []forecastPeriod `json:"periods"`
	} `json:"properties"`
}

type forecastPeriod struct {
	Number          int       `json:"number"`
	Name            string    `json:"name"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	IsDaytime       bool      `json:"isDaytime"`
	Temperature     *float64  `json:"temperature"`
	TemperatureUnit string    `json:"temperatureUnit"`
	ShortForecast   string    `json:"shortForecast"`
}
