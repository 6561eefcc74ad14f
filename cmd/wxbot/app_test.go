package main

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/wxbot/config"
	"github.com/alejandrodnm/wxbot/internal/domain"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("KALSHI_PRIVATE_KEY_PATH", "")
	t.Setenv("REDIS_ADDR", "")
	c, err := config.Parse([]byte(`
subjects:
  - code: NYC
    timezone: America/New_York
    primary: KNYC
    high_series: KXHIGHNY
    low_series: KXLOWTNYC
`))
	require.NoError(t, err)
	c.Storage.DSN = filepath.Join(t.TempDir(), "wxbot.db")
	return c
}

func TestNewApp_WiresWithoutCredentials(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t), true)
	require.NoError(t, err)
	defer a.close()

	assert.Len(t, a.subjects, 1)
	assert.Nil(t, a.redis)
	assert.Equal(t, "closed", a.weather.State())
	assert.Equal(t, "closed", a.exchange.State())
}

func TestMetricsMux(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t), true)
	require.NoError(t, err)
	defer a.close()

	a.recorder.SignalOutcome(domain.OutcomeExecuted, "model")
	mux := metricsMux(a)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "wxbot_signals_total")

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "weather=closed exchange=closed")
}

func TestDrawdownIsNegative(t *testing.T) {
	assert.Equal(t, domain.Cents(-5000), drawdown(5000))
	assert.Equal(t, domain.Cents(-5000), drawdown(-5000))
	assert.Equal(t, domain.Cents(0), drawdown(0))
}
