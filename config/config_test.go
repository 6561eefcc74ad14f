package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alejandrodnm/wxbot/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
subjects:
  - code: NYC
    primary: KNYC
    high_series: KXHIGHNY
    low_series: KXLOWTNYC
`

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 0.7, cfg.Estimator.PrimaryWeight)
	assert.Len(t, cfg.Estimator.Schedule.High, 5)
	assert.Equal(t, 18, cfg.LockIn.HighCutoffHour)
	assert.Equal(t, 3.0, cfg.Sanity.MaxForecastDivergence)
	assert.Equal(t, 0.15, cfg.Edge.MinEdge)
	assert.Equal(t, 0.01, cfg.LockIn.MinEdge)
	assert.Equal(t, 0.10, cfg.Risk.MaxTradePct)
	assert.Equal(t, int64(1000), cfg.Positions.RollingTargetCents)
	assert.Equal(t, 4*time.Minute, cfg.Engine.CycleBudget)
	assert.Equal(t, 12, cfg.Schedule.BoundaryHour)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestParse_Durations(t *testing.T) {
	cfg, err := config.Parse([]byte(minimalYAML + `
engine:
  cycle_budget: 90s
  call_timeout: 2s
`))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Engine.CycleBudget)
	assert.Equal(t, 2*time.Second, cfg.Engine.CallTimeout)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("KALSHI_API_KEY_ID", "key-123")

	cfg, err := config.Parse([]byte(minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "key-123", cfg.API.KalshiKeyID)
}

func TestParse_RejectsInvalid(t *testing.T) {
	_, err := config.Parse([]byte(`subjects: []`))
	assert.Error(t, err)

	_, err = config.Parse([]byte(minimalYAML + `
risk:
  max_trade_pct: 1.5
`))
	assert.Error(t, err)

	_, err = config.Parse([]byte(minimalYAML + `
estimator:
  schedule:
    high:
      - {from_hour: 12, observation_weight: 0.5, confidence: 0.7}
      - {from_hour: 10, observation_weight: 0.3, confidence: 0.6}
`))
	assert.Error(t, err)
}

func TestSubjectConfig_Domain(t *testing.T) {
	cfg, err := config.Parse([]byte(minimalYAML))
	require.NoError(t, err)

	s, err := cfg.Subjects[0].Domain()
	require.NoError(t, err)
	assert.Equal(t, "NYC", s.Code)
	assert.Equal(t, "America/New_York", s.Location.String())
	assert.Equal(t, "KXLOWTNYC", s.Series("low"))
}

func TestLoad_ShippedConfig(t *testing.T) {
	path, err := filepath.Abs("config.yaml")
	require.NoError(t, err)
	if _, err := os.Stat(path); err != nil {
		t.Skip("config.yaml not present")
	}
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Subjects, 6)
	assert.Equal(t, 2.5, cfg.Subjects[2].Bias.High)
}
