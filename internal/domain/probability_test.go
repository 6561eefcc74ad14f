package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalCDF(t *testing.T) {
	assert.InDelta(t, 0.5, NormalCDF(70, 70, 2), 1e-9)
	assert.InDelta(t, 0.8413, NormalCDF(72, 70, 2), 1e-4)
	assert.Equal(t, 0.0, NormalCDF(math.Inf(-1), 70, 2))
	assert.Equal(t, 1.0, NormalCDF(math.Inf(1), 70, 2))
}

func TestBracketProbability_ExhaustiveBracketsSumToOne(t *testing.T) {
	est := DistributionEstimate{Mean: 41.3, StdDev: 1.8}
	brackets := []Bracket{
		{Floor: math.Inf(-1), Cap: 37.5},
		{Floor: 37.5, Cap: 39.5},
		{Floor: 39.5, Cap: 41.5},
		{Floor: 41.5, Cap: 43.5},
		{Floor: 43.5, Cap: math.Inf(1)},
	}
	var sum float64
	for _, b := range brackets {
		p := BracketProbability(est, b)
		assert.GreaterOrEqual(t, p, 0.0)
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestBracketProbability_OpenTails(t *testing.T) {
	est := DistributionEstimate{Mean: 50, StdDev: 2}
	assert.InDelta(t, 0.5, BracketProbability(est, Bracket{Floor: 50, Cap: math.Inf(1)}), 1e-9)
	assert.InDelta(t, 0.5, BracketProbability(est, Bracket{Floor: math.Inf(-1), Cap: 50}), 1e-9)
}

func TestCentsProbabilityIsExact(t *testing.T) {
	assert.Equal(t, 0.37, Cents(37).Probability())
	assert.Equal(t, "$153.00", Cents(15300).String())
	assert.Equal(t, "-$2.00", Cents(-200).String())
}

// --- Tickers ---

func TestEventTicker(t *testing.T) {
	d, err := ParseEventDate("KXHIGHNY-26FEB15-B36.5", nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-15", DateKey(d))
	assert.Equal(t, "KXHIGHNY-26FEB15", EventTicker("KXHIGHNY", d))

	_, err = ParseEventDate("KXHIGHNY", nil)
	assert.Error(t, err)
}
