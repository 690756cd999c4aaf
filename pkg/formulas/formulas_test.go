package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func risingSeries(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestCalculateRSI(t *testing.T) {
	t.Run("insufficient data", func(t *testing.T) {
		assert.Nil(t, CalculateRSI([]float64{1, 2, 3}, 14))
	})

	t.Run("monotonic rise saturates high", func(t *testing.T) {
		rsi := CalculateRSI(risingSeries(40, 100, 1), 14)
		require.NotNil(t, rsi)
		assert.Greater(t, *rsi, 95.0)
	})

	t.Run("monotonic fall saturates low", func(t *testing.T) {
		rsi := CalculateRSI(risingSeries(40, 200, -1), 14)
		require.NotNil(t, rsi)
		assert.Less(t, *rsi, 5.0)
	})
}

func TestSMA(t *testing.T) {
	assert.Nil(t, SMA([]float64{1, 2}, 5))

	sma := SMA([]float64{1, 2, 3, 4, 5, 6}, 3)
	require.NotNil(t, sma)
	assert.InDelta(t, 5.0, *sma, 1e-9)
}

func TestPercentChange(t *testing.T) {
	closes := []float64{100, 101, 102, 103, 104, 110}
	assert.InDelta(t, 10.0, PercentChange(closes, 5), 1e-9)
	assert.Equal(t, 0.0, PercentChange(closes, 10))
	assert.Equal(t, 0.0, PercentChange([]float64{0, 5}, 1))
}

func TestCalculateReturns(t *testing.T) {
	returns := CalculateReturns([]float64{100, 110, 99})
	require.Len(t, returns, 2)
	assert.InDelta(t, 0.10, returns[0], 1e-9)
	assert.InDelta(t, -0.10, returns[1], 1e-9)
	assert.Empty(t, CalculateReturns([]float64{100}))
}

func TestAnnualizedVolatility(t *testing.T) {
	assert.Equal(t, 0.0, AnnualizedVolatility([]float64{0.01}))

	returns := []float64{0.01, -0.01, 0.01, -0.01}
	expected := StdDev(returns) * math.Sqrt(252)
	assert.InDelta(t, expected, AnnualizedVolatility(returns), 1e-12)
}

func TestBeta(t *testing.T) {
	bench := []float64{0.01, -0.02, 0.015, -0.005, 0.02}

	t.Run("double leverage", func(t *testing.T) {
		asset := make([]float64, len(bench))
		for i, r := range bench {
			asset[i] = 2 * r
		}
		assert.InDelta(t, 2.0, Beta(asset, bench), 1e-9)
	})

	t.Run("flat benchmark defaults to one", func(t *testing.T) {
		assert.Equal(t, 1.0, Beta([]float64{0.1, 0.2, 0.3}, []float64{0, 0, 0}))
	})

	t.Run("aligns on most recent values", func(t *testing.T) {
		asset := append([]float64{0.5, 0.5}, bench...)
		assert.InDelta(t, 1.0, Beta(asset, bench), 1e-9)
	})
}
