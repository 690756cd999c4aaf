package marketdata

import (
	"context"
	"errors"
	"testing"

	testingpkg "github.com/aristath/arena/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func series(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestComputeTechnicals(t *testing.T) {
	closes := series(60, 100, 1)
	tech := ComputeTechnicals("AAPL", 160, closes, nil)

	assert.Equal(t, 160.0, tech.Price)
	require.NotNil(t, tech.SMA20)
	require.NotNil(t, tech.SMA50)
	require.NotNil(t, tech.RSI14)
	assert.Greater(t, *tech.SMA20, *tech.SMA50)
	assert.Greater(t, *tech.RSI14, 70.0)
	assert.InDelta(t, (160.0-155.0)/155.0*100, tech.WeekChangePct, 1e-9)
	assert.Greater(t, tech.Volatility, 0.0)
	assert.Equal(t, 1.0, tech.Beta)
}

func TestComputeTechnicals_ShortHistory(t *testing.T) {
	tech := ComputeTechnicals("NEW", 0, []float64{10, 11}, nil)

	assert.Equal(t, 11.0, tech.Price)
	assert.Nil(t, tech.SMA20)
	assert.Nil(t, tech.SMA50)
	assert.Nil(t, tech.RSI14)
	assert.Zero(t, tech.WeekChangePct)
}

func TestBuildSnapshot(t *testing.T) {
	md := testingpkg.NewMockMarketData(map[string]float64{"AAPL": 160, "SPY": 500, "MSFT": 400})
	md.Closes["AAPL"] = series(60, 100, 1)
	md.Closes["SPY"] = series(60, 440, 1)
	md.Errs["MSFT"] = errors.New("upstream 502")

	svc := NewService(md, zerolog.New(nil).Level(zerolog.Disabled))
	snap, err := svc.BuildSnapshot(context.Background(), []string{"aapl", "MSFT", "AAPL"}, "SPY")
	require.NoError(t, err)

	assert.Len(t, snap.Quotes, 2)
	assert.Contains(t, snap.Quotes, "AAPL")
	assert.Contains(t, snap.Quotes, "SPY")
	assert.NotContains(t, snap.Quotes, "MSFT")

	price, ok := snap.Price("AAPL")
	require.True(t, ok)
	assert.Equal(t, 160.0, price)
	assert.NotNil(t, snap.Technicals["AAPL"].SMA50)
	assert.Equal(t, 3, md.QuoteCalls())
}

func TestBuildSnapshot_NothingQuoted(t *testing.T) {
	md := testingpkg.NewMockMarketData(map[string]float64{})
	svc := NewService(md, zerolog.New(nil).Level(zerolog.Disabled))

	_, err := svc.BuildSnapshot(context.Background(), []string{"AAPL"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no quotes")
}

func TestBuildSnapshot_Cancelled(t *testing.T) {
	md := testingpkg.NewMockMarketData(map[string]float64{"AAPL": 1})
	svc := NewService(md, zerolog.New(nil).Level(zerolog.Disabled))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.BuildSnapshot(ctx, []string{"AAPL"}, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMergeSymbols(t *testing.T) {
	got := MergeSymbols([]string{"msft", " AAPL "}, nil, []string{"aapl", "", "SPY"})
	assert.Equal(t, []string{"AAPL", "MSFT", "SPY"}, got)
}
