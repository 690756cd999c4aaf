package sizing

import (
	"math"
	"strings"
	"testing"

	"github.com/aristath/arena/internal/config"
	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSizer() *KellySizer {
	p := config.DefaultPolicy()
	return NewKellySizer(p.Sizing, p.MarketAdjust, zerolog.New(nil).Level(zerolog.Disabled))
}

func coldStartInputs() Inputs {
	return Inputs{
		RiskTolerance:   domain.RiskModerate,
		Cash:            10000,
		AccountValue:    10000,
		Confidence:      80,
		StockVolatility: 0.20,
		Price:           150,
	}
}

func TestCalculate_ColdStartFallback(t *testing.T) {
	res := newSizer().Calculate(coldStartInputs())

	// 0.8 x 0.15 x 10000 before adjustments
	assert.InDelta(t, 0.12, res.KellyFraction, 1e-9)
	assert.InDelta(t, 1200.0, res.KellyFraction*10000, 1e-6)
	assert.Contains(t, res.Reasoning[0], "fallback Kelly")

	// 0.12 x 0.86 x 1.0 x 1.1 x 0.75
	require.False(t, res.IsNoTrade())
	assert.InDelta(t, 851.40, res.PositionSize, 0.01)
	assert.Equal(t, math.Floor(res.PositionSize/150), res.Quantity)
	assert.Equal(t, 5.0, res.Quantity)
}

func TestCalculate_ColdStartBound(t *testing.T) {
	sizer := newSizer()
	for conf := 0.0; conf <= 100; conf += 5 {
		in := coldStartInputs()
		in.Confidence = conf
		res := sizer.Calculate(in)
		assert.LessOrEqual(t, res.KellyFraction, 0.15*conf/100+1e-12, "confidence %.0f", conf)
	}
}

func TestCalculate_HistoricalKelly(t *testing.T) {
	tests := []struct {
		name      string
		history   domain.HistoricalPerformance
		wantKelly float64
		noTrade   bool
	}{
		{
			name:      "positive edge",
			history:   domain.HistoricalPerformance{WinRate: 0.6, AvgWinPct: 10, AvgLossPct: 5, SampleSize: 20},
			wantKelly: (0.6*2 - 0.4) / 2,
		},
		{
			name:      "negative edge",
			history:   domain.HistoricalPerformance{WinRate: 0.3, AvgWinPct: 5, AvgLossPct: 5, SampleSize: 20},
			wantKelly: -0.4,
			noTrade:   true,
		},
		{
			name:      "small sample falls back",
			history:   domain.HistoricalPerformance{WinRate: 0.9, AvgWinPct: 20, AvgLossPct: 1, SampleSize: 9},
			wantKelly: 0.12,
		},
		{
			name:      "no wins is a negative edge",
			history:   domain.HistoricalPerformance{WinRate: 0, AvgWinPct: 0, AvgLossPct: 5, SampleSize: 12},
			wantKelly: -1,
			noTrade:   true,
		},
		{
			name:      "no losses uses win rate",
			history:   domain.HistoricalPerformance{WinRate: 1, AvgWinPct: 8, AvgLossPct: 0, SampleSize: 12},
			wantKelly: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := coldStartInputs()
			in.History = tt.history
			res := newSizer().Calculate(in)

			assert.InDelta(t, tt.wantKelly, res.KellyFraction, 1e-9)
			assert.Equal(t, tt.noTrade, res.IsNoTrade())
			if tt.noTrade {
				assert.Contains(t, res.Reasoning[len(res.Reasoning)-1], "negative edge")
			}
			if tt.history.SampleSize >= 10 {
				assert.NotContains(t, res.Reasoning[0], "insufficient history")
			}
		})
	}
}

func TestCalculate_Adjustments(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Inputs)
		wantSize float64
	}{
		{"high volatility halves", func(in *Inputs) { in.StockVolatility = 0.60 }, 851.40 * 0.5},
		{"low volatility boosts", func(in *Inputs) { in.StockVolatility = 0.10 }, 851.40 * 1.2},
		{"portfolio volatility used when larger", func(in *Inputs) { in.PortfolioVolatility = 0.60 }, 851.40 * 0.5},
		{"eight positions", func(in *Inputs) { in.OpenPositions = 8 }, 851.40 / 1.1 * 0.7},
		{"five positions", func(in *Inputs) { in.OpenPositions = 5 }, 851.40 / 1.1 * 0.85},
		{"four positions", func(in *Inputs) { in.OpenPositions = 4 }, 851.40 / 1.1},
		{"conservative", func(in *Inputs) { in.RiskTolerance = domain.RiskConservative }, 851.40 / 0.75 * 0.5},
		{"aggressive", func(in *Inputs) { in.RiskTolerance = domain.RiskAggressive }, 851.40 / 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := coldStartInputs()
			tt.mutate(&in)
			res := newSizer().Calculate(in)
			assert.InDelta(t, tt.wantSize, res.PositionSize, 0.02)
		})
	}
}

func TestCalculate_HardConstraints(t *testing.T) {
	t.Run("raised to floor", func(t *testing.T) {
		in := coldStartInputs()
		in.Confidence = 10
		res := newSizer().Calculate(in)
		assert.InDelta(t, 500.0, res.PositionSize, 0.01)
		assert.Contains(t, strings.Join(res.Reasoning, "\n"), "raised to minimum")
	})

	t.Run("capped at max percent", func(t *testing.T) {
		in := coldStartInputs()
		in.History = domain.HistoricalPerformance{WinRate: 0.8, AvgWinPct: 20, AvgLossPct: 2, SampleSize: 50}
		in.RiskTolerance = domain.RiskAggressive
		in.Confidence = 100
		res := newSizer().Calculate(in)
		assert.InDelta(t, 2500.0, res.PositionSize, 0.01)
	})

	t.Run("capped at cash", func(t *testing.T) {
		in := coldStartInputs()
		in.Cash = 600
		in.Confidence = 100
		in.RiskTolerance = domain.RiskAggressive
		res := newSizer().Calculate(in)
		assert.InDelta(t, 600.0, res.PositionSize, 0.001)
		assert.InDelta(t, 0.06, res.AdjustedKelly, 1e-9)
		assert.Equal(t, 4.0, res.Quantity)
	})

	t.Run("cash below floor", func(t *testing.T) {
		in := coldStartInputs()
		in.Cash = 300
		res := newSizer().Calculate(in)
		assert.True(t, res.IsNoTrade())
		assert.Contains(t, res.Reasoning[len(res.Reasoning)-1], "insufficient funds")
	})

	t.Run("price above position size", func(t *testing.T) {
		in := coldStartInputs()
		in.Price = 5000
		res := newSizer().Calculate(in)
		assert.True(t, res.IsNoTrade())
		assert.Zero(t, res.Quantity)
	})
}

func TestCalculate_ResultBand(t *testing.T) {
	sizer := newSizer()
	cashes := []float64{0, 250, 499.99, 500, 800, 2500, 10000}
	confidences := []float64{0, 20, 55, 80, 100}
	tiers := []domain.RiskTolerance{domain.RiskConservative, domain.RiskModerate, domain.RiskAggressive}
	histories := []domain.HistoricalPerformance{
		{},
		{WinRate: 0.55, AvgWinPct: 6, AvgLossPct: 4, SampleSize: 30},
		{WinRate: 0.9, AvgWinPct: 30, AvgLossPct: 2, SampleSize: 30},
		{WinRate: 0.2, AvgWinPct: 3, AvgLossPct: 6, SampleSize: 30},
	}

	for _, cash := range cashes {
		for _, conf := range confidences {
			for _, tier := range tiers {
				for _, h := range histories {
					in := Inputs{
						RiskTolerance: tier, History: h, Cash: cash, AccountValue: 10000,
						Confidence: conf, StockVolatility: 0.35, Price: 20, OpenPositions: 3,
					}
					for _, res := range []domain.PositionSizeResult{
						sizer.Calculate(in),
						sizer.ApplyMarketConditions(sizer.Calculate(in), in, MarketConditions{Regime: domain.RegimeBearish, VolatilityIndex: 40, PortfolioBeta: 2}),
					} {
						if res.IsNoTrade() {
							assert.Zero(t, res.Quantity)
							continue
						}
						assert.GreaterOrEqual(t, res.PositionSize, 500-0.01)
						assert.LessOrEqual(t, res.PositionSize, 2500+0.01)
						assert.LessOrEqual(t, res.PositionSize, cash+0.001)
					}
				}
			}
		}
	}
}

func TestApplyMarketConditions(t *testing.T) {
	sizer := newSizer()
	in := coldStartInputs()
	base := sizer.Calculate(in)

	tests := []struct {
		name     string
		mc       MarketConditions
		wantSize float64
	}{
		{"bullish calm", MarketConditions{Regime: domain.RegimeBullish, VolatilityIndex: 14, PortfolioBeta: 1}, 851.40},
		{"neutral", MarketConditions{Regime: domain.RegimeNeutral, VolatilityIndex: 14, PortfolioBeta: 1}, 851.40 * 0.85},
		{"elevated volatility", MarketConditions{Regime: domain.RegimeBullish, VolatilityIndex: 22, PortfolioBeta: 1}, 851.40 * 0.85},
		{"high beta", MarketConditions{Regime: domain.RegimeBullish, VolatilityIndex: 14, PortfolioBeta: 1.4}, 851.40 * 0.85},
		{"everything bad hits the floor", MarketConditions{Regime: domain.RegimeBearish, VolatilityIndex: 30, PortfolioBeta: 1.5}, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := sizer.ApplyMarketConditions(base, in, tt.mc)
			assert.InDelta(t, tt.wantSize, res.PositionSize, 0.02)
			assert.Greater(t, len(res.Reasoning), len(base.Reasoning))
		})
	}

	t.Run("no trade stays no trade", func(t *testing.T) {
		zero := domain.PositionSizeResult{}
		res := sizer.ApplyMarketConditions(zero, in, MarketConditions{Regime: domain.RegimeBullish})
		assert.True(t, res.IsNoTrade())
	})
}
