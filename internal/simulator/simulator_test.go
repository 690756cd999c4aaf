package simulator

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/aristath/arena/internal/config"
	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/modules/market_hours"
	testingpkg "github.com/aristath/arena/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSimulator(t *testing.T, prices map[string]float64, at time.Time) (*Simulator, *testingpkg.MockMarketData) {
	t.Helper()

	cal, err := market_hours.NewMarketHoursService(config.DefaultPolicy().MarketHours)
	require.NoError(t, err)

	policy := config.DefaultPolicy().Simulator
	policy.LatencyMin = 0
	policy.LatencyMax = 0

	md := testingpkg.NewMockMarketData(prices)
	agent := testingpkg.NewAgentFixture("a1", domain.StrategyMomentum)
	sim := New(md, cal, testingpkg.NewMockAgentRepository(agent), testingpkg.NewMockPositionRepository(), policy, zerolog.New(nil).Level(zerolog.Disabled))
	sim.now = func() time.Time { return at }
	sim.SetRandSource(rand.NewSource(7))
	return sim, md
}

func marketTime(t *testing.T, hour, minute int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// Wednesday
	return time.Date(2025, time.March, 12, hour, minute, 0, 0, loc)
}

func TestSubmit_MarketClosedRejectsWithoutQuoting(t *testing.T) {
	sim, md := newTestSimulator(t, map[string]float64{"AAPL": 150}, marketTime(t, 3, 0))

	res := sim.SubmitBuy(context.Background(), "AAPL", 10, "a1")

	assert.False(t, res.Success)
	assert.Equal(t, domain.OrderRejected, res.OrderStatus)
	assert.Contains(t, res.Error, "market closed")
	assert.Equal(t, 0, md.QuoteCalls())
	assert.False(t, sim.IsMarketOpen(context.Background()))
}

func TestSubmit_LargeOrderPartiallyFills(t *testing.T) {
	for seed := int64(1); seed <= 25; seed++ {
		sim, _ := newTestSimulator(t, map[string]float64{"MSFT": 100}, marketTime(t, 11, 0))
		sim.SetRandSource(rand.NewSource(seed))

		res := sim.SubmitBuy(context.Background(), "MSFT", 800, "a1")

		require.True(t, res.Success, "seed %d: %s", seed, res.Error)
		assert.GreaterOrEqual(t, res.ExecutedQuantity, 640.0, "seed %d", seed)
		assert.LessOrEqual(t, res.ExecutedQuantity, 800.0, "seed %d", seed)
		assert.Equal(t, 800.0, res.RequestedQuantity)
	}
}

func TestSubmit_SmallOrderFillsCompletely(t *testing.T) {
	sim, _ := newTestSimulator(t, map[string]float64{"MSFT": 100}, marketTime(t, 11, 0))

	res := sim.SubmitSell(context.Background(), "MSFT", 10, "a1")

	require.True(t, res.Success)
	assert.Equal(t, domain.OrderFilled, res.OrderStatus)
	assert.Equal(t, 10.0, res.ExecutedQuantity)
	assert.Less(t, res.ExecutedPrice, 100.0)
	assert.Equal(t, 100.0, res.ReferencePrice)
	assert.Equal(t, Name, res.Broker)
	assert.Contains(t, res.OrderID, "sim-")
}

func TestSubmit_BuyPaysSpreadWithinTier(t *testing.T) {
	tests := []struct {
		name   string
		symbol string
		price  float64
		bps    float64
	}{
		{"base", "MSFT", 100, 5},
		{"small cap by price", "ABC", 12, 15},
		{"small cap by ticker", "ABCDE", 100, 15},
		{"penny", "XYZ", 3, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim, _ := newTestSimulator(t, map[string]float64{tt.symbol: tt.price}, marketTime(t, 11, 0))

			res := sim.SubmitBuy(context.Background(), tt.symbol, 1, "a1")

			require.True(t, res.Success)
			spreadBps := (res.ExecutedPrice - tt.price) / tt.price * 10000
			assert.GreaterOrEqual(t, spreadBps, tt.bps*0.5-0.5)
			assert.LessOrEqual(t, spreadBps, tt.bps*1.5+0.5)
		})
	}
}

func TestSpreadBps(t *testing.T) {
	policy := config.DefaultPolicy().Simulator

	assert.Equal(t, 25.0, spreadBps("F", 4.99, policy))
	assert.Equal(t, 15.0, spreadBps("F", 19.99, policy))
	assert.Equal(t, 15.0, spreadBps("GOOGL", 150, policy))
	assert.Equal(t, 5.0, spreadBps("AAPL", 150, policy))
}

func TestSubmit_Failures(t *testing.T) {
	sim, _ := newTestSimulator(t, map[string]float64{"AAPL": 150}, marketTime(t, 11, 0))

	res := sim.SubmitBuy(context.Background(), "AAPL", 0, "a1")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "quantity must be positive")

	res = sim.SubmitBuy(context.Background(), "NOPE", 5, "a1")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "failed to get price for NOPE")
}

func TestSubmit_CancelledDuringLatency(t *testing.T) {
	sim, md := newTestSimulator(t, map[string]float64{"AAPL": 150}, marketTime(t, 11, 0))
	sim.policy.LatencyMin = time.Second
	sim.policy.LatencyMax = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := sim.SubmitBuy(ctx, "AAPL", 5, "a1")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "order abandoned")
	assert.Equal(t, 0, md.QuoteCalls())
}

func TestGetAccount_AggregatesSimulatorAgents(t *testing.T) {
	cal, err := market_hours.NewMarketHoursService(config.DefaultPolicy().MarketHours)
	require.NoError(t, err)

	a1 := testingpkg.NewAgentFixture("a1", domain.StrategyMomentum)
	a2 := testingpkg.NewAgentFixture("a2", domain.StrategyValue)
	live := testingpkg.NewAgentFixture("a3", domain.StrategyContrarian)
	live.BrokerKind = domain.BrokerAlpaca

	pos := testingpkg.NewPositionFixture("a2", "TSLA", domain.SideShort, 5, 200)
	sim := New(testingpkg.NewMockMarketData(nil), cal,
		testingpkg.NewMockAgentRepository(a1, a2, live),
		testingpkg.NewMockPositionRepository(pos),
		config.DefaultPolicy().Simulator, zerolog.New(nil).Level(zerolog.Disabled))

	acct, err := sim.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20000.0, acct.CashBalance)
	assert.Equal(t, -5.0, acct.PositionQuantity("TSLA"))

	one, err := sim.AccountFor(context.Background(), "a1")
	require.NoError(t, err)
	assert.Empty(t, one.Positions)

	_, err = sim.AccountFor(context.Background(), "missing")
	assert.Error(t, err)
}
