package trading

import (
	"context"
	"errors"
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

type fakeErrorCounter struct{ n int }

func (f *fakeErrorCounter) ConsecutiveErrors() int { return f.n }

// Wednesday 2025-03-12 11:00 in New York
var safetyNow = time.Date(2025, time.March, 12, 15, 0, 0, 0, time.UTC)

func newSafety(t *testing.T, trades domain.TradeRepository, health *fakeErrorCounter) *SafetyService {
	t.Helper()
	cal, err := market_hours.NewMarketHoursService(config.DefaultPolicy().MarketHours)
	require.NoError(t, err)
	return NewSafetyService(trades, cal, health, config.DefaultPolicy().Safety, zerolog.New(nil).Level(zerolog.Disabled))
}

func buyRequest(agent *domain.Agent, qty, price float64) TradeRequest {
	return TradeRequest{Now: safetyNow, Agent: agent, Action: domain.ActionBuy, Symbol: "AAPL", Quantity: qty, Price: price}
}

func TestSafety_ApprovesOrdinaryBuy(t *testing.T) {
	agent := testingpkg.NewAgentFixture("alpha", domain.StrategyMomentum)
	svc := newSafety(t, testingpkg.NewMockTradeRepository(), &fakeErrorCounter{})

	v := svc.Validate(context.Background(), buyRequest(&agent, 10, 150))
	assert.True(t, v.Approved)
	assert.NoError(t, v.Err)
	assert.Equal(t, SeverityInfo, v.Severity)
}

func TestSafety_ManualApproval(t *testing.T) {
	agent := testingpkg.NewAgentFixture("alpha", domain.StrategyMomentum)
	svc := newSafety(t, testingpkg.NewMockTradeRepository(), &fakeErrorCounter{})
	svc.SetManualApproval(true)

	v := svc.Validate(context.Background(), buyRequest(&agent, 1, 10))
	assert.False(t, v.Approved)
	assert.Equal(t, CheckManualApproval, v.Check)
	assert.ErrorIs(t, v.Err, domain.ErrValidationRejected)
	assert.True(t, svc.Status().ManualApproval)
}

func TestSafety_TradeCapReportedBeforeInsufficientCash(t *testing.T) {
	agent := testingpkg.NewAgentFixture("alpha", domain.StrategyMomentum)
	agent.CashBalance = 1000
	svc := newSafety(t, testingpkg.NewMockTradeRepository(), &fakeErrorCounter{})

	v := svc.Validate(context.Background(), buyRequest(&agent, 200, 150))
	assert.False(t, v.Approved)
	assert.Equal(t, CheckTradeSize, v.Check)
	assert.ErrorIs(t, v.Err, domain.ErrValidationRejected)
}

func TestSafety_InsufficientFunds(t *testing.T) {
	agent := testingpkg.NewAgentFixture("alpha", domain.StrategyMomentum)
	agent.CashBalance = 1000
	svc := newSafety(t, testingpkg.NewMockTradeRepository(), &fakeErrorCounter{})

	v := svc.Validate(context.Background(), buyRequest(&agent, 10, 150))
	assert.False(t, v.Approved)
	assert.Equal(t, CheckBuyingPower, v.Check)
	assert.ErrorIs(t, v.Err, domain.ErrInsufficientFunds)

	// Exactly covering at cent precision passes
	v = svc.Validate(context.Background(), buyRequest(&agent, 10, 100))
	assert.True(t, v.Approved)
}

func TestSafety_GrowthAllowance(t *testing.T) {
	agent := testingpkg.NewAgentFixture("alpha", domain.StrategyMomentum)
	agent.AccountValue = agent.StartingValue * 10
	svc := newSafety(t, testingpkg.NewMockTradeRepository(), &fakeErrorCounter{})

	v := svc.Validate(context.Background(), buyRequest(&agent, 1, 100))
	assert.False(t, v.Approved)
	assert.Equal(t, CheckBuyingPower, v.Check)
}

func TestSafety_AgentDailyLoss(t *testing.T) {
	agent := testingpkg.NewAgentFixture("alpha", domain.StrategyMomentum)
	loss := -1200.0
	trades := testingpkg.NewMockTradeRepository(domain.Trade{
		AgentID: "alpha", Symbol: "AAPL", Action: domain.ActionSell, Quantity: 10, Price: 90,
		RealizedPnL: &loss, ExecutedAt: safetyNow.Add(-time.Hour),
	})
	svc := newSafety(t, trades, &fakeErrorCounter{})

	v := svc.Validate(context.Background(), TradeRequest{Now: safetyNow, Agent: &agent, Action: domain.ActionSellShort, Symbol: "TSLA", Quantity: 1, Price: 100})
	assert.False(t, v.Approved)
	assert.Equal(t, CheckAgentDailyLoss, v.Check)

	// Yesterday's loss does not count toward today
	old := testingpkg.NewMockTradeRepository(domain.Trade{
		AgentID: "alpha", Symbol: "AAPL", Action: domain.ActionSell, Quantity: 10, Price: 90,
		RealizedPnL: &loss, ExecutedAt: safetyNow.Add(-24 * time.Hour),
	})
	svc = newSafety(t, old, &fakeErrorCounter{})
	v = svc.Validate(context.Background(), buyRequest(&agent, 1, 100))
	assert.True(t, v.Approved)
}

func TestSafety_PatternDayTrading(t *testing.T) {
	agent := testingpkg.NewAgentFixture("alpha", domain.StrategyMomentum)
	trades := testingpkg.NewMockTradeRepository()
	zero := 0.0
	for _, sym := range []string{"AAPL", "MSFT", "NVDA"} {
		_, _ = trades.CreateTrade(&domain.Trade{AgentID: "alpha", Symbol: sym, Action: domain.ActionBuy, Quantity: 1, Price: 10, ExecutedAt: safetyNow.Add(-3 * time.Hour)})
		_, _ = trades.CreateTrade(&domain.Trade{AgentID: "alpha", Symbol: sym, Action: domain.ActionSell, Quantity: 1, Price: 10, RealizedPnL: &zero, ExecutedAt: safetyNow.Add(-2 * time.Hour)})
	}
	svc := newSafety(t, trades, &fakeErrorCounter{})

	v := svc.Validate(context.Background(), buyRequest(&agent, 1, 100))
	assert.False(t, v.Approved)
	assert.Equal(t, CheckDayTrades, v.Check)

	// Closing trades are not subject to the day-trade limit
	v = svc.Validate(context.Background(), TradeRequest{Now: safetyNow, Agent: &agent, Action: domain.ActionSell, Symbol: "AAPL", Quantity: 1, Price: 100})
	assert.True(t, v.Approved)
}

func TestSafety_SystemLossHaltsEveryAgent(t *testing.T) {
	trades := testingpkg.NewMockTradeRepository()
	trades.SetSystemPnLOffset(-3200)
	svc := newSafety(t, trades, &fakeErrorCounter{})

	halts := 0
	svc.OnHalt(func(string) { halts++ })

	for _, id := range []string{"alpha", "beta", "gamma"} {
		agent := testingpkg.NewAgentFixture(id, domain.StrategyValue)
		v := svc.Validate(context.Background(), buyRequest(&agent, 1, 100))
		assert.False(t, v.Approved, id)
		assert.True(t, v.IsSystemHalt(), id)
		assert.Equal(t, SeverityCritical, v.Severity)
	}

	assert.True(t, svc.IsHalted())
	assert.Equal(t, 1, halts)

	// The halt stays latched even after losses recover
	trades.SetSystemPnLOffset(0)
	agent := testingpkg.NewAgentFixture("delta", domain.StrategyValue)
	v := svc.Validate(context.Background(), buyRequest(&agent, 1, 100))
	assert.ErrorIs(t, v.Err, domain.ErrSystemHalt)
	assert.Equal(t, CheckManualApproval, v.Check)

	svc.ResetHalt()
	assert.False(t, svc.IsHalted())
	v = svc.Validate(context.Background(), buyRequest(&agent, 1, 100))
	assert.True(t, v.Approved)
}

func TestSafety_APIErrorsHalt(t *testing.T) {
	agent := testingpkg.NewAgentFixture("alpha", domain.StrategyMomentum)
	health := &fakeErrorCounter{n: 5}
	svc := newSafety(t, testingpkg.NewMockTradeRepository(), health)

	v := svc.Validate(context.Background(), buyRequest(&agent, 1, 100))
	assert.Equal(t, CheckAPIHealth, v.Check)
	assert.True(t, v.IsSystemHalt())
	assert.True(t, svc.Status().Halted)
	assert.NotNil(t, svc.Status().HaltedAt)
}

func TestSafety_RiskReducingMode(t *testing.T) {
	agent := testingpkg.NewAgentFixture("alpha", domain.StrategyMomentum)
	agent.CashBalance = 0
	trades := testingpkg.NewMockTradeRepository()
	trades.SetError(errors.New("ledger locked"))
	health := &fakeErrorCounter{}
	svc := newSafety(t, trades, health)

	exit := TradeRequest{Now: safetyNow, Agent: &agent, Action: domain.ActionSell, Symbol: "AAPL", Quantity: 1000, Price: 100, RiskReducing: true}

	// Size cap and ledger checks do not apply to forced exits
	v := svc.Validate(context.Background(), exit)
	assert.True(t, v.Approved)

	health.n = 7
	v = svc.Validate(context.Background(), exit)
	assert.False(t, v.Approved)
	assert.Equal(t, CheckAPIHealth, v.Check)
}

func TestSafety_LedgerFailureFailsClosed(t *testing.T) {
	agent := testingpkg.NewAgentFixture("alpha", domain.StrategyMomentum)
	trades := testingpkg.NewMockTradeRepository()
	trades.SetError(errors.New("disk I/O error"))
	svc := newSafety(t, trades, &fakeErrorCounter{})

	v := svc.Validate(context.Background(), buyRequest(&agent, 1, 100))
	assert.False(t, v.Approved)
	assert.Equal(t, SeverityCritical, v.Severity)
	assert.Equal(t, CheckAgentDailyLoss, v.Check)
	assert.False(t, svc.IsHalted())
}

func TestSafety_NeverPanics(t *testing.T) {
	svc := newSafety(t, testingpkg.NewMockTradeRepository(), &fakeErrorCounter{})

	var v Verdict
	assert.NotPanics(t, func() {
		v = svc.Validate(context.Background(), TradeRequest{Now: safetyNow, Action: domain.ActionBuy, Symbol: "AAPL", Quantity: 1, Price: 1})
	})
	assert.False(t, v.Approved)
	assert.Equal(t, SeverityCritical, v.Severity)
}

func TestCountDayTrades(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	day := time.Date(2025, time.March, 12, 10, 0, 0, 0, ny)

	trade := func(sym string, action domain.Action, at time.Time) domain.Trade {
		return domain.Trade{Symbol: sym, Action: action, ExecutedAt: at}
	}

	tests := []struct {
		name   string
		trades []domain.Trade
		want   int
	}{
		{"empty", nil, 0},
		{"one round trip", []domain.Trade{trade("AAPL", domain.ActionBuy, day), trade("AAPL", domain.ActionSell, day.Add(time.Hour))}, 1},
		{"overnight hold", []domain.Trade{trade("AAPL", domain.ActionBuy, day), trade("AAPL", domain.ActionSell, day.Add(24*time.Hour))}, 0},
		{"two buys one sell", []domain.Trade{trade("AAPL", domain.ActionBuy, day), trade("AAPL", domain.ActionBuy, day), trade("AAPL", domain.ActionSell, day)}, 1},
		{"short round trip", []domain.Trade{trade("TSLA", domain.ActionSellShort, day), trade("TSLA", domain.ActionBuyToCover, day.Add(time.Hour))}, 1},
		{"different symbols", []domain.Trade{trade("AAPL", domain.ActionBuy, day), trade("MSFT", domain.ActionSell, day)}, 0},
		{"long open and short open", []domain.Trade{trade("AAPL", domain.ActionBuy, day), trade("AAPL", domain.ActionSellShort, day.Add(time.Hour))}, 0},
		{"cover against prior long", []domain.Trade{trade("AAPL", domain.ActionBuy, day), trade("AAPL", domain.ActionBuyToCover, day.Add(time.Hour))}, 0},
		{"long and short round trips", []domain.Trade{
			trade("AAPL", domain.ActionBuy, day),
			trade("AAPL", domain.ActionSellShort, day),
			trade("AAPL", domain.ActionSell, day.Add(time.Hour)),
			trade("AAPL", domain.ActionBuyToCover, day.Add(time.Hour)),
		}, 2},
		// 23:30 UTC on the 12th is still the 12th in New York
		{"exchange calendar day", []domain.Trade{trade("AAPL", domain.ActionBuy, day), trade("AAPL", domain.ActionSell, time.Date(2025, time.March, 12, 23, 30, 0, 0, time.UTC))}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CountDayTrades(tt.trades, ny))
		})
	}
}
