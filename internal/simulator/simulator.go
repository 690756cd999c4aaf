// Package simulator is the fallback execution venue for agents without a
// live brokerage: market-hours gated, with latency, spread and partial fills.
package simulator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/aristath/arena/internal/config"
	"github.com/aristath/arena/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Name is the broker name the simulator reports
const Name = "simulator"

// Spread tiers
const (
	pennyPriceCeiling    = 5.0
	smallCapPriceCeiling = 20.0
	smallCapTickerLength = 5
)

// MarketClock decides whether the simulated venue is open
type MarketClock interface {
	IsMarketOpen(t time.Time) bool
}

// Simulator implements domain.Broker against live quotes
type Simulator struct {
	prices    domain.MarketDataProvider
	clock     MarketClock
	agents    domain.AgentRepository
	positions domain.PositionRepository
	rng       *rand.Rand
	now       func() time.Time
	policy    config.SimulatorPolicy
	log       zerolog.Logger
	rngMu     sync.Mutex
}

// New creates a simulator. agents and positions back GetAccount.
func New(
	prices domain.MarketDataProvider,
	clock MarketClock,
	agents domain.AgentRepository,
	positions domain.PositionRepository,
	policy config.SimulatorPolicy,
	log zerolog.Logger,
) *Simulator {
	return &Simulator{
		prices:    prices,
		clock:     clock,
		agents:    agents,
		positions: positions,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
		policy:    policy,
		log:       log.With().Str("broker", Name).Logger(),
	}
}

// SetRandSource replaces the random source, for reproducible runs
func (s *Simulator) SetRandSource(src rand.Source) {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	s.rng = rand.New(src)
}

// Name returns the broker name
func (s *Simulator) Name() string {
	return Name
}

// SubmitBuy simulates a market buy
func (s *Simulator) SubmitBuy(ctx context.Context, symbol string, quantity float64, agentID string) domain.ExecutionResult {
	return s.execute(ctx, symbol, quantity, agentID, true)
}

// SubmitSell simulates a market sell
func (s *Simulator) SubmitSell(ctx context.Context, symbol string, quantity float64, agentID string) domain.ExecutionResult {
	return s.execute(ctx, symbol, quantity, agentID, false)
}

// IsMarketOpen reports whether the simulated venue accepts orders now
func (s *Simulator) IsMarketOpen(ctx context.Context) bool {
	return s.clock.IsMarketOpen(s.now())
}

// CancelAllOrders is a no-op: simulated fills are immediate
func (s *Simulator) CancelAllOrders(ctx context.Context) error {
	return nil
}

// GetAccount sums the books of every active simulator agent
func (s *Simulator) GetAccount(ctx context.Context) (*domain.BrokerAccount, error) {
	agents, err := s.agents.ListActive()
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	acct := &domain.BrokerAccount{}
	for _, a := range agents {
		if a.BrokerKind != domain.BrokerSimulator {
			continue
		}
		one, err := s.AccountFor(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		acct.CashBalance += one.CashBalance
		acct.AccountValue += one.AccountValue
		acct.Positions = append(acct.Positions, one.Positions...)
	}
	acct.CashBalance = domain.RoundCents(acct.CashBalance)
	acct.AccountValue = domain.RoundCents(acct.AccountValue)
	return acct, nil
}

// AccountFor reports one agent's simulated balances
func (s *Simulator) AccountFor(ctx context.Context, agentID string) (*domain.BrokerAccount, error) {
	agent, err := s.agents.GetAgent(agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent %s: %w", agentID, err)
	}
	if agent == nil {
		return nil, fmt.Errorf("agent %s not found", agentID)
	}

	positions, err := s.positions.ListPositions(agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions for %s: %w", agentID, err)
	}

	acct := &domain.BrokerAccount{
		CashBalance:  agent.CashBalance,
		AccountValue: agent.AccountValue,
	}
	for _, p := range positions {
		qty := p.Quantity
		if p.Side == domain.SideShort {
			qty = -qty
		}
		acct.Positions = append(acct.Positions, domain.BrokerPosition{
			Symbol:       p.Symbol,
			Quantity:     qty,
			AvgPrice:     p.EntryPrice,
			CurrentPrice: p.CurrentPrice,
			MarketValue:  p.MarketValue(),
		})
	}
	return acct, nil
}

func (s *Simulator) execute(ctx context.Context, symbol string, quantity float64, agentID string, buy bool) domain.ExecutionResult {
	start := time.Now()
	symbol = strings.ToUpper(symbol)

	if quantity <= 0 {
		return domain.FailedExecution(Name, quantity, fmt.Sprintf("quantity must be positive, got %v", quantity))
	}

	if !s.clock.IsMarketOpen(s.now()) {
		return domain.FailedExecution(Name, quantity, "market closed: simulated orders only fill during regular trading hours")
	}

	if err := s.wait(ctx, s.latency()); err != nil {
		return domain.FailedExecution(Name, quantity, fmt.Sprintf("order abandoned: %v", err))
	}

	quote, err := s.prices.GetQuote(ctx, symbol)
	if err != nil || quote == nil || quote.Price <= 0 {
		reason := "no price"
		if err != nil {
			reason = err.Error()
		}
		return domain.FailedExecution(Name, quantity, fmt.Sprintf("failed to get price for %s: %s", symbol, reason))
	}
	price := quote.Price

	spread := price * spreadBps(symbol, price, s.policy) / 10000 * s.uniform(0.5, 1.5)
	executed := price + spread
	if !buy {
		executed = price - spread
	}
	executed = math.Round(executed*10000) / 10000

	filled := s.fillQuantity(quantity, price)

	res := domain.ExecutionResult{
		OrderID:           "sim-" + uuid.NewString(),
		OrderStatus:       domain.OrderFilled,
		Broker:            Name,
		ExecutedPrice:     executed,
		ExecutedQuantity:  filled,
		RequestedQuantity: quantity,
		ReferencePrice:    price,
		Commission:        math.Max(0, s.policy.Commission),
		Slippage:          domain.RoundCents(math.Abs(executed-price) * filled),
		ExecutionTimeMs:   time.Since(start).Milliseconds(),
		Success:           true,
	}

	side := "sell"
	if buy {
		side = "buy"
	}
	s.log.Info().
		Str("agent_id", agentID).
		Str("symbol", symbol).
		Str("side", side).
		Float64("requested", quantity).
		Float64("filled", filled).
		Float64("price", executed).
		Float64("reference", price).
		Msg("Simulated fill")

	return res
}

// spreadBps picks the spread tier: penny stocks, small caps (by price or a
// long ticker), then the base spread
func spreadBps(symbol string, price float64, policy config.SimulatorPolicy) float64 {
	switch {
	case price < pennyPriceCeiling:
		return policy.PennySpreadBps
	case price < smallCapPriceCeiling || len(symbol) >= smallCapTickerLength:
		return policy.SmallCapSpreadBps
	}
	return policy.BaseSpreadBps
}

// fillQuantity fills small orders completely and large ones partially
func (s *Simulator) fillQuantity(quantity, price float64) float64 {
	if quantity*price < s.policy.PartialFillThreshold {
		return quantity
	}
	filled := math.Floor(quantity * s.uniform(s.policy.PartialFillMinRatio, 1.0))
	return math.Max(1, math.Min(filled, quantity))
}

func (s *Simulator) latency() time.Duration {
	lo, hi := s.policy.LatencyMin, s.policy.LatencyMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(s.uniform(0, float64(hi-lo)))
}

func (s *Simulator) uniform(lo, hi float64) float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return lo + s.rng.Float64()*(hi-lo)
}

func (s *Simulator) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
