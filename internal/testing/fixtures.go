package testing

import (
	"time"

	"github.com/aristath/arena/internal/domain"
)

// NewAgentFixture returns an active simulator agent with $10,000 in cash
func NewAgentFixture(id string, strategy domain.Strategy) domain.Agent {
	now := time.Date(2025, time.March, 12, 14, 0, 0, 0, time.UTC)
	return domain.Agent{
		ID:            id,
		Name:          "Agent " + id,
		Strategy:      strategy,
		BrokerKind:    domain.BrokerSimulator,
		RiskTolerance: domain.RiskModerate,
		CashBalance:   10000,
		AccountValue:  10000,
		StartingValue: 10000,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// NewPositionFixture returns an open position priced at entry
func NewPositionFixture(agentID, symbol string, side domain.PositionSide, qty, entry float64) domain.Position {
	opened := time.Date(2025, time.March, 10, 14, 0, 0, 0, time.UTC)
	return domain.Position{
		AgentID:      agentID,
		Symbol:       symbol,
		Side:         side,
		Strategy:     domain.StrategyMomentum,
		Quantity:     qty,
		EntryPrice:   entry,
		CurrentPrice: entry,
		PeakPrice:    entry,
		OpenedAt:     opened,
		UpdatedAt:    opened,
	}
}

// NewQuoteSnapshotFixture builds a snapshot from symbol -> price
func NewQuoteSnapshotFixture(prices map[string]float64) *domain.QuoteSnapshot {
	now := time.Date(2025, time.March, 12, 14, 0, 0, 0, time.UTC)
	snap := &domain.QuoteSnapshot{
		TakenAt:    now,
		Quotes:     make(map[string]domain.Quote, len(prices)),
		Technicals: make(map[string]domain.Technicals, len(prices)),
	}
	for symbol, price := range prices {
		snap.Quotes[symbol] = domain.Quote{Symbol: symbol, Price: price, Timestamp: now}
		snap.Technicals[symbol] = domain.Technicals{Symbol: symbol, Price: price, Volatility: 0.2, Beta: 1}
	}
	return snap
}

// FloatPtr returns a pointer to f
func FloatPtr(f float64) *float64 {
	return &f
}
