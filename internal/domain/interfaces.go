package domain

import (
	"context"
	"time"
)

// Broker is the execution port every brokerage adapter and the simulator
// implement. Submit calls never return Go errors: failures are reported in
// the ExecutionResult so one agent's broker trouble cannot abort a cycle.
type Broker interface {
	Name() string
	SubmitBuy(ctx context.Context, symbol string, quantity float64, agentID string) ExecutionResult
	SubmitSell(ctx context.Context, symbol string, quantity float64, agentID string) ExecutionResult
	GetAccount(ctx context.Context) (*BrokerAccount, error)
	IsMarketOpen(ctx context.Context) bool
	CancelAllOrders(ctx context.Context) error
}

// DecisionRequest is everything the decision provider sees for one agent
type DecisionRequest struct {
	Agent     Agent          `json:"agent"`
	Positions []Position     `json:"positions"`
	Context   *MarketContext `json:"market_context"`
	Quotes    []Quote        `json:"quotes"`
}

// DecisionProvider produces the untrusted decision for one agent
type DecisionProvider interface {
	Decide(ctx context.Context, req DecisionRequest) (*Decision, error)
}

// MarketDataProvider supplies quotes and daily history
type MarketDataProvider interface {
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetDailyCloses(ctx context.Context, symbol string, days int) ([]float64, error)
}

// AgentRepository persists agents
type AgentRepository interface {
	GetAgent(id string) (*Agent, error)
	ListActive() ([]Agent, error)
	UpdateAgent(id string, cashBalance, accountValue float64) error
}

// PositionRepository persists open positions
type PositionRepository interface {
	ListPositions(agentID string) ([]Position, error)
	GetPosition(agentID, symbol string, side PositionSide) (*Position, error)
	CreatePosition(p *Position) (int64, error)
	UpdatePosition(p *Position) error
	DeletePosition(id int64) error
}

// TradeRepository is the append-only trade ledger
type TradeRepository interface {
	CreateTrade(t *Trade) (int64, error)
	ListByAgent(agentID string, limit int) ([]Trade, error)
	ListByAgentSince(agentID string, since time.Time) ([]Trade, error)
	RealizedPnLSince(agentID string, since time.Time) (float64, error)
	SystemRealizedPnLSince(since time.Time) (float64, error)
}

// DecisionRepository stores decision audit records
type DecisionRepository interface {
	CreateDecisionRecord(rec *DecisionRecord) error
}

// SnapshotRepository stores performance snapshots
type SnapshotRepository interface {
	CreatePerformanceSnapshot(s *PerformanceSnapshot) (int64, error)
}
