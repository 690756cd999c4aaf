// Package domain provides core domain models and types.
package domain

import "time"

// Action is what a decision asks the cycle to do
type Action string

const (
	ActionBuy        Action = "BUY"
	ActionSell       Action = "SELL"
	ActionSellShort  Action = "SELL_SHORT"
	ActionBuyToCover Action = "BUY_TO_COVER"
	ActionHold       Action = "HOLD"
)

// Valid reports whether the action is one of the known values
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionSellShort, ActionBuyToCover, ActionHold:
		return true
	}
	return false
}

// IsOpening reports whether the action opens or adds to a position
func (a Action) IsOpening() bool {
	return a == ActionBuy || a == ActionSellShort
}

// IsClosing reports whether the action reduces or closes a position
func (a Action) IsClosing() bool {
	return a == ActionSell || a == ActionBuyToCover
}

// IsBuySide reports whether the action is routed to the broker as a buy
func (a Action) IsBuySide() bool {
	return a == ActionBuy || a == ActionBuyToCover
}

// PositionSide returns the side of the position this action operates on
func (a Action) PositionSide() PositionSide {
	if a == ActionSellShort || a == ActionBuyToCover {
		return SideShort
	}
	return SideLong
}

// PositionSide is LONG or SHORT
type PositionSide string

const (
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// CloseAction returns the action that closes a position of this side
func (s PositionSide) CloseAction() Action {
	if s == SideShort {
		return ActionBuyToCover
	}
	return ActionSell
}

// RiskTolerance selects the Kelly multiplier tier for an agent
type RiskTolerance string

const (
	RiskConservative RiskTolerance = "conservative"
	RiskModerate     RiskTolerance = "moderate"
	RiskAggressive   RiskTolerance = "aggressive"
)

// Strategy is the trading style an agent follows. Exit rules are keyed on it.
type Strategy string

const (
	StrategyMomentum            Strategy = "momentum"
	StrategyMeanReversion       Strategy = "mean_reversion"
	StrategyTrendFollowing      Strategy = "trend_following"
	StrategyValue               Strategy = "value"
	StrategyVolatilityArbitrage Strategy = "volatility_arbitrage"
	StrategyContrarian          Strategy = "contrarian"
)

// AllStrategies lists every known strategy
var AllStrategies = []Strategy{
	StrategyMomentum,
	StrategyMeanReversion,
	StrategyTrendFollowing,
	StrategyValue,
	StrategyVolatilityArbitrage,
	StrategyContrarian,
}

// Agent is one independent trading participant with its own book
type Agent struct {
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Strategy      Strategy      `json:"strategy"`
	BrokerKind    BrokerKind    `json:"broker_kind"`
	RiskTolerance RiskTolerance `json:"risk_tolerance"`
	CashBalance   float64       `json:"cash_balance"`
	AccountValue  float64       `json:"account_value"`
	StartingValue float64       `json:"starting_value"`
	Active        bool          `json:"active"`
}

// TotalReturnPercent is the account's return since inception
func (a *Agent) TotalReturnPercent() float64 {
	if a.StartingValue == 0 {
		return 0
	}
	return (a.AccountValue - a.StartingValue) / a.StartingValue * 100
}

// Position is an open holding of one agent in one symbol and side
type Position struct {
	OpenedAt             time.Time    `json:"opened_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
	TargetPrice          *float64     `json:"target_price,omitempty"`
	StopLoss             *float64     `json:"stop_loss,omitempty"`
	AgentID              string       `json:"agent_id"`
	Symbol               string       `json:"symbol"`
	Side                 PositionSide `json:"side"`
	Strategy             Strategy     `json:"strategy"`
	ID                   int64        `json:"id"`
	Quantity             float64      `json:"quantity"`
	EntryPrice           float64      `json:"entry_price"`
	CurrentPrice         float64      `json:"current_price"`
	PeakPrice            float64      `json:"peak_price"`
	UnrealizedPnL        float64      `json:"unrealized_pnl"`
	UnrealizedPnLPercent float64      `json:"unrealized_pnl_percent"`
}

// MarketValue is the signed contribution of the position to account value
func (p *Position) MarketValue() float64 {
	value := p.Quantity * p.CurrentPrice
	if p.Side == SideShort {
		return -value
	}
	return value
}

// Reprice moves the position to a new price, recomputing unrealized P/L
// and advancing the peak (highest for LONG, lowest for SHORT)
func (p *Position) Reprice(price float64) {
	if price <= 0 {
		return
	}
	p.CurrentPrice = price

	if p.Side == SideShort {
		p.UnrealizedPnL = (p.EntryPrice - price) * p.Quantity
		if p.PeakPrice == 0 || price < p.PeakPrice {
			p.PeakPrice = price
		}
	} else {
		p.UnrealizedPnL = (price - p.EntryPrice) * p.Quantity
		if price > p.PeakPrice {
			p.PeakPrice = price
		}
	}

	if p.EntryPrice > 0 {
		p.UnrealizedPnLPercent = p.UnrealizedPnL / (p.EntryPrice * p.Quantity) * 100
	}
}

// DaysHeld returns whole days between opening and now
func (p *Position) DaysHeld(now time.Time) int {
	if p.OpenedAt.IsZero() || now.Before(p.OpenedAt) {
		return 0
	}
	return int(now.Sub(p.OpenedAt).Hours() / 24)
}

// Decision is the externally produced trading intent. It is untrusted.
type Decision struct {
	TargetPrice           *float64 `json:"target_price,omitempty"`
	StopLoss              *float64 `json:"stop_loss,omitempty"`
	ID                    string   `json:"id"`
	AgentID               string   `json:"agent_id"`
	Action                Action   `json:"action"`
	Symbol                string   `json:"symbol,omitempty"`
	Reasoning             string   `json:"reasoning"`
	InvalidationCondition string   `json:"invalidation_condition,omitempty"`
	Quantity              float64  `json:"quantity"`
	Confidence            float64  `json:"confidence"`
}

// HoldDecision builds a HOLD with the given reasoning
func HoldDecision(agentID, reasoning string) *Decision {
	return &Decision{AgentID: agentID, Action: ActionHold, Reasoning: reasoning}
}

// DecisionOutcome records what the cycle did with a decision
type DecisionOutcome string

const (
	OutcomeExecuted DecisionOutcome = "executed"
	OutcomeHold     DecisionOutcome = "hold"
	OutcomeInvalid  DecisionOutcome = "invalid"
	OutcomeVetoed   DecisionOutcome = "vetoed"
	OutcomeNoTrade  DecisionOutcome = "no_trade"
	OutcomeFailed   DecisionOutcome = "failed"
	OutcomePending  DecisionOutcome = "pending"
	OutcomeSkipped  DecisionOutcome = "skipped"
)

// DecisionRecord is the persisted audit of a decision and its outcome
type DecisionRecord struct {
	CreatedAt time.Time       `json:"created_at"`
	Decision  Decision        `json:"decision"`
	Outcome   DecisionOutcome `json:"outcome"`
	Detail    string          `json:"detail"`
}

// Trade is an append-only ledger entry for an executed order
type Trade struct {
	ExecutedAt         time.Time `json:"executed_at"`
	RealizedPnL        *float64  `json:"realized_pnl,omitempty"`
	RealizedPnLPercent *float64  `json:"realized_pnl_percent,omitempty"`
	AgentID            string    `json:"agent_id"`
	DecisionID         string    `json:"decision_id,omitempty"`
	Symbol             string    `json:"symbol"`
	Action             Action    `json:"action"`
	OrderID            string    `json:"order_id,omitempty"`
	Broker             string    `json:"broker"`
	ExitType           ExitType  `json:"exit_type,omitempty"`
	ID                 int64     `json:"id"`
	Quantity           float64   `json:"quantity"`
	Price              float64   `json:"price"`
	Total              float64   `json:"total"`
	Commission         float64   `json:"commission"`
	Slippage           float64   `json:"slippage"`
}

// IsClosing reports whether the trade closed (part of) a position
func (t *Trade) IsClosing() bool {
	return t.RealizedPnL != nil
}

// PerformanceSnapshot is the end-of-cycle picture of one agent
type PerformanceSnapshot struct {
	TakenAt            time.Time     `json:"taken_at"`
	AgentID            string        `json:"agent_id"`
	Stats              ExtendedStats `json:"stats"`
	ID                 int64         `json:"id"`
	AccountValue       float64       `json:"account_value"`
	CashBalance        float64       `json:"cash_balance"`
	PositionsValue     float64       `json:"positions_value"`
	TotalReturnPercent float64       `json:"total_return_percent"`
	RealizedPnLToday   float64       `json:"realized_pnl_today"`
	UnrealizedPnL      float64       `json:"unrealized_pnl"`
	OpenPositions      int           `json:"open_positions"`
}
