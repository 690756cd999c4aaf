package portfolio

import (
	"fmt"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
)

// remainderEpsilon is the quantity below which a partially closed position
// is treated as flat
const remainderEpsilon = 1e-9

// FillRequest describes one executed order to book against an agent
type FillRequest struct {
	ExecutedAt time.Time
	Agent      *domain.Agent
	Decision   *domain.Decision // nil for forced exits
	Action     domain.Action
	Symbol     string
	ExitType   domain.ExitType
	Result     domain.ExecutionResult
}

// PortfolioService keeps each agent's book consistent: positions, cash and
// account value move together, and every fill lands in the trade ledger.
//
// Callers must hold the agent's session lock; the service itself does not
// serialize writes for the same agent.
type PortfolioService struct {
	agents    domain.AgentRepository
	positions domain.PositionRepository
	trades    domain.TradeRepository
	log       zerolog.Logger
}

// NewPortfolioService creates a new portfolio service
func NewPortfolioService(
	agents domain.AgentRepository,
	positions domain.PositionRepository,
	trades domain.TradeRepository,
	log zerolog.Logger,
) *PortfolioService {
	return &PortfolioService{
		agents:    agents,
		positions: positions,
		trades:    trades,
		log:       log.With().Str("service", "portfolio").Logger(),
	}
}

// AccountValue is cash plus long market value minus short liabilities
func AccountValue(cash float64, positions []domain.Position) float64 {
	value := cash
	for i := range positions {
		value += positions[i].MarketValue()
	}
	return domain.RoundCents(value)
}

// SyncPrices reprices every open position of the agent from the snapshot,
// advancing peaks, and persists the recomputed account value. Symbols
// missing from the snapshot keep their last price.
func (s *PortfolioService) SyncPrices(agent *domain.Agent, snap *domain.QuoteSnapshot) ([]domain.Position, error) {
	positions, err := s.positions.ListPositions(agent.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}

	for i := range positions {
		price, ok := snap.Price(positions[i].Symbol)
		if !ok {
			s.log.Warn().
				Str("agent_id", agent.ID).
				Str("symbol", positions[i].Symbol).
				Msg("No quote for held symbol, keeping last price")
			continue
		}
		positions[i].Reprice(price)
		if err := s.positions.UpdatePosition(&positions[i]); err != nil {
			return nil, fmt.Errorf("failed to persist repriced position: %w", err)
		}
	}

	agent.AccountValue = AccountValue(agent.CashBalance, positions)
	if err := s.agents.UpdateAgent(agent.ID, agent.CashBalance, agent.AccountValue); err != nil {
		return nil, fmt.Errorf("failed to persist account value: %w", err)
	}

	return positions, nil
}

// ApplyFill books a successful execution. The ledger entry is written
// first since the broker already executed; then the position moves, then
// cash. A failed cash write undoes the position change, so the stored book
// never holds shares without the matching cash. Realized P/L is set only for
// closing actions.
func (s *PortfolioService) ApplyFill(req FillRequest) (*domain.Trade, error) {
	res := req.Result
	if !res.Success || res.ExecutedQuantity <= 0 || res.ExecutedPrice <= 0 {
		return nil, fmt.Errorf("failed to apply fill: execution not filled")
	}
	if req.ExecutedAt.IsZero() {
		req.ExecutedAt = time.Now()
	}

	agent := req.Agent
	side := req.Action.PositionSide()
	qty := res.ExecutedQuantity
	price := res.ExecutedPrice

	existing, err := s.positions.GetPosition(agent.ID, req.Symbol, side)
	if err != nil {
		return nil, fmt.Errorf("failed to load position: %w", err)
	}

	trade := &domain.Trade{
		ExecutedAt: req.ExecutedAt,
		AgentID:    agent.ID,
		Symbol:     req.Symbol,
		Action:     req.Action,
		OrderID:    res.OrderID,
		Broker:     res.Broker,
		ExitType:   req.ExitType,
		Quantity:   qty,
		Price:      price,
		Total:      domain.RoundCents(qty * price),
		Commission: res.Commission,
		Slippage:   res.Slippage,
	}
	if req.Decision != nil {
		trade.DecisionID = req.Decision.ID
	}

	opening := req.Action.IsOpening()
	if !opening {
		if existing == nil {
			return nil, fmt.Errorf("failed to apply fill: no %s position in %s", side, req.Symbol)
		}
		if qty > existing.Quantity {
			qty = existing.Quantity
			trade.Quantity = qty
			trade.Total = domain.RoundCents(qty * price)
		}
		realize(existing, trade, qty, price)
	}

	if _, err := s.trades.CreateTrade(trade); err != nil {
		return nil, fmt.Errorf("failed to record trade: %w", err)
	}

	var undo func() error
	if opening {
		undo, err = s.open(req, existing, side, qty, price)
	} else {
		undo, err = s.close(existing, qty, price)
	}
	if err != nil {
		return nil, err
	}

	cash := agent.CashBalance
	switch req.Action {
	case domain.ActionBuy, domain.ActionBuyToCover:
		cash -= qty*price + res.Commission
	case domain.ActionSell, domain.ActionSellShort:
		cash += qty*price - res.Commission
	}
	cash = domain.RoundCents(cash)

	positions, err := s.positions.ListPositions(agent.ID)
	if err == nil {
		err = s.agents.UpdateAgent(agent.ID, cash, AccountValue(cash, positions))
	}
	if err != nil {
		if uerr := undo(); uerr != nil {
			s.log.Error().
				Err(uerr).
				Str("agent_id", agent.ID).
				Str("symbol", req.Symbol).
				Msg("Failed to roll back position after cash update failure")
		}
		return nil, fmt.Errorf("failed to update agent balances: %w", err)
	}

	agent.CashBalance = cash
	agent.AccountValue = AccountValue(cash, positions)

	evt := s.log.Info().
		Str("agent_id", agent.ID).
		Str("symbol", req.Symbol).
		Str("action", string(req.Action)).
		Float64("quantity", qty).
		Float64("price", price).
		Float64("cash", agent.CashBalance)
	if trade.RealizedPnL != nil {
		evt = evt.Float64("realized_pnl", *trade.RealizedPnL)
	}
	evt.Msg("Fill applied")

	return trade, nil
}

// open grows or creates the position and returns how to revert it
func (s *PortfolioService) open(req FillRequest, existing *domain.Position, side domain.PositionSide, qty, price float64) (func() error, error) {
	if existing != nil {
		prev := *existing
		total := existing.Quantity + qty
		existing.EntryPrice = (existing.EntryPrice*existing.Quantity + price*qty) / total
		existing.Quantity = total
		existing.Reprice(price)
		if err := s.positions.UpdatePosition(existing); err != nil {
			return nil, fmt.Errorf("failed to grow position: %w", err)
		}
		return func() error { return s.positions.UpdatePosition(&prev) }, nil
	}

	pos := &domain.Position{
		OpenedAt:     req.ExecutedAt,
		AgentID:      req.Agent.ID,
		Symbol:       req.Symbol,
		Side:         side,
		Strategy:     req.Agent.Strategy,
		Quantity:     qty,
		EntryPrice:   price,
		CurrentPrice: price,
		PeakPrice:    price,
	}
	if req.Decision != nil {
		pos.TargetPrice = req.Decision.TargetPrice
		pos.StopLoss = req.Decision.StopLoss
	}
	id, err := s.positions.CreatePosition(pos)
	if err != nil {
		return nil, fmt.Errorf("failed to open position: %w", err)
	}
	return func() error { return s.positions.DeletePosition(id) }, nil
}

// realize sets the realized P/L of a closing trade, net of commission
func realize(pos *domain.Position, trade *domain.Trade, qty, price float64) {
	var realized float64
	if pos.Side == domain.SideShort {
		realized = (pos.EntryPrice - price) * qty
	} else {
		realized = (price - pos.EntryPrice) * qty
	}
	realized = domain.RoundCents(realized - trade.Commission)

	realizedPct := 0.0
	if cost := pos.EntryPrice * qty; cost > 0 {
		realizedPct = realized / cost * 100
	}
	trade.RealizedPnL = &realized
	trade.RealizedPnLPercent = &realizedPct
}

// close shrinks or deletes the position and returns how to revert it
func (s *PortfolioService) close(pos *domain.Position, qty, price float64) (func() error, error) {
	prev := *pos

	remaining := pos.Quantity - qty
	if remaining <= remainderEpsilon {
		if err := s.positions.DeletePosition(pos.ID); err != nil {
			return nil, fmt.Errorf("failed to close position: %w", err)
		}
		return func() error {
			_, err := s.positions.CreatePosition(&prev)
			return err
		}, nil
	}

	pos.Quantity = remaining
	pos.Reprice(price)
	if err := s.positions.UpdatePosition(pos); err != nil {
		return nil, fmt.Errorf("failed to shrink position: %w", err)
	}
	return func() error { return s.positions.UpdatePosition(&prev) }, nil
}
