package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/events"
	"github.com/aristath/arena/internal/modules/portfolio"
	"github.com/aristath/arena/internal/modules/sizing"
	"github.com/aristath/arena/internal/modules/trading"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// cycle is the read-only state every agent session of one cycle shares
type cycle struct {
	o        *Orchestrator
	now      time.Time
	snap     *domain.QuoteSnapshot
	mctx     *domain.MarketContext
	log      zerolog.Logger
	haltOnce sync.Once
}

// runAgent is one agent session. It holds the agent's lock for its whole
// duration and never panics.
func (c *cycle) runAgent(ctx context.Context, agent domain.Agent) (rep AgentReport) {
	rep.AgentID = agent.ID
	log := c.log.With().Str("agent_id", agent.ID).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Agent session panicked")
			rep.Error = fmt.Sprintf("agent session panicked: %v", r)
		}
	}()

	mu := c.o.lockFor(agent.ID)
	mu.Lock()
	defer mu.Unlock()

	if c.o.safety.IsHalted() {
		rep.Skipped = true
		rep.Error = "system halted"
		return rep
	}

	positions, err := c.o.portfolio.SyncPrices(&agent, c.snap)
	if err != nil {
		log.Error().Err(err).Msg("Failed to sync positions, skipping agent")
		rep.Error = err.Error()
		return rep
	}

	forced := c.forcedExits(positions)
	for i := range forced {
		if c.o.safety.IsHalted() || ctx.Err() != nil {
			rep.Skipped = true
			return rep
		}
		rep.Outcomes = append(rep.Outcomes, c.forceExit(ctx, &agent, forced[i].pos, forced[i].signal))
	}
	if len(forced) > 0 {
		return rep
	}

	if c.o.safety.IsHalted() || ctx.Err() != nil {
		rep.Skipped = true
		return rep
	}

	d := c.decide(ctx, &agent, positions)
	out := c.execute(ctx, &agent, d, positions)
	rep.Outcomes = append(rep.Outcomes, out)
	c.record(d, out)

	return rep
}

type forcedExit struct {
	pos    *domain.Position
	signal domain.ExitSignal
}

// forcedExits pairs flagged signals with their positions, most urgent first
func (c *cycle) forcedExits(positions []domain.Position) []forcedExit {
	signals := c.o.exits.EvaluateAll(positions, c.snap, c.mctx, c.now)

	var out []forcedExit
	for i := range signals {
		if signals[i].ShouldExit {
			out = append(out, forcedExit{pos: &positions[i], signal: signals[i]})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].signal.Urgency.Rank() > out[j].signal.Urgency.Rank()
	})
	return out
}

// forceExit closes a flagged position in full. It skips sizing and runs the
// safety engine in risk-reducing mode.
func (c *cycle) forceExit(ctx context.Context, agent *domain.Agent, pos *domain.Position, sig domain.ExitSignal) TradeOutcome {
	action := pos.Side.CloseAction()
	d := &domain.Decision{
		ID:         uuid.NewString(),
		AgentID:    agent.ID,
		Action:     action,
		Symbol:     pos.Symbol,
		Quantity:   pos.Quantity,
		Confidence: sig.Confidence,
		Reasoning:  strings.Join(sig.Reasoning, "; "),
	}

	price := pos.CurrentPrice
	if p, ok := c.snap.Price(pos.Symbol); ok {
		price = p
	}

	out := TradeOutcome{Action: action, Symbol: pos.Symbol, ExitType: sig.ExitType, Quantity: pos.Quantity, Price: price, Forced: true}
	triggered := &events.ExitTriggeredData{
		AgentID: agent.ID,
		Symbol:  pos.Symbol,
		Side:    string(pos.Side),
		Reason:  string(sig.ExitType),
		Urgency: string(sig.Urgency),
		PnLPct:  pos.UnrealizedPnLPercent,
	}

	verdict := c.o.safety.Validate(ctx, trading.TradeRequest{
		Now:          c.now,
		Agent:        agent,
		Action:       action,
		Symbol:       pos.Symbol,
		Quantity:     pos.Quantity,
		Price:        price,
		RiskReducing: true,
	})
	if !verdict.Approved {
		out = c.vetoed(agent, d, out, verdict)
	} else {
		out = c.submit(ctx, agent, d, out, sig.ExitType)
		triggered.Executed = out.Outcome == domain.OutcomeExecuted
	}

	c.o.events.Emit(eventModule, triggered)
	c.record(d, out)
	return out
}

// decide asks the provider for a decision; any failure becomes HOLD
func (c *cycle) decide(ctx context.Context, agent *domain.Agent, positions []domain.Position) *domain.Decision {
	req := domain.DecisionRequest{
		Agent:     *agent,
		Positions: positions,
		Context:   c.mctx,
		Quotes:    c.quotes(),
	}

	d, err := c.o.decider.Decide(ctx, req)
	if err != nil || d == nil {
		c.log.Warn().Err(err).Str("agent_id", agent.ID).Msg("Decision provider failed, holding")
		d = domain.HoldDecision(agent.ID, fmt.Sprintf("decision provider failed: %v", err))
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.AgentID = agent.ID
	return d
}

// execute takes one provider decision through validation, safety, sizing and
// the broker
func (c *cycle) execute(ctx context.Context, agent *domain.Agent, d *domain.Decision, positions []domain.Position) TradeOutcome {
	out := TradeOutcome{Action: d.Action, Symbol: d.Symbol}
	if d.Action == domain.ActionHold {
		out.Outcome = domain.OutcomeHold
		out.Detail = d.Reasoning
		return out
	}

	price, _ := c.snap.Price(d.Symbol)
	out.Price = price
	long, short := findPositions(positions, d.Symbol)

	if err := trading.ValidateDecision(d, price, long, short); err != nil {
		out.Outcome = domain.OutcomeInvalid
		out.Detail = err.Error()
		c.o.events.Emit(eventModule, &events.TradeVetoedData{
			AgentID: agent.ID, Symbol: d.Symbol, Action: string(d.Action), Stage: "validation", Reason: err.Error(),
		})
		return out
	}

	req := trading.TradeRequest{Now: c.now, Agent: agent, Action: d.Action, Symbol: d.Symbol, Price: price}

	switch d.Action {
	case domain.ActionBuy:
		// Gate before sizing, so a halted or loss-limited agent never sizes
		if verdict := c.o.safety.Validate(ctx, req); !verdict.Approved {
			return c.vetoed(agent, d, out, verdict)
		}
		res := c.size(agent, d, positions, price)
		if res.IsNoTrade() || res.Quantity <= 0 {
			out.Outcome = domain.OutcomeNoTrade
			if n := len(res.Reasoning); n > 0 {
				out.Detail = res.Reasoning[n-1]
			}
			return out
		}
		req.Quantity = res.Quantity
		if d.Quantity > 0 && d.Quantity < req.Quantity {
			req.Quantity = math.Floor(d.Quantity)
		}
	case domain.ActionSellShort:
		req.Quantity = math.Floor(d.Quantity)
	case domain.ActionSell:
		req.Quantity = closingQuantity(d.Quantity, long)
	case domain.ActionBuyToCover:
		req.Quantity = closingQuantity(d.Quantity, short)
	}

	if req.Quantity <= 0 {
		out.Outcome = domain.OutcomeNoTrade
		out.Detail = fmt.Sprintf("%s %s resolves to zero shares", d.Action, d.Symbol)
		return out
	}
	out.Quantity = req.Quantity

	if verdict := c.o.safety.Validate(ctx, req); !verdict.Approved {
		return c.vetoed(agent, d, out, verdict)
	}

	return c.submit(ctx, agent, d, out, "")
}

// size runs the Kelly sizer and the market adjustment for a BUY
func (c *cycle) size(agent *domain.Agent, d *domain.Decision, positions []domain.Position, price float64) domain.PositionSizeResult {
	stats, err := c.o.snapshots.Stats(agent.ID)
	if err != nil {
		c.log.Warn().Err(err).Str("agent_id", agent.ID).Msg("Failed to load trade stats, sizing cold")
	}

	in := sizing.Inputs{
		RiskTolerance:       agent.RiskTolerance,
		History:             stats.HistoricalPerformance(),
		Cash:                agent.CashBalance,
		AccountValue:        agent.AccountValue,
		Confidence:          d.Confidence * 100,
		StockVolatility:     c.snap.TechnicalsFor(d.Symbol).Volatility,
		PortfolioVolatility: weighted(positions, c.snap, func(t domain.Technicals) float64 { return t.Volatility }, 0),
		Price:               price,
		OpenPositions:       len(positions),
	}

	res := c.o.sizer.Calculate(in)
	if res.IsNoTrade() {
		return res
	}
	return c.o.sizer.ApplyMarketConditions(res, in, sizing.MarketConditions{
		Regime:          c.mctx.Regime,
		VolatilityIndex: c.mctx.VolatilityIndex,
		PortfolioBeta:   weighted(positions, c.snap, func(t domain.Technicals) float64 { return t.Beta }, 1),
	})
}

// submit sends the order and books the fill
func (c *cycle) submit(ctx context.Context, agent *domain.Agent, d *domain.Decision, out TradeOutcome, exitType domain.ExitType) TradeOutcome {
	b := c.o.brokers.For(agent.BrokerKind)

	var res domain.ExecutionResult
	if d.Action.IsBuySide() {
		res = b.SubmitBuy(ctx, d.Symbol, out.Quantity, agent.ID)
	} else {
		res = b.SubmitSell(ctx, d.Symbol, out.Quantity, agent.ID)
	}

	log := c.log.With().
		Str("agent_id", agent.ID).
		Str("symbol", d.Symbol).
		Str("action", string(d.Action)).
		Str("broker", res.Broker).
		Logger()

	switch {
	case res.OrderStatus == domain.OrderPending:
		err := fmt.Errorf("%w: %s", domain.ErrOrderTimedOut, res.Error)
		log.Warn().Err(err).Str("order_id", res.OrderID).Msg("Order still pending after polling")
		out.Outcome = domain.OutcomePending
		out.Detail = err.Error()
		c.o.events.Emit(eventModule, &events.OrderTimedOutData{
			AgentID: agent.ID, Symbol: d.Symbol, Broker: res.Broker, OrderID: res.OrderID, Error: res.Error, Quantity: out.Quantity,
		})
		return out
	case !res.Success:
		err := fmt.Errorf("%w: %s", domain.ErrBrokerExecutionFailed, res.Error)
		log.Warn().Err(err).Msg("Order failed")
		out.Outcome = domain.OutcomeFailed
		out.Detail = err.Error()
		return out
	}

	trade, err := c.o.portfolio.ApplyFill(portfolio.FillRequest{
		ExecutedAt: c.now,
		Agent:      agent,
		Decision:   d,
		Action:     d.Action,
		Symbol:     d.Symbol,
		ExitType:   exitType,
		Result:     res,
	})
	if err != nil {
		log.Error().Err(err).Str("order_id", res.OrderID).Msg("Order filled but booking failed")
		out.Outcome = domain.OutcomeFailed
		out.Detail = fmt.Sprintf("filled but not booked: %v", err)
		return out
	}

	out.Outcome = domain.OutcomeExecuted
	out.Quantity = trade.Quantity
	out.Price = trade.Price

	executed := &events.TradeExecutedData{
		ExecutedAt: trade.ExecutedAt,
		AgentID:    agent.ID,
		Symbol:     trade.Symbol,
		Action:     string(trade.Action),
		OrderID:    trade.OrderID,
		Broker:     trade.Broker,
		Quantity:   trade.Quantity,
		Price:      trade.Price,
		Total:      trade.Total,
		Commission: trade.Commission,
		Slippage:   trade.Slippage,
		Forced:     out.Forced,
	}
	if trade.RealizedPnL != nil {
		executed.RealizedPnL = *trade.RealizedPnL
	}
	c.o.events.Emit(eventModule, executed)

	return out
}

// vetoed turns a safety verdict into an outcome. A system halt is announced
// once per cycle.
func (c *cycle) vetoed(agent *domain.Agent, d *domain.Decision, out TradeOutcome, v trading.Verdict) TradeOutcome {
	out.Outcome = domain.OutcomeVetoed
	out.Detail = v.Reason

	c.o.events.Emit(eventModule, &events.TradeVetoedData{
		AgentID:  agent.ID,
		Symbol:   d.Symbol,
		Action:   string(d.Action),
		Stage:    "safety",
		Reason:   v.Reason,
		Severity: string(v.Severity),
	})

	if v.IsSystemHalt() {
		c.haltOnce.Do(func() {
			c.log.Error().Str("agent_id", agent.ID).Str("reason", v.Reason).Msg("System halt, remaining agents skipped")
			c.o.events.Emit(eventModule, &events.SystemHaltedData{Reason: v.Reason, AgentID: agent.ID})
		})
	} else if errors.Is(v.Err, domain.ErrInsufficientFunds) {
		out.Detail = domain.ErrInsufficientFunds.Error() + ": " + v.Reason
	}
	return out
}

// record persists the decision audit row. A failure here is logged only.
func (c *cycle) record(d *domain.Decision, out TradeOutcome) {
	rec := &domain.DecisionRecord{
		CreatedAt: c.now,
		Decision:  *d,
		Outcome:   out.Outcome,
		Detail:    out.Detail,
	}
	if err := c.o.decisions.CreateDecisionRecord(rec); err != nil {
		c.log.Warn().Err(err).Str("agent_id", d.AgentID).Str("decision_id", d.ID).Msg("Failed to record decision")
	}
}

func (c *cycle) quotes() []domain.Quote {
	out := make([]domain.Quote, 0, len(c.snap.Quotes))
	for _, q := range c.snap.Quotes {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func findPositions(positions []domain.Position, symbol string) (long, short *domain.Position) {
	for i := range positions {
		if !strings.EqualFold(positions[i].Symbol, symbol) {
			continue
		}
		switch positions[i].Side {
		case domain.SideLong:
			long = &positions[i]
		case domain.SideShort:
			short = &positions[i]
		}
	}
	return long, short
}

// closingQuantity is the requested quantity capped at what is held; zero
// means the whole position
func closingQuantity(requested float64, pos *domain.Position) float64 {
	if pos == nil {
		return 0
	}
	if requested <= 0 || requested > pos.Quantity {
		return pos.Quantity
	}
	return requested
}

// weighted averages a technical across the book by absolute market value
func weighted(positions []domain.Position, snap *domain.QuoteSnapshot, field func(domain.Technicals) float64, empty float64) float64 {
	var sum, weight float64
	for i := range positions {
		w := math.Abs(positions[i].Quantity * positions[i].CurrentPrice)
		sum += w * field(snap.TechnicalsFor(positions[i].Symbol))
		weight += w
	}
	if weight == 0 {
		return empty
	}
	return sum / weight
}
