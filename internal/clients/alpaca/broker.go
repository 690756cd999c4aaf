// Package alpaca implements the broker port and market data provider
// against Alpaca's trading and data REST APIs.
package alpaca

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/aristath/arena/internal/broker"
	"github.com/aristath/arena/internal/clients/rest"
	"github.com/aristath/arena/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Name is the broker name reported in execution results
const Name = "alpaca"

// Config holds Alpaca credentials and endpoints
type Config struct {
	KeyID   string
	Secret  string
	BaseURL string
	DataURL string
}

func (c Config) headers() rest.Authorizer {
	return rest.StaticHeaders(map[string]string{
		"APCA-API-KEY-ID":     c.KeyID,
		"APCA-API-SECRET-KEY": c.Secret,
	})
}

// Broker places market orders through Alpaca
type Broker struct {
	api    *rest.Client
	quotes domain.MarketDataProvider
	policy broker.RetryPolicy
	log    zerolog.Logger
}

// NewBroker creates the Alpaca broker. quotes supplies reference prices.
func NewBroker(cfg Config, quotes domain.MarketDataProvider, policy broker.RetryPolicy, health rest.HealthRecorder, log zerolog.Logger) *Broker {
	return &Broker{
		api: rest.New(rest.Config{
			Name:              Name,
			BaseURL:           cfg.BaseURL,
			Health:            health,
			Authorize:         cfg.headers(),
			RequestsPerSecond: 3,
			Burst:             3,
		}, log),
		quotes: quotes,
		policy: policy,
		log:    log.With().Str("broker", Name).Logger(),
	}
}

// Name returns the broker name
func (b *Broker) Name() string {
	return Name
}

// SubmitBuy places a market buy
func (b *Broker) SubmitBuy(ctx context.Context, symbol string, quantity float64, agentID string) domain.ExecutionResult {
	return b.submit(ctx, symbol, quantity, agentID, "buy")
}

// SubmitSell places a market sell
func (b *Broker) SubmitSell(ctx context.Context, symbol string, quantity float64, agentID string) domain.ExecutionResult {
	return b.submit(ctx, symbol, quantity, agentID, "sell")
}

func (b *Broker) submit(ctx context.Context, symbol string, quantity float64, agentID, side string) domain.ExecutionResult {
	symbol = strings.ToUpper(symbol)

	res := broker.Fulfill(ctx, b.policy, broker.Order[order]{
		Broker:   Name,
		Symbol:   symbol,
		Quantity: quantity,
		Quote:    broker.ReferenceQuote(b.quotes, symbol),
		Submit: func(ctx context.Context) (string, error) {
			var placed order
			err := b.api.Post(ctx, "/v2/orders", orderRequest{
				Symbol:        symbol,
				Qty:           strconv.FormatFloat(quantity, 'f', -1, 64),
				Side:          side,
				Type:          "market",
				TimeInForce:   "day",
				ClientOrderID: clientOrderID(agentID),
			}, &placed)
			if err != nil {
				return "", err
			}
			return placed.ID, nil
		},
		FetchStatus: func(ctx context.Context, orderID string) (order, error) {
			var o order
			err := b.api.Get(ctx, "/v2/orders/"+url.PathEscape(orderID), nil, &o)
			return o, err
		},
		ExtractFill: extractFill,
	})

	b.log.Info().
		Str("agent_id", agentID).
		Str("symbol", symbol).
		Str("side", side).
		Bool("success", res.Success).
		Str("status", string(res.OrderStatus)).
		Float64("filled", res.ExecutedQuantity).
		Msg("Order finished")
	return res
}

func extractFill(o order) broker.Progress {
	p := broker.Progress{
		Price:    float64(o.FilledAvgPrice),
		Quantity: float64(o.FilledQty),
	}
	switch o.Status {
	case "filled":
		p.State = broker.StateFilled
	case "canceled", "expired", "done_for_day":
		// done_for_day gets no more updates this session; partial fills still book
		p.State = broker.StateCancelled
		p.Reason = "order " + o.Status
	case "rejected":
		p.State = broker.StateRejected
		p.Reason = "order " + o.Status
	default:
		// new, accepted, pending_*, calculated, stopped (execution guaranteed,
		// not yet reported) and suspended (may resume) keep polling
		p.State = broker.StatePolling
	}
	return p
}

// GetAccount returns cash, equity and positions
func (b *Broker) GetAccount(ctx context.Context) (*domain.BrokerAccount, error) {
	var acct account
	if err := b.api.Get(ctx, "/v2/account", nil, &acct); err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	var positions []position
	if err := b.api.Get(ctx, "/v2/positions", nil, &positions); err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	out := &domain.BrokerAccount{
		CashBalance:  float64(acct.Cash),
		AccountValue: float64(acct.Equity),
	}
	for _, p := range positions {
		qty := float64(p.Qty)
		if p.Side == "short" && qty > 0 {
			qty = -qty
		}
		out.Positions = append(out.Positions, domain.BrokerPosition{
			Symbol:       p.Symbol,
			Quantity:     qty,
			AvgPrice:     float64(p.AvgEntryPrice),
			CurrentPrice: float64(p.CurrentPrice),
			MarketValue:  float64(p.MarketValue),
		})
	}
	return out, nil
}

// IsMarketOpen asks Alpaca's clock; failures read as closed
func (b *Broker) IsMarketOpen(ctx context.Context) bool {
	var c clock
	if err := b.api.Get(ctx, "/v2/clock", nil, &c); err != nil {
		b.log.Warn().Err(err).Msg("Failed to read market clock")
		return false
	}
	return c.IsOpen
}

// CancelAllOrders cancels every open order on the account
func (b *Broker) CancelAllOrders(ctx context.Context) error {
	if err := b.api.Delete(ctx, "/v2/orders", nil); err != nil {
		return fmt.Errorf("failed to cancel orders: %w", err)
	}
	return nil
}

// clientOrderID tags orders with the agent for reconciliation on the
// broker side; Alpaca caps the field at 128 characters
func clientOrderID(agentID string) string {
	id := agentID + "-" + uuid.NewString()
	if len(id) > 128 {
		id = id[len(id)-128:]
	}
	return id
}
