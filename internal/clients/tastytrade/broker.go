// Package tastytrade implements the broker port against the tastytrade
// open API.
package tastytrade

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/arena/internal/broker"
	"github.com/aristath/arena/internal/clients/rest"
	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
)

// Name is the broker name reported in execution results
const Name = "tastytrade"

// Config holds a tastytrade session token
type Config struct {
	Token     string
	AccountID string
	BaseURL   string
}

// Broker places market orders through tastytrade
type Broker struct {
	api    *rest.Client
	quotes domain.MarketDataProvider
	clock  broker.MarketClock
	now    func() time.Time
	policy broker.RetryPolicy
	log    zerolog.Logger
	prefix string
}

// NewBroker creates the tastytrade broker
func NewBroker(cfg Config, quotes domain.MarketDataProvider, clock broker.MarketClock, policy broker.RetryPolicy, health rest.HealthRecorder, log zerolog.Logger) *Broker {
	token := cfg.Token
	return &Broker{
		api: rest.New(rest.Config{
			Name:    Name,
			BaseURL: cfg.BaseURL,
			Health:  health,
			// session tokens go in Authorization without a scheme
			Authorize: func(_ context.Context, req *http.Request) error {
				req.Header.Set("Authorization", token)
				return nil
			},
			RequestsPerSecond: 4,
			Burst:             4,
		}, log),
		quotes: quotes,
		clock:  clock,
		now:    time.Now,
		policy: policy,
		log:    log.With().Str("broker", Name).Logger(),
		prefix: "/accounts/" + url.PathEscape(cfg.AccountID),
	}
}

// Name returns the broker name
func (b *Broker) Name() string {
	return Name
}

// SubmitBuy buys to open, or buys to close a short
func (b *Broker) SubmitBuy(ctx context.Context, symbol string, quantity float64, agentID string) domain.ExecutionResult {
	symbol = strings.ToUpper(symbol)
	held, err := b.heldQuantity(ctx, symbol)
	if err != nil {
		return domain.FailedExecution(Name, quantity, fmt.Sprintf("failed to resolve position for %s: %v", symbol, err))
	}
	action := "Buy to Open"
	if held < 0 {
		action = "Buy to Close"
	}
	return b.submit(ctx, symbol, quantity, agentID, action)
}

// SubmitSell sells to close a long, or sells to open a short
func (b *Broker) SubmitSell(ctx context.Context, symbol string, quantity float64, agentID string) domain.ExecutionResult {
	symbol = strings.ToUpper(symbol)
	held, err := b.heldQuantity(ctx, symbol)
	if err != nil {
		return domain.FailedExecution(Name, quantity, fmt.Sprintf("failed to resolve position for %s: %v", symbol, err))
	}
	action := "Sell to Open"
	if held > 0 {
		action = "Sell to Close"
	}
	return b.submit(ctx, symbol, quantity, agentID, action)
}

func (b *Broker) submit(ctx context.Context, symbol string, quantity float64, agentID, action string) domain.ExecutionResult {
	res := broker.Fulfill(ctx, b.policy, broker.Order[order]{
		Broker:   Name,
		Symbol:   symbol,
		Quantity: quantity,
		Quote:    broker.ReferenceQuote(b.quotes, symbol),
		Submit: func(ctx context.Context) (string, error) {
			var resp envelope[placeResponse]
			err := b.api.Post(ctx, b.prefix+"/orders", orderRequest{
				TimeInForce: "Day",
				OrderType:   "Market",
				Legs: []orderLeg{{
					InstrumentType: "Equity",
					Symbol:         symbol,
					Action:         action,
					Quantity:       quantity,
				}},
			}, &resp)
			if err != nil {
				return "", err
			}
			if resp.Data.Order.ID.Value() <= 0 {
				return "", fmt.Errorf("order response carried no order id")
			}
			return formatID(resp.Data.Order.ID), nil
		},
		FetchStatus: func(ctx context.Context, orderID string) (order, error) {
			var resp envelope[order]
			err := b.api.Get(ctx, b.prefix+"/orders/"+url.PathEscape(orderID), nil, &resp)
			return resp.Data, err
		},
		ExtractFill: extractFill,
	})

	b.log.Info().
		Str("agent_id", agentID).
		Str("symbol", symbol).
		Str("action", action).
		Bool("success", res.Success).
		Float64("filled", res.ExecutedQuantity).
		Msg("Order finished")
	return res
}

func formatID(id rest.Float) string {
	return strconv.FormatInt(int64(math.Round(id.Value())), 10)
}

func extractFill(o order) broker.Progress {
	qty, price := o.fill()
	p := broker.Progress{Quantity: qty, Price: price, Reason: o.RejectReason}

	switch o.Status {
	case "Filled":
		p.State = broker.StateFilled
	case "Cancelled", "Expired", "Removed", "Partially Removed":
		p.State = broker.StateCancelled
	case "Rejected":
		p.State = broker.StateRejected
		if p.Reason == "" {
			p.Reason = "order rejected by tastytrade"
		}
	default: // Received, Routed, In Flight, Live, Contingent
		p.State = broker.StatePolling
	}
	return p
}

func (b *Broker) positions(ctx context.Context) ([]position, error) {
	var resp envelope[items[position]]
	if err := b.api.Get(ctx, b.prefix+"/positions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data.Items, nil
}

func (b *Broker) heldQuantity(ctx context.Context, symbol string) (float64, error) {
	positions, err := b.positions(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range positions {
		if p.InstrumentType == "Equity" && strings.EqualFold(p.Symbol, symbol) {
			return p.signedQuantity(), nil
		}
	}
	return 0, nil
}

// GetAccount returns balances and equity positions
func (b *Broker) GetAccount(ctx context.Context) (*domain.BrokerAccount, error) {
	var bal envelope[balances]
	if err := b.api.Get(ctx, b.prefix+"/balances", nil, &bal); err != nil {
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}
	positions, err := b.positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	acct := &domain.BrokerAccount{
		CashBalance:  bal.Data.CashBalance.Value(),
		AccountValue: bal.Data.NetLiquidatingValue.Value(),
	}
	for _, p := range positions {
		if p.InstrumentType != "Equity" {
			continue
		}
		qty := p.signedQuantity()
		acct.Positions = append(acct.Positions, domain.BrokerPosition{
			Symbol:       p.Symbol,
			Quantity:     qty,
			AvgPrice:     p.AverageOpenPrice.Value(),
			CurrentPrice: p.price(),
			MarketValue:  qty * p.price(),
		})
	}
	return acct, nil
}

// IsMarketOpen consults the exchange calendar
func (b *Broker) IsMarketOpen(ctx context.Context) bool {
	return b.clock != nil && b.clock.IsMarketOpen(b.now())
}

// CancelAllOrders cancels every cancellable live order
func (b *Broker) CancelAllOrders(ctx context.Context) error {
	var resp envelope[items[order]]
	if err := b.api.Get(ctx, b.prefix+"/orders/live", nil, &resp); err != nil {
		return fmt.Errorf("failed to list orders: %w", err)
	}

	var failed []string
	for _, o := range resp.Data.Items {
		if !o.Cancellable {
			continue
		}
		id := formatID(o.ID)
		if err := b.api.Delete(ctx, b.prefix+"/orders/"+id, nil); err != nil {
			b.log.Warn().Err(err).Str("order_id", id).Msg("Failed to cancel order")
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to cancel orders %s", strings.Join(failed, ", "))
	}
	return nil
}
