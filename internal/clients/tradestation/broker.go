// Package tradestation implements the broker port against the TradeStation
// v3 brokerage and order execution API.
package tradestation

import (
	"context"
	"fmt"
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
const Name = "tradestation"

// Config holds TradeStation credentials
type Config struct {
	Token     string
	AccountID string
	BaseURL   string
}

type placeRequest struct {
	AccountID   string      `json:"AccountID"`
	Symbol      string      `json:"Symbol"`
	Quantity    string      `json:"Quantity"`
	OrderType   string      `json:"OrderType"`
	TradeAction string      `json:"TradeAction"`
	Route       string      `json:"Route"`
	TimeInForce timeInForce `json:"TimeInForce"`
}

type timeInForce struct {
	Duration string `json:"Duration"`
}

type placeResponse struct {
	Orders []struct {
		OrderID string `json:"OrderID"`
		Message string `json:"Message"`
	} `json:"Orders"`
	Errors []struct {
		OrderID string `json:"OrderID"`
		Error   string `json:"Error"`
		Message string `json:"Message"`
	} `json:"Errors"`
}

type orderLeg struct {
	ExecQuantity   rest.Float `json:"ExecQuantity"`
	ExecutionPrice rest.Float `json:"ExecutionPrice"`
}

type order struct {
	OrderID       string     `json:"OrderID"`
	Status        string     `json:"Status"`
	StatusDesc    string     `json:"StatusDescription"`
	RejectReason  string     `json:"RejectReason"`
	FilledPrice   rest.Float `json:"FilledPrice"`
	CommissionFee rest.Float `json:"CommissionFee"`
	Legs          []orderLeg `json:"Legs"`
}

type ordersResponse struct {
	Orders []order `json:"Orders"`
}

type balancesResponse struct {
	Balances []struct {
		CashBalance rest.Float `json:"CashBalance"`
		Equity      rest.Float `json:"Equity"`
	} `json:"Balances"`
}

type positionsResponse struct {
	Positions []struct {
		Symbol       string     `json:"Symbol"`
		LongShort    string     `json:"LongShort"`
		Quantity     rest.Float `json:"Quantity"`
		AveragePrice rest.Float `json:"AveragePrice"`
		Last         rest.Float `json:"Last"`
		MarketValue  rest.Float `json:"MarketValue"`
	} `json:"Positions"`
}

// Broker places market orders through TradeStation
type Broker struct {
	api       *rest.Client
	quotes    domain.MarketDataProvider
	clock     broker.MarketClock
	now       func() time.Time
	accountID string
	policy    broker.RetryPolicy
	log       zerolog.Logger
}

// NewBroker creates the TradeStation broker. TradeStation has no clock
// endpoint, so clock decides IsMarketOpen.
func NewBroker(cfg Config, quotes domain.MarketDataProvider, clock broker.MarketClock, policy broker.RetryPolicy, health rest.HealthRecorder, log zerolog.Logger) *Broker {
	token := cfg.Token
	return &Broker{
		api: rest.New(rest.Config{
			Name:    Name,
			BaseURL: cfg.BaseURL,
			Health:  health,
			Authorize: rest.Bearer(func(context.Context) (string, error) {
				return token, nil
			}),
			RequestsPerSecond: 4,
			Burst:             4,
		}, log),
		quotes:    quotes,
		clock:     clock,
		now:       time.Now,
		accountID: cfg.AccountID,
		policy:    policy,
		log:       log.With().Str("broker", Name).Logger(),
	}
}

// Name returns the broker name
func (b *Broker) Name() string {
	return Name
}

// SubmitBuy buys, covering a short when one is held
func (b *Broker) SubmitBuy(ctx context.Context, symbol string, quantity float64, agentID string) domain.ExecutionResult {
	symbol = strings.ToUpper(symbol)
	held, err := b.heldQuantity(ctx, symbol)
	if err != nil {
		return domain.FailedExecution(Name, quantity, fmt.Sprintf("failed to resolve position for %s: %v", symbol, err))
	}
	action := "BUY"
	if held < 0 {
		action = "BUYTOCOVER"
	}
	return b.submit(ctx, symbol, quantity, agentID, action)
}

// SubmitSell sells a long holding, or sells short when none is held
func (b *Broker) SubmitSell(ctx context.Context, symbol string, quantity float64, agentID string) domain.ExecutionResult {
	symbol = strings.ToUpper(symbol)
	held, err := b.heldQuantity(ctx, symbol)
	if err != nil {
		return domain.FailedExecution(Name, quantity, fmt.Sprintf("failed to resolve position for %s: %v", symbol, err))
	}
	action := "SELL"
	if held <= 0 {
		action = "SELLSHORT"
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
			var resp placeResponse
			err := b.api.Post(ctx, "/orderexecution/orders", placeRequest{
				AccountID:   b.accountID,
				Symbol:      symbol,
				Quantity:    strconv.FormatFloat(quantity, 'f', -1, 64),
				OrderType:   "Market",
				TradeAction: action,
				Route:       "Intelligent",
				TimeInForce: timeInForce{Duration: "DAY"},
			}, &resp)
			if err != nil {
				return "", err
			}
			if len(resp.Errors) > 0 {
				return "", fmt.Errorf("order rejected: %s", resp.Errors[0].Message)
			}
			if len(resp.Orders) == 0 || resp.Orders[0].OrderID == "" {
				return "", fmt.Errorf("order response carried no order id")
			}
			return resp.Orders[0].OrderID, nil
		},
		FetchStatus: func(ctx context.Context, orderID string) (order, error) {
			var resp ordersResponse
			path := "/brokerage/accounts/" + url.PathEscape(b.accountID) + "/orders/" + url.PathEscape(orderID)
			if err := b.api.Get(ctx, path, nil, &resp); err != nil {
				return order{}, err
			}
			if len(resp.Orders) == 0 {
				return order{}, fmt.Errorf("order %s not found", orderID)
			}
			return resp.Orders[0], nil
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

func extractFill(o order) broker.Progress {
	p := broker.Progress{
		Price:      o.FilledPrice.Value(),
		Commission: o.CommissionFee.Value(),
		Reason:     o.RejectReason,
	}
	for _, leg := range o.Legs {
		p.Quantity += leg.ExecQuantity.Value()
		if p.Price == 0 {
			p.Price = leg.ExecutionPrice.Value()
		}
	}

	switch o.Status {
	case "FLL":
		p.State = broker.StateFilled
	case "CAN", "EXP", "OUT", "UCN":
		p.State = broker.StateCancelled
		if p.Reason == "" {
			p.Reason = o.StatusDesc
		}
	case "REJ", "BRO":
		p.State = broker.StateRejected
		if p.Reason == "" {
			p.Reason = "order rejected: " + o.StatusDesc
		}
	default: // OPN, ACK, DON, FPR, ...
		p.State = broker.StatePolling
	}
	return p
}

func (b *Broker) positions(ctx context.Context) (*positionsResponse, error) {
	var resp positionsResponse
	path := "/brokerage/accounts/" + url.PathEscape(b.accountID) + "/positions"
	if err := b.api.Get(ctx, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (b *Broker) heldQuantity(ctx context.Context, symbol string) (float64, error) {
	resp, err := b.positions(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range resp.Positions {
		if strings.EqualFold(p.Symbol, symbol) {
			return signedQuantity(p.Quantity.Value(), p.LongShort), nil
		}
	}
	return 0, nil
}

func signedQuantity(qty float64, longShort string) float64 {
	if strings.EqualFold(longShort, "Short") && qty > 0 {
		return -qty
	}
	return qty
}

// GetAccount returns balances and positions
func (b *Broker) GetAccount(ctx context.Context) (*domain.BrokerAccount, error) {
	var bal balancesResponse
	path := "/brokerage/accounts/" + url.PathEscape(b.accountID) + "/balances"
	if err := b.api.Get(ctx, path, nil, &bal); err != nil {
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}
	if len(bal.Balances) == 0 {
		return nil, fmt.Errorf("no balances for account %s", b.accountID)
	}

	pos, err := b.positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	acct := &domain.BrokerAccount{
		CashBalance:  bal.Balances[0].CashBalance.Value(),
		AccountValue: bal.Balances[0].Equity.Value(),
	}
	for _, p := range pos.Positions {
		acct.Positions = append(acct.Positions, domain.BrokerPosition{
			Symbol:       p.Symbol,
			Quantity:     signedQuantity(p.Quantity.Value(), p.LongShort),
			AvgPrice:     p.AveragePrice.Value(),
			CurrentPrice: p.Last.Value(),
			MarketValue:  p.MarketValue.Value(),
		})
	}
	return acct, nil
}

// IsMarketOpen consults the exchange calendar
func (b *Broker) IsMarketOpen(ctx context.Context) bool {
	return b.clock != nil && b.clock.IsMarketOpen(b.now())
}

// CancelAllOrders cancels every working order on the account
func (b *Broker) CancelAllOrders(ctx context.Context) error {
	var resp ordersResponse
	path := "/brokerage/accounts/" + url.PathEscape(b.accountID) + "/orders"
	if err := b.api.Get(ctx, path, nil, &resp); err != nil {
		return fmt.Errorf("failed to list orders: %w", err)
	}

	var failed []string
	for _, o := range resp.Orders {
		switch o.Status {
		case "OPN", "ACK", "DON", "FPR", "RCV":
		default:
			continue
		}
		if err := b.api.Delete(ctx, "/orderexecution/orders/"+url.PathEscape(o.OrderID), nil); err != nil {
			b.log.Warn().Err(err).Str("order_id", o.OrderID).Msg("Failed to cancel order")
			failed = append(failed, o.OrderID)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to cancel orders %s", strings.Join(failed, ", "))
	}
	return nil
}
