// Package schwab implements the broker port against the Charles Schwab
// Trader API.
package schwab

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/arena/internal/broker"
	"github.com/aristath/arena/internal/clients/rest"
	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
)

// Name is the broker name reported in execution results
const Name = "schwab"

// Config holds Schwab credentials. AccountHash is the encrypted account
// number returned by /accounts/accountNumbers.
type Config struct {
	Token       string
	AccountHash string
	BaseURL     string
}

// Broker places market orders through Schwab
type Broker struct {
	api    *rest.Client
	quotes domain.MarketDataProvider
	clock  broker.MarketClock
	now    func() time.Time
	policy broker.RetryPolicy
	log    zerolog.Logger
	prefix string
}

// NewBroker creates the Schwab broker
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
			RequestsPerSecond: 2,
			Burst:             2,
		}, log),
		quotes: quotes,
		clock:  clock,
		now:    time.Now,
		policy: policy,
		log:    log.With().Str("broker", Name).Logger(),
		prefix: "/trader/v1/accounts/" + url.PathEscape(cfg.AccountHash),
	}
}

// Name returns the broker name
func (b *Broker) Name() string {
	return Name
}

// SubmitBuy buys, covering a short when one is held
func (b *Broker) SubmitBuy(ctx context.Context, symbol string, quantity float64, agentID string) domain.ExecutionResult {
	symbol = strings.ToUpper(symbol)
	acct, err := b.account(ctx)
	if err != nil {
		return domain.FailedExecution(Name, quantity, fmt.Sprintf("failed to resolve position for %s: %v", symbol, err))
	}
	instruction := "BUY"
	if acct.PositionQuantity(symbol) < 0 {
		instruction = "BUY_TO_COVER"
	}
	return b.submit(ctx, symbol, quantity, agentID, instruction)
}

// SubmitSell sells a long holding, or sells short when none is held
func (b *Broker) SubmitSell(ctx context.Context, symbol string, quantity float64, agentID string) domain.ExecutionResult {
	symbol = strings.ToUpper(symbol)
	acct, err := b.account(ctx)
	if err != nil {
		return domain.FailedExecution(Name, quantity, fmt.Sprintf("failed to resolve position for %s: %v", symbol, err))
	}
	instruction := "SELL"
	if acct.PositionQuantity(symbol) <= 0 {
		instruction = "SELL_SHORT"
	}
	return b.submit(ctx, symbol, quantity, agentID, instruction)
}

func (b *Broker) submit(ctx context.Context, symbol string, quantity float64, agentID, instruction string) domain.ExecutionResult {
	res := broker.Fulfill(ctx, b.policy, broker.Order[order]{
		Broker:   Name,
		Symbol:   symbol,
		Quantity: quantity,
		Quote:    broker.ReferenceQuote(b.quotes, symbol),
		Submit: func(ctx context.Context) (string, error) {
			loc, err := b.api.PostLocation(ctx, b.prefix+"/orders", orderRequest{
				OrderType:         "MARKET",
				Session:           "NORMAL",
				Duration:          "DAY",
				OrderStrategyType: "SINGLE",
				Legs: []orderLeg{{
					Instruction: instruction,
					Quantity:    quantity,
					Instrument:  instrument{Symbol: symbol, AssetType: "EQUITY"},
				}},
			})
			if err != nil {
				return "", err
			}
			return orderIDFromLocation(loc)
		},
		FetchStatus: func(ctx context.Context, orderID string) (order, error) {
			var o order
			err := b.api.Get(ctx, b.prefix+"/orders/"+url.PathEscape(orderID), nil, &o)
			return o, err
		},
		ExtractFill: extractFill,
	})

	b.log.Info().
		Str("agent_id", agentID).
		Str("symbol", symbol).
		Str("instruction", instruction).
		Bool("success", res.Success).
		Float64("filled", res.ExecutedQuantity).
		Msg("Order finished")
	return res
}

// orderIDFromLocation takes the trailing segment of the Location header
// Schwab returns with 201 Created.
func orderIDFromLocation(loc string) (string, error) {
	if loc == "" {
		return "", fmt.Errorf("order accepted without a Location header")
	}
	u, err := url.Parse(loc)
	if err != nil {
		return "", fmt.Errorf("failed to parse Location %q: %w", loc, err)
	}
	id := path.Base(u.Path)
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return "", fmt.Errorf("unexpected Location %q", loc)
	}
	return id, nil
}

func extractFill(o order) broker.Progress {
	qty, price := o.fill()
	p := broker.Progress{Quantity: qty, Price: price, Reason: o.StatusDescription}

	switch o.Status {
	case "FILLED":
		p.State = broker.StateFilled
	case "CANCELED", "EXPIRED", "REPLACED":
		p.State = broker.StateCancelled
	case "REJECTED":
		p.State = broker.StateRejected
		if p.Reason == "" {
			p.Reason = "order rejected by Schwab"
		}
	default:
		p.State = broker.StatePolling
	}
	return p
}

func (b *Broker) account(ctx context.Context) (*domain.BrokerAccount, error) {
	var resp accountResponse
	if err := b.api.Get(ctx, b.prefix, url.Values{"fields": {"positions"}}, &resp); err != nil {
		return nil, err
	}
	sa := resp.SecuritiesAccount
	acct := &domain.BrokerAccount{
		CashBalance:  sa.CurrentBalances.CashBalance.Value(),
		AccountValue: sa.CurrentBalances.LiquidationValue.Value(),
	}
	for _, p := range sa.Positions {
		if p.Instrument.AssetType != "" && p.Instrument.AssetType != "EQUITY" {
			continue
		}
		qty := p.signedQuantity()
		current := 0.0
		if qty != 0 {
			current = p.MarketValue.Value() / qty
			if current < 0 {
				current = -current
			}
		}
		acct.Positions = append(acct.Positions, domain.BrokerPosition{
			Symbol:       p.Instrument.Symbol,
			Quantity:     qty,
			AvgPrice:     p.AveragePrice.Value(),
			CurrentPrice: current,
			MarketValue:  p.MarketValue.Value(),
		})
	}
	return acct, nil
}

// GetAccount returns balances and equity positions
func (b *Broker) GetAccount(ctx context.Context) (*domain.BrokerAccount, error) {
	acct, err := b.account(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

// IsMarketOpen consults the exchange calendar
func (b *Broker) IsMarketOpen(ctx context.Context) bool {
	return b.clock != nil && b.clock.IsMarketOpen(b.now())
}

// CancelAllOrders cancels every cancelable order entered in the last day
func (b *Broker) CancelAllOrders(ctx context.Context) error {
	now := b.now().UTC()
	q := url.Values{
		"fromEnteredTime": {now.Add(-24 * time.Hour).Format("2006-01-02T15:04:05.000Z")},
		"toEnteredTime":   {now.Format("2006-01-02T15:04:05.000Z")},
	}
	var orders []order
	if err := b.api.Get(ctx, b.prefix+"/orders", q, &orders); err != nil {
		return fmt.Errorf("failed to list orders: %w", err)
	}

	var failed []string
	for _, o := range orders {
		if !o.Cancelable {
			continue
		}
		id := strconv.FormatInt(o.OrderID, 10)
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
