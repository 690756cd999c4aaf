// Package tradier implements the broker port against Tradier's brokerage API.
package tradier

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/aristath/arena/internal/broker"
	"github.com/aristath/arena/internal/clients/rest"
	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
)

// Name is the broker name reported in execution results
const Name = "tradier"

// Config holds Tradier credentials
type Config struct {
	Token     string
	AccountID string
	BaseURL   string
}

// Broker places equity market orders through Tradier
type Broker struct {
	api       *rest.Client
	quotes    domain.MarketDataProvider
	accountID string
	policy    broker.RetryPolicy
	log       zerolog.Logger
}

// NewBroker creates the Tradier broker
func NewBroker(cfg Config, quotes domain.MarketDataProvider, policy broker.RetryPolicy, health rest.HealthRecorder, log zerolog.Logger) *Broker {
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
		quotes:    quotes,
		accountID: cfg.AccountID,
		policy:    policy,
		log:       log.With().Str("broker", Name).Logger(),
	}
}

// Name returns the broker name
func (b *Broker) Name() string {
	return Name
}

func (b *Broker) accountPath(suffix string) string {
	return "/accounts/" + url.PathEscape(b.accountID) + suffix
}

// SubmitBuy buys, covering a short first when one is held
func (b *Broker) SubmitBuy(ctx context.Context, symbol string, quantity float64, agentID string) domain.ExecutionResult {
	symbol = strings.ToUpper(symbol)
	held, err := b.heldQuantity(ctx, symbol)
	if err != nil {
		return domain.FailedExecution(Name, quantity, fmt.Sprintf("failed to resolve position for %s: %v", symbol, err))
	}
	side := "buy"
	if held < 0 {
		side = "buy_to_cover"
	}
	return b.submit(ctx, symbol, quantity, agentID, side)
}

// SubmitSell sells a long holding, or opens a short when none is held
func (b *Broker) SubmitSell(ctx context.Context, symbol string, quantity float64, agentID string) domain.ExecutionResult {
	symbol = strings.ToUpper(symbol)
	held, err := b.heldQuantity(ctx, symbol)
	if err != nil {
		return domain.FailedExecution(Name, quantity, fmt.Sprintf("failed to resolve position for %s: %v", symbol, err))
	}
	side := "sell"
	if held <= 0 {
		side = "sell_short"
	}
	return b.submit(ctx, symbol, quantity, agentID, side)
}

func (b *Broker) submit(ctx context.Context, symbol string, quantity float64, agentID, side string) domain.ExecutionResult {
	res := broker.Fulfill(ctx, b.policy, broker.Order[order]{
		Broker:   Name,
		Symbol:   symbol,
		Quantity: quantity,
		Quote:    broker.ReferenceQuote(b.quotes, symbol),
		Submit: func(ctx context.Context) (string, error) {
			form := url.Values{
				"class":    {"equity"},
				"symbol":   {symbol},
				"side":     {side},
				"quantity": {strconv.FormatFloat(quantity, 'f', -1, 64)},
				"type":     {"market"},
				"duration": {"day"},
				"tag":      {orderTag(agentID)},
			}
			var resp placeResponse
			if err := b.api.Post(ctx, b.accountPath("/orders"), form, &resp); err != nil {
				return "", err
			}
			if resp.Order.ID == 0 {
				return "", fmt.Errorf("order not accepted: status %q", resp.Order.Status)
			}
			return strconv.FormatInt(resp.Order.ID, 10), nil
		},
		FetchStatus: func(ctx context.Context, orderID string) (order, error) {
			var resp orderResponse
			err := b.api.Get(ctx, b.accountPath("/orders/"+orderID), nil, &resp)
			return resp.Order, err
		},
		ExtractFill: extractFill,
	})

	b.log.Info().
		Str("agent_id", agentID).
		Str("symbol", symbol).
		Str("side", side).
		Bool("success", res.Success).
		Float64("filled", res.ExecutedQuantity).
		Msg("Order finished")
	return res
}

func extractFill(o order) broker.Progress {
	p := broker.Progress{Price: o.AvgFillPrice, Quantity: o.ExecQuantity, Reason: o.ReasonDescription}
	switch o.Status {
	case "filled":
		p.State = broker.StateFilled
	case "canceled", "expired":
		p.State = broker.StateCancelled
	case "rejected", "error":
		p.State = broker.StateRejected
		if p.Reason == "" {
			p.Reason = "order " + o.Status
		}
	default:
		p.State = broker.StatePolling
	}
	return p
}

func (b *Broker) positions(ctx context.Context) ([]position, error) {
	var resp positionsResponse
	if err := b.api.Get(ctx, b.accountPath("/positions"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Positions.Items, nil
}

// heldQuantity returns the signed quantity held in symbol
func (b *Broker) heldQuantity(ctx context.Context, symbol string) (float64, error) {
	positions, err := b.positions(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range positions {
		if strings.EqualFold(p.Symbol, symbol) {
			return p.Quantity, nil
		}
	}
	return 0, nil
}

// GetAccount returns balances and positions
func (b *Broker) GetAccount(ctx context.Context) (*domain.BrokerAccount, error) {
	var bal balancesResponse
	if err := b.api.Get(ctx, b.accountPath("/balances"), nil, &bal); err != nil {
		return nil, fmt.Errorf("failed to get balances: %w", err)
	}
	positions, err := b.positions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}

	acct := &domain.BrokerAccount{
		CashBalance:  bal.Balances.TotalCash,
		AccountValue: bal.Balances.TotalEquity,
	}
	for _, p := range positions {
		var avg float64
		if p.Quantity != 0 {
			avg = p.CostBasis / p.Quantity
			if avg < 0 {
				avg = -avg
			}
		}
		acct.Positions = append(acct.Positions, domain.BrokerPosition{
			Symbol:   p.Symbol,
			Quantity: p.Quantity,
			AvgPrice: avg,
		})
	}
	return acct, nil
}

// IsMarketOpen reads Tradier's market clock
func (b *Broker) IsMarketOpen(ctx context.Context) bool {
	var resp clockResponse
	if err := b.api.Get(ctx, "/markets/clock", nil, &resp); err != nil {
		b.log.Warn().Err(err).Msg("Failed to read market clock")
		return false
	}
	return resp.Clock.State == "open"
}

// CancelAllOrders cancels every order still working
func (b *Broker) CancelAllOrders(ctx context.Context) error {
	var resp ordersResponse
	if err := b.api.Get(ctx, b.accountPath("/orders"), nil, &resp); err != nil {
		return fmt.Errorf("failed to list orders: %w", err)
	}

	var failed []string
	for _, o := range resp.Orders.Items {
		switch o.Status {
		case "open", "partially_filled", "pending":
		default:
			continue
		}
		id := strconv.FormatInt(o.ID, 10)
		if err := b.api.Delete(ctx, b.accountPath("/orders/"+id), nil); err != nil {
			b.log.Warn().Err(err).Str("order_id", id).Msg("Failed to cancel order")
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to cancel orders %s", strings.Join(failed, ", "))
	}
	return nil
}

// orderTag is Tradier's free-text tag: alphanumeric and dashes, 255 max
func orderTag(agentID string) string {
	var b strings.Builder
	for _, r := range "arena-" + agentID {
		if r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > 255 {
		s = s[:255]
	}
	return s
}
