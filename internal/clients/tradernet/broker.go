package tradernet

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/arena/internal/broker"
	"github.com/aristath/arena/internal/domain"
	"github.com/rs/zerolog"
)

// Name is the broker name reported in execution results
const Name = "tradernet"

// Config holds Tradernet credentials
type Config struct {
	PublicKey    string
	PrivateKey   string
	BaseURL      string
	// TickerSuffix is appended to bare symbols, ".US" for US listings
	TickerSuffix string
	// Exchange is the market code consulted on the status stream
	Exchange     string
	// Currency selects which cash account counts as the balance
	Currency     string
}

// Broker places market orders through Tradernet
type Broker struct {
	client *Client
	quotes domain.MarketDataProvider
	stream *MarketStream
	clock  broker.MarketClock
	now    func() time.Time
	cfg    Config
	policy broker.RetryPolicy
	log    zerolog.Logger
}

// NewBroker creates the Tradernet broker. stream may be nil, in which case
// clock alone decides IsMarketOpen.
func NewBroker(cfg Config, client *Client, quotes domain.MarketDataProvider, stream *MarketStream, clock broker.MarketClock, policy broker.RetryPolicy, log zerolog.Logger) *Broker {
	if cfg.TickerSuffix == "" {
		cfg.TickerSuffix = ".US"
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "NYSE"
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &Broker{
		client: client,
		quotes: quotes,
		stream: stream,
		clock:  clock,
		now:    time.Now,
		cfg:    cfg,
		policy: policy,
		log:    log.With().Str("broker", Name).Logger(),
	}
}

// Name returns the broker name
func (b *Broker) Name() string {
	return Name
}

// SubmitBuy buys, on margin when covering a short
func (b *Broker) SubmitBuy(ctx context.Context, symbol string, quantity float64, agentID string) domain.ExecutionResult {
	symbol = strings.ToUpper(symbol)
	held, err := b.heldQuantity(ctx, symbol)
	if err != nil {
		return domain.FailedExecution(Name, quantity, fmt.Sprintf("failed to resolve position for %s: %v", symbol, err))
	}
	action := actionBuy
	if held < 0 {
		action = actionBuyMargin
	}
	return b.submit(ctx, symbol, quantity, agentID, action)
}

// SubmitSell sells a holding, or sells on margin to open a short
func (b *Broker) SubmitSell(ctx context.Context, symbol string, quantity float64, agentID string) domain.ExecutionResult {
	symbol = strings.ToUpper(symbol)
	held, err := b.heldQuantity(ctx, symbol)
	if err != nil {
		return domain.FailedExecution(Name, quantity, fmt.Sprintf("failed to resolve position for %s: %v", symbol, err))
	}
	action := actionSell
	if held <= 0 {
		action = actionSellMargin
	}
	return b.submit(ctx, symbol, quantity, agentID, action)
}

func (b *Broker) submit(ctx context.Context, symbol string, quantity float64, agentID string, action int) domain.ExecutionResult {
	ticker := toTicker(symbol, b.cfg.TickerSuffix)
	res := broker.Fulfill(ctx, b.policy, broker.Order[order]{
		Broker:   Name,
		Symbol:   symbol,
		Quantity: quantity,
		Quote:    broker.ReferenceQuote(b.quotes, symbol),
		Submit: func(ctx context.Context) (string, error) {
			var resp tradeOrderResponse
			err := b.client.Call(ctx, "putTradeOrder", tradeOrderParams{
				InstrName:    ticker,
				ActionID:     action,
				OrderTypeID:  orderTypeMarket,
				Qty:          quantity,
				ExpirationID: expirationDay,
			}, &resp)
			if err != nil {
				return "", err
			}
			if resp.orderID() <= 0 {
				return "", fmt.Errorf("order response carried no order id")
			}
			return strconv.FormatInt(resp.orderID(), 10), nil
		},
		FetchStatus: b.fetchOrder,
		ExtractFill: extractFill,
	})

	b.log.Info().
		Str("agent_id", agentID).
		Str("ticker", ticker).
		Int("action_id", action).
		Bool("success", res.Success).
		Float64("filled", res.ExecutedQuantity).
		Msg("Order finished")
	return res
}

func (b *Broker) orders(ctx context.Context, activeOnly bool) ([]order, error) {
	params := notifyOrderParams{}
	if activeOnly {
		params.ActiveOnly = 1
	}
	var resp ordersResponse
	if err := b.client.Call(ctx, "getNotifyOrderJson", params, &resp); err != nil {
		return nil, err
	}
	return resp.Result.Orders.Order, nil
}

func (b *Broker) fetchOrder(ctx context.Context, orderID string) (order, error) {
	orders, err := b.orders(ctx, false)
	if err != nil {
		return order{}, err
	}
	for _, o := range orders {
		if strconv.FormatInt(int64(o.ID.Value()), 10) == orderID {
			return o, nil
		}
	}
	return order{}, fmt.Errorf("order %s not found", orderID)
}

func extractFill(o order) broker.Progress {
	qty, price := o.fill()
	p := broker.Progress{Quantity: qty, Price: price, Commission: o.Commission.Value(), Reason: o.StatusDesc}

	switch int(o.Status.Value()) {
	case statusFilled:
		p.State = broker.StateFilled
	case statusCancelled, statusDoneForDay, statusExpired, statusReplaced, statusStopped:
		p.State = broker.StateCancelled
	case statusRejected, statusSuspended:
		p.State = broker.StateRejected
		if p.Reason == "" {
			p.Reason = "order rejected by Tradernet"
		}
	default:
		p.State = broker.StatePolling
	}
	return p
}

func (b *Broker) portfolio(ctx context.Context) (*positionsResponse, error) {
	var resp positionsResponse
	if err := b.client.Call(ctx, "getPositionJson", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (b *Broker) heldQuantity(ctx context.Context, symbol string) (float64, error) {
	resp, err := b.portfolio(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range resp.Result.Portfolio.Positions {
		if fromTicker(p.Instrument, b.cfg.TickerSuffix) == symbol {
			return p.Quantity.Value(), nil
		}
	}
	return 0, nil
}

// GetAccount returns the cash balance in the configured currency and all
// positions quoted in it
func (b *Broker) GetAccount(ctx context.Context) (*domain.BrokerAccount, error) {
	resp, err := b.portfolio(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}

	acct := &domain.BrokerAccount{}
	for _, a := range resp.Result.Portfolio.Accounts {
		if strings.EqualFold(a.Currency, b.cfg.Currency) {
			acct.CashBalance += a.Amount.Value()
		}
	}
	acct.AccountValue = acct.CashBalance

	for _, p := range resp.Result.Portfolio.Positions {
		if p.Currency != "" && !strings.EqualFold(p.Currency, b.cfg.Currency) {
			continue
		}
		qty := p.Quantity.Value()
		value := qty * p.MarketPrice.Value()
		acct.AccountValue += value
		acct.Positions = append(acct.Positions, domain.BrokerPosition{
			Symbol:       fromTicker(p.Instrument, b.cfg.TickerSuffix),
			Quantity:     qty,
			AvgPrice:     p.BalancePrice.Value(),
			CurrentPrice: p.MarketPrice.Value(),
			MarketValue:  value,
		})
	}
	return acct, nil
}

// IsMarketOpen prefers the live exchange status and falls back to the
// calendar when the stream has nothing fresh
func (b *Broker) IsMarketOpen(ctx context.Context) bool {
	if b.stream != nil {
		if m, ok := b.stream.MarketStatus(b.cfg.Exchange); ok {
			return m.Status == "open"
		}
	}
	return b.clock != nil && b.clock.IsMarketOpen(b.now())
}

// CancelAllOrders cancels every active order
func (b *Broker) CancelAllOrders(ctx context.Context) error {
	orders, err := b.orders(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to list orders: %w", err)
	}

	var failed []string
	for _, o := range orders {
		id := strconv.FormatInt(int64(o.ID.Value()), 10)
		if err := b.client.Call(ctx, "delTradeOrder", map[string]int64{"order_id": int64(o.ID.Value())}, nil); err != nil {
			b.log.Warn().Err(err).Str("order_id", id).Msg("Failed to cancel order")
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to cancel orders %s", strings.Join(failed, ", "))
	}
	return nil
}
