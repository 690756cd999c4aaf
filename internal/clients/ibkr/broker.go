// Package ibkr implements the broker port against the Interactive Brokers
// Client Portal gateway. The gateway holds the brokerage session, so
// requests carry no credentials of their own.
package ibkr

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aristath/arena/internal/broker"
	"github.com/aristath/arena/internal/clients/rest"
	"github.com/aristath/arena/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Name is the broker name reported in execution results
const Name = "ibkr"

// maxConfirmations bounds the reply loop for gateway order warnings
const maxConfirmations = 3

// Config points at a running Client Portal gateway
type Config struct {
	BaseURL   string
	AccountID string
}

// Broker places market orders through the Client Portal gateway
type Broker struct {
	api       *rest.Client
	quotes    domain.MarketDataProvider
	clock     broker.MarketClock
	now       func() time.Time
	conids    map[string]int64
	accountID string
	policy    broker.RetryPolicy
	log       zerolog.Logger
	mu        sync.Mutex
}

// NewBroker creates the IBKR broker
func NewBroker(cfg Config, quotes domain.MarketDataProvider, clock broker.MarketClock, policy broker.RetryPolicy, health rest.HealthRecorder, log zerolog.Logger) *Broker {
	return &Broker{
		api: rest.New(rest.Config{
			Name:              Name,
			BaseURL:           cfg.BaseURL,
			Health:            health,
			RequestsPerSecond: 5,
			Burst:             5,
		}, log),
		quotes:    quotes,
		clock:     clock,
		now:       time.Now,
		conids:    make(map[string]int64),
		accountID: cfg.AccountID,
		policy:    policy,
		log:       log.With().Str("broker", Name).Logger(),
	}
}

// Name returns the broker name
func (b *Broker) Name() string {
	return Name
}

// SubmitBuy places a market buy. IBKR nets a buy against a short itself.
func (b *Broker) SubmitBuy(ctx context.Context, symbol string, quantity float64, agentID string) domain.ExecutionResult {
	return b.submit(ctx, strings.ToUpper(symbol), quantity, agentID, "BUY")
}

// SubmitSell places a market sell, which opens a short when flat
func (b *Broker) SubmitSell(ctx context.Context, symbol string, quantity float64, agentID string) domain.ExecutionResult {
	return b.submit(ctx, strings.ToUpper(symbol), quantity, agentID, "SELL")
}

func (b *Broker) submit(ctx context.Context, symbol string, quantity float64, agentID, side string) domain.ExecutionResult {
	res := broker.Fulfill(ctx, b.policy, broker.Order[orderStatus]{
		Broker:   Name,
		Symbol:   symbol,
		Quantity: quantity,
		Quote:    broker.ReferenceQuote(b.quotes, symbol),
		Submit: func(ctx context.Context) (string, error) {
			conid, err := b.resolveConID(ctx, symbol)
			if err != nil {
				return "", err
			}
			return b.place(ctx, orderTicket{
				ConID:     conid,
				OrderType: "MKT",
				Side:      side,
				TIF:       "DAY",
				COID:      agentID + "-" + uuid.New().String(),
				Quantity:  quantity,
			})
		},
		FetchStatus: func(ctx context.Context, orderID string) (orderStatus, error) {
			var st orderStatus
			err := b.api.Get(ctx, "/iserver/account/order/status/"+url.PathEscape(orderID), nil, &st)
			return st, err
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

// place submits the ticket and answers the gateway's confirmation prompts
func (b *Broker) place(ctx context.Context, ticket orderTicket) (string, error) {
	var replies []placeReply
	path := "/iserver/account/" + url.PathEscape(b.accountID) + "/orders"
	if err := b.api.Post(ctx, path, placeRequest{Orders: []orderTicket{ticket}}, &replies); err != nil {
		return "", err
	}

	for i := 0; i <= maxConfirmations; i++ {
		if len(replies) == 0 {
			return "", fmt.Errorf("empty order reply")
		}
		r := replies[0]
		switch {
		case r.Error != "":
			return "", fmt.Errorf("order rejected: %s", r.Error)
		case r.OrderID != "":
			return r.OrderID, nil
		case r.ID == "":
			return "", fmt.Errorf("order reply carried no id")
		}
		if i == maxConfirmations {
			break
		}

		b.log.Debug().Str("reply_id", r.ID).Strs("message", r.Message).Msg("Confirming order warning")
		replies = nil
		if err := b.api.Post(ctx, "/iserver/reply/"+url.PathEscape(r.ID), map[string]bool{"confirmed": true}, &replies); err != nil {
			return "", fmt.Errorf("failed to confirm order: %w", err)
		}
	}
	return "", fmt.Errorf("order still unconfirmed after %d replies", maxConfirmations)
}

func (b *Broker) resolveConID(ctx context.Context, symbol string) (int64, error) {
	b.mu.Lock()
	conid, ok := b.conids[symbol]
	b.mu.Unlock()
	if ok {
		return conid, nil
	}

	var found []contract
	q := url.Values{"symbol": {symbol}, "secType": {"STK"}}
	if err := b.api.Get(ctx, "/iserver/secdef/search", q, &found); err != nil {
		return 0, fmt.Errorf("failed to look up contract for %s: %w", symbol, err)
	}
	for _, c := range found {
		if c.ConID.Value() > 0 && (c.Symbol == "" || strings.EqualFold(c.Symbol, symbol)) {
			conid = int64(c.ConID.Value())
			break
		}
	}
	if conid == 0 {
		return 0, fmt.Errorf("no stock contract for %s", symbol)
	}

	b.mu.Lock()
	b.conids[symbol] = conid
	b.mu.Unlock()
	return conid, nil
}

func extractFill(st orderStatus) broker.Progress {
	p := broker.Progress{
		Quantity:   st.CumFill.Value(),
		Price:      st.AveragePrice.Value(),
		Commission: st.Commission.Value(),
	}
	switch strings.ToLower(st.Status) {
	case "filled":
		p.State = broker.StateFilled
	case "cancelled":
		p.State = broker.StateCancelled
	case "inactive":
		p.State = broker.StateRejected
		p.Reason = "order inactive"
		if st.Reason != "" {
			p.Reason += ": " + st.Reason
		}
	default: // PendingSubmit, PreSubmitted, Submitted
		p.State = broker.StatePolling
	}
	return p
}

// GetAccount returns the portfolio summary and positions
func (b *Broker) GetAccount(ctx context.Context) (*domain.BrokerAccount, error) {
	acctPath := "/portfolio/" + url.PathEscape(b.accountID)

	var summary accountSummary
	if err := b.api.Get(ctx, acctPath+"/summary", nil, &summary); err != nil {
		return nil, fmt.Errorf("failed to get account summary: %w", err)
	}

	acct := &domain.BrokerAccount{
		CashBalance:  summary.TotalCash.Amount.Value(),
		AccountValue: summary.NetLiquidation.Amount.Value(),
	}

	// positions are paged 100 at a time
	for page := 0; ; page++ {
		var batch []position
		if err := b.api.Get(ctx, acctPath+"/positions/"+strconv.Itoa(page), nil, &batch); err != nil {
			return nil, fmt.Errorf("failed to get positions: %w", err)
		}
		for _, p := range batch {
			if p.AssetClass != "" && p.AssetClass != "STK" {
				continue
			}
			acct.Positions = append(acct.Positions, domain.BrokerPosition{
				Symbol:       p.symbol(),
				Quantity:     p.Position.Value(),
				AvgPrice:     p.AvgPrice.Value(),
				CurrentPrice: p.MktPrice.Value(),
				MarketValue:  p.MktValue.Value(),
			})
		}
		if len(batch) < 100 {
			break
		}
	}
	return acct, nil
}

// IsMarketOpen consults the exchange calendar
func (b *Broker) IsMarketOpen(ctx context.Context) bool {
	return b.clock != nil && b.clock.IsMarketOpen(b.now())
}

// CancelAllOrders cancels every live order on the account
func (b *Broker) CancelAllOrders(ctx context.Context) error {
	var live liveOrders
	if err := b.api.Get(ctx, "/iserver/account/orders", nil, &live); err != nil {
		return fmt.Errorf("failed to list orders: %w", err)
	}

	var failed []string
	for _, o := range live.Orders {
		switch strings.ToLower(o.Status) {
		case "presubmitted", "submitted", "pendingsubmit":
		default:
			continue
		}
		id := strconv.FormatInt(int64(o.OrderID.Value()), 10)
		path := "/iserver/account/" + url.PathEscape(b.accountID) + "/order/" + id
		if err := b.api.Delete(ctx, path, nil); err != nil {
			b.log.Warn().Err(err).Str("order_id", id).Msg("Failed to cancel order")
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to cancel orders %s", strings.Join(failed, ", "))
	}
	return nil
}
