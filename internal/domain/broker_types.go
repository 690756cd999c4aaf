package domain

import "strings"

// BrokerKind identifies which backend executes an agent's orders
type BrokerKind string

const (
	BrokerSimulator    BrokerKind = "simulator"
	BrokerAlpaca       BrokerKind = "alpaca"
	BrokerTradier      BrokerKind = "tradier"
	BrokerTradeStation BrokerKind = "tradestation"
	BrokerSchwab       BrokerKind = "schwab"
	BrokerIBKR         BrokerKind = "ibkr"
	BrokerTastytrade   BrokerKind = "tastytrade"
	BrokerTradernet    BrokerKind = "tradernet"
)

// ParseBrokerKind normalizes a configured broker name, defaulting to the simulator
func ParseBrokerKind(s string) BrokerKind {
	switch k := BrokerKind(strings.ToLower(strings.TrimSpace(s))); k {
	case BrokerAlpaca, BrokerTradier, BrokerTradeStation, BrokerSchwab,
		BrokerIBKR, BrokerTastytrade, BrokerTradernet:
		return k
	default:
		return BrokerSimulator
	}
}

// OrderStatus is the terminal classification of an execution attempt
type OrderStatus string

const (
	OrderFilled   OrderStatus = "filled"
	OrderPending  OrderStatus = "pending"
	OrderRejected OrderStatus = "rejected"
)

// ExecutionResult is what every broker returns for a submitted order.
// Failures are carried in Error rather than returned as Go errors.
type ExecutionResult struct {
	OrderID           string      `json:"order_id,omitempty"`
	OrderStatus       OrderStatus `json:"order_status"`
	Error             string      `json:"error,omitempty"`
	Broker            string      `json:"broker"`
	ExecutedPrice     float64     `json:"executed_price"`
	ExecutedQuantity  float64     `json:"executed_quantity"`
	RequestedQuantity float64     `json:"requested_quantity"`
	ReferencePrice    float64     `json:"reference_price"`
	Commission        float64     `json:"commission"`
	Slippage          float64     `json:"slippage"`
	ExecutionTimeMs   int64       `json:"execution_time_ms"`
	Success           bool        `json:"success"`
}

// FailedExecution builds a rejected result for broker-level failures
func FailedExecution(broker string, requested float64, reason string) ExecutionResult {
	return ExecutionResult{
		Broker:            broker,
		OrderStatus:       OrderRejected,
		RequestedQuantity: requested,
		Error:             reason,
	}
}

// BrokerPosition is a position as reported by a brokerage
type BrokerPosition struct {
	Symbol       string  `json:"symbol"`
	Quantity     float64 `json:"quantity"` // negative for short
	AvgPrice     float64 `json:"avg_price"`
	CurrentPrice float64 `json:"current_price"`
	MarketValue  float64 `json:"market_value"`
}

// BrokerAccount is the account summary returned by GetAccount
type BrokerAccount struct {
	Positions    []BrokerPosition `json:"positions"`
	AccountValue float64          `json:"account_value"`
	CashBalance  float64          `json:"cash_balance"`
}

// PositionQuantity returns the signed quantity held in symbol
func (a *BrokerAccount) PositionQuantity(symbol string) float64 {
	if a == nil {
		return 0
	}
	for _, p := range a.Positions {
		if strings.EqualFold(p.Symbol, symbol) {
			return p.Quantity
		}
	}
	return 0
}
