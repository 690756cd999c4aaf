package tradernet

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/aristath/arena/internal/clients/rest"
)

// Order statuses as reported in the "stat" field
const (
	statusNew             = 1
	statusPartiallyFilled = 2
	statusFilled          = 3
	statusDoneForDay      = 4
	statusCancelled       = 5
	statusReplaced        = 6
	statusPendingCancel   = 7
	statusStopped         = 8
	statusRejected        = 9
	statusSuspended       = 10
	statusPendingNew      = 11
	statusExpired         = 13
)

// Action IDs for putTradeOrder. Margin variants are needed to go short.
const (
	actionBuy        = 1
	actionBuyMargin  = 2
	actionSell       = 3
	actionSellMargin = 4
)

const (
	orderTypeMarket = 1
	expirationDay   = 1
)

// oneOrMany decodes a field that is an object when there is one element
// and an array otherwise.
type oneOrMany[T any] []T

func (o *oneOrMany[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) || bytes.Equal(b, []byte(`""`)) {
		*o = nil
		return nil
	}
	if b[0] == '[' {
		var many []T
		if err := json.Unmarshal(b, &many); err != nil {
			return err
		}
		*o = many
		return nil
	}
	var one T
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*o = []T{one}
	return nil
}

type tradeOrderParams struct {
	InstrName    string  `json:"instr_name"`
	ActionID     int     `json:"action_id"`
	OrderTypeID  int     `json:"order_type_id"`
	Qty          float64 `json:"qty"`
	ExpirationID int     `json:"expiration_id"`
}

type tradeOrderResponse struct {
	OrderID rest.Float `json:"order_id"`
	ID      rest.Float `json:"id"`
}

func (r tradeOrderResponse) orderID() int64 {
	if r.OrderID.Value() > 0 {
		return int64(r.OrderID.Value())
	}
	return int64(r.ID.Value())
}

type notifyOrderParams struct {
	ActiveOnly int `json:"active_only"`
}

type execution struct {
	Quantity rest.Float `json:"q"`
	Price    rest.Float `json:"p"`
}

type order struct {
	Symbol     string               `json:"instr"`
	StatusDesc string               `json:"stat_d"`
	Trades     oneOrMany[execution] `json:"trade"`
	ID         rest.Float           `json:"id"`
	Status     rest.Float           `json:"stat"`
	Quantity   rest.Float           `json:"q"`
	Price      rest.Float           `json:"p"`
	Commission rest.Float           `json:"fee"`
}

func (o order) fill() (qty, price float64) {
	var notional float64
	for _, t := range o.Trades {
		qty += t.Quantity.Value()
		notional += t.Quantity.Value() * t.Price.Value()
	}
	if qty > 0 {
		price = notional / qty
	}
	return qty, price
}

type ordersResponse struct {
	Result struct {
		Orders struct {
			Order oneOrMany[order] `json:"order"`
		} `json:"orders"`
	} `json:"result"`
}

type cashAccount struct {
	Currency string     `json:"curr"`
	Amount   rest.Float `json:"s"`
}

type position struct {
	Instrument   string     `json:"i"`
	Currency     string     `json:"curr"`
	Quantity     rest.Float `json:"q"`
	BalancePrice rest.Float `json:"bal_price_a"`
	MarketPrice  rest.Float `json:"mkt_price"`
}

type positionsResponse struct {
	Result struct {
		Portfolio struct {
			Accounts  []cashAccount `json:"acc"`
			Positions []position    `json:"pos"`
		} `json:"ps"`
	} `json:"result"`
}

// toTicker maps an exchange-neutral symbol onto Tradernet's ticker form
func toTicker(symbol, suffix string) string {
	symbol = strings.ToUpper(symbol)
	if suffix == "" || strings.Contains(symbol, ".") {
		return symbol
	}
	return symbol + suffix
}

func fromTicker(ticker, suffix string) string {
	return strings.TrimSuffix(strings.ToUpper(ticker), strings.ToUpper(suffix))
}
