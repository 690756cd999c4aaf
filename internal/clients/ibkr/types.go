package ibkr

import "github.com/aristath/arena/internal/clients/rest"

type contract struct {
	ConID  rest.Float `json:"conid"`
	Symbol string     `json:"symbol"`
}

type orderTicket struct {
	ConID     int64   `json:"conid"`
	OrderType string  `json:"orderType"`
	Side      string  `json:"side"`
	TIF       string  `json:"tif"`
	COID      string  `json:"cOID"`
	Quantity  float64 `json:"quantity"`
}

type placeRequest struct {
	Orders []orderTicket `json:"orders"`
}

// placeReply is either an acknowledgement (OrderID set) or a question the
// gateway wants confirmed before it routes the order (ID set).
type placeReply struct {
	OrderID     string   `json:"order_id"`
	OrderStatus string   `json:"order_status"`
	ID          string   `json:"id"`
	Message     []string `json:"message"`
	Error       string   `json:"error"`
}

type orderStatus struct {
	OrderID      rest.Float `json:"order_id"`
	Status       string     `json:"order_status"`
	CumFill      rest.Float `json:"cum_fill"`
	AveragePrice rest.Float `json:"average_price"`
	Commission   rest.Float `json:"commission"`
	Reason       string     `json:"order_ccp_status"`
}

type liveOrders struct {
	Orders []struct {
		OrderID rest.Float `json:"orderId"`
		Status  string     `json:"status"`
	} `json:"orders"`
}

type summaryValue struct {
	Amount rest.Float `json:"amount"`
}

type accountSummary struct {
	TotalCash      summaryValue `json:"totalcashvalue"`
	NetLiquidation summaryValue `json:"netliquidation"`
}

type position struct {
	Ticker       string     `json:"ticker"`
	ContractDesc string     `json:"contractDesc"`
	Position     rest.Float `json:"position"`
	AvgPrice     rest.Float `json:"avgPrice"`
	MktPrice     rest.Float `json:"mktPrice"`
	MktValue     rest.Float `json:"mktValue"`
	AssetClass   string     `json:"assetClass"`
}

func (p position) symbol() string {
	if p.Ticker != "" {
		return p.Ticker
	}
	return p.ContractDesc
}
