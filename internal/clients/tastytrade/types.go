package tastytrade

import "github.com/aristath/arena/internal/clients/rest"

// envelope is the {"data": ...} wrapper every tastytrade response uses
type envelope[T any] struct {
	Data T `json:"data"`
}

type items[T any] struct {
	Items []T `json:"items"`
}

type orderLeg struct {
	InstrumentType string  `json:"instrument-type"`
	Symbol         string  `json:"symbol"`
	Action         string  `json:"action"`
	Quantity       float64 `json:"quantity"`
}

type orderRequest struct {
	TimeInForce string     `json:"time-in-force"`
	OrderType   string     `json:"order-type"`
	Legs        []orderLeg `json:"legs"`
}

type fill struct {
	Quantity  rest.Float `json:"quantity"`
	FillPrice rest.Float `json:"fill-price"`
}

type order struct {
	Status       string `json:"status"`
	RejectReason string `json:"reject-reason"`
	Legs         []struct {
		Fills []fill `json:"fills"`
	} `json:"legs"`
	ID          rest.Float `json:"id"`
	Cancellable bool       `json:"cancellable"`
}

func (o order) fill() (qty, price float64) {
	var notional float64
	for _, leg := range o.Legs {
		for _, f := range leg.Fills {
			qty += f.Quantity.Value()
			notional += f.Quantity.Value() * f.FillPrice.Value()
		}
	}
	if qty > 0 {
		price = notional / qty
	}
	return qty, price
}

type placeResponse struct {
	Order order `json:"order"`
}

type balances struct {
	CashBalance         rest.Float `json:"cash-balance"`
	NetLiquidatingValue rest.Float `json:"net-liquidating-value"`
}

type position struct {
	Symbol            string     `json:"symbol"`
	InstrumentType    string     `json:"instrument-type"`
	QuantityDirection string     `json:"quantity-direction"`
	Quantity          rest.Float `json:"quantity"`
	AverageOpenPrice  rest.Float `json:"average-open-price"`
	Mark              rest.Float `json:"mark"`
	ClosePrice        rest.Float `json:"close-price"`
}

func (p position) signedQuantity() float64 {
	q := p.Quantity.Value()
	if p.QuantityDirection == "Short" && q > 0 {
		return -q
	}
	return q
}

func (p position) price() float64 {
	if m := p.Mark.Value(); m > 0 {
		return m
	}
	return p.ClosePrice.Value()
}
