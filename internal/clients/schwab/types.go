package schwab

import "github.com/aristath/arena/internal/clients/rest"

type instrument struct {
	Symbol    string `json:"symbol"`
	AssetType string `json:"assetType"`
}

type orderLeg struct {
	Instrument  instrument `json:"instrument"`
	Instruction string     `json:"instruction"`
	Quantity    float64    `json:"quantity"`
}

type orderRequest struct {
	OrderType         string     `json:"orderType"`
	Session           string     `json:"session"`
	Duration          string     `json:"duration"`
	OrderStrategyType string     `json:"orderStrategyType"`
	Legs              []orderLeg `json:"orderLegCollection"`
}

type executionLeg struct {
	Quantity rest.Float `json:"quantity"`
	Price    rest.Float `json:"price"`
}

type orderActivity struct {
	ExecutionLegs []executionLeg `json:"executionLegs"`
}

type order struct {
	Status            string          `json:"status"`
	StatusDescription string          `json:"statusDescription"`
	Activities        []orderActivity `json:"orderActivityCollection"`
	OrderID           int64           `json:"orderId"`
	FilledQuantity    rest.Float      `json:"filledQuantity"`
	Price             rest.Float      `json:"price"`
	Cancelable        bool            `json:"cancelable"`
}

// fill returns the executed quantity and its volume weighted price
func (o order) fill() (qty, price float64) {
	var notional float64
	for _, a := range o.Activities {
		for _, leg := range a.ExecutionLegs {
			qty += leg.Quantity.Value()
			notional += leg.Quantity.Value() * leg.Price.Value()
		}
	}
	if qty > 0 {
		price = notional / qty
	}
	if fq := o.FilledQuantity.Value(); fq > 0 {
		qty = fq
	}
	return qty, price
}

type position struct {
	Instrument    instrument `json:"instrument"`
	LongQuantity  rest.Float `json:"longQuantity"`
	ShortQuantity rest.Float `json:"shortQuantity"`
	AveragePrice  rest.Float `json:"averagePrice"`
	MarketValue   rest.Float `json:"marketValue"`
}

func (p position) signedQuantity() float64 {
	return p.LongQuantity.Value() - p.ShortQuantity.Value()
}

type accountResponse struct {
	SecuritiesAccount struct {
		CurrentBalances struct {
			CashBalance      rest.Float `json:"cashBalance"`
			LiquidationValue rest.Float `json:"liquidationValue"`
		} `json:"currentBalances"`
		Positions []position `json:"positions"`
	} `json:"securitiesAccount"`
}
