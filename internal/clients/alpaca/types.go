package alpaca

import (
	"time"

	"github.com/aristath/arena/internal/clients/rest"
)

type orderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

type order struct {
	ID             string     `json:"id"`
	ClientOrderID  string     `json:"client_order_id"`
	Symbol         string     `json:"symbol"`
	Status         string     `json:"status"`
	Qty            rest.Float `json:"qty"`
	FilledQty      rest.Float `json:"filled_qty"`
	FilledAvgPrice rest.Float `json:"filled_avg_price"`
}

type account struct {
	Cash        rest.Float `json:"cash"`
	Equity      rest.Float `json:"equity"`
	BuyingPower rest.Float `json:"buying_power"`
	Status      string     `json:"status"`
}

type position struct {
	Symbol        string     `json:"symbol"`
	Side          string     `json:"side"`
	Qty           rest.Float `json:"qty"`
	AvgEntryPrice rest.Float `json:"avg_entry_price"`
	CurrentPrice  rest.Float `json:"current_price"`
	MarketValue   rest.Float `json:"market_value"`
}

type clock struct {
	Timestamp time.Time `json:"timestamp"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
	IsOpen    bool      `json:"is_open"`
}

type snapshot struct {
	LatestTrade struct {
		Timestamp time.Time `json:"t"`
		Price     float64   `json:"p"`
	} `json:"latestTrade"`
	DailyBar     snapshotBar  `json:"dailyBar"`
	PrevDailyBar *snapshotBar `json:"prevDailyBar"`
}

type snapshotBar struct {
	Timestamp time.Time `json:"t"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
}

type barsResponse struct {
	Bars []struct {
		Timestamp time.Time `json:"t"`
		Close     float64   `json:"c"`
		Volume    float64   `json:"v"`
	} `json:"bars"`
	NextPageToken *string `json:"next_page_token"`
}
