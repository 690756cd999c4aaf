// Package market_hours provides the exchange trading calendar.
package market_hours

import "time"

// TradingHours represents regular trading hours for an exchange
type TradingHours struct {
	OpenHour    int // Hour (0-23)
	OpenMinute  int // Minute (0-59)
	CloseHour   int // Hour (0-23)
	CloseMinute int // Minute (0-59)
}

// EarlyCloseRule represents a rule for early market closure
type EarlyCloseRule struct {
	Name        string
	CloseHour   int
	CloseMinute int
	// DatePattern receives a date in the exchange timezone
	DatePattern func(time.Time) bool
}

// MarketStatus represents the current status of a market
type MarketStatus struct {
	Open      bool   `json:"open"`
	Exchange  string `json:"exchange"`
	Timezone  string `json:"timezone"`
	ClosesAt  string `json:"closes_at,omitempty"`  // Time when market closes (if open)
	OpensAt   string `json:"opens_at,omitempty"`   // Time when market opens (if closed)
	OpensDate string `json:"opens_date,omitempty"` // Date when market opens (if closed and opens tomorrow or later)
}
