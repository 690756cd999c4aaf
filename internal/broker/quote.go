package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/arena/internal/domain"
)

// MarketClock answers market-open questions for adapters whose brokerage
// has no clock endpoint
type MarketClock interface {
	IsMarketOpen(t time.Time) bool
}

// ReferenceQuote builds the Quote callback of an Order from a market data
// provider. It returns nil when md is nil, leaving the fill price as reference.
func ReferenceQuote(md domain.MarketDataProvider, symbol string) func(ctx context.Context) (float64, error) {
	if md == nil {
		return nil
	}
	return func(ctx context.Context) (float64, error) {
		q, err := md.GetQuote(ctx, symbol)
		if err != nil {
			return 0, err
		}
		if q == nil || q.Price <= 0 {
			return 0, fmt.Errorf("no usable quote for %s", symbol)
		}
		return q.Price, nil
	}
}
