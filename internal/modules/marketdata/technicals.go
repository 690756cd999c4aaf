package marketdata

import (
	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/pkg/formulas"
)

// Lookbacks in trading days
const (
	weekBars  = 5
	monthBars = 21
	rsiPeriod = 14
)

// ComputeTechnicals derives the indicator set for one symbol from its daily
// closes (oldest first) and the index's daily returns
func ComputeTechnicals(symbol string, price float64, closes, indexReturns []float64) domain.Technicals {
	series := closes
	if price > 0 {
		series = append(append([]float64(nil), closes...), price)
	} else if len(closes) > 0 {
		price = closes[len(closes)-1]
	}

	returns := formulas.CalculateReturns(series)

	return domain.Technicals{
		Symbol:         symbol,
		Price:          price,
		SMA20:          formulas.SMA(series, 20),
		SMA50:          formulas.SMA(series, 50),
		RSI14:          formulas.CalculateRSI(series, rsiPeriod),
		WeekChangePct:  formulas.PercentChange(series, weekBars),
		MonthChangePct: formulas.PercentChange(series, monthBars),
		Volatility:     formulas.AnnualizedVolatility(returns),
		Beta:           formulas.Beta(returns, indexReturns),
	}
}
