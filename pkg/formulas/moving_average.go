package formulas

import (
	"math"

	"github.com/markcheno/go-talib"
)

// SMA returns the latest simple moving average over period closes,
// or nil when the series is shorter than the period
func SMA(closes []float64, period int) *float64 {
	if period <= 0 || len(closes) < period {
		return nil
	}

	sma := talib.Sma(closes, period)
	last := sma[len(sma)-1]
	if math.IsNaN(last) {
		return nil
	}
	return &last
}

// PercentChange returns the percent change of the last close versus the
// close lookback bars earlier. Zero when the series is too short.
func PercentChange(closes []float64, lookback int) float64 {
	if lookback <= 0 || len(closes) <= lookback {
		return 0
	}
	base := closes[len(closes)-1-lookback]
	if base == 0 {
		return 0
	}
	return (closes[len(closes)-1] - base) / base * 100
}
