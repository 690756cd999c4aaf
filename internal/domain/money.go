package domain

import "github.com/shopspring/decimal"

// RoundCents rounds a dollar amount to whole cents
func RoundCents(amount float64) float64 {
	return decimal.NewFromFloat(amount).Round(2).InexactFloat64()
}

// CashCovers is the single authoritative check for whether cash pays for a
// notional. Both sides are compared at cent precision.
func CashCovers(cash, notional float64) bool {
	c := decimal.NewFromFloat(cash).Round(2)
	n := decimal.NewFromFloat(notional).Round(2)
	return c.GreaterThanOrEqual(n)
}

// MaxAffordable caps a dollar amount at available cash, rounding down to cents
func MaxAffordable(amount, cash float64) float64 {
	if cash <= 0 || amount <= 0 {
		return 0
	}
	a := decimal.NewFromFloat(amount)
	c := decimal.NewFromFloat(cash)
	return decimal.Min(a, c).RoundFloor(2).InexactFloat64()
}
