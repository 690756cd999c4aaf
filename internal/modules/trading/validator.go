package trading

import (
	"fmt"

	"github.com/aristath/arena/internal/domain"
)

// ValidateDecision checks an untrusted decision against the agent's book.
// price is the current quote (zero when unknown); long and short are the
// agent's existing positions in the decision's symbol, nil when flat.
// Every rejection wraps domain.ErrValidationRejected.
func ValidateDecision(d *domain.Decision, price float64, long, short *domain.Position) error {
	if d == nil {
		return reject("decision is missing")
	}
	if !d.Action.Valid() {
		return reject("unknown action %q", d.Action)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return reject("confidence %.2f outside [0,1]", d.Confidence)
	}
	if d.Quantity < 0 {
		return reject("quantity %.4f is negative", d.Quantity)
	}
	if d.Action == domain.ActionHold {
		return nil
	}
	if d.Symbol == "" {
		return reject("symbol is required for %s", d.Action)
	}

	switch d.Action {
	case domain.ActionBuy:
		if price <= 0 {
			return reject("no price for %s", d.Symbol)
		}
		if d.StopLoss != nil && *d.StopLoss >= price {
			return reject("stop loss %.2f must be below price %.2f for a long", *d.StopLoss, price)
		}
		if d.TargetPrice != nil && *d.TargetPrice <= price {
			return reject("target %.2f must be above price %.2f for a long", *d.TargetPrice, price)
		}
	case domain.ActionSellShort:
		if price <= 0 {
			return reject("no price for %s", d.Symbol)
		}
		if d.StopLoss != nil && *d.StopLoss <= price {
			return reject("stop loss %.2f must be above price %.2f for a short", *d.StopLoss, price)
		}
		if d.TargetPrice != nil && *d.TargetPrice >= price {
			return reject("target %.2f must be below price %.2f for a short", *d.TargetPrice, price)
		}
	case domain.ActionSell:
		if long == nil || long.Quantity <= 0 {
			return reject("no long position in %s to sell", d.Symbol)
		}
	case domain.ActionBuyToCover:
		if short == nil || short.Quantity <= 0 {
			return reject("no short position in %s to cover", d.Symbol)
		}
	}

	return nil
}

func reject(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", domain.ErrValidationRejected, fmt.Sprintf(format, args...))
}
