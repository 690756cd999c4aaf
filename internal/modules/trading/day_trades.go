package trading

import (
	"strings"
	"time"

	"github.com/aristath/arena/internal/domain"
)

// CountDayTrades counts round trips opened and closed in the same symbol on
// the same exchange-calendar day. Legs pair per position side (BUY with
// SELL, SELL_SHORT with BUY_TO_COVER) and each side contributes the smaller
// of its opening and closing counts. A BUY and a SELL_SHORT never pair.
func CountDayTrades(trades []domain.Trade, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}

	type key struct {
		symbol string
		day    string
		side   domain.PositionSide
	}
	opens := make(map[key]int)
	closes := make(map[key]int)

	for _, t := range trades {
		k := key{
			symbol: strings.ToUpper(t.Symbol),
			day:    t.ExecutedAt.In(loc).Format("2006-01-02"),
			side:   t.Action.PositionSide(),
		}
		switch {
		case t.Action.IsOpening():
			opens[k]++
		case t.Action.IsClosing():
			closes[k]++
		}
	}

	count := 0
	for k, o := range opens {
		if c := closes[k]; c < o {
			count += c
		} else {
			count += o
		}
	}
	return count
}
