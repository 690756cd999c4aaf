// Package snapshots derives per-agent statistics from the trade ledger and
// records end-of-cycle performance snapshots.
package snapshots

import (
	"math"

	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/pkg/formulas"
)

// ComputeStats folds a ledger into the extended stats value. Only closing
// trades count towards wins, losses and the Kelly inputs.
func ComputeStats(trades []domain.Trade) domain.ExtendedStats {
	var (
		stats     domain.ExtendedStats
		sizes     []float64
		winPcts   []float64
		lossPcts  []float64
		grossWin  float64
		grossLoss float64
	)

	stats.TradeCount = len(trades)
	for _, t := range trades {
		sizes = append(sizes, t.Total)
		stats.TotalFees += t.Commission
		stats.TotalSlippage += t.Slippage

		if t.RealizedPnL == nil {
			continue
		}
		pnl := *t.RealizedPnL
		stats.ClosedTrades++
		stats.TotalRealizedPnL += pnl

		switch {
		case pnl > 0:
			stats.Wins++
			grossWin += pnl
			stats.LargestWin = math.Max(stats.LargestWin, pnl)
			if t.RealizedPnLPercent != nil {
				winPcts = append(winPcts, math.Abs(*t.RealizedPnLPercent))
			}
		case pnl < 0:
			stats.Losses++
			grossLoss += -pnl
			stats.LargestLoss = math.Min(stats.LargestLoss, pnl)
			if t.RealizedPnLPercent != nil {
				lossPcts = append(lossPcts, math.Abs(*t.RealizedPnLPercent))
			}
		}
	}

	if stats.ClosedTrades > 0 {
		stats.WinRate = float64(stats.Wins) / float64(stats.ClosedTrades)
	}
	stats.AvgWinPct = formulas.Mean(winPcts)
	stats.AvgLossPct = formulas.Mean(lossPcts)
	stats.AvgTradeSize = domain.RoundCents(formulas.Mean(sizes))
	if grossLoss > 0 {
		stats.ProfitFactor = grossWin / grossLoss
	}

	stats.TotalRealizedPnL = domain.RoundCents(stats.TotalRealizedPnL)
	stats.TotalFees = domain.RoundCents(stats.TotalFees)
	stats.TotalSlippage = domain.RoundCents(stats.TotalSlippage)
	return stats
}
