package domain

// ExitType names the rule that produced an exit signal
type ExitType string

const (
	ExitNone             ExitType = "none"
	ExitStopLoss         ExitType = "stop_loss"
	ExitProfitTarget     ExitType = "profit_target"
	ExitTrailingStop     ExitType = "trailing_stop"
	ExitTimeBased        ExitType = "time_based"
	ExitTechnical        ExitType = "technical"
	ExitMacroBreaker     ExitType = "macro_breaker"
	ExitStrategySpecific ExitType = "strategy_specific"
)

// Urgency orders exit signals and alerts
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Rank returns a sortable weight for the urgency
func (u Urgency) Rank() int {
	switch u {
	case UrgencyCritical:
		return 4
	case UrgencyHigh:
		return 3
	case UrgencyMedium:
		return 2
	case UrgencyLow:
		return 1
	}
	return 0
}

// ExitSignal is the exit verdict for one position in one cycle
type ExitSignal struct {
	Symbol     string       `json:"symbol"`
	Side       PositionSide `json:"side"`
	ExitType   ExitType     `json:"exit_type"`
	Urgency    Urgency      `json:"urgency"`
	Reasoning  []string     `json:"reasoning"`
	Confidence float64      `json:"confidence"`
	ShouldExit bool         `json:"should_exit"`
}

// PositionSizeResult is the output of the Kelly sizing engine.
// A zero PositionSize means "no trade".
type PositionSizeResult struct {
	Reasoning       []string `json:"reasoning"`
	PositionSize    float64  `json:"position_size"`
	PositionPercent float64  `json:"position_percent"`
	KellyFraction   float64  `json:"kelly_fraction"`
	AdjustedKelly   float64  `json:"adjusted_kelly"`
	Quantity        float64  `json:"quantity"`
	Confidence      float64  `json:"confidence"`
}

// IsNoTrade reports whether sizing declined the trade
func (r *PositionSizeResult) IsNoTrade() bool {
	return r.PositionSize <= 0
}

// HistoricalPerformance are the Kelly inputs derived from closed trades
type HistoricalPerformance struct {
	WinRate    float64 `json:"win_rate"`     // 0-1
	AvgWinPct  float64 `json:"avg_win_pct"`  // positive percent
	AvgLossPct float64 `json:"avg_loss_pct"` // positive percent
	SampleSize int     `json:"sample_size"`
}

// ExtendedStats holds every derived per-agent metric in one typed value
type ExtendedStats struct {
	TradeCount       int     `json:"trade_count"`
	ClosedTrades     int     `json:"closed_trades"`
	Wins             int     `json:"wins"`
	Losses           int     `json:"losses"`
	WinRate          float64 `json:"win_rate"`
	AvgWinPct        float64 `json:"avg_win_pct"`
	AvgLossPct       float64 `json:"avg_loss_pct"`
	ProfitFactor     float64 `json:"profit_factor"`
	TotalRealizedPnL float64 `json:"total_realized_pnl"`
	TotalFees        float64 `json:"total_fees"`
	TotalSlippage    float64 `json:"total_slippage"`
	AvgTradeSize     float64 `json:"avg_trade_size"`
	LargestWin       float64 `json:"largest_win"`
	LargestLoss      float64 `json:"largest_loss"`
}

// HistoricalPerformance projects the stats onto the sizing inputs
func (s ExtendedStats) HistoricalPerformance() HistoricalPerformance {
	return HistoricalPerformance{
		WinRate:    s.WinRate,
		AvgWinPct:  s.AvgWinPct,
		AvgLossPct: s.AvgLossPct,
		SampleSize: s.ClosedTrades,
	}
}
