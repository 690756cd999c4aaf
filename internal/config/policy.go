package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy holds every tunable risk, sizing and execution knob. It is loaded
// from YAML on top of DefaultPolicy, so a file only needs the keys it changes.
type Policy struct {
	MarketHours  MarketHoursPolicy  `yaml:"market_hours"`
	Simulator    SimulatorPolicy    `yaml:"simulator"`
	Fulfillment  FulfillmentPolicy  `yaml:"fulfillment"`
	Safety       SafetyPolicy       `yaml:"safety"`
	Sizing       SizingPolicy       `yaml:"sizing"`
	MarketAdjust MarketAdjustPolicy `yaml:"market_adjustment"`
	Exits        ExitPolicy         `yaml:"exits"`
}

// MarketHoursPolicy is the trading window used by the simulator
type MarketHoursPolicy struct {
	Exchange string `yaml:"exchange"`
	Timezone string `yaml:"timezone"`
	Open     string `yaml:"open"`  // "09:30"
	Close    string `yaml:"close"` // "16:00"
}

// SimulatorPolicy configures the fallback execution model
type SimulatorPolicy struct {
	BaseSpreadBps        float64       `yaml:"base_spread_bps"`
	SmallCapSpreadBps    float64       `yaml:"small_cap_spread_bps"`
	PennySpreadBps       float64       `yaml:"penny_spread_bps"`
	LatencyMin           time.Duration `yaml:"latency_min"`
	LatencyMax           time.Duration `yaml:"latency_max"`
	PartialFillThreshold float64       `yaml:"partial_fill_threshold"`
	PartialFillMinRatio  float64       `yaml:"partial_fill_min_ratio"`
	Commission           float64       `yaml:"commission"`
}

// FulfillmentPolicy configures live order polling
type FulfillmentPolicy struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxInterval       time.Duration `yaml:"max_interval"`
}

// SafetyPolicy holds the pre-trade circuit breaker ceilings
type SafetyPolicy struct {
	RequireManualApproval   bool    `yaml:"require_manual_approval"`
	MaxTradeNotional        float64 `yaml:"max_trade_notional"`
	AgentDailyLossLimit     float64 `yaml:"agent_daily_loss_limit"`  // negative dollars
	SystemDailyLossLimit    float64 `yaml:"system_daily_loss_limit"` // negative dollars
	MaxDayTrades            int     `yaml:"max_day_trades"`
	DayTradeWindowSessions  int     `yaml:"day_trade_window_sessions"`
	GrowthAllowance         float64 `yaml:"growth_allowance"` // multiple of starting value
	MaxConsecutiveAPIErrors int     `yaml:"max_consecutive_api_errors"`
}

// SizingPolicy holds the Kelly bounds
type SizingPolicy struct {
	MinPositionPercent float64 `yaml:"min_position_percent"`
	MaxPositionPercent float64 `yaml:"max_position_percent"`
	ColdStartCeiling   float64 `yaml:"cold_start_ceiling"`
	MinSampleSize      int     `yaml:"min_sample_size"`
	VolatilityBaseline float64 `yaml:"volatility_baseline"`
}

// MarketAdjustPolicy holds the market-condition multipliers
type MarketAdjustPolicy struct {
	BullishFactor     float64 `yaml:"bullish_factor"`
	NeutralFactor     float64 `yaml:"neutral_factor"`
	BearishFactor     float64 `yaml:"bearish_factor"`
	VIXHigh           float64 `yaml:"vix_high"`
	VIXHighFactor     float64 `yaml:"vix_high_factor"`
	VIXElevated       float64 `yaml:"vix_elevated"`
	VIXElevatedFactor float64 `yaml:"vix_elevated_factor"`
	BetaThreshold     float64 `yaml:"beta_threshold"`
	BetaFactor        float64 `yaml:"beta_factor"`
}

// ExitPolicy holds the non-strategy exit thresholds
type ExitPolicy struct {
	StopLossPercent       float64 `yaml:"stop_loss_percent"`
	MacroVIXThreshold     float64 `yaml:"macro_vix_threshold"`
	MacroIndexWeekDropPct float64 `yaml:"macro_index_week_drop_pct"`
}

// DefaultPolicy returns the built-in policy
func DefaultPolicy() Policy {
	return Policy{
		MarketHours: MarketHoursPolicy{
			Exchange: "XNYS",
			Timezone: "America/New_York",
			Open:     "09:30",
			Close:    "16:00",
		},
		Simulator: SimulatorPolicy{
			BaseSpreadBps:        5,
			SmallCapSpreadBps:    15,
			PennySpreadBps:       25,
			LatencyMin:           100 * time.Millisecond,
			LatencyMax:           500 * time.Millisecond,
			PartialFillThreshold: 50000,
			PartialFillMinRatio:  0.8,
			Commission:           0,
		},
		Fulfillment: FulfillmentPolicy{
			PollInterval:      500 * time.Millisecond,
			MaxAttempts:       20,
			BackoffMultiplier: 1.0,
			MaxInterval:       2 * time.Second,
		},
		Safety: SafetyPolicy{
			RequireManualApproval:   false,
			MaxTradeNotional:        25000,
			AgentDailyLossLimit:     -1000,
			SystemDailyLossLimit:    -3000,
			MaxDayTrades:            3,
			DayTradeWindowSessions:  5,
			GrowthAllowance:         10,
			MaxConsecutiveAPIErrors: 5,
		},
		Sizing: SizingPolicy{
			MinPositionPercent: 0.05,
			MaxPositionPercent: 0.25,
			ColdStartCeiling:   0.15,
			MinSampleSize:      10,
			VolatilityBaseline: 0.20,
		},
		MarketAdjust: MarketAdjustPolicy{
			BullishFactor:     1.0,
			NeutralFactor:     0.85,
			BearishFactor:     0.6,
			VIXHigh:           25,
			VIXHighFactor:     0.7,
			VIXElevated:       20,
			VIXElevatedFactor: 0.85,
			BetaThreshold:     1.3,
			BetaFactor:        0.85,
		},
		Exits: ExitPolicy{
			StopLossPercent:       -8,
			MacroVIXThreshold:     35,
			MacroIndexWeekDropPct: -7,
		},
	}
}

// LoadPolicy reads the YAML policy at path over the defaults.
// A missing file is not an error.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return policy, nil
		}
		return policy, fmt.Errorf("failed to read policy file: %w", err)
	}

	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}

	if err := policy.Validate(); err != nil {
		return policy, fmt.Errorf("invalid policy %s: %w", path, err)
	}

	return policy, nil
}

// Validate rejects policies that would make the engines misbehave
func (p Policy) Validate() error {
	if _, err := time.LoadLocation(p.MarketHours.Timezone); err != nil {
		return fmt.Errorf("market_hours.timezone: %w", err)
	}
	if p.Sizing.MinPositionPercent <= 0 || p.Sizing.MinPositionPercent > p.Sizing.MaxPositionPercent {
		return fmt.Errorf("sizing: min_position_percent must be in (0, max_position_percent]")
	}
	if p.Sizing.MaxPositionPercent > 1 {
		return fmt.Errorf("sizing: max_position_percent must be <= 1")
	}
	if p.Fulfillment.MaxAttempts < 1 || p.Fulfillment.PollInterval <= 0 {
		return fmt.Errorf("fulfillment: max_attempts and poll_interval must be positive")
	}
	if p.Simulator.LatencyMax < p.Simulator.LatencyMin {
		return fmt.Errorf("simulator: latency_max must be >= latency_min")
	}
	if p.Simulator.PartialFillMinRatio <= 0 || p.Simulator.PartialFillMinRatio > 1 {
		return fmt.Errorf("simulator: partial_fill_min_ratio must be in (0, 1]")
	}
	if p.Safety.AgentDailyLossLimit > 0 || p.Safety.SystemDailyLossLimit > 0 {
		return fmt.Errorf("safety: daily loss limits are floors and must be <= 0")
	}
	return nil
}
