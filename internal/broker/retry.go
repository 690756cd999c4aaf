package broker

import (
	"math"
	"time"

	"github.com/aristath/arena/internal/config"
)

// RetryPolicy is the bounded polling cadence for live orders
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
	Multiplier  float64 // 1.0 polls at a fixed interval
	MaxInterval time.Duration
}

// DefaultRetryPolicy polls every 500ms, 20 times
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 20, Interval: 500 * time.Millisecond, Multiplier: 1.0}
}

// RetryPolicyFrom converts the fulfillment section of the risk policy
func RetryPolicyFrom(p config.FulfillmentPolicy) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: p.MaxAttempts,
		Interval:    p.PollInterval,
		Multiplier:  p.BackoffMultiplier,
		MaxInterval: p.MaxInterval,
	}
}

// Attempts is the number of status checks, at least one
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay is the wait before the given zero-based status check
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.Interval <= 0 {
		return 0
	}
	m := p.Multiplier
	if m < 1 {
		m = 1
	}
	d := time.Duration(float64(p.Interval) * math.Pow(m, float64(attempt)))
	if p.MaxInterval > 0 && d > p.MaxInterval {
		return p.MaxInterval
	}
	return d
}

// Budget is the total time spent waiting if every attempt is used
func (p RetryPolicy) Budget() time.Duration {
	var total time.Duration
	for i := 0; i < p.Attempts(); i++ {
		total += p.Delay(i)
	}
	return total
}
