package utils

import (
	"time"

	"github.com/rs/zerolog"
)

// Slow-operation thresholds
const (
	slowThreshold     = 10 * time.Second
	verySlowThreshold = 30 * time.Second
)

// Timer is a simple performance timer for measuring operation duration
type Timer struct {
	start time.Time
	now   func() time.Time
	name  string
	log   zerolog.Logger
}

// NewTimer creates a new timer with the given name
func NewTimer(name string, log zerolog.Logger) *Timer {
	return &Timer{
		start: time.Now(),
		now:   time.Now,
		name:  name,
		log:   log,
	}
}

// Stop logs the elapsed time at debug, escalating for slow operations
func (t *Timer) Stop() time.Duration {
	duration := t.now().Sub(t.start)

	switch {
	case duration > verySlowThreshold:
		t.log.Warn().
			Str("operation", t.name).
			Dur("duration", duration).
			Msg("Slow operation detected (>30s)")
	case duration > slowThreshold:
		t.log.Info().
			Str("operation", t.name).
			Dur("duration", duration).
			Msg("Operation took longer than expected (>10s)")
	default:
		t.log.Debug().
			Str("operation", t.name).
			Dur("duration", duration).
			Msg("Performance measurement")
	}

	return duration
}
