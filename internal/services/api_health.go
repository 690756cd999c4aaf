// Package services provides process-wide services shared across modules.
package services

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SourceHealth is the per-upstream view of today's calls
type SourceHealth struct {
	LastSuccess time.Time `json:"last_success"`
	LastErrorAt time.Time `json:"last_error_at"`
	LastError   string    `json:"last_error,omitempty"`
	Calls       int64     `json:"calls"`
	Errors      int64     `json:"errors"`
}

// APIHealthSnapshot is a point-in-time copy of the tracker
type APIHealthSnapshot struct {
	Sources           map[string]SourceHealth `json:"sources"`
	LastError         string                  `json:"last_error,omitempty"`
	ConsecutiveErrors int                     `json:"consecutive_errors"`
	ResetAt           time.Time               `json:"reset_at"`
}

// APIHealthTracker counts upstream call outcomes across every broker and
// data client. The consecutive error count is global: any success resets it.
type APIHealthTracker struct {
	sources           map[string]*SourceHealth
	resetAt           time.Time
	lastError         string
	log               zerolog.Logger
	consecutiveErrors int
	mu                sync.RWMutex
}

// NewAPIHealthTracker creates an empty tracker
func NewAPIHealthTracker(log zerolog.Logger) *APIHealthTracker {
	return &APIHealthTracker{
		sources: make(map[string]*SourceHealth),
		resetAt: time.Now(),
		log:     log.With().Str("service", "api_health").Logger(),
	}
}

// RecordSuccess records a successful call to source
func (t *APIHealthTracker) RecordSuccess(source string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.source(source)
	s.Calls++
	s.LastSuccess = time.Now()

	if t.consecutiveErrors > 0 {
		t.log.Info().
			Str("source", source).
			Int("after_errors", t.consecutiveErrors).
			Msg("Upstream API recovered")
	}
	t.consecutiveErrors = 0
}

// RecordError records a failed call to source
func (t *APIHealthTracker) RecordError(source string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}

	s := t.source(source)
	s.Calls++
	s.Errors++
	s.LastError = msg
	s.LastErrorAt = time.Now()

	t.consecutiveErrors++
	t.lastError = source + ": " + msg

	t.log.Warn().
		Str("source", source).
		Int("consecutive", t.consecutiveErrors).
		Str("error", msg).
		Msg("Upstream API error")
}

// ConsecutiveErrors returns the number of failures since the last success
func (t *APIHealthTracker) ConsecutiveErrors() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.consecutiveErrors
}

// Reset clears all counters. Called by the daily rollover.
func (t *APIHealthTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sources = make(map[string]*SourceHealth)
	t.consecutiveErrors = 0
	t.lastError = ""
	t.resetAt = time.Now()
}

// Snapshot returns a copy safe to serialize
func (t *APIHealthTracker) Snapshot() APIHealthSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sources := make(map[string]SourceHealth, len(t.sources))
	for name, s := range t.sources {
		sources[name] = *s
	}

	return APIHealthSnapshot{
		Sources:           sources,
		LastError:         t.lastError,
		ConsecutiveErrors: t.consecutiveErrors,
		ResetAt:           t.resetAt,
	}
}

// Observe records err as a failure or nil as a success. Convenience for
// adapters that want a single call site per request.
func (t *APIHealthTracker) Observe(source string, err error) {
	if err != nil {
		t.RecordError(source, err)
		return
	}
	t.RecordSuccess(source)
}

func (t *APIHealthTracker) source(name string) *SourceHealth {
	s, ok := t.sources[name]
	if !ok {
		s = &SourceHealth{}
		t.sources[name] = s
	}
	return s
}
