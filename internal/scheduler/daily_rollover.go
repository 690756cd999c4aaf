package scheduler

import (
	"time"

	"github.com/aristath/arena/internal/events"
	"github.com/rs/zerolog"
)

// HaltLatch is the safety engine's system halt
type HaltLatch interface {
	IsHalted() bool
	ResetHalt()
}

// ErrorCounter is the upstream API health tracker
type ErrorCounter interface {
	ConsecutiveErrors() int
	Reset()
}

// Emitter publishes typed events
type Emitter interface {
	Emit(module string, data events.EventData)
}

// SessionCalendar maps instants onto exchange sessions
type SessionCalendar interface {
	SessionDate(t time.Time) time.Time
}

// DailyRolloverJob opens a new trading day: it clears the halt latch and
// the consecutive API error count
type DailyRolloverJob struct {
	halt     HaltLatch
	health   ErrorCounter
	calendar SessionCalendar
	events   Emitter
	now      func() time.Time
	log      zerolog.Logger
}

// NewDailyRolloverJob creates the rollover job
func NewDailyRolloverJob(halt HaltLatch, health ErrorCounter, calendar SessionCalendar, emitter Emitter, log zerolog.Logger) *DailyRolloverJob {
	return &DailyRolloverJob{
		halt:     halt,
		health:   health,
		calendar: calendar,
		events:   emitter,
		now:      time.Now,
		log:      log.With().Str("job", "daily_rollover").Logger(),
	}
}

// Name returns the job name
func (j *DailyRolloverJob) Name() string {
	return "daily_rollover"
}

// Run executes the rollover
func (j *DailyRolloverJob) Run() error {
	wasHalted := j.halt.IsHalted()
	errorsBefore := j.health.ConsecutiveErrors()

	j.halt.ResetHalt()
	j.health.Reset()

	session := j.calendar.SessionDate(j.now()).Format("2006-01-02")
	if wasHalted {
		j.events.Emit("scheduler", &events.HaltClearedData{Source: "rollover"})
	}
	j.events.Emit("scheduler", &events.DailyRolloverData{
		SessionDate:  session,
		HaltCleared:  wasHalted,
		ErrorsBefore: errorsBefore,
	})

	j.log.Info().
		Str("session", session).
		Bool("halt_cleared", wasHalted).
		Int("errors_before", errorsBefore).
		Msg("Daily rollover completed")
	return nil
}
