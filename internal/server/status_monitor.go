package server

import (
	"context"
	"time"

	"github.com/aristath/arena/internal/events"
	"github.com/aristath/arena/internal/modules/market_hours"
	"github.com/rs/zerolog"
)

// Emitter publishes typed events
type Emitter interface {
	Emit(module string, data events.EventData)
}

// StatusMonitor polls the exchange calendar and emits an event whenever the
// market opens or closes
type StatusMonitor struct {
	calendar *market_hours.MarketHoursService
	events   Emitter
	now      func() time.Time
	log      zerolog.Logger

	known    bool
	lastOpen bool
}

// NewStatusMonitor creates a new status monitor
func NewStatusMonitor(calendar *market_hours.MarketHoursService, emitter Emitter, log zerolog.Logger) *StatusMonitor {
	return &StatusMonitor{
		calendar: calendar,
		events:   emitter,
		now:      time.Now,
		log:      log.With().Str("component", "status_monitor").Logger(),
	}
}

// Start polls until ctx is cancelled
func (m *StatusMonitor) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		m.check()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.check()
			}
		}
	}()
}

// check emits on the first call and on every open/close transition after it
func (m *StatusMonitor) check() bool {
	now := m.now()
	status := m.calendar.GetMarketStatus(now)
	if m.known && status.Open == m.lastOpen {
		return false
	}
	m.known = true
	m.lastOpen = status.Open

	state := "closed"
	open, closed := 0, 1
	if status.Open {
		state, open, closed = "open", 1, 0
	}

	m.events.Emit("status_monitor", &events.MarketsStatusChangedData{
		Markets: map[string]events.MarketStatusData{
			status.Exchange: {
				Name:      status.Exchange,
				Code:      status.Exchange,
				Status:    state,
				OpenTime:  status.OpensAt,
				CloseTime: status.ClosesAt,
				Date:      m.calendar.SessionDate(now).Format("2006-01-02"),
				UpdatedAt: now.Format(time.RFC3339),
			},
		},
		OpenCount:   open,
		ClosedCount: closed,
		LastUpdated: now.Format(time.RFC3339),
	})
	m.log.Info().Str("exchange", status.Exchange).Str("status", state).Msg("Market status changed")
	return true
}
