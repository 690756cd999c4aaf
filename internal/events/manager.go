package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const recentCapacity = 200

// Manager handles event emission and logging
type Manager struct {
	bus    *Bus
	now    func() time.Time
	log    zerolog.Logger
	recent []Event
	mu     sync.Mutex
}

// NewManager creates a new event manager
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{
		bus: bus,
		now: time.Now,
		log: log.With().Str("service", "events").Logger(),
	}
}

// Emit publishes typed data to the bus and logs it
func (m *Manager) Emit(module string, data EventData) {
	if data == nil {
		return
	}

	event := Event{
		Type:      data.EventType(),
		Timestamp: m.now(),
		Data:      data,
		Module:    module,
	}

	m.mu.Lock()
	m.recent = append(m.recent, event)
	if len(m.recent) > recentCapacity {
		m.recent = m.recent[len(m.recent)-recentCapacity:]
	}
	m.mu.Unlock()

	m.bus.Publish(event)

	eventJSON, err := json.Marshal(event)
	if err != nil {
		m.log.Warn().Err(err).Str("event_type", string(event.Type)).Msg("Failed to encode event for logging")
		return
	}
	m.log.Info().
		Str("event_type", string(event.Type)).
		Str("module", module).
		RawJSON("event", eventJSON).
		Msg("Event emitted")
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	if err == nil {
		return
	}
	m.Emit(module, &ErrorEventData{
		Error:   err.Error(),
		Context: context,
	})
}

// Recent returns up to limit of the most recent events, newest first
func (m *Manager) Recent(limit int) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 || limit > len(m.recent) {
		limit = len(m.recent)
	}
	out := make([]Event, 0, limit)
	for i := len(m.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.recent[i])
	}
	return out
}

// Bus returns the underlying bus so sinks can subscribe
func (m *Manager) Bus() *Bus {
	return m.bus
}
