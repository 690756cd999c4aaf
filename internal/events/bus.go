package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Bus fans events out to subscribers. Each handler runs on its own
// goroutine so a slow sink never blocks the trading cycle.
type Bus struct {
	handlers map[EventType][]Handler
	all      []Handler
	log      zerolog.Logger
	wg       sync.WaitGroup
	mu       sync.RWMutex
}

// NewBus creates an empty event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		log:      log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers handler for one event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers handler for every event type
func (b *Bus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler)
}

// Publish delivers event to every matching subscriber asynchronously
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.handlers[event.Type])+len(b.all))
	targets = append(targets, b.handlers[event.Type]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	for _, h := range targets {
		b.wg.Add(1)
		go b.dispatch(h, event)
	}
}

// Wait blocks until every in-flight handler has returned
func (b *Bus) Wait() {
	b.wg.Wait()
}

func (b *Bus) dispatch(h Handler, event Event) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Interface("panic", r).
				Str("event_type", string(event.Type)).
				Msg("Event handler panicked")
		}
	}()
	h(event)
}
