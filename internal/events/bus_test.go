package events

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []Event
	mu     sync.Mutex
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func TestBus_DeliversByType(t *testing.T) {
	bus := NewBus(zerolog.New(nil).Level(zerolog.Disabled))
	trades := &recorder{}
	everything := &recorder{}
	bus.Subscribe(TradeExecuted, trades.handle)
	bus.SubscribeAll(everything.handle)

	bus.Publish(Event{Type: TradeExecuted})
	bus.Publish(Event{Type: CycleCompleted})
	bus.Wait()

	assert.Equal(t, []EventType{TradeExecuted}, trades.types())
	assert.ElementsMatch(t, []EventType{TradeExecuted, CycleCompleted}, everything.types())
}

func TestBus_RecoversHandlerPanic(t *testing.T) {
	bus := NewBus(zerolog.New(nil).Level(zerolog.Disabled))
	rec := &recorder{}
	bus.Subscribe(SystemHalted, func(Event) { panic("boom") })
	bus.Subscribe(SystemHalted, rec.handle)

	bus.Publish(Event{Type: SystemHalted})
	bus.Wait()

	assert.Len(t, rec.types(), 1)
}

func TestManager_EmitRecordsAndPublishes(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	bus := NewBus(log)
	rec := &recorder{}
	bus.SubscribeAll(rec.handle)
	m := NewManager(bus, log)

	m.Emit("orchestrator", &CycleStartedData{CycleID: "c1"})
	m.Emit("orchestrator", &CycleCompletedData{CycleID: "c1"})
	m.EmitError("scheduler", errors.New("backup failed"), map[string]interface{}{"job": "backup"})
	m.EmitError("scheduler", nil, nil)
	m.Emit("x", nil)
	bus.Wait()

	recent := m.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, ErrorOccurred, recent[0].Type)
	assert.Equal(t, CycleCompleted, recent[1].Type)
	assert.Len(t, m.Recent(0), 3)
	assert.Len(t, rec.types(), 3)
}

func TestManager_RecentIsBounded(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	m := NewManager(NewBus(log), log)

	for i := 0; i < recentCapacity+25; i++ {
		m.Emit("test", &HaltClearedData{Source: "operator"})
	}
	m.Bus().Wait()

	assert.Len(t, m.Recent(0), recentCapacity)
}
