package sinks

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/arena/internal/events"
	"github.com/go-redis/redis/v8"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = zerolog.New(nil).Level(zerolog.Disabled)

type fakeStream struct {
	args []*redis.XAddArgs
	err  error
	mu   sync.Mutex
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.args = append(f.args, a)
	return redis.NewStringResult("1-0", f.err)
}

type fakeSender struct {
	texts []string
	err   error
	mu    sync.Mutex
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.texts = append(f.texts, msg.Text)
	}
	return tgbotapi.Message{}, f.err
}

func tradeEvent(orderID string) events.Event {
	return events.Event{
		Type:      events.TradeExecuted,
		Timestamp: time.Date(2025, time.March, 12, 15, 0, 0, 0, time.UTC),
		Module:    "orchestrator",
		Data: &events.TradeExecutedData{
			AgentID:    "a1",
			Symbol:     "AAPL",
			Action:     "BUY",
			OrderID:    orderID,
			Broker:     "simulator",
			Quantity:   5,
			Price:      150,
			Total:      750,
			ExecutedAt: time.Date(2025, time.March, 12, 15, 0, 0, 0, time.UTC),
		},
	}
}

func TestRedisStreamSink_Publish(t *testing.T) {
	stream := &fakeStream{}
	sink := NewRedisStreamSink(stream, "", quiet)

	require.NoError(t, sink.Publish(context.Background(), tradeEvent("o-1")))

	require.Len(t, stream.args, 1)
	args := stream.args[0]
	assert.Equal(t, DefaultStream, args.Stream)
	assert.True(t, args.Approx)
	values := args.Values.(map[string]interface{})
	assert.Equal(t, "TRADE_EXECUTED", values["type"])
	assert.Equal(t, "2025-03-12T15:00:00Z", values["timestamp"])
	assert.Contains(t, values["data"], `"order_id":"o-1"`)
}

func TestRedisStreamSink_AttachMirrorsEveryEvent(t *testing.T) {
	stream := &fakeStream{err: errors.New("connection refused")}
	bus := events.NewBus(quiet)
	NewRedisStreamSink(stream, "custom", quiet).Attach(bus)

	bus.Publish(tradeEvent("o-1"))
	bus.Publish(events.Event{Type: events.CycleCompleted, Data: &events.CycleCompletedData{CycleID: "c1"}})
	bus.Wait()

	stream.mu.Lock()
	defer stream.mu.Unlock()
	assert.Len(t, stream.args, 2)
	assert.Equal(t, "custom", stream.args[0].Stream)
}

func newMirror(t *testing.T) *PostgresMirror {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	m, err := NewPostgresMirror(context.Background(), db, quiet)
	require.NoError(t, err)
	return m
}

func TestPostgresMirror_InsertIsIdempotent(t *testing.T) {
	m := newMirror(t)
	ctx := context.Background()
	trade := tradeEvent("o-1").Data.(*events.TradeExecutedData)

	require.NoError(t, m.Insert(ctx, trade))
	require.NoError(t, m.Insert(ctx, trade))

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPostgresMirror_RejectsMissingOrderID(t *testing.T) {
	m := newMirror(t)
	err := m.Insert(context.Background(), &events.TradeExecutedData{AgentID: "a1", Symbol: "AAPL"})
	assert.ErrorContains(t, err, "no order id")
}

func TestPostgresMirror_AttachOnlyTakesTrades(t *testing.T) {
	m := newMirror(t)
	bus := events.NewBus(quiet)
	m.Attach(bus)

	bus.Publish(tradeEvent("o-1"))
	bus.Publish(tradeEvent("o-2"))
	bus.Publish(events.Event{Type: events.CycleCompleted, Data: &events.CycleCompletedData{}})
	bus.Wait()

	n, err := m.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestFormatAlert(t *testing.T) {
	tests := []struct {
		name     string
		event    events.Event
		contains []string
	}{
		{
			name:     "system halt",
			event:    events.Event{Type: events.SystemHalted, Data: &events.SystemHaltedData{Reason: "system daily loss breached", SystemPnL: -3200, LossCeiling: -3000}},
			contains: []string{"SYSTEM HALT", "-3200.00", "-3000.00"},
		},
		{
			name:     "order timed out",
			event:    events.Event{Type: events.OrderTimedOut, Data: &events.OrderTimedOutData{AgentID: "a1", Symbol: "AAPL", Broker: "alpaca", Quantity: 10, Error: "not filled"}},
			contains: []string{"ORDER TIMED OUT", "AAPL x10 via alpaca (order -)", "may still fill"},
		},
		{
			name:     "halt cleared",
			event:    events.Event{Type: events.HaltCleared, Data: &events.HaltClearedData{Source: "rollover"}},
			contains: []string{"Halt cleared (rollover)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := FormatAlert(tt.event)
			for _, c := range tt.contains {
				assert.Contains(t, text, c)
			}
		})
	}

	assert.Empty(t, FormatAlert(tradeEvent("o-1")))
}

func TestTelegramNotifier_SendsAlertsOnly(t *testing.T) {
	sender := &fakeSender{}
	bus := events.NewBus(quiet)
	NewTelegramNotifier(sender, 42, quiet).Attach(bus)

	bus.Publish(events.Event{Type: events.SystemHalted, Data: &events.SystemHaltedData{Reason: "halt"}})
	bus.Publish(tradeEvent("o-1"))
	bus.Wait()

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.texts, 1)
	assert.Contains(t, sender.texts[0], "SYSTEM HALT")
}
