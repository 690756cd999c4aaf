package tradernet

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aristath/arena/internal/broker"
	"github.com/aristath/arena/internal/domain"
	testingpkg "github.com/aristath/arena/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = broker.RetryPolicy{MaxAttempts: 4, Interval: time.Millisecond, Multiplier: 1, MaxInterval: time.Millisecond}

type fixedClock bool

func (c fixedClock) IsMarketOpen(time.Time) bool { return bool(c) }

type fakeTradernet struct {
	status    int
	positions string
	placed    []tradeOrderParams
	cancelled []int64
	mu        sync.Mutex
}

func (f *fakeTradernet) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/putTradeOrder", func(w http.ResponseWriter, r *http.Request) {
		var p tradeOrderParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		f.mu.Lock()
		f.placed = append(f.placed, p)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"order_id":3001}`))
	})
	mux.HandleFunc("/api/getNotifyOrderJson", func(w http.ResponseWriter, r *http.Request) {
		var p notifyOrderParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		if p.ActiveOnly == 1 {
			_, _ = w.Write([]byte(`{"result":{"orders":{"order":{"id":77,"stat":1,"instr":"AAPL.US"}}}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"result": map[string]interface{}{"orders": map[string]interface{}{"order": []map[string]interface{}{
			{"id": 3000, "stat": 3},
			{"id": 3001, "stat": f.status, "stat_d": "Insufficient funds", "fee": 0.5,
				"trade": []map[string]interface{}{{"q": 2, "p": 150.0}, {"q": 2, "p": 151.0}}},
		}}}})
	})
	mux.HandleFunc("/api/getPositionJson", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":{"ps":{"acc":[{"curr":"USD","s":1000},{"curr":"EUR","s":500}],"pos":` + f.positions + `}}}`))
	})
	mux.HandleFunc("/api/delTradeOrder", func(w http.ResponseWriter, r *http.Request) {
		var p map[string]int64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		f.mu.Lock()
		f.cancelled = append(f.cancelled, p["order_id"])
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"error_code":0}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestBroker(t *testing.T, f *fakeTradernet, stream *MarketStream, open bool) *Broker {
	srv := f.server(t)
	log := zerolog.New(nil).Level(zerolog.Disabled)
	client := newClient(srv.URL, "pub", "secret", nil, 1000, log)
	md := testingpkg.NewMockMarketData(map[string]float64{"AAPL": 150})
	return NewBroker(Config{}, client, md, stream, fixedClock(open), fastPolicy, log)
}

func TestBroker_SubmitResolvesAction(t *testing.T) {
	short := `[{"i":"AAPL.US","q":-4,"bal_price_a":155,"mkt_price":150,"curr":"USD"}]`
	long := `[{"i":"AAPL.US","q":4,"bal_price_a":145,"mkt_price":150,"curr":"USD"}]`

	tests := []struct {
		name      string
		positions string
		buy       bool
		action    int
	}{
		{"buy", `[]`, true, actionBuy},
		{"cover short", short, true, actionBuyMargin},
		{"sell long", long, false, actionSell},
		{"open short", `[]`, false, actionSellMargin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeTradernet{status: statusFilled, positions: tt.positions}
			b := newTestBroker(t, f, nil, true)

			var res domain.ExecutionResult
			if tt.buy {
				res = b.SubmitBuy(context.Background(), "aapl", 4, "a1")
			} else {
				res = b.SubmitSell(context.Background(), "aapl", 4, "a1")
			}

			require.True(t, res.Success, res.Error)
			assert.Equal(t, "3001", res.OrderID)
			assert.Equal(t, 4.0, res.ExecutedQuantity)
			assert.Equal(t, 150.5, res.ExecutedPrice)
			assert.Equal(t, 0.5, res.Commission)
			assert.Equal(t, 2.0, res.Slippage)
			require.Len(t, f.placed, 1)
			assert.Equal(t, "AAPL.US", f.placed[0].InstrName)
			assert.Equal(t, tt.action, f.placed[0].ActionID)
			assert.Equal(t, orderTypeMarket, f.placed[0].OrderTypeID)
		})
	}
}

func TestBroker_RejectedOrder(t *testing.T) {
	f := &fakeTradernet{status: statusRejected, positions: `[]`}
	res := newTestBroker(t, f, nil, true).SubmitBuy(context.Background(), "AAPL", 4, "a1")

	assert.False(t, res.Success)
	assert.Equal(t, "3001", res.OrderID)
	assert.Equal(t, "Insufficient funds", res.Error)
}

func TestBroker_GetAccount(t *testing.T) {
	f := &fakeTradernet{positions: `[{"i":"AAPL.US","q":-4,"bal_price_a":155,"mkt_price":150,"curr":"USD"},
		{"i":"SAP.EU","q":10,"bal_price_a":100,"mkt_price":110,"curr":"EUR"}]`}
	acct, err := newTestBroker(t, f, nil, true).GetAccount(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1000.0, acct.CashBalance)
	assert.Equal(t, 400.0, acct.AccountValue)
	require.Len(t, acct.Positions, 1)
	assert.Equal(t, domain.BrokerPosition{Symbol: "AAPL", Quantity: -4, AvgPrice: 155, CurrentPrice: 150, MarketValue: -600}, acct.Positions[0])
}

func TestBroker_CancelAllOrders(t *testing.T) {
	f := &fakeTradernet{positions: `[]`}
	require.NoError(t, newTestBroker(t, f, nil, true).CancelAllOrders(context.Background()))
	assert.Equal(t, []int64{77}, f.cancelled)
}

func TestBroker_IsMarketOpen(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	now := time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC)

	fresh := NewMarketStream("ws://unused", nil, log)
	fresh.now = func() time.Time { return now }
	fresh.applyUpdate(wsMarketData{Markets: []wsMarket{{Code: "NYSE", Status: "CLOSE"}}})

	stale := NewMarketStream("ws://unused", nil, log)
	stale.now = func() time.Time { return now.Add(-time.Hour) }
	stale.applyUpdate(wsMarketData{Markets: []wsMarket{{Code: "NYSE", Status: "OPEN"}}})
	stale.now = func() time.Time { return now }

	tests := []struct {
		name   string
		stream *MarketStream
		clock  bool
		want   bool
	}{
		{"no stream uses calendar", nil, true, true},
		{"fresh stream wins over calendar", fresh, true, false},
		{"stale stream falls back to calendar", stale, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeTradernet{positions: `[]`}
			b := newTestBroker(t, f, tt.stream, tt.clock)
			assert.Equal(t, tt.want, b.IsMarketOpen(context.Background()))
		})
	}
}
