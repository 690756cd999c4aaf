package tradestation

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

type fakeTradeStation struct {
	orderStatus string
	placeErrors bool
	positions   string
	placed      []placeRequest
	deleted     []string
	mu          sync.Mutex
}

func (f *fakeTradeStation) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/orderexecution/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var req placeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.placed = append(f.placed, req)
		f.mu.Unlock()
		if f.placeErrors {
			_, _ = w.Write([]byte(`{"Errors":[{"OrderID":"","Error":"FAILED","Message":"Insufficient buying power"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"Orders":[{"OrderID":"924","Message":"Sent order"}]}`))
	})
	mux.HandleFunc("/orderexecution/orders/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		f.mu.Lock()
		f.deleted = append(f.deleted, r.URL.Path)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"OrderID":"1","Message":"Cancel request sent"}`))
	})
	mux.HandleFunc("/brokerage/accounts/SIM1/orders/924", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"Orders": []map[string]interface{}{{
			"OrderID": "924", "Status": f.orderStatus, "StatusDescription": "Rejected",
			"FilledPrice": "50.25", "CommissionFee": "1.00",
			"Legs": []map[string]interface{}{{"ExecQuantity": "20", "ExecutionPrice": "50.25"}},
		}}})
	})
	mux.HandleFunc("/brokerage/accounts/SIM1/orders", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Orders":[{"OrderID":"1","Status":"OPN"},{"OrderID":"2","Status":"FLL"},{"OrderID":"3","Status":"ACK"}]}`))
	})
	mux.HandleFunc("/brokerage/accounts/SIM1/positions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(f.positions))
	})
	mux.HandleFunc("/brokerage/accounts/SIM1/balances", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Balances":[{"CashBalance":"4000.10","Equity":"9000.90"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestBroker(t *testing.T, f *fakeTradeStation, open bool) *Broker {
	srv := f.server(t)
	md := testingpkg.NewMockMarketData(map[string]float64{"KO": 50})
	return NewBroker(Config{Token: "tok", AccountID: "SIM1", BaseURL: srv.URL}, md, fixedClock(open), fastPolicy, nil, zerolog.New(nil).Level(zerolog.Disabled))
}

func TestBroker_SubmitResolvesTradeAction(t *testing.T) {
	short := `{"Positions":[{"Symbol":"KO","LongShort":"Short","Quantity":"20","AveragePrice":"52"}]}`
	long := `{"Positions":[{"Symbol":"KO","LongShort":"Long","Quantity":"20","AveragePrice":"48"}]}`
	none := `{"Positions":[]}`

	tests := []struct {
		name      string
		positions string
		buy       bool
		action    string
	}{
		{"open long", none, true, "BUY"},
		{"cover short", short, true, "BUYTOCOVER"},
		{"close long", long, false, "SELL"},
		{"open short", none, false, "SELLSHORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeTradeStation{orderStatus: "FLL", positions: tt.positions}
			b := newTestBroker(t, f, true)

			var res domain.ExecutionResult
			if tt.buy {
				res = b.SubmitBuy(context.Background(), "KO", 20, "a1")
			} else {
				res = b.SubmitSell(context.Background(), "KO", 20, "a1")
			}

			require.True(t, res.Success, res.Error)
			assert.Equal(t, "924", res.OrderID)
			assert.Equal(t, 20.0, res.ExecutedQuantity)
			assert.Equal(t, 1.0, res.Commission)
			assert.Equal(t, 5.0, res.Slippage)
			require.Len(t, f.placed, 1)
			assert.Equal(t, tt.action, f.placed[0].TradeAction)
			assert.Equal(t, "20", f.placed[0].Quantity)
			assert.Equal(t, "DAY", f.placed[0].TimeInForce.Duration)
		})
	}
}

func TestBroker_SubmitFailures(t *testing.T) {
	t.Run("place errors", func(t *testing.T) {
		f := &fakeTradeStation{placeErrors: true, positions: `{"Positions":[]}`}
		res := newTestBroker(t, f, true).SubmitBuy(context.Background(), "KO", 20, "a1")
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "Insufficient buying power")
	})

	t.Run("rejected after submit", func(t *testing.T) {
		f := &fakeTradeStation{orderStatus: "REJ", positions: `{"Positions":[]}`}
		res := newTestBroker(t, f, true).SubmitBuy(context.Background(), "KO", 20, "a1")
		assert.False(t, res.Success)
		assert.Equal(t, domain.OrderRejected, res.OrderStatus)
		assert.Contains(t, res.Error, "order rejected")
	})
}

func TestBroker_AccountClockCancel(t *testing.T) {
	f := &fakeTradeStation{positions: `{"Positions":[{"Symbol":"KO","LongShort":"Short","Quantity":"20","AveragePrice":"52","Last":"50","MarketValue":"-1000"}]}`}
	b := newTestBroker(t, f, false)
	ctx := context.Background()

	acct, err := b.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4000.10, acct.CashBalance)
	assert.Equal(t, 9000.90, acct.AccountValue)
	assert.Equal(t, -20.0, acct.PositionQuantity("KO"))

	assert.False(t, b.IsMarketOpen(ctx))

	require.NoError(t, b.CancelAllOrders(ctx))
	assert.ElementsMatch(t, []string{"/orderexecution/orders/1", "/orderexecution/orders/3"}, f.deleted)
}
