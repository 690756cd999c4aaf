package tradier

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

type fakeTradier struct {
	positions string
	status    string
	sides     []string
	cancelled []string
	mu        sync.Mutex
}

func (f *fakeTradier) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/accounts/ACC1/orders", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if r.Method == http.MethodPost {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "equity", r.PostForm.Get("class"))
			assert.Equal(t, "market", r.PostForm.Get("type"))
			f.mu.Lock()
			f.sides = append(f.sides, r.PostForm.Get("side"))
			f.mu.Unlock()
			_, _ = w.Write([]byte(`{"order":{"id":228175,"status":"ok"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"orders":{"order":[
			{"id":1,"status":"open"},
			{"id":2,"status":"filled"},
			{"id":3,"status":"partially_filled"}
		]}}`))
	})
	mux.HandleFunc("/accounts/ACC1/orders/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			f.mu.Lock()
			f.cancelled = append(f.cancelled, r.URL.Path)
			f.mu.Unlock()
			_, _ = w.Write([]byte(`{"order":{"id":1,"status":"ok"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"order": map[string]interface{}{
			"id": 228175, "status": f.status, "exec_quantity": 5, "avg_fill_price": 101.5,
			"reason_description": "",
		}})
	})
	mux.HandleFunc("/accounts/ACC1/positions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(f.positions))
	})
	mux.HandleFunc("/accounts/ACC1/balances", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"balances":{"total_equity":12000.5,"total_cash":3000.25}}`))
	})
	mux.HandleFunc("/markets/clock", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"clock":{"state":"closed","description":"Market is closed"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestBroker(t *testing.T, f *fakeTradier) *Broker {
	srv := f.server(t)
	md := testingpkg.NewMockMarketData(map[string]float64{"IBM": 100})
	return NewBroker(Config{Token: "tok", AccountID: "ACC1", BaseURL: srv.URL}, md, fastPolicy, nil, zerolog.New(nil).Level(zerolog.Disabled))
}

func TestBroker_SideResolvesFromPositions(t *testing.T) {
	tests := []struct {
		name      string
		positions string
		buy       bool
		side      string
	}{
		{"buy with no position", `{"positions":"null"}`, true, "buy"},
		{"buy covers short", `{"positions":{"position":{"symbol":"IBM","quantity":-5,"cost_basis":-500}}}`, true, "buy_to_cover"},
		{"sell long", `{"positions":{"position":[{"symbol":"IBM","quantity":5,"cost_basis":500},{"symbol":"T","quantity":1,"cost_basis":20}]}}`, false, "sell"},
		{"sell opens short", `{"positions":"null"}`, false, "sell_short"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeTradier{positions: tt.positions, status: "filled"}
			b := newTestBroker(t, f)

			var res domain.ExecutionResult
			if tt.buy {
				res = b.SubmitBuy(context.Background(), "ibm", 5, "agent-1")
			} else {
				res = b.SubmitSell(context.Background(), "ibm", 5, "agent-1")
			}

			require.True(t, res.Success, res.Error)
			assert.Equal(t, "228175", res.OrderID)
			assert.Equal(t, 101.5, res.ExecutedPrice)
			assert.Equal(t, 7.5, res.Slippage)
			assert.Equal(t, []string{tt.side}, f.sides)
		})
	}
}

func TestBroker_RejectedOrder(t *testing.T) {
	f := &fakeTradier{positions: `{"positions":"null"}`, status: "rejected"}
	b := newTestBroker(t, f)

	res := b.SubmitBuy(context.Background(), "IBM", 5, "agent-1")

	assert.False(t, res.Success)
	assert.Equal(t, domain.OrderRejected, res.OrderStatus)
	assert.Contains(t, res.Error, "order rejected")
}

func TestBroker_AccountClockCancel(t *testing.T) {
	f := &fakeTradier{positions: `{"positions":{"position":{"symbol":"IBM","quantity":-4,"cost_basis":-400}}}`}
	b := newTestBroker(t, f)
	ctx := context.Background()

	acct, err := b.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3000.25, acct.CashBalance)
	assert.Equal(t, 12000.5, acct.AccountValue)
	require.Len(t, acct.Positions, 1)
	assert.Equal(t, -4.0, acct.Positions[0].Quantity)
	assert.Equal(t, 100.0, acct.Positions[0].AvgPrice)

	assert.False(t, b.IsMarketOpen(ctx))

	require.NoError(t, b.CancelAllOrders(ctx))
	assert.ElementsMatch(t, []string{"/accounts/ACC1/orders/1", "/accounts/ACC1/orders/3"}, f.cancelled)
}

func TestOrderTag(t *testing.T) {
	assert.Equal(t, "arena-agent-1", orderTag("agent-1"))
	assert.Equal(t, "arena-agent1", orderTag("agent_1!"))
	assert.Equal(t, "arena-momentumbot", orderTag("momentum bot"))
}

func TestOneOrMany(t *testing.T) {
	var m oneOrMany[position]
	require.NoError(t, json.Unmarshal([]byte(`{"symbol":"A","quantity":1}`), &m))
	assert.Len(t, m, 1)
	require.NoError(t, json.Unmarshal([]byte(`[{"symbol":"A"},{"symbol":"B"}]`), &m))
	assert.Len(t, m, 2)
	require.NoError(t, json.Unmarshal([]byte(`null`), &m))
	assert.Nil(t, m)
}
