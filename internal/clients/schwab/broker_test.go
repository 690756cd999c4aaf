package schwab

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

type fakeSchwab struct {
	status    string
	positions string
	placed    []orderRequest
	deleted   []string
	mu        sync.Mutex
}

func (f *fakeSchwab) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/trader/v1/accounts/HASH", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "positions", r.URL.Query().Get("fields"))
		_, _ = w.Write([]byte(`{"securitiesAccount":{"currentBalances":{"cashBalance":2500.5,"liquidationValue":7500.5},"positions":` + f.positions + `}}`))
	})
	mux.HandleFunc("/trader/v1/accounts/HASH/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			assert.NotEmpty(t, r.URL.Query().Get("fromEnteredTime"))
			_, _ = w.Write([]byte(`[{"orderId":11,"status":"WORKING","cancelable":true},{"orderId":12,"status":"FILLED","cancelable":false}]`))
			return
		}
		var req orderRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.placed = append(f.placed, req)
		f.mu.Unlock()
		w.Header().Set("Location", "https://api.schwabapi.com/trader/v1/accounts/HASH/orders/1001")
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/trader/v1/accounts/HASH/orders/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			f.mu.Lock()
			f.deleted = append(f.deleted, r.URL.Path)
			f.mu.Unlock()
			return
		}
		assert.Equal(t, "/trader/v1/accounts/HASH/orders/1001", r.URL.Path)
		_, _ = w.Write([]byte(`{"orderId":1001,"status":"` + f.status + `","statusDescription":"Not enough funds","filledQuantity":10,
			"orderActivityCollection":[{"executionLegs":[{"quantity":4,"price":99},{"quantity":6,"price":101}]}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestBroker(t *testing.T, f *fakeSchwab) *Broker {
	srv := f.server(t)
	md := testingpkg.NewMockMarketData(map[string]float64{"MSFT": 100})
	return NewBroker(Config{Token: "tok", AccountHash: "HASH", BaseURL: srv.URL}, md, fixedClock(true), fastPolicy, nil, zerolog.New(nil).Level(zerolog.Disabled))
}

func TestBroker_SubmitResolvesInstruction(t *testing.T) {
	short := `[{"instrument":{"symbol":"MSFT","assetType":"EQUITY"},"longQuantity":0,"shortQuantity":10,"averagePrice":105,"marketValue":-1000}]`
	long := `[{"instrument":{"symbol":"MSFT","assetType":"EQUITY"},"longQuantity":10,"shortQuantity":0,"averagePrice":95,"marketValue":1000}]`

	tests := []struct {
		name        string
		positions   string
		buy         bool
		instruction string
	}{
		{"open long", `[]`, true, "BUY"},
		{"cover short", short, true, "BUY_TO_COVER"},
		{"close long", long, false, "SELL"},
		{"open short", `[]`, false, "SELL_SHORT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeSchwab{status: "FILLED", positions: tt.positions}
			b := newTestBroker(t, f)

			var res domain.ExecutionResult
			if tt.buy {
				res = b.SubmitBuy(context.Background(), "msft", 10, "a1")
			} else {
				res = b.SubmitSell(context.Background(), "msft", 10, "a1")
			}

			require.True(t, res.Success, res.Error)
			assert.Equal(t, "1001", res.OrderID)
			assert.Equal(t, 10.0, res.ExecutedQuantity)
			assert.InDelta(t, 100.2, res.ExecutedPrice, 1e-9)
			require.Len(t, f.placed, 1)
			require.Len(t, f.placed[0].Legs, 1)
			assert.Equal(t, tt.instruction, f.placed[0].Legs[0].Instruction)
			assert.Equal(t, "MSFT", f.placed[0].Legs[0].Instrument.Symbol)
			assert.Equal(t, "MARKET", f.placed[0].OrderType)
		})
	}
}

func TestBroker_RejectedOrderCarriesDescription(t *testing.T) {
	f := &fakeSchwab{status: "REJECTED", positions: `[]`}
	res := newTestBroker(t, f).SubmitBuy(context.Background(), "MSFT", 10, "a1")

	assert.False(t, res.Success)
	assert.Equal(t, domain.OrderRejected, res.OrderStatus)
	assert.Equal(t, "Not enough funds", res.Error)
}

func TestBroker_AccountAndCancel(t *testing.T) {
	f := &fakeSchwab{positions: `[{"instrument":{"symbol":"MSFT","assetType":"EQUITY"},"longQuantity":0,"shortQuantity":10,"averagePrice":105,"marketValue":-1000},
		{"instrument":{"symbol":"MSFT_012025C400","assetType":"OPTION"},"longQuantity":1}]`}
	b := newTestBroker(t, f)
	ctx := context.Background()

	acct, err := b.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2500.5, acct.CashBalance)
	assert.Equal(t, 7500.5, acct.AccountValue)
	require.Len(t, acct.Positions, 1)
	assert.Equal(t, -10.0, acct.Positions[0].Quantity)
	assert.Equal(t, 100.0, acct.Positions[0].CurrentPrice)

	assert.True(t, b.IsMarketOpen(ctx))

	require.NoError(t, b.CancelAllOrders(ctx))
	assert.Equal(t, []string{"/trader/v1/accounts/HASH/orders/11"}, f.deleted)
}

func TestOrderIDFromLocation(t *testing.T) {
	tests := []struct {
		loc     string
		want    string
		wantErr bool
	}{
		{"https://api.schwabapi.com/trader/v1/accounts/H/orders/123", "123", false},
		{"/trader/v1/accounts/H/orders/77/", "77", false},
		{"", "", true},
		{"https://api.schwabapi.com/trader/v1/accounts/H/orders", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.loc, func(t *testing.T) {
			got, err := orderIDFromLocation(tt.loc)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
