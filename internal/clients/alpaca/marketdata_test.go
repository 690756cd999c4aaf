package alpaca

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDataClient(t *testing.T, handler http.HandlerFunc) *DataClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewDataClient(Config{KeyID: "key", Secret: "secret", DataURL: srv.URL}, nil, zerolog.New(nil).Level(zerolog.Disabled))
	c.now = func() time.Time { return time.Date(2025, time.March, 12, 15, 0, 0, 0, time.UTC) }
	return c
}

func TestDataClient_GetQuote(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantPrice  float64
		wantChange float64
		wantPct    float64
		wantVolume int64
	}{
		{
			name:       "change against previous close",
			body:       `{"latestTrade":{"t":"2025-03-12T14:59:59Z","p":402},"dailyBar":{"c":402,"v":1250000},"prevDailyBar":{"c":400,"v":980000}}`,
			wantPrice:  402,
			wantChange: 2,
			wantPct:    0.5,
			wantVolume: 1250000,
		},
		{
			name:       "down session",
			body:       `{"latestTrade":{"p":95},"dailyBar":{"c":95,"v":300},"prevDailyBar":{"c":100}}`,
			wantPrice:  95,
			wantChange: -5,
			wantPct:    -5,
			wantVolume: 300,
		},
		{
			name:       "no previous bar",
			body:       `{"latestTrade":{"p":20},"dailyBar":{"c":20,"v":50}}`,
			wantPrice:  20,
			wantVolume: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestDataClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v2/stocks/MSFT/snapshot", r.URL.Path)
				assert.Equal(t, "iex", r.URL.Query().Get("feed"))
				_, _ = w.Write([]byte(tt.body))
			})

			q, err := c.GetQuote(context.Background(), "msft")
			require.NoError(t, err)
			assert.Equal(t, "MSFT", q.Symbol)
			assert.Equal(t, tt.wantPrice, q.Price)
			assert.InDelta(t, tt.wantChange, q.Change, 1e-9)
			assert.InDelta(t, tt.wantPct, q.ChangePercent, 1e-9)
			assert.Equal(t, tt.wantVolume, q.Volume)
		})
	}
}

func TestDataClient_GetQuoteWithoutPrice(t *testing.T) {
	c := newTestDataClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"latestTrade":{},"dailyBar":{}}`))
	})

	_, err := c.GetQuote(context.Background(), "MSFT")
	assert.ErrorContains(t, err, "no trade price")
}

func TestDataClient_GetDailyClosesPagesAndTrims(t *testing.T) {
	calls := 0
	c := newTestDataClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "1Day", r.URL.Query().Get("timeframe"))
		if r.URL.Query().Get("page_token") == "" {
			_, _ = w.Write([]byte(`{"bars":[{"c":10},{"c":11},{"c":12}],"next_page_token":"p2"}`))
			return
		}
		_, _ = w.Write([]byte(`{"bars":[{"c":13},{"c":14}],"next_page_token":null}`))
	})

	closes, err := c.GetDailyCloses(context.Background(), "SPY", 4)
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 12, 13, 14}, closes)
	assert.Equal(t, 2, calls)

	none, err := c.GetDailyCloses(context.Background(), "SPY", 0)
	require.NoError(t, err)
	assert.Nil(t, none)
}
