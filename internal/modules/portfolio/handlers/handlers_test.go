package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aristath/arena/internal/domain"
	"github.com/aristath/arena/internal/modules/portfolio"
	testingpkg "github.com/aristath/arena/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lockRecorder struct {
	locked []string
}

func (l *lockRecorder) WithAgentLock(agentID string, fn func() error) error {
	l.locked = append(l.locked, agentID)
	return fn()
}

func newRouter(t *testing.T) (http.Handler, *portfolio.AgentRepository, *lockRecorder) {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	db := testingpkg.NewTestDB(t, "arena")

	agents := portfolio.NewAgentRepository(db, log)
	positions := portfolio.NewPositionRepository(db, log)

	for _, a := range []*domain.Agent{
		{ID: "alpha", Name: "Alpha", Strategy: domain.StrategyMomentum, StartingValue: 10000, Active: true},
		{ID: "beta", Name: "Beta", Strategy: domain.StrategyValue, StartingValue: 10000, Active: true},
	} {
		require.NoError(t, agents.CreateAgent(a))
	}
	require.NoError(t, agents.UpdateAgent("beta", 9000, 11000))

	pos := testingpkg.NewPositionFixture("beta", "AAPL", domain.SideLong, 10, 150)
	pos.CurrentPrice = 200
	pos.UnrealizedPnL = 500
	_, err := positions.CreatePosition(&pos)
	require.NoError(t, err)

	locker := &lockRecorder{}
	r := chi.NewRouter()
	NewHandler(agents, positions, locker, log).RegisterRoutes(r)
	return r, agents, locker
}

func TestHandleListAgents(t *testing.T) {
	router, _, _ := newRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/agents", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Agents []AgentSummary `json:"agents"`
		Count  int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)

	// ranked by total return
	assert.Equal(t, "beta", resp.Agents[0].ID)
	assert.InDelta(t, 10.0, resp.Agents[0].TotalReturnPercent, 1e-9)
	assert.InDelta(t, 2000.0, resp.Agents[0].PositionsValue, 1e-9)
	assert.InDelta(t, 500.0, resp.Agents[0].UnrealizedPnL, 1e-9)
	require.Len(t, resp.Agents[0].Positions, 1)
	assert.Empty(t, resp.Agents[1].Positions)
}

func TestHandleGetAgent(t *testing.T) {
	router, _, _ := newRouter(t)

	tests := []struct {
		name string
		path string
		want int
	}{
		{name: "summary", path: "/agents/beta", want: http.StatusOK},
		{name: "positions", path: "/agents/beta/positions", want: http.StatusOK},
		{name: "unknown agent", path: "/agents/ghost", want: http.StatusNotFound},
		{name: "unknown agent positions", path: "/agents/ghost/positions", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestHandleSetActive(t *testing.T) {
	router, agents, locker := newRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/agents/alpha/active", strings.NewReader(`{"active": false}`)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"alpha"}, locker.locked)

	active, err := agents.ListActive()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "beta", active[0].ID)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/agents/alpha/active", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/agents/ghost/active", strings.NewReader(`{"active": true}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
