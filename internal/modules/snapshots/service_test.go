package snapshots

import (
	"errors"
	"testing"
	"time"

	"github.com/aristath/arena/internal/database"
	"github.com/aristath/arena/internal/domain"
	testingpkg "github.com/aristath/arena/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type utcCalendar struct{}

func (utcCalendar) SessionDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestService_Capture(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	now := time.Date(2025, time.March, 12, 20, 0, 0, 0, time.UTC)

	trades := testingpkg.NewMockTradeRepository(
		domain.Trade{AgentID: "alpha", Symbol: "MSFT", Action: domain.ActionSell, Total: 500,
			RealizedPnL: testingpkg.FloatPtr(-25), RealizedPnLPercent: testingpkg.FloatPtr(-5),
			ExecutedAt: now.Add(-48 * time.Hour)},
		domain.Trade{AgentID: "alpha", Symbol: "AAPL", Action: domain.ActionSell, Total: 1100,
			RealizedPnL: testingpkg.FloatPtr(100), RealizedPnLPercent: testingpkg.FloatPtr(10),
			ExecutedAt: now.Add(-time.Hour)},
		domain.Trade{AgentID: "beta", Symbol: "AAPL", Action: domain.ActionSell, Total: 1000,
			RealizedPnL: testingpkg.FloatPtr(-300), ExecutedAt: now.Add(-time.Hour)},
	)
	repo := NewRepository(testingpkg.NewTestDB(t, database.NameArena), log)
	svc := NewService(trades, repo, utcCalendar{}, log)

	agent := testingpkg.NewAgentFixture("alpha", domain.StrategyMomentum)
	agent.CashBalance = 8000
	agent.AccountValue = 10500

	long := testingpkg.NewPositionFixture("alpha", "NVDA", domain.SideLong, 10, 250)
	long.Reprice(260)
	short := testingpkg.NewPositionFixture("alpha", "TSLA", domain.SideShort, 5, 200)
	short.Reprice(190)

	snap, err := svc.Capture(now, &agent, []domain.Position{long, short})
	require.NoError(t, err)

	assert.NotZero(t, snap.ID)
	assert.Equal(t, 100.0, snap.RealizedPnLToday)
	assert.Equal(t, 2600.0-950.0, snap.PositionsValue)
	assert.Equal(t, 150.0, snap.UnrealizedPnL)
	assert.Equal(t, 2, snap.OpenPositions)
	assert.InDelta(t, 5.0, snap.TotalReturnPercent, 1e-9)
	assert.Equal(t, 2, snap.Stats.ClosedTrades)

	stored, err := repo.GetLatestForAgent("alpha")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, snap.Stats, stored.Stats)
	assert.Equal(t, now.Unix(), stored.TakenAt.Unix())

	missing, err := repo.GetLatestForAgent("nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestService_LedgerFailure(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	trades := testingpkg.NewMockTradeRepository()
	trades.SetError(errors.New("ledger locked"))
	snaps := testingpkg.NewMockSnapshotRepository()
	svc := NewService(trades, snaps, utcCalendar{}, log)

	agent := testingpkg.NewAgentFixture("alpha", domain.StrategyValue)
	_, err := svc.Capture(time.Now(), &agent, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger locked")
	assert.Empty(t, snaps.Snapshots())
}
