package portfolio

import (
	"testing"

	"github.com/aristath/arena/internal/domain"
	testingpkg "github.com/aristath/arena/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentRepository_CreateGetUpdate(t *testing.T) {
	db := testingpkg.NewTestDB(t, "arena")
	repo := NewAgentRepository(db, zerolog.New(nil).Level(zerolog.Disabled))

	agent := &domain.Agent{
		ID:            "alpha",
		Name:          "Alpha",
		Strategy:      domain.StrategyValue,
		BrokerKind:    domain.BrokerAlpaca,
		RiskTolerance: domain.RiskAggressive,
		StartingValue: 10000,
		Active:        true,
	}
	require.NoError(t, repo.CreateAgent(agent))

	got, err := repo.GetAgent("alpha")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.StrategyValue, got.Strategy)
	assert.Equal(t, domain.BrokerAlpaca, got.BrokerKind)
	assert.Equal(t, 10000.0, got.CashBalance)
	assert.True(t, got.Active)

	require.NoError(t, repo.UpdateAgent("alpha", 8500.123, 10250.456))
	got, err = repo.GetAgent("alpha")
	require.NoError(t, err)
	assert.Equal(t, 8500.12, got.CashBalance)
	assert.Equal(t, 10250.46, got.AccountValue)

	assert.Error(t, repo.UpdateAgent("missing", 1, 1))
}

func TestAgentRepository_GetAgentNotFound(t *testing.T) {
	db := testingpkg.NewTestDB(t, "arena")
	repo := NewAgentRepository(db, zerolog.New(nil).Level(zerolog.Disabled))

	got, err := repo.GetAgent("nobody")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestAgentRepository_ListActive(t *testing.T) {
	db := testingpkg.NewTestDB(t, "arena")
	repo := NewAgentRepository(db, zerolog.New(nil).Level(zerolog.Disabled))

	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, repo.CreateAgent(&domain.Agent{ID: id, Name: id, StartingValue: 1000, Active: true}))
	}
	require.NoError(t, repo.SetActive("c", false))

	active, err := repo.ListActive()
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, "b", active[1].ID)

	all, err := repo.ListAll()
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestPositionRepository_Lifecycle(t *testing.T) {
	db := testingpkg.NewTestDB(t, "arena")
	repo := NewPositionRepository(db, zerolog.New(nil).Level(zerolog.Disabled))

	target := 120.0
	pos := &domain.Position{
		AgentID:      "alpha",
		Symbol:       " aapl ",
		Side:         domain.SideLong,
		Strategy:     domain.StrategyMomentum,
		Quantity:     10,
		EntryPrice:   100,
		CurrentPrice: 100,
		PeakPrice:    100,
		TargetPrice:  &target,
	}
	id, err := repo.CreatePosition(pos)
	require.NoError(t, err)
	assert.NotZero(t, id)

	got, err := repo.GetPosition("alpha", "AAPL", domain.SideLong)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "AAPL", got.Symbol)
	require.NotNil(t, got.TargetPrice)
	assert.Equal(t, 120.0, *got.TargetPrice)
	assert.Nil(t, got.StopLoss)

	none, err := repo.GetPosition("alpha", "AAPL", domain.SideShort)
	require.NoError(t, err)
	assert.Nil(t, none)

	got.Reprice(110)
	require.NoError(t, repo.UpdatePosition(got))

	list, err := repo.ListPositions("alpha")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 110.0, list[0].PeakPrice)
	assert.InDelta(t, 100.0, list[0].UnrealizedPnL, 1e-9)

	symbols, err := repo.ListSymbols()
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, symbols)

	require.NoError(t, repo.DeletePosition(got.ID))
	list, err = repo.ListPositions("alpha")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPositionRepository_OneLongAndOneShortPerSymbol(t *testing.T) {
	db := testingpkg.NewTestDB(t, "arena")
	repo := NewPositionRepository(db, zerolog.New(nil).Level(zerolog.Disabled))

	long := testingpkg.NewPositionFixture("alpha", "TSLA", domain.SideLong, 5, 200)
	short := testingpkg.NewPositionFixture("alpha", "TSLA", domain.SideShort, 5, 200)
	dup := testingpkg.NewPositionFixture("alpha", "TSLA", domain.SideLong, 1, 210)

	_, err := repo.CreatePosition(&long)
	require.NoError(t, err)
	_, err = repo.CreatePosition(&short)
	require.NoError(t, err)

	_, err = repo.CreatePosition(&dup)
	assert.Error(t, err)
}

func TestPositionRepository_RejectsNonPositiveQuantity(t *testing.T) {
	db := testingpkg.NewTestDB(t, "arena")
	repo := NewPositionRepository(db, zerolog.New(nil).Level(zerolog.Disabled))

	pos := testingpkg.NewPositionFixture("alpha", "MSFT", domain.SideLong, 0, 300)
	_, err := repo.CreatePosition(&pos)
	assert.Error(t, err)
}
