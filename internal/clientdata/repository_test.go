package clientdata

import (
	"encoding/json"
	"testing"
	"time"

	testingpkg "github.com/aristath/arena/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) (*Repository, *time.Time) {
	t.Helper()
	repo := NewRepository(testingpkg.NewTestDB(t, "cache"))
	now := time.Date(2025, 3, 12, 15, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	return repo, &now
}

func TestRepository_StoreAndFreshness(t *testing.T) {
	repo, now := newTestRepo(t)

	require.NoError(t, repo.Store(TableDailyCloses, "SPY", []float64{1, 2, 3}, time.Hour))

	raw, err := repo.GetIfFresh(TableDailyCloses, "SPY")
	require.NoError(t, err)
	var closes []float64
	require.NoError(t, json.Unmarshal(raw, &closes))
	assert.Equal(t, []float64{1, 2, 3}, closes)

	*now = now.Add(2 * time.Hour)

	raw, err = repo.GetIfFresh(TableDailyCloses, "SPY")
	require.NoError(t, err)
	assert.Nil(t, raw, "expired entry should not be fresh")

	raw, err = repo.Get(TableDailyCloses, "SPY")
	require.NoError(t, err)
	assert.NotNil(t, raw, "stale entry is still readable")
}

func TestRepository_MissingKey(t *testing.T) {
	repo, _ := newTestRepo(t)

	raw, err := repo.Get(TableDailyCloses, "NOPE")
	require.NoError(t, err)
	assert.Nil(t, raw)
}

func TestRepository_RejectsUnknownTable(t *testing.T) {
	repo, _ := newTestRepo(t)

	tests := []struct {
		name string
		call func() error
	}{
		{"store", func() error { return repo.Store("agents; DROP TABLE agents", "k", 1, time.Hour) }},
		{"get", func() error { _, err := repo.Get("positions", "k"); return err }},
		{"fresh", func() error { _, err := repo.GetIfFresh("trades", "k"); return err }},
		{"delete", func() error { return repo.Delete("decisions", "k") }},
		{"expire", func() error { _, err := repo.DeleteExpired("agents"); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid table name")
		})
	}
}

func TestRepository_DeleteAllExpired(t *testing.T) {
	repo, now := newTestRepo(t)

	require.NoError(t, repo.Store(TableDailyCloses, "OLD", []float64{1}, time.Hour))
	require.NoError(t, repo.Store(TableDailyCloses, "NEW", []float64{2}, 24*time.Hour))
	*now = now.Add(3 * time.Hour)

	results, err := repo.DeleteAllExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), results[TableDailyCloses])

	raw, err := repo.Get(TableDailyCloses, "NEW")
	require.NoError(t, err)
	assert.NotNil(t, raw)

	require.NoError(t, repo.Delete(TableDailyCloses, "NEW"))
	raw, err = repo.Get(TableDailyCloses, "NEW")
	require.NoError(t, err)
	assert.Nil(t, raw)
}
