package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ARENA_DATA_DIR", t.TempDir())
	t.Setenv("UNIVERSE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "SPY", cfg.IndexSymbol)
	assert.Contains(t, cfg.Universe, "AAPL")
	assert.Equal(t, "technology", cfg.SectorSymbols["XLK"])
	assert.Equal(t, 60*time.Second, cfg.DecisionTimeout)
	assert.False(t, cfg.Backup.Enabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ARENA_DATA_DIR", t.TempDir())
	t.Setenv("ARENA_PORT", "9001")
	t.Setenv("UNIVERSE", "aapl, msft ,,tsla")
	t.Setenv("SECTOR_SYMBOLS", "xlk:tech,bad,XLE:energy")
	t.Setenv("DECISION_TIMEOUT", "15s")
	t.Setenv("MAX_PARALLEL_AGENTS", "8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Port)
	assert.Equal(t, []string{"AAPL", "MSFT", "TSLA"}, cfg.Universe)
	assert.Equal(t, map[string]string{"XLK": "tech", "XLE": "energy"}, cfg.SectorSymbols)
	assert.Equal(t, 15*time.Second, cfg.DecisionTimeout)
	assert.Equal(t, 8, cfg.MaxParallelAgents)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{Port: 8080, MaxParallelAgents: 1, Universe: []string{"AAPL"}}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Port = 0 }, true},
		{"no parallelism", func(c *Config) { c.MaxParallelAgents = 0 }, true},
		{"empty universe", func(c *Config) { c.Universe = nil }, true},
		{"telegram without chat", func(c *Config) { c.TelegramToken = "t" }, true},
		{"half backup credentials", func(c *Config) {
			c.Backup = BackupConfig{Bucket: "b", AccessKey: "k"}
		}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(c)
			err := c.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadPolicy_MissingFileUsesDefaults(t *testing.T) {
	policy, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), policy)
}

func TestLoadPolicy_PartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
safety:
  max_trade_notional: 10000
  system_daily_loss_limit: -5000
fulfillment:
  poll_interval: 250ms
simulator:
  latency_max: 1s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	policy, err := LoadPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, 10000.0, policy.Safety.MaxTradeNotional)
	assert.Equal(t, -5000.0, policy.Safety.SystemDailyLossLimit)
	assert.Equal(t, 250*time.Millisecond, policy.Fulfillment.PollInterval)
	assert.Equal(t, time.Second, policy.Simulator.LatencyMax)
	// untouched keys keep their defaults
	assert.Equal(t, 20, policy.Fulfillment.MaxAttempts)
	assert.Equal(t, -1000.0, policy.Safety.AgentDailyLossLimit)
	assert.Equal(t, 0.05, policy.Sizing.MinPositionPercent)
}

func TestLoadPolicy_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("safety:\n  agent_daily_loss_limit: 500\n"), 0o644))

	_, err := LoadPolicy(path)
	assert.Error(t, err)
}

func TestDefaultPolicy_Valid(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
}
