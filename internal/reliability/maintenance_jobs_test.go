package reliability

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMaintainedDB struct {
	name        string
	healthErr   error
	checkpoints []string
}

func (d *fakeMaintainedDB) Name() string { return d.name }

func (d *fakeMaintainedDB) HealthCheck(context.Context) error { return d.healthErr }

func (d *fakeMaintainedDB) WALCheckpoint(mode string) error {
	d.checkpoints = append(d.checkpoints, mode)
	return nil
}

func TestDailyMaintenanceJob_Run(t *testing.T) {
	tests := []struct {
		name    string
		free    uint64
		health  error
		wantErr string
	}{
		{name: "healthy", free: 50 << 30},
		{name: "low but usable", free: 1 << 30},
		{name: "critically low", free: 100 << 20, wantErr: "GB free"},
		{name: "corrupt database", free: 50 << 30, health: errors.New("integrity check failed"), wantErr: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &fakeMaintainedDB{name: "arena", healthErr: tt.health}
			job := NewDailyMaintenanceJob([]MaintainedDB{db}, t.TempDir(), zerolog.New(nil).Level(zerolog.Disabled))
			job.diskUsage = func(string) (*disk.UsageStat, error) {
				return &disk.UsageStat{Free: tt.free}, nil
			}

			err := job.Run()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"TRUNCATE"}, db.checkpoints)
		})
	}
}

func TestDailyMaintenanceJob_Name(t *testing.T) {
	job := NewDailyMaintenanceJob(nil, "", zerolog.Nop())
	assert.Equal(t, "daily_maintenance", job.Name())
}
