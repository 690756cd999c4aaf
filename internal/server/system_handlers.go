package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/aristath/arena/internal/broker"
	"github.com/aristath/arena/internal/database"
	"github.com/aristath/arena/internal/modules/trading"
	"github.com/aristath/arena/internal/services"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// MonitoredDB is a database the health endpoints report on
type MonitoredDB interface {
	Name() string
	HealthCheck(ctx context.Context) error
	GetStats() (*database.Stats, error)
}

// CycleStatus reports the trading cycle state
type CycleStatus interface {
	IsRunning() bool
}

// SystemHandlers handles health and host monitoring requests
type SystemHandlers struct {
	cpuPercent func() ([]float64, error)
	memPercent func() (float64, error)
	diskUsage  func(path string) (*disk.UsageStat, error)
	started    time.Time

	databases []MonitoredDB
	cycles    CycleStatus
	safety    *trading.SafetyService
	health    *services.APIHealthTracker
	brokers   *broker.Registry
	dataDir   string
	log       zerolog.Logger
}

// SystemStatusResponse is the body of GET /api/system/status
type SystemStatusResponse struct {
	Safety        *trading.SafetyStatus       `json:"safety,omitempty"`
	APIHealth     *services.APIHealthSnapshot `json:"api_health,omitempty"`
	Brokers       []string                    `json:"brokers"`
	Host          HostStats                   `json:"host"`
	UptimeSeconds float64                     `json:"uptime_seconds"`
	CycleRunning  bool                        `json:"cycle_running"`
}

// HostStats are the resource figures of the machine the arena runs on
type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskFreeMB    float64 `json:"disk_free_mb"`
	DiskPercent   float64 `json:"disk_percent"`
	DataDirMB     float64 `json:"data_dir_mb"`
	Goroutines    int     `json:"goroutines"`
}

// NewSystemHandlers creates system handlers. Any collaborator may be nil.
func NewSystemHandlers(
	databases []MonitoredDB,
	dataDir string,
	cycles CycleStatus,
	safety *trading.SafetyService,
	health *services.APIHealthTracker,
	brokers *broker.Registry,
	log zerolog.Logger,
) *SystemHandlers {
	return &SystemHandlers{
		cpuPercent: func() ([]float64, error) { return cpu.Percent(100*time.Millisecond, false) },
		memPercent: func() (float64, error) {
			stat, err := mem.VirtualMemory()
			if err != nil {
				return 0, err
			}
			return stat.UsedPercent, nil
		},
		diskUsage: disk.Usage,
		started:   time.Now(),
		databases: databases,
		cycles:    cycles,
		safety:    safety,
		health:    health,
		brokers:   brokers,
		dataDir:   dataDir,
		log:       log.With().Str("handler", "system").Logger(),
	}
}

// HandleHealth handles GET /health. Every database must answer a ping.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.databases))
	healthy := true
	for _, db := range h.databases {
		if err := db.HealthCheck(ctx); err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Health check failed")
			checks[db.Name()] = err.Error()
			healthy = false
			continue
		}
		checks[db.Name()] = "ok"
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(h.log, w, code, map[string]interface{}{
		"status":    status,
		"service":   "arena",
		"databases": checks,
	})
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	resp := SystemStatusResponse{
		Brokers:       []string{},
		Host:          h.hostStats(),
		UptimeSeconds: time.Since(h.started).Seconds(),
	}
	if h.cycles != nil {
		resp.CycleRunning = h.cycles.IsRunning()
	}
	if h.safety != nil {
		status := h.safety.Status()
		resp.Safety = &status
	}
	if h.health != nil {
		snap := h.health.Snapshot()
		resp.APIHealth = &snap
	}
	if h.brokers != nil {
		for _, kind := range h.brokers.Kinds() {
			resp.Brokers = append(resp.Brokers, string(kind))
		}
	}

	writeJSON(h.log, w, http.StatusOK, resp)
}

// HandleDatabaseStats handles GET /api/system/databases
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]*database.Stats, len(h.databases))
	for _, db := range h.databases {
		s, err := db.GetStats()
		if err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
			continue
		}
		stats[db.Name()] = s
	}
	writeJSON(h.log, w, http.StatusOK, map[string]interface{}{"databases": stats})
}

func (h *SystemHandlers) hostStats() HostStats {
	stats := HostStats{Goroutines: runtime.NumGoroutine()}

	if pct, err := h.cpuPercent(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
	} else if len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}

	if pct, err := h.memPercent(); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
	} else {
		stats.MemoryPercent = pct
	}

	if h.dataDir != "" {
		if usage, err := h.diskUsage(h.dataDir); err != nil {
			h.log.Warn().Err(err).Msg("Failed to get disk usage")
		} else {
			stats.DiskFreeMB = float64(usage.Free) / 1024 / 1024
			stats.DiskPercent = usage.UsedPercent
		}
		stats.DataDirMB = dirSizeMB(h.dataDir)
	}
	return stats
}

// dirSizeMB sums regular file sizes under dir; unreadable entries are skipped
func dirSizeMB(dir string) float64 {
	var total int64
	_ = filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return float64(total) / 1024 / 1024
}
