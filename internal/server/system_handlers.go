package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/degiro-portfolio/internal/database"
	"github.com/aristath/degiro-portfolio/internal/scheduler"
)

const serverName = "DEGIRO Portfolio"

// JobLister lists scheduled jobs
type JobLister interface {
	Entries() []scheduler.Entry
}

// DatabaseStatus is the size and health of one database
type DatabaseStatus struct {
	Name      string  `json:"name"`
	Error     string  `json:"error,omitempty"`
	SizeMB    float64 `json:"size_mb"`
	WALSizeMB float64 `json:"wal_size_mb"`
	PageCount int64   `json:"page_count"`
	Healthy   bool    `json:"healthy"`
}

// SystemStatusResponse is the response of GET /api/system/status
type SystemStatusResponse struct {
	Status        string           `json:"status"`
	Version       string           `json:"version"`
	Databases     []DatabaseStatus `json:"databases"`
	CPUPercent    float64          `json:"cpu_percent"`
	MemoryPercent float64          `json:"memory_percent"`
	UptimeSeconds float64          `json:"uptime_seconds"`
}

// SystemHandlers handles monitoring endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	version     string
	startupTime time.Time
	databases   []*database.DB
	jobs        JobLister
	now         func() time.Time
	systemStats func() (cpuPercent, memPercent float64)
}

// NewSystemHandlers creates a new system handlers instance. jobs may be nil.
func NewSystemHandlers(log zerolog.Logger, version string, databases []*database.DB, jobs JobLister) *SystemHandlers {
	h := &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		version:     version,
		startupTime: time.Now(),
		databases:   databases,
		jobs:        jobs,
		now:         time.Now,
	}
	h.systemStats = h.getSystemStats
	return h
}

// HandlePing handles GET /api/ping
func (h *SystemHandlers) HandlePing(w http.ResponseWriter, r *http.Request) {
	uptime := h.now().Sub(h.startupTime)

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"server":         serverName,
		"version":        h.version,
		"started":        h.startupTime.Format(time.RFC3339),
		"uptime_seconds": uptime.Seconds(),
		"uptime":         formatUptime(uptime),
	})
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.systemStats()

	response := SystemStatusResponse{
		Status:        "healthy",
		Version:       h.version,
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		UptimeSeconds: h.now().Sub(h.startupTime).Seconds(),
		Databases:     make([]DatabaseStatus, 0, len(h.databases)),
	}

	for _, db := range h.databases {
		status := DatabaseStatus{Name: db.Name(), Healthy: true}
		if err := db.QuickCheck(r.Context()); err != nil {
			status.Healthy = false
			status.Error = err.Error()
			response.Status = "degraded"
		} else if stats, err := db.GetStats(r.Context()); err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to get database stats")
		} else {
			status.SizeMB = float64(stats.SizeBytes) / 1024 / 1024
			status.WALSizeMB = float64(stats.WALSizeBytes) / 1024 / 1024
			status.PageCount = stats.PageCount
		}
		response.Databases = append(response.Databases, status)
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleJobs handles GET /api/system/jobs
func (h *SystemHandlers) HandleJobs(w http.ResponseWriter, r *http.Request) {
	entries := []scheduler.Entry{}
	if h.jobs != nil {
		entries = h.jobs.Entries()
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  entries,
		"count": len(entries),
	})
}

// getSystemStats samples CPU over 100ms and reads memory usage
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuPercent[0], 0
	}

	return cpuPercent[0], memStat.UsedPercent
}

// formatUptime renders a duration as "1d 2h 3m 4s", dropping leading zero units
func formatUptime(d time.Duration) string {
	total := int64(d.Seconds())
	days, rem := total/86400, total%86400
	hours, rem := rem/3600, rem%3600
	minutes, seconds := rem/60, rem%60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
