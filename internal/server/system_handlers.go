// Package server provides the HTTP server and routing for stackwatch.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/stkpulse/stackwatch/internal/database"
)

// SystemHandlers handles system monitoring endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	ledgerDB    *database.DB
	portfolioDB *database.DB
	cacheDB     *database.DB
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(log zerolog.Logger, dataDir string, ledgerDB, portfolioDB, cacheDB *database.DB) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		ledgerDB:    ledgerDB,
		portfolioDB: portfolioDB,
		cacheDB:     cacheDB,
	}
}

// HealthResponse is the payload for GET /api/system/health.
type HealthResponse struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptimeSeconds"`
	CPUPercent    float64           `json:"cpuPercent"`
	MemPercent    float64           `json:"memPercent"`
	DiskPercent   float64           `json:"diskPercent"`
	Databases     map[string]string `json:"databases"`
	Timestamp     string            `json:"timestamp"`
}

// HandleHealth handles GET /api/system/health
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		Databases:     make(map[string]string),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}

	cpuPercent, memPercent := h.systemStats()
	resp.CPUPercent = cpuPercent
	resp.MemPercent = memPercent

	if usage, err := disk.Usage(h.dataDir); err == nil {
		resp.DiskPercent = usage.UsedPercent
	} else {
		h.log.Warn().Err(err).Str("path", h.dataDir).Msg("Failed to read disk usage")
	}

	status := http.StatusOK
	for name, db := range map[string]*database.DB{
		"ledger":    h.ledgerDB,
		"portfolio": h.portfolioDB,
		"cache":     h.cacheDB,
	} {
		if err := db.Conn().PingContext(r.Context()); err != nil {
			resp.Databases[name] = "error"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			h.log.Error().Err(err).Str("database", name).Msg("Database ping failed")
			continue
		}
		resp.Databases[name] = "ok"
	}

	h.writeJSON(w, status, resp)
}

// databaseStats is the per-database section of the stats payload.
type databaseStats struct {
	SizeBytes int64 `json:"sizeBytes"`
	PageCount int64 `json:"pageCount"`
	PageSize  int64 `json:"pageSize"`
}

// HandleDatabaseStats handles GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]databaseStats)
	for name, db := range map[string]*database.DB{
		"ledger":    h.ledgerDB,
		"portfolio": h.portfolioDB,
		"cache":     h.cacheDB,
	} {
		var s databaseStats
		if err := db.Conn().QueryRowContext(r.Context(), "PRAGMA page_count").Scan(&s.PageCount); err != nil {
			h.log.Error().Err(err).Str("database", name).Msg("Failed to read page count")
			http.Error(w, "Failed to read database stats", http.StatusInternalServerError)
			return
		}
		if err := db.Conn().QueryRowContext(r.Context(), "PRAGMA page_size").Scan(&s.PageSize); err != nil {
			h.log.Error().Err(err).Str("database", name).Msg("Failed to read page size")
			http.Error(w, "Failed to read database stats", http.StatusInternalServerError)
			return
		}
		s.SizeBytes = s.PageCount * s.PageSize
		stats[name] = s
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": stats,
		"metadata": map[string]interface{}{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// systemStats returns CPU and memory utilization percentages. Failures are
// reported as zero so a broken procfs never takes down the health endpoint.
func (h *SystemHandlers) systemStats() (float64, float64) {
	var cpuPercent float64
	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}

	var memPercent float64
	if memStat, err := mem.VirtualMemory(); err == nil {
		memPercent = memStat.UsedPercent
	}

	return cpuPercent, memPercent
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}
