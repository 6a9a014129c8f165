package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if s.slots.InUse() >= s.slots.Cap() {
		status = "overloaded"
	}
	health := HealthStatus{
		Status:             status,
		ActiveDownloads:    s.stats.active.Load(),
		CompletedDownloads: s.stats.completed.Load(),
		FailedDownloads:    s.stats.failed.Load(),
		MaxConcurrent:      s.slots.Cap(),
		Uptime:             time.Since(s.stats.startedAt).Round(time.Second).String(),
		MemoryUsage:        memoryUsage(),
		Store:              s.store.Name(),
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := map[string]interface{}{
		"active_downloads":       s.stats.active.Load(),
		"completed_downloads":    s.stats.completed.Load(),
		"failed_downloads":       s.stats.failed.Load(),
		"rate_limited_downloads": s.stats.rateLimited.Load(),
		"slots_in_use":           s.slots.InUse(),
		"max_concurrent":         s.slots.Cap(),
		"rate_limit":             s.cfg.RequestsPerSecond,
		"uptime_seconds":         time.Since(s.stats.startedAt).Seconds(),
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_downloads":       s.stats.active.Load(),
		"completed_downloads":    s.stats.completed.Load(),
		"failed_downloads":       s.stats.failed.Load(),
		"rate_limited_downloads": s.stats.rateLimited.Load(),
		"success_rate":           s.stats.successRate(),
		"avg_processing_seconds": s.stats.avgProcessingSeconds(),
		"store":                  s.store.Name(),
	}
	writeJSON(w, http.StatusOK, stats)
}

// memoryUsage reports the resident set size of this process.
func memoryUsage() string {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return "N/A"
	}
	mi, err := p.MemoryInfo()
	if err != nil || mi == nil {
		return "N/A"
	}
	return formatBytes(mi.RSS)
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
