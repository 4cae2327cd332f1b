package monitoring

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// StorePinger reports whether the persistent store is reachable.
type StorePinger interface {
	Ping() error
}

// HealthCheck represents a health check response
type HealthCheck struct {
	Status          HealthStatus     `json:"status"`
	Version         string           `json:"version"`
	Uptime          int64            `json:"uptime"`
	UptimeHuman     string           `json:"uptime_human"`
	ActiveDownloads int              `json:"active_downloads"`
	PlaylistSize    int              `json:"playlist_size"`
	MemoryUsageMB   uint64           `json:"memory_usage_mb"`
	StoreStatus     string           `json:"store_status"`
	Checks          map[string]Check `json:"checks"`
	Timestamp       time.Time        `json:"timestamp"`
}

// Check represents an individual health check
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthChecker performs health checks
type HealthChecker struct {
	version   string
	startTime time.Time
	store     StorePinger
	dataDir   string
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string, store StorePinger, dataDir string) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		store:     store,
		dataDir:   dataDir,
	}
}

// Check performs all health checks and returns the result
func (h *HealthChecker) Check(activeDownloads, playlistSize int) *HealthCheck {
	checks := make(map[string]Check)
	overallStatus := HealthStatusHealthy

	// Check store reachability
	storeCheck := h.checkStore()
	checks["store"] = storeCheck
	if storeCheck.Status != "healthy" {
		overallStatus = HealthStatusUnhealthy
	}

	// Check data directory writability
	dirCheck := h.checkDataDir()
	checks["data_dir"] = dirCheck
	if dirCheck.Status != "healthy" {
		overallStatus = HealthStatusUnhealthy
	}

	// Check memory usage
	memCheck := h.checkMemory()
	checks["memory"] = memCheck
	if memCheck.Status == "unhealthy" {
		overallStatus = HealthStatusUnhealthy
	} else if memCheck.Status == "degraded" && overallStatus == HealthStatusHealthy {
		overallStatus = HealthStatusDegraded
	}

	// Check active download pressure
	dlCheck := h.checkActiveDownloads(activeDownloads)
	checks["downloads"] = dlCheck
	if dlCheck.Status == "degraded" && overallStatus == HealthStatusHealthy {
		overallStatus = HealthStatusDegraded
	}

	// Calculate uptime
	uptime := time.Since(h.startTime)
	uptimeSeconds := int64(uptime.Seconds())

	// Get memory stats
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	memoryMB := m.Alloc / 1024 / 1024

	// Determine store status
	storeStatus := "connected"
	if storeCheck.Status != "healthy" {
		storeStatus = "disconnected"
	}

	return &HealthCheck{
		Status:          overallStatus,
		Version:         h.version,
		Uptime:          uptimeSeconds,
		UptimeHuman:     formatDuration(uptime),
		ActiveDownloads: activeDownloads,
		PlaylistSize:    playlistSize,
		MemoryUsageMB:   memoryMB,
		StoreStatus:     storeStatus,
		Checks:          checks,
		Timestamp:       time.Now(),
	}
}

// checkStore checks persistent store reachability
func (h *HealthChecker) checkStore() Check {
	if h.store == nil {
		return Check{
			Status:  "unhealthy",
			Message: "Store not initialized",
		}
	}

	if err := h.store.Ping(); err != nil {
		return Check{
			Status:  "unhealthy",
			Message: "Store ping failed: " + err.Error(),
		}
	}

	return Check{
		Status:  "healthy",
		Message: "Store is reachable",
	}
}

// checkDataDir checks that the data directory is writable
func (h *HealthChecker) checkDataDir() Check {
	probe := filepath.Join(h.dataDir, ".health")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return Check{
			Status:  "unhealthy",
			Message: "Data directory is not writable: " + err.Error(),
		}
	}
	os.Remove(probe)

	return Check{
		Status:  "healthy",
		Message: "Data directory is writable",
	}
}

// checkMemory checks memory usage
func (h *HealthChecker) checkMemory() Check {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	memoryMB := m.Alloc / 1024 / 1024

	// Thresholds
	const (
		warningThresholdMB  = 500  // 500 MB
		criticalThresholdMB = 1000 // 1 GB
	)

	if memoryMB > criticalThresholdMB {
		return Check{
			Status:  "unhealthy",
			Message: "Memory usage is critically high",
		}
	}

	if memoryMB > warningThresholdMB {
		return Check{
			Status:  "degraded",
			Message: "Memory usage is elevated",
		}
	}

	return Check{
		Status:  "healthy",
		Message: "Memory usage is normal",
	}
}

// checkActiveDownloads checks concurrent download pressure
func (h *HealthChecker) checkActiveDownloads(active int) Check {
	const warningThreshold = 50

	if active > warningThreshold {
		return Check{
			Status:  "degraded",
			Message: "Unusually many concurrent downloads",
		}
	}

	return Check{
		Status:  "healthy",
		Message: "Download pressure is normal",
	}
}

// formatDuration formats a duration into a human-readable string
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
