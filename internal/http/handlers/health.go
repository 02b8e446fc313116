package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"gorm.io/gorm"

	"github.com/transcribebridge/transcribebridge/internal/queue"
	"github.com/transcribebridge/transcribebridge/pkg/httpclient"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	cbManager *httpclient.CircuitBreakerManager
	db        *gorm.DB
	queue     *queue.Queue
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string, cbManager *httpclient.CircuitBreakerManager, db *gorm.DB) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
		cbManager: cbManager,
		db:        db,
	}
}

// WithQueue includes segment queue statistics in health responses.
func (h *HealthHandler) WithQueue(q *queue.Queue) *HealthHandler {
	h.queue = q
	return h
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Description: "Reports ready once the database answers pings",
		Tags:        []string{"System"},
	}, h.GetReadyz)

	huma.Register(api, huma.Operation{
		OperationID: "getHealthReady",
		Method:      "GET",
		Path:        "/health/ready",
		Summary:     "Readiness probe",
		Description: "Alias of /readyz for platforms that probe under /health",
		Tags:        []string{"System"},
	}, h.GetReadyz)

	huma.Register(api, huma.Operation{
		OperationID: "getSystemInfo",
		Method:      "GET",
		Path:        "/api/v1/system",
		Summary:     "System metrics",
		Description: "Returns process uptime, CPU load, and memory usage",
		Tags:        []string{"System"},
	}, h.GetSystemInfo)
}

// SystemInfoInput is the input for the system metrics endpoint.
type SystemInfoInput struct{}

// SystemInfoOutput is the output for the system metrics endpoint.
type SystemInfoOutput struct {
	Body struct {
		Version       string     `json:"version"`
		Uptime        string     `json:"uptime"`
		UptimeSeconds float64    `json:"uptime_seconds"`
		CPUInfo       CPUInfo    `json:"cpu"`
		Memory        MemoryInfo `json:"memory"`
	}
}

// GetSystemInfo returns process-level system metrics.
func (h *HealthHandler) GetSystemInfo(ctx context.Context, input *SystemInfoInput) (*SystemInfoOutput, error) {
	uptime := time.Since(h.startTime)

	resp := &SystemInfoOutput{}
	resp.Body.Version = h.version
	resp.Body.Uptime = uptime.Round(time.Second).String()
	resp.Body.UptimeSeconds = uptime.Seconds()
	resp.Body.CPUInfo = h.getCPUInfo()
	resp.Body.Memory = h.getMemoryInfo()
	return resp, nil
}

// LivezInput is the input for the liveness probe.
type LivezInput struct{}

// LivezOutput is the output for the liveness probe.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// GetLivez reports process liveness.
func (h *HealthHandler) GetLivez(ctx context.Context, input *LivezInput) (*LivezOutput, error) {
	resp := &LivezOutput{}
	resp.Body.Status = "ok"
	return resp, nil
}

// ReadyzInput is the input for the readiness probe.
type ReadyzInput struct{}

// ReadyzOutput is the output for the readiness probe.
type ReadyzOutput struct {
	Body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
}

// GetReadyz reports whether the service can take traffic.
func (h *HealthHandler) GetReadyz(ctx context.Context, input *ReadyzInput) (*ReadyzOutput, error) {
	resp := &ReadyzOutput{}
	resp.Body.Components = map[string]string{}

	dbStatus := "ok"
	switch {
	case h.db == nil:
		dbStatus = "not_configured"
	default:
		if sqlDB, err := h.db.DB(); err != nil {
			dbStatus = "error"
		} else if err := sqlDB.PingContext(ctx); err != nil {
			dbStatus = "error"
		}
	}
	resp.Body.Components["database"] = dbStatus

	if dbStatus == "ok" {
		resp.Body.Status = "ready"
	} else {
		resp.Body.Status = "not_ready"
	}
	return resp, nil
}

// CPUInfo holds CPU load information.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds system and process memory information.
type MemoryInfo struct {
	TotalMemoryMB      float64 `json:"total_memory_mb"`
	UsedMemoryMB       float64 `json:"used_memory_mb"`
	FreeMemoryMB       float64 `json:"free_memory_mb"`
	AvailableMemoryMB  float64 `json:"available_memory_mb"`
	ProcessMemoryMB    float64 `json:"process_memory_mb"`
	ProcessPercentage  float64 `json:"process_percentage"`
}

// DatabaseHealth holds database connectivity and pool information.
type DatabaseHealth struct {
	Status                 string  `json:"status"`
	ConnectionPoolSize     int     `json:"connection_pool_size"`
	ActiveConnections      int     `json:"active_connections"`
	IdleConnections        int     `json:"idle_connections"`
	PoolUtilizationPercent float64 `json:"pool_utilization_percent"`
	ResponseTimeMS         float64 `json:"response_time_ms"`
	ResponseTimeStatus     string  `json:"response_time_status"`
}

// BreakerHealth is the compact circuit breaker status in health responses.
type BreakerHealth struct {
	Name                string `json:"name"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// QueueHealth is the compact segment queue status in health responses.
type QueueHealth struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Retrying   int `json:"retrying"`
	Failed     int `json:"failed"`
}

// HealthComponents groups per-component health details.
type HealthComponents struct {
	Database        DatabaseHealth  `json:"database"`
	Queue           *QueueHealth    `json:"queue,omitempty"`
	CircuitBreakers []BreakerHealth `json:"circuit_breakers,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	CPUInfo       CPUInfo           `json:"cpu"`
	Memory        MemoryInfo        `json:"memory"`
	Components    HealthComponents  `json:"components"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	dbHealth := h.getDatabaseHealth(ctx)

	var breakers []BreakerHealth
	if h.cbManager != nil {
		stats := h.cbManager.GetAllStats()
		breakers = make([]BreakerHealth, 0, len(stats))
		for name, s := range stats {
			breakers = append(breakers, BreakerHealth{
				Name:                name,
				State:               s.State.String(),
				ConsecutiveFailures: s.ConsecutiveFailures,
			})
		}
	}

	var queueHealth *QueueHealth
	if h.queue != nil {
		stats := h.queue.Stats()
		queueHealth = &QueueHealth{
			Pending:    stats.Pending,
			Processing: stats.Processing,
			Retrying:   stats.Retrying,
			Failed:     stats.Failed,
		}
	}

	status := "healthy"
	if dbHealth.Status == "error" {
		status = "degraded"
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			CPUInfo:       h.getCPUInfo(),
			Memory:        h.getMemoryInfo(),
			Components: HealthComponents{
				Database:        dbHealth,
				Queue:           queueHealth,
				CircuitBreakers: breakers,
			},
			Checks: map[string]string{
				"database": dbHealth.Status,
			},
		},
	}, nil
}

// getCPUInfo returns CPU load information.
func (h *HealthHandler) getCPUInfo() CPUInfo {
	cores := runtime.NumCPU()
	info := CPUInfo{Cores: cores}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(cores)) * 100
		}
	}
	return info
}

// getMemoryInfo returns memory usage information.
func (h *HealthHandler) getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = float64(vmStat.Total) / 1024 / 1024
		info.UsedMemoryMB = float64(vmStat.Used) / 1024 / 1024
		info.FreeMemoryMB = float64(vmStat.Free) / 1024 / 1024
		info.AvailableMemoryMB = float64(vmStat.Available) / 1024 / 1024
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}
	memInfo, err := proc.MemoryInfo()
	if err == nil && memInfo != nil {
		info.ProcessMemoryMB = float64(memInfo.RSS) / 1024 / 1024
		if info.TotalMemoryMB > 0 {
			info.ProcessPercentage = (info.ProcessMemoryMB / info.TotalMemoryMB) * 100
		}
	}
	return info
}

// getDatabaseHealth returns database health information.
func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{
		Status:             "ok",
		ResponseTimeStatus: "healthy",
	}

	if h.db == nil {
		health.Status = "unknown"
		return health
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		health.Status = "error"
		return health
	}

	stats := sqlDB.Stats()
	health.ConnectionPoolSize = stats.MaxOpenConnections
	health.ActiveConnections = stats.InUse
	health.IdleConnections = stats.Idle
	if stats.MaxOpenConnections > 0 {
		health.PoolUtilizationPercent = float64(stats.InUse) / float64(stats.MaxOpenConnections) * 100
	}

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		health.Status = "error"
		health.ResponseTimeStatus = "error"
	} else if health.ResponseTimeMS > 100 {
		health.ResponseTimeStatus = "slow"
	}

	return health
}
