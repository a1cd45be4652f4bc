package monitoring

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"lineq/internal/queue"
	"lineq/pkg/types"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

type SystemStats struct {
	// Process specific
	NumGoroutine int    `json:"num_goroutine"`
	Alloc        uint64 `json:"alloc_bytes"`
	Sys          uint64 `json:"sys_bytes"`
	NumGC        uint32 `json:"num_gc"`

	// System wide
	TotalRAM        uint64                 `json:"total_ram"`
	AvailableRAM    uint64                 `json:"available_ram"`
	UsedRAMPercent  float64                `json:"used_ram_percent"`
	TotalCPUCores   int                    `json:"total_cpu_cores"`
	CPUUsagePercent []float64              `json:"cpu_usage_percent"`
	CPUTemperatures []host.TemperatureStat `json:"cpu_temperatures"`
}

type MonitoringStatus struct {
	Timestamp time.Time            `json:"timestamp"`
	Queue     types.StatusResponse `json:"queue"`
	Workers   []WorkerInfo         `json:"workers"`
	System    SystemStats          `json:"system"`
}

type Service interface {
	GetStatus(ctx context.Context) MonitoringStatus
}

type monitoringService struct {
	core     *queue.Core
	registry *Registry
}

func NewService(core *queue.Core, registry *Registry) Service {
	return &monitoringService{core: core, registry: registry}
}

func (s *monitoringService) GetStatus(ctx context.Context) MonitoringStatus {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	vMem, _ := mem.VirtualMemory()
	cpuPercent, _ := cpu.Percent(0, true) // per cpu
	temps, _ := host.SensorsTemperatures()

	sysStats := SystemStats{
		NumGoroutine:    runtime.NumGoroutine(),
		Alloc:           memStats.Alloc,
		Sys:             memStats.Sys,
		NumGC:           memStats.NumGC,
		TotalCPUCores:   runtime.NumCPU(),
		CPUUsagePercent: cpuPercent,
		CPUTemperatures: temps,
	}
	if vMem != nil {
		sysStats.TotalRAM = vMem.Total
		sysStats.AvailableRAM = vMem.Available
		sysStats.UsedRAMPercent = vMem.UsedPercent
	}

	return MonitoringStatus{
		Timestamp: time.Now(),
		Queue:     s.core.Snapshot(),
		Workers:   s.registry.List(),
		System:    sysStats,
	}
}

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *gin.RouterGroup) {
	g.GET("/monitoring", h.GetMonitoringStatus)
}

func (h *Handler) GetMonitoringStatus(c *gin.Context) {
	status := h.svc.GetStatus(c.Request.Context())
	c.JSON(http.StatusOK, status)
}
