package webapi

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	httptransport "senweaver-server-go/internal/transport/http"
)

// SystemInfo 进程与主机信息
type SystemInfo struct {
	Hostname       string  `json:"hostname"`
	OS             string  `json:"os"`
	Platform       string  `json:"platform"`
	HostUptime     uint64  `json:"host_uptime_seconds"`
	CPUCores       int     `json:"cpu_cores"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemTotal       uint64  `json:"mem_total"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	ProcessRSS     uint64  `json:"process_rss"`
	ProcessCPU     float64 `json:"process_cpu_percent"`
	Goroutines     int     `json:"goroutines"`
	Uptime         string  `json:"uptime"`
	Connections    int     `json:"websocket_connections"`
}

// handleSystem 进程与主机信息
// @Summary 进程与主机信息
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} SystemInfo
// @Router /admin/system [get]
func (s *Service) handleSystem(c *gin.Context) {
	ctx := c.Request.Context()
	info := SystemInfo{
		Goroutines: runtime.NumGoroutine(),
		Uptime:     time.Since(s.started).Round(time.Second).String(),
	}
	if s.connections != nil {
		info.Connections = s.connections()
	}

	// 单项采集失败只记录日志，其余字段照常返回
	if h, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = h.Hostname
		info.OS = h.OS
		info.Platform = h.Platform + " " + h.PlatformVersion
		info.HostUptime = h.Uptime
	} else {
		s.logger.DebugTag(logTag, "读取主机信息失败: %v", err)
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPUCores = n
	}
	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		info.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemTotal = vm.Total
		info.MemUsedPercent = vm.UsedPercent
	}
	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if m, err := p.MemoryInfoWithContext(ctx); err == nil {
			info.ProcessRSS = m.RSS
		}
		if pct, err := p.CPUPercentWithContext(ctx); err == nil {
			info.ProcessCPU = pct
		}
	}

	httptransport.RespondSuccess(c, http.StatusOK, info, "")
}
