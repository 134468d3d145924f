package monitor

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ramboxcrty/GameRMCR/internal/diagnostics"
)

// SystemInfo describes the host for diagnostics exports. Fields that cannot
// be read are left empty.
func SystemInfo(ctx context.Context) *diagnostics.SystemInfo {
	info := &diagnostics.SystemInfo{OS: runtime.GOOS}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPUCount = n
	} else {
		info.CPUCount = runtime.NumCPU()
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryTotalMB = vm.Total / 1024 / 1024
	}
	if h, err := host.InfoWithContext(ctx); err == nil {
		info.Hostname = h.Hostname
		if h.Platform != "" {
			info.OS = h.OS + "/" + h.Platform + " " + h.PlatformVersion
		}
	}
	return info
}
