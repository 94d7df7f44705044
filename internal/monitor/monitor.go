package monitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/CodeShowOff/ScreenRecorder/pkg/models"
)

// SystemMonitor reads host health and filesystem capacity.
type SystemMonitor struct {
	cpuWindow time.Duration
}

func NewSystemMonitor() *SystemMonitor {
	return &SystemMonitor{cpuWindow: 200 * time.Millisecond}
}

// GetStats gathers real-time CPU and RAM usage.
func (m *SystemMonitor) GetStats(ctx context.Context) (models.HostStats, error) {
	stats := models.HostStats{}

	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to get mem stats: %w", err)
	}
	stats.RAMPercent = v.UsedPercent
	stats.RAMAvailableBytes = v.Available

	cpuPct, err := cpu.PercentWithContext(ctx, m.cpuWindow, false)
	if err != nil {
		return stats, fmt.Errorf("failed to get cpu stats: %w", err)
	}
	if len(cpuPct) > 0 {
		stats.CPUPercent = cpuPct[0]
	}

	// An encoder competing with a saturated host drops frames.
	stats.IsBusy = stats.CPUPercent > 80.0 || stats.RAMPercent > 90.0

	return stats, nil
}

// FreeBytes reports free space on the filesystem holding path.
// path may be a file or a directory that does not exist yet; the nearest
// existing ancestor is measured.
func (m *SystemMonitor) FreeBytes(ctx context.Context, path string) (uint64, error) {
	dir := existingAncestor(path)
	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		return 0, fmt.Errorf("disk usage for %s: %w", dir, err)
	}
	return usage.Free, nil
}

func existingAncestor(path string) string {
	p := filepath.Clean(path)
	for {
		if fi, err := os.Stat(p); err == nil {
			if fi.IsDir() {
				return p
			}
			return filepath.Dir(p)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
