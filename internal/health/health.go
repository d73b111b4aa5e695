// Package health reports process/host resource usage, grounded on the
// teacher's internal/server/system_handlers.go gopsutil usage (there
// surfaced over an HTTP endpoint; here logged periodically instead, since
// this core has no HTTP surface, spec §1).
package health

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is one point-in-time read of host resource usage.
type Snapshot struct {
	CPUPercent float64
	MemPercent float64
	MemUsedMB  uint64
}

// Collect samples CPU usage over a short window and current memory
// pressure. The cpu.PercentWithContext call blocks for `interval`, so
// callers should treat this as a bounded-duration operation, not instant.
func Collect(ctx context.Context, interval time.Duration) (Snapshot, error) {
	percents, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return Snapshot{}, err
	}
	var cpuPct float64
	if len(percents) > 0 {
		cpuPct = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		CPUPercent: cpuPct,
		MemPercent: vm.UsedPercent,
		MemUsedMB:  vm.Used / (1024 * 1024),
	}, nil
}
