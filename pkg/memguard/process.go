package memguard

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

type processHandle interface {
	MemoryInfoWithContext(ctx context.Context) (*process.MemoryInfoStat, error)
	CPUPercentWithContext(ctx context.Context) (float64, error)
}

// SampleProcess returns the resident set size and CPU usage of the current
// process.
func (g *Guard) SampleProcess(ctx context.Context) (uint64, float64, error) {
	g.procOnce.Do(func() {
		p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
		if err != nil {
			g.procErr = fmt.Errorf("memguard: open process: %w", err)
			return
		}
		g.proc = p
	})
	if g.procErr != nil {
		return 0, 0, g.procErr
	}

	info, err := g.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("memguard: memory info: %w", err)
	}
	cpu, err := g.proc.CPUPercentWithContext(ctx)
	if err != nil {
		return info.RSS, 0, fmt.Errorf("memguard: cpu percent: %w", err)
	}
	return info.RSS, cpu, nil
}

// SystemMemory returns total and used physical memory of the host.
func SystemMemory(ctx context.Context) (total, used uint64, err error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("memguard: virtual memory: %w", err)
	}
	return vm.Total, vm.Used, nil
}
