// Package system inspects the host to size encode concurrency.
package system

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

const maxDefaultEncodes = 8

// Info describes the resources available to encodes
type Info struct {
	LogicalCPUs       int
	PhysicalCPUs      int
	TotalMemoryMB     uint64
	AvailableMemoryMB uint64
	// Load1 is the one-minute load average, zero where unsupported
	Load1 float64
}

// Detect queries CPU and memory. Counts gopsutil cannot determine fall back
// to the Go runtime's view of the machine.
func Detect(ctx context.Context) (Info, error) {
	info := Info{
		LogicalCPUs:  runtime.NumCPU(),
		PhysicalCPUs: runtime.NumCPU(),
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		info.LogicalCPUs = n
	}
	if n, err := cpu.CountsWithContext(ctx, false); err == nil && n > 0 {
		info.PhysicalCPUs = n
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		info.Load1 = avg.Load1
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return info, fmt.Errorf("failed to read memory stats: %w", err)
	}
	info.TotalMemoryMB = vm.Total / 1024 / 1024
	info.AvailableMemoryMB = vm.Available / 1024 / 1024

	return info, nil
}

// DefaultEncodeConcurrency is half the physical cores, further limited to
// one encode per 2 GB of available memory, between 1 and 8.
func DefaultEncodeConcurrency(info Info) int {
	n := info.PhysicalCPUs / 2
	if info.AvailableMemoryMB > 0 {
		if byMem := int(info.AvailableMemoryMB / 2048); byMem < n {
			n = byMem
		}
	}
	if n > maxDefaultEncodes {
		n = maxDefaultEncodes
	}
	if n < 1 {
		n = 1
	}
	return n
}
