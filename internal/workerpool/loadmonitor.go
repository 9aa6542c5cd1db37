package workerpool

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Load thresholds above which concurrency is cut back.
const (
	highCPUPercent = 85.0
	highMemPercent = 90.0
)

// LoadMonitor samples system load so batch concurrency can back off when
// the host is saturated, e.g. while ffmpeg encodes run alongside analysis.
type LoadMonitor struct {
	logger hclog.Logger
}

// NewLoadMonitor creates a load monitor.
func NewLoadMonitor(logger hclog.Logger) *LoadMonitor {
	return &LoadMonitor{logger: logger}
}

// Snapshot returns current CPU and memory utilization percentages.
func (m *LoadMonitor) Snapshot() (cpuPct, memPct float64, err error) {
	cpuPcts, err := cpu.Percent(200*time.Millisecond, false)
	if err != nil {
		return 0, 0, err
	}
	if len(cpuPcts) > 0 {
		cpuPct = cpuPcts[0]
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return cpuPct, 0, err
	}
	return cpuPct, vm.UsedPercent, nil
}

// AdjustWorkers reduces the configured worker count when the host is under
// pressure. Sampling failures leave the configured value untouched.
func (m *LoadMonitor) AdjustWorkers(configured int) int {
	if configured <= 1 {
		return configured
	}

	cpuPct, memPct, err := m.Snapshot()
	if err != nil {
		m.logger.Debug("load sampling failed, keeping configured workers", "error", err)
		return configured
	}

	if cpuPct > highCPUPercent || memPct > highMemPercent {
		reduced := configured / 2
		if reduced < 1 {
			reduced = 1
		}
		m.logger.Info("reducing batch concurrency under load",
			"cpu_pct", cpuPct, "mem_pct", memPct,
			"configured", configured, "reduced", reduced)
		return reduced
	}
	return configured
}
