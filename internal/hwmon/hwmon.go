// Package hwmon samples host hardware utilisation.
package hwmon

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"git.home.luguber.info/inful/applianced/internal/foundation/errors"
	"git.home.luguber.info/inful/applianced/internal/metrics"
)

// Sample is one reading of the host.
type Sample struct {
	Time          time.Time `json:"time"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	MemoryUsed    uint64    `json:"memory_used"`
	MemoryTotal   uint64    `json:"memory_total"`
	DiskPercent   float64   `json:"disk_percent"`
	DiskUsed      uint64    `json:"disk_used"`
	DiskTotal     uint64    `json:"disk_total"`
	Load1         float64   `json:"load1"`
	Load5         float64   `json:"load5"`
	Load15        float64   `json:"load15"`
}

// Gauges converts the sample to the exported metric set.
func (s Sample) Gauges() metrics.Hardware {
	return metrics.Hardware{
		CPUPercent:    s.CPUPercent,
		MemoryPercent: s.MemoryPercent,
		DiskPercent:   s.DiskPercent,
		Load1:         s.Load1,
	}
}

// Reader takes a hardware sample.
type Reader interface {
	Read(ctx context.Context) (Sample, error)
}

// HostReader reads the local host through gopsutil.
type HostReader struct {
	DiskPath string
}

// Read samples CPU (since the previous call), memory, the filesystem at
// DiskPath and the load averages.
func (r HostReader) Read(ctx context.Context) (Sample, error) {
	s := Sample{Time: time.Now().UTC()}

	cpus, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return s, sampleError("cpu", err)
	}
	if len(cpus) > 0 {
		s.CPUPercent = cpus[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return s, sampleError("memory", err)
	}
	s.MemoryPercent, s.MemoryUsed, s.MemoryTotal = vm.UsedPercent, vm.Used, vm.Total

	path := r.DiskPath
	if path == "" {
		path = "/"
	}
	du, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return s, errors.FileSystemError("sample disk usage").WithCause(err).WithContext("path", path).Build()
	}
	s.DiskPercent, s.DiskUsed, s.DiskTotal = du.UsedPercent, du.Used, du.Total

	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return s, sampleError("load", err)
	}
	s.Load1, s.Load5, s.Load15 = avg.Load1, avg.Load5, avg.Load15
	return s, nil
}

func sampleError(what string, err error) error {
	return errors.RuntimeError("sample hardware").WithCause(err).WithContext("metric", what).Build()
}
