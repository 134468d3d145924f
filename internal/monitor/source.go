// Package monitor collects hardware metrics and detects running games.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ramboxcrty/GameRMCR/internal/model"
)

// Source produces hardware snapshots. Values a source cannot measure are
// reported as model.NotAvailable.
type Source interface {
	Name() string
	Sample(ctx context.Context) (model.HardwareMetrics, error)
}

// Sensor keys that carry the CPU package temperature on common platforms.
var cpuSensorKeys = []string{"coretemp_package", "k10temp_tctl", "k10temp", "cpu_thermal", "coretemp", "package", "cpu"}

// SystemSource reads CPU and memory values through gopsutil.
// gopsutil has no GPU support, so GPU usage, GPU temperature and VRAM are
// always unavailable from this source.
type SystemSource struct {
	cpuPercent    func(ctx context.Context) ([]float64, error)
	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	temperatures  func(ctx context.Context) ([]host.TemperatureStat, error)
}

// NewSystemSource returns a source backed by the host's counters.
func NewSystemSource() *SystemSource {
	return &SystemSource{
		cpuPercent: func(ctx context.Context) ([]float64, error) {
			return cpu.PercentWithContext(ctx, 0, false)
		},
		virtualMemory: mem.VirtualMemoryWithContext,
		temperatures:  host.SensorsTemperaturesWithContext,
	}
}

func (s *SystemSource) Name() string { return "system" }

// Sample returns an error only when nothing at all could be read.
func (s *SystemSource) Sample(ctx context.Context) (model.HardwareMetrics, error) {
	out := model.Unavailable()
	var errs []error

	if pct, err := s.cpuPercent(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cpu percent: %w", err))
	} else if len(pct) > 0 {
		out.CPUUsage = pct[0]
	}

	if vm, err := s.virtualMemory(ctx); err != nil {
		errs = append(errs, fmt.Errorf("virtual memory: %w", err))
	} else if vm != nil {
		out.RAMUsedMB = int(vm.Used / 1024 / 1024)
	}

	// gopsutil reports partial sensor reads as a warning alongside the values.
	temps, err := s.temperatures(ctx)
	if t, ok := cpuTemperature(temps); ok {
		out.CPUTemp = t
	} else if err != nil {
		errs = append(errs, fmt.Errorf("sensors: %w", err))
	}

	if len(errs) == 3 {
		return out, errors.Join(errs...)
	}
	return out, nil
}

// cpuTemperature picks the most specific CPU sensor present.
func cpuTemperature(temps []host.TemperatureStat) (float64, bool) {
	for _, key := range cpuSensorKeys {
		for _, t := range temps {
			if strings.Contains(strings.ToLower(t.SensorKey), key) && model.ValidTemp(t.Temperature) && t.Temperature > 0 {
				return t.Temperature, true
			}
		}
	}
	return 0, false
}

// EstimatedSource fills a missing CPU temperature with a load-based estimate.
// The estimate is not a measurement; it only keeps the overlay line moving on
// machines without readable sensors.
type EstimatedSource struct {
	inner Source
}

// NewEstimatedSource wraps inner.
func NewEstimatedSource(inner Source) *EstimatedSource {
	return &EstimatedSource{inner: inner}
}

func (e *EstimatedSource) Name() string { return "estimated" }

func (e *EstimatedSource) Sample(ctx context.Context) (model.HardwareMetrics, error) {
	m, err := e.inner.Sample(ctx)
	if err != nil {
		return m, err
	}
	if m.CPUTemp == model.NotAvailable && model.ValidPercent(m.CPUUsage) {
		m.CPUTemp = EstimateCPUTemp(m.CPUUsage)
	}
	return m, nil
}

// EstimateCPUTemp maps utilisation linearly from 35 °C idle to 75 °C at full
// load, rounded to one decimal.
func EstimateCPUTemp(usage float64) float64 {
	const idle, full = 35.0, 75.0
	t := idle + usage/100*(full-idle)
	t = math.Max(30, math.Min(90, t))
	return math.Round(t*10) / 10
}

// NewSource returns the source named by kind ("system" or "estimated").
func NewSource(kind string) (Source, error) {
	switch kind {
	case "", "system":
		return NewSystemSource(), nil
	case "estimated":
		return NewEstimatedSource(NewSystemSource()), nil
	}
	return nil, fmt.Errorf("unknown monitor source %q", kind)
}
