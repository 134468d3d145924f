package metrics

import (
	"math"
	"sync"
	"testing"

	"github.com/ramboxcrty/GameRMCR/internal/model"
)

func TestChannel_NotAvailableBeforePublish(t *testing.T) {
	c := NewChannel()

	m, ok := c.ReadLatest()
	if ok {
		t.Error("ReadLatest() ok = true before any Publish")
	}
	if m != model.Unavailable() {
		t.Errorf("ReadLatest() = %+v, want all NotAvailable", m)
	}
}

func TestChannel_LastWriteWins(t *testing.T) {
	c := NewChannel()
	c.Publish(model.HardwareMetrics{CPUUsage: 10, GPUUsage: 20, RAMUsedMB: 1000})
	c.Publish(model.HardwareMetrics{CPUUsage: 30, GPUUsage: 40, RAMUsedMB: 2000})

	m, ok := c.ReadLatest()
	if !ok {
		t.Fatal("ReadLatest() ok = false after Publish")
	}
	if m.CPUUsage != 30 || m.GPUUsage != 40 || m.RAMUsedMB != 2000 {
		t.Errorf("ReadLatest() = %+v, want the second snapshot", m)
	}
}

func TestChannel_GarbageFallsBackToLastGood(t *testing.T) {
	c := NewChannel()
	c.Publish(model.HardwareMetrics{CPUUsage: 25, CPUTemp: 60, GPUUsage: 50, GPUTemp: 70, RAMUsedMB: 4096, VRAMUsedMB: 2048})
	c.Publish(model.HardwareMetrics{
		CPUUsage:   math.NaN(),
		CPUTemp:    math.Inf(1),
		GPUUsage:   180,
		GPUTemp:    -40,
		RAMUsedMB:  -7,
		VRAMUsedMB: 3072,
	})

	m, _ := c.ReadLatest()
	want := model.HardwareMetrics{CPUUsage: 25, CPUTemp: 60, GPUUsage: 50, GPUTemp: 70, RAMUsedMB: 4096, VRAMUsedMB: 3072}
	if m != want {
		t.Errorf("ReadLatest() = %+v, want %+v", m, want)
	}
	if got := c.Rejected(); got != 5 {
		t.Errorf("Rejected() = %d, want 5", got)
	}
}

func TestChannel_GarbageWithoutHistoryIsNotAvailable(t *testing.T) {
	c := NewChannel()
	c.Publish(model.HardwareMetrics{CPUUsage: math.NaN(), CPUTemp: model.NotAvailable, GPUUsage: 5})

	m, ok := c.ReadLatest()
	if !ok {
		t.Fatal("ReadLatest() ok = false after Publish")
	}
	if m.CPUUsage != model.NotAvailable {
		t.Errorf("CPUUsage = %v, want %v", m.CPUUsage, model.NotAvailable)
	}
	if m.CPUTemp != model.NotAvailable {
		t.Errorf("CPUTemp = %v, want %v", m.CPUTemp, model.NotAvailable)
	}
	if m.GPUUsage != 5 {
		t.Errorf("GPUUsage = %v, want 5", m.GPUUsage)
	}
	// An explicit NotAvailable is not counted as garbage.
	if got := c.Rejected(); got != 1 {
		t.Errorf("Rejected() = %d, want 1", got)
	}
}

func TestChannel_SensorLossReadsNotAvailable(t *testing.T) {
	c := NewChannel()
	c.Publish(model.HardwareMetrics{CPUUsage: 25, CPUTemp: 60, GPUUsage: 50, GPUTemp: 70, RAMUsedMB: 4096, VRAMUsedMB: 2048})
	c.Publish(model.HardwareMetrics{CPUUsage: 30, CPUTemp: model.NotAvailable, GPUUsage: 55, GPUTemp: 72, RAMUsedMB: 4100, VRAMUsedMB: model.NotAvailable})

	m, _ := c.ReadLatest()
	if m.CPUTemp != model.NotAvailable {
		t.Errorf("CPUTemp = %v, want %v after the sensor went away", m.CPUTemp, model.NotAvailable)
	}
	if m.VRAMUsedMB != model.NotAvailable {
		t.Errorf("VRAMUsedMB = %v, want %v after the sensor went away", m.VRAMUsedMB, model.NotAvailable)
	}

	// Garbage after the loss must not bring the stale reading back.
	c.Publish(model.HardwareMetrics{CPUUsage: 30, CPUTemp: math.NaN(), GPUUsage: 55, GPUTemp: 72, RAMUsedMB: 4100, VRAMUsedMB: -9})
	m, _ = c.ReadLatest()
	if m.CPUTemp != model.NotAvailable {
		t.Errorf("CPUTemp = %v, want %v", m.CPUTemp, model.NotAvailable)
	}
	if m.VRAMUsedMB != model.NotAvailable {
		t.Errorf("VRAMUsedMB = %v, want %v", m.VRAMUsedMB, model.NotAvailable)
	}
	if got := c.Rejected(); got != 2 {
		t.Errorf("Rejected() = %d, want 2", got)
	}
}

func TestChannel_ConcurrentPublishAndRead(t *testing.T) {
	c := NewChannel()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			v := float64(i % 100)
			// Every field carries the same value so a torn read is detectable.
			c.Publish(model.HardwareMetrics{CPUUsage: v, GPUUsage: v, CPUTemp: v, GPUTemp: v, RAMUsedMB: i % 100, VRAMUsedMB: i % 100})
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				m, ok := c.ReadLatest()
				if !ok {
					continue
				}
				if m.CPUUsage != m.GPUUsage || m.CPUTemp != m.GPUTemp || m.RAMUsedMB != m.VRAMUsedMB || float64(m.RAMUsedMB) != m.CPUUsage {
					t.Errorf("torn snapshot: %+v", m)
					return
				}
			}
		}()
	}
	wg.Wait()
}
