// Package overlay turns frame and hardware metrics into the on-screen layer.
package overlay

import (
	"fmt"
	"strings"

	"github.com/ramboxcrty/GameRMCR/internal/model"
)

// RenderedText projects metrics through cfg into the exact overlay text.
//
// Lines appear in a fixed order: FPS, CPU, GPU, RAM and VRAM. Values the
// monitoring side could not supply print as N/A. The result depends on cfg
// and m only.
func RenderedText(cfg model.OverlayConfig, m model.OverlayMetrics) string {
	var b strings.Builder

	if cfg.ShowFPS {
		fmt.Fprintf(&b, "FPS: %.1f\n", m.FPS)
	}
	if cfg.ShowCPU {
		writeUnit(&b, "CPU", m.Hardware.CPUUsage, m.Hardware.CPUTemp, cfg.ShowTemps)
	}
	if cfg.ShowGPU {
		writeUnit(&b, "GPU", m.Hardware.GPUUsage, m.Hardware.GPUTemp, cfg.ShowTemps)
	}
	if cfg.ShowRAM {
		writeMB(&b, "RAM", m.Hardware.RAMUsedMB)
		writeMB(&b, "VRAM", m.Hardware.VRAMUsedMB)
	}

	return b.String()
}

// UnsupportedText is shown in place of metrics when the host API cannot be hooked.
func UnsupportedText(api string) string {
	return "Unsupported: " + api + "\n"
}

func writeUnit(b *strings.Builder, label string, usage, temp float64, showTemp bool) {
	if usage == model.NotAvailable {
		fmt.Fprintf(b, "%s: N/A", label)
	} else {
		fmt.Fprintf(b, "%s: %.1f%%", label, usage)
	}
	if showTemp {
		if temp == model.NotAvailable {
			b.WriteString(" (N/A)")
		} else {
			fmt.Fprintf(b, " (%.0f°C)", temp)
		}
	}
	b.WriteByte('\n')
}

func writeMB(b *strings.Builder, label string, mb int) {
	if mb == model.NotAvailable {
		fmt.Fprintf(b, "%s: N/A\n", label)
		return
	}
	fmt.Fprintf(b, "%s: %d MB\n", label, mb)
}
