package notifier

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ramboxcrty/GameRMCR/internal/model"
)

// ConsoleNotifier prints reports to a writer (stdout by default).
type ConsoleNotifier struct {
	out io.Writer
}

// NewConsoleNotifier creates a new console notifier. A nil writer means stdout.
func NewConsoleNotifier(out io.Writer) *ConsoleNotifier {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleNotifier{out: out}
}

// Name returns the notifier name.
func (c *ConsoleNotifier) Name() string {
	return "console"
}

// Send prints the report.
func (c *ConsoleNotifier) Send(ctx context.Context, report *model.SessionReport) error {
	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString("═══════════════════════════════════════════════════════════════\n")
	sb.WriteString("                      RMCR SESSION REPORT                      \n")
	sb.WriteString("═══════════════════════════════════════════════════════════════\n")
	sb.WriteString(fmt.Sprintf("Report ID:    %s\n", report.ReqID))
	sb.WriteString(fmt.Sprintf("Timestamp:    %s\n", report.Timestamp.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("Version:      %s\n", report.Version))
	sb.WriteString(fmt.Sprintf("Window:       %s ~ %s\n",
		report.Window.Start.Format("2006-01-02 15:04"),
		report.Window.End.Format("2006-01-02 15:04")))
	sb.WriteString("───────────────────────────────────────────────────────────────\n")

	f := report.Frames
	sb.WriteString("\n🎮 FRAMES\n")
	sb.WriteString(fmt.Sprintf("  • FPS:          %.1f (avg %.1f, min %.1f, max %.1f)\n", f.FPS, f.AvgFPS, f.MinFPS, f.MaxFPS))
	sb.WriteString(fmt.Sprintf("  • 1%% low:       %.1f\n", f.Low1))
	sb.WriteString(fmt.Sprintf("  • 0.1%% low:     %.1f\n", f.Low01))
	sb.WriteString(fmt.Sprintf("  • Frame time:   %.2fms (avg %.2fms)\n", f.FrameTimeMs, f.AvgFrameTimeMs))
	sb.WriteString(fmt.Sprintf("  • Frames:       %d total, %d in window, %d drops\n", f.TotalFrames, f.Samples, len(f.FrameDrops)))
	sb.WriteString(fmt.Sprintf("  • Cadence:      1/%d\n", report.CadenceDivisor))

	if h := report.Hardware; h != nil {
		sb.WriteString("\n🖥 HARDWARE\n")
		sb.WriteString(fmt.Sprintf("  • CPU: %s  GPU: %s\n", percent(h.CPUUsage), percent(h.GPUUsage)))
		sb.WriteString(fmt.Sprintf("  • RAM: %s  VRAM: %s\n", megabytes(h.RAMUsedMB), megabytes(h.VRAMUsedMB)))
	}

	if len(report.Hooks) > 0 {
		sb.WriteString("\n🔗 HOOKS\n")
		for _, name := range sortedKeys(report.Hooks) {
			sb.WriteString(fmt.Sprintf("  • %-24s %s\n", name, report.Hooks[name]))
		}
	}

	if len(report.Failures) > 0 {
		sb.WriteString("\n⚠ RECENT FAILURES\n")
		for i, r := range report.Failures {
			if i >= 10 {
				sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(report.Failures)-10))
				break
			}
			sb.WriteString(fmt.Sprintf("  %d. %s %s → %s (%s) %s\n",
				i+1, r.Process, r.From, r.To, r.Reason, r.Error))
		}
	}

	if len(report.Blacklist) > 0 {
		sb.WriteString("\n⛔ BLACKLIST\n")
		for _, b := range report.Blacklist {
			sb.WriteString(fmt.Sprintf("  • %s (%s)\n", b.Process, b.Reason))
		}
	}

	sb.WriteString("\n═══════════════════════════════════════════════════════════════\n")

	_, err := io.WriteString(c.out, sb.String())
	return err
}

func percent(v float64) string {
	if !model.ValidPercent(v) {
		return "N/A"
	}
	return fmt.Sprintf("%.1f%%", v)
}

func megabytes(v int) string {
	if v < 0 {
		return "N/A"
	}
	return fmt.Sprintf("%d MB", v)
}

func sortedKeys(m map[string]model.AttachmentState) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
