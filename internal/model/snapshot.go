// Package model defines the core data structures shared by the telemetry engine.
package model

import (
	"math"
	"time"
)

// NotAvailable marks a hardware value the monitoring side could not supply.
const NotAvailable = -1

// HardwareMetrics is a point-in-time snapshot of externally collected hardware values.
// It is published by the monitoring collaborator and copied by value into the render path.
type HardwareMetrics struct {
	// CPUUsage is the total CPU utilisation in percent (0-100).
	CPUUsage float64 `json:"cpu_usage"`

	// CPUTemp is the CPU package temperature in degrees Celsius.
	CPUTemp float64 `json:"cpu_temp"`

	// GPUUsage is the GPU utilisation in percent (0-100).
	GPUUsage float64 `json:"gpu_usage"`

	// GPUTemp is the GPU core temperature in degrees Celsius.
	GPUTemp float64 `json:"gpu_temp"`

	// RAMUsedMB is the amount of system memory in use, in megabytes.
	RAMUsedMB int `json:"ram_mb"`

	// VRAMUsedMB is the amount of video memory in use, in megabytes.
	VRAMUsedMB int `json:"vram_mb"`

	// Timestamp is when the sample was taken.
	Timestamp time.Time `json:"timestamp"`
}

// Unavailable returns a snapshot with every value set to NotAvailable.
func Unavailable() HardwareMetrics {
	return HardwareMetrics{
		CPUUsage:   NotAvailable,
		CPUTemp:    NotAvailable,
		GPUUsage:   NotAvailable,
		GPUTemp:    NotAvailable,
		RAMUsedMB:  NotAvailable,
		VRAMUsedMB: NotAvailable,
	}
}

// ValidPercent reports whether v is a usable utilisation value.
func ValidPercent(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0 && v <= 100
}

// ValidTemp reports whether v is a usable temperature reading.
// Anything outside 0-150 °C is treated as a sensor glitch.
func ValidTemp(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0 && v <= 150
}

// OverlayMetrics combines frame statistics with the latest hardware snapshot.
// It is a value type; the render path receives a fresh copy every tick.
type OverlayMetrics struct {
	FPS         float64 `json:"fps"`
	FrameTimeMs float64 `json:"frame_time_ms"`
	Low1        float64 `json:"fps_1_percent_low"`
	Low01       float64 `json:"fps_0_1_percent_low"`

	Hardware HardwareMetrics `json:"hardware"`
}

// TelemetrySnapshot is the read-only view served to out-of-process consumers.
type TelemetrySnapshot struct {
	Timestamp      time.Time                  `json:"timestamp"`
	Version        string                     `json:"version"`
	Frames         FrameStats                 `json:"frames"`
	Hardware       *HardwareMetrics           `json:"hardware,omitempty"`
	OverlayVisible bool                       `json:"overlay_visible"`
	CadenceDivisor int                        `json:"cadence_divisor"`
	Hooks          map[string]AttachmentState `json:"hooks"`
}
