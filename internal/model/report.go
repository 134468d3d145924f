package model

import "time"

// FrameStats is a copy-out summary of the rolling frame window.
// Readers on other goroutines only ever see this value, never the window itself.
type FrameStats struct {
	// FPS is the smoothed display frame rate.
	FPS float64 `json:"fps"`

	// FrameTimeMs is the most recent frame time.
	FrameTimeMs float64 `json:"frame_time_ms"`

	// AvgFrameTimeMs is the mean frame time across the window.
	AvgFrameTimeMs float64 `json:"avg_frame_time_ms"`

	// AvgFPS is the mean of the per-frame instantaneous frame rates.
	AvgFPS float64 `json:"avg_fps"`

	// MinFPS and MaxFPS come from the longest and shortest frame in the window.
	MinFPS float64 `json:"min_fps"`
	MaxFPS float64 `json:"max_fps"`

	// Low1 and Low01 are the 1% and 0.1% low frame rates.
	Low1  float64 `json:"fps_1_percent_low"`
	Low01 float64 `json:"fps_0_1_percent_low"`

	// Samples is the number of frames currently held in the window.
	Samples int `json:"samples"`

	// TotalFrames counts every accepted frame since the window was created or reset.
	TotalFrames uint64 `json:"total_frames"`

	// FrameDrops holds window positions (oldest = 0) of frames longer than twice the average.
	FrameDrops []int `json:"frame_drops,omitempty"`
}

// Consistent reports whether the ordering min ≤ 0.1% ≤ 1% ≤ avg ≤ max holds.
func (s FrameStats) Consistent() bool {
	if s.Samples == 0 {
		return true
	}
	const eps = 1e-9
	return s.MinFPS <= s.Low01+eps &&
		s.Low01 <= s.Low1+eps &&
		s.Low1 <= s.AvgFPS+eps &&
		s.AvgFPS <= s.MaxFPS+eps
}

// SessionReport is the periodic summary sent to notification channels.
type SessionReport struct {
	// ReqID is a unique identifier for this report.
	ReqID string `json:"req_id"`

	// Timestamp is when this report was generated.
	Timestamp time.Time `json:"timestamp"`

	// Version of the engine that produced the report.
	Version string `json:"version"`

	// Window describes the wall-clock period the report covers.
	Window TimeWindow `json:"window"`

	// Frames is the frame statistics at report time.
	Frames FrameStats `json:"frames"`

	// Hardware is the latest hardware snapshot, if any was published.
	Hardware *HardwareMetrics `json:"hardware,omitempty"`

	// Hooks maps process identity to attachment state.
	Hooks map[string]AttachmentState `json:"hooks"`

	// Blacklist lists the permanently incompatible processes.
	Blacklist []BlacklistEntry `json:"blacklist,omitempty"`

	// Failures holds the recent failing transitions.
	Failures []TransitionRecord `json:"failures,omitempty"`

	// OverlayVisible reports the overlay visibility at report time.
	OverlayVisible bool `json:"overlay_visible"`

	// CadenceDivisor is the overlay update divisor chosen by the throttle (1 = every frame).
	CadenceDivisor int `json:"cadence_divisor"`
}

// TimeWindow represents a time range.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the duration of the time window.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}
