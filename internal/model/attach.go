package model

import (
	"fmt"
	"strings"
	"time"
)

// AttachmentState is the lifecycle state of the hook for one process identity.
type AttachmentState int

// Attachment states.
const (
	StateDetached AttachmentState = iota
	StateAttaching
	StateAttached
	StateFailing
	StateBlacklisted
)

func (s AttachmentState) String() string {
	switch s {
	case StateDetached:
		return "detached"
	case StateAttaching:
		return "attaching"
	case StateAttached:
		return "attached"
	case StateFailing:
		return "failing"
	case StateBlacklisted:
		return "blacklisted"
	default:
		return "unknown"
	}
}

// MarshalText lets states appear by name in JSON maps and documents.
func (s AttachmentState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reason explains why a transition happened.
type Reason string

// Transition reasons.
const (
	ReasonRequested         Reason = "requested"
	ReasonInstalled         Reason = "installed"
	ReasonInstallFailed     Reason = "install_failed"
	ReasonRetry             Reason = "retry"
	ReasonRetriesExhausted  Reason = "retries_exhausted"
	ReasonCrashNearInjected Reason = "crash_near_injection"
	ReasonUnsupportedAPI    Reason = "unsupported_api"
	ReasonHostTerminated    Reason = "host_terminated"
	ReasonShutdown          Reason = "shutdown"
	ReasonBlacklisted       Reason = "blacklisted"
	ReasonUserOverride      Reason = "user_override"
	ReasonCanceled          Reason = "canceled"
)

// Process identifies a host process the overlay may attach to.
type Process struct {
	PID  int32  `json:"pid"`
	Name string `json:"name"`
}

// Identity returns the key used for blacklisting: the lower-cased executable name.
func (p Process) Identity() string {
	return NormalizeName(p.Name)
}

// NormalizeName canonicalises an executable name for comparisons.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// TransitionRecord is one entry of the attach history.
type TransitionRecord struct {
	Time    time.Time       `json:"time"`
	Context string          `json:"context"`
	Process string          `json:"process"`
	PID     int32           `json:"pid,omitempty"`
	Attempt int             `json:"attempt"`
	From    AttachmentState `json:"from"`
	To      AttachmentState `json:"to"`
	Reason  Reason          `json:"reason"`
	Error   string          `json:"error,omitempty"`
}

// BlacklistEntry is a persisted permanent incompatibility record.
type BlacklistEntry struct {
	Process    string    `json:"process" yaml:"process"`
	Reason     Reason    `json:"reason" yaml:"reason"`
	RecordedAt time.Time `json:"recorded_at" yaml:"recorded_at"`
}

// ParseAttachmentState is the inverse of AttachmentState.String.
func ParseAttachmentState(s string) (AttachmentState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "detached":
		return StateDetached, nil
	case "attaching":
		return StateAttaching, nil
	case "attached":
		return StateAttached, nil
	case "failing":
		return StateFailing, nil
	case "blacklisted":
		return StateBlacklisted, nil
	}
	return StateDetached, fmt.Errorf("unknown attachment state %q", s)
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *AttachmentState) UnmarshalText(text []byte) error {
	v, err := ParseAttachmentState(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
