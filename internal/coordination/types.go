// Package coordination pauses the automated heating schedule while the
// climate subsystem is under manual control and resumes it afterwards.
//
// All waiting is expressed as persisted deadlines (pausedUntil and
// debounceStartedAt) that are compared against the injected clock on each
// poll, so a restart never loses a pending resume.
package coordination

import (
	"errors"
	"fmt"
	"time"
)

// Phase is the derived state-machine phase of a State.
type Phase string

const (
	PhaseAutomated        Phase = "AUTOMATED"
	PhasePausedActive     Phase = "PAUSED_ACTIVE"
	PhasePausedDebouncing Phase = "PAUSED_DEBOUNCING"
)

// PauseReason records why automation was paused.
type PauseReason string

const (
	ReasonManualSetpoint PauseReason = "manual_setpoint_change"
	ReasonManualMode     PauseReason = "manual_mode_change"
)

// Valid reports whether r is a known reason.
func (r PauseReason) Valid() bool {
	return r == ReasonManualSetpoint || r == ReasonManualMode
}

// ParseReason converts a wire value into a PauseReason.
func ParseReason(s string) (PauseReason, error) {
	r := PauseReason(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown pause reason %q", s)
	}
	return r, nil
}

// State is the persisted coordination record. A JSON null clears a field.
type State struct {
	AutomationActive  bool               `json:"automationActive"`
	AutomationPaused  bool               `json:"automationPaused"`
	PausedUntil       *time.Time         `json:"pausedUntil"`
	PauseReason       PauseReason        `json:"pauseReason,omitempty"`
	PendingDebounce   bool               `json:"pendingDebounce"`
	DebounceStartedAt *time.Time         `json:"debounceStartedAt"`
	SavedSetpoints    map[string]float64 `json:"savedSetpoints"`
	LastStateChange   time.Time          `json:"lastStateChange"`
}

// Phase derives the state-machine phase.
func (s State) Phase() Phase {
	switch {
	case !s.AutomationPaused:
		return PhaseAutomated
	case s.PendingDebounce:
		return PhasePausedDebouncing
	default:
		return PhasePausedActive
	}
}

var errInconsistent = errors.New("inconsistent coordination state")

// Validate checks the record invariants. Every write is validated first.
func (s State) Validate() error {
	if s.PendingDebounce != (s.DebounceStartedAt != nil) {
		return fmt.Errorf("%w: pendingDebounce=%v with debounceStartedAt set=%v",
			errInconsistent, s.PendingDebounce, s.DebounceStartedAt != nil)
	}
	if s.AutomationPaused && !s.PauseReason.Valid() {
		return fmt.Errorf("%w: paused with reason %q", errInconsistent, s.PauseReason)
	}
	if s.PendingDebounce && !s.AutomationPaused {
		return fmt.Errorf("%w: debounce pending while not paused", errInconsistent)
	}
	return nil
}

// fields returns every persisted field for a total merge-update. A nil
// reason is written as null.
func (s State) fields() map[string]any {
	var reason any
	if s.PauseReason != "" {
		reason = string(s.PauseReason)
	}
	return map[string]any{
		"automationActive":  s.AutomationActive,
		"automationPaused":  s.AutomationPaused,
		"pausedUntil":       s.PausedUntil,
		"pauseReason":       reason,
		"pendingDebounce":   s.PendingDebounce,
		"debounceStartedAt": s.DebounceStartedAt,
		"savedSetpoints":    s.SavedSetpoints,
		"lastStateChange":   s.LastStateChange,
	}
}

// Observation is what a poll sees of the climate subsystem.
type Observation struct {
	// AutomationActive mirrors whether the controlled subsystem reports an
	// "on" condition.
	AutomationActive bool
	// ManualOverride is true while any zone is under manual control.
	ManualOverride bool
}

// Transition names the change a Decision made.
type Transition string

const (
	TransitionNone              Transition = ""
	TransitionPaused            Transition = "PAUSED"
	TransitionRearmed           Transition = "REARMED"
	TransitionDebounceStarted   Transition = "DEBOUNCE_STARTED"
	TransitionDebounceCancelled Transition = "DEBOUNCE_CANCELLED"
	TransitionResumed           Transition = "RESUMED"
	TransitionReset             Transition = "RESET"
)

// Decision causes.
const (
	CausePauseExpired    = "pause_expired"
	CauseDebounceElapsed = "debounce_elapsed"
	CauseCorruptState    = "corrupt_state"
)

// Decision is the outcome of evaluating one input against a State.
type Decision struct {
	Prev       State
	Next       State
	Transition Transition
	// Cause is set for TransitionResumed, and for a TransitionReset that
	// replaced a corrupt record.
	Cause string
	// Restore holds the setpoints to push back to the climate subsystem
	// before Next is persisted.
	Restore map[string]float64
	// Changed is false when nothing needs to be written.
	Changed bool
}

// Phase returns the phase after the decision.
func (d Decision) Phase() Phase {
	return d.Next.Phase()
}
