package coordination

import "time"

// The functions in this file are pure: they compute a Decision from a State
// and inputs, with time passed in. Machine is responsible for I/O.

// decideManualChange pauses automation or re-arms an existing pause.
// snapshot is only used when entering the pause; a re-arm keeps the
// original snapshot, which predates every manual edit.
func decideManualChange(s State, reason PauseReason, until time.Time, snapshot map[string]float64) Decision {
	next := s
	next.AutomationPaused = true
	next.PauseReason = reason
	next.PausedUntil = timePtr(until)
	next.PendingDebounce = false
	next.DebounceStartedAt = nil

	d := Decision{Prev: s, Next: next, Changed: true}
	if s.AutomationPaused {
		d.Transition = TransitionRearmed
		return d
	}
	d.Transition = TransitionPaused
	d.Next.SavedSetpoints = copySetpoints(snapshot)
	return d
}

// decideBeginDebounce starts the resume window. Only valid from
// PAUSED_ACTIVE.
func decideBeginDebounce(s State, now time.Time) Decision {
	if s.Phase() != PhasePausedActive {
		return Decision{Prev: s, Next: s}
	}
	next := s
	next.PendingDebounce = true
	next.DebounceStartedAt = timePtr(now)
	return Decision{Prev: s, Next: next, Transition: TransitionDebounceStarted, Changed: true}
}

// decidePoll evaluates the persisted deadlines and the latest observation.
func decidePoll(s State, obs Observation, now time.Time, window time.Duration) Decision {
	next := s
	next.AutomationActive = obs.AutomationActive
	d := Decision{Prev: s, Next: next, Changed: next.AutomationActive != s.AutomationActive}

	if !s.AutomationPaused {
		return d
	}

	switch {
	case s.PausedUntil != nil && !now.Before(*s.PausedUntil):
		return resume(s, obs, CausePauseExpired)
	case s.PendingDebounce && s.DebounceStartedAt != nil && now.Sub(*s.DebounceStartedAt) >= window:
		return resume(s, obs, CauseDebounceElapsed)
	}

	switch s.Phase() {
	case PhasePausedActive:
		if !obs.ManualOverride {
			d.Next.PendingDebounce = true
			d.Next.DebounceStartedAt = timePtr(now)
			d.Transition = TransitionDebounceStarted
			d.Changed = true
		}
	case PhasePausedDebouncing:
		if obs.ManualOverride {
			d.Next.PendingDebounce = false
			d.Next.DebounceStartedAt = nil
			d.Transition = TransitionDebounceCancelled
			d.Changed = true
		}
	}
	return d
}

// resume clears every pause field and hands back the snapshot to restore.
func resume(s State, obs Observation, cause string) Decision {
	next := State{
		AutomationActive: obs.AutomationActive,
		LastStateChange:  s.LastStateChange,
	}
	return Decision{
		Prev:       s,
		Next:       next,
		Transition: TransitionResumed,
		Cause:      cause,
		Restore:    copySetpoints(s.SavedSetpoints),
		Changed:    true,
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func copySetpoints(in map[string]float64) map[string]float64 {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
