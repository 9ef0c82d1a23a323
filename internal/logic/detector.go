package logic

import "time"

// Detector tracks state and detects debounced transitions.
type Detector struct {
	debounceDuration time.Duration
	burner           ChannelState
	fault            ChannelState
	baselined        bool
	startTime        time.Time
	eventCounts      EventCounts
	lastHeartbeat    time.Time
}

// NewDetector creates a new transition detector with the given debounce duration.
// The startTime is used for calculating uptime in heartbeat events.
func NewDetector(debounceDuration time.Duration, startTime time.Time) *Detector {
	return &Detector{
		debounceDuration: debounceDuration,
		startTime:        startTime,
		lastHeartbeat:    startTime,
	}
}

// Process takes a new input sample and returns any events that should be emitted.
// Events are only returned after baseline is established and on state transitions.
func (d *Detector) Process(input Input) []Event {
	burnerChanged := d.processChannel(&d.burner, boolToState(input.Burner), input.Time)
	faultChanged := d.processChannel(&d.fault, boolToState(input.Fault), input.Time)

	if !d.baselined {
		if d.burner.Baselined && d.fault.Baselined {
			d.baselined = true
		}
		return nil
	}

	// Fault first: a lockout usually drops the burner in the same sample and
	// consumers should see the error before the off.
	var events []Event
	if faultChanged {
		events = append(events, d.event(input.Time, transition(d.fault.Stable, EventFaultOn, EventFaultOff)))
	}
	if burnerChanged {
		events = append(events, d.event(input.Time, transition(d.burner.Stable, EventBurnerOn, EventBurnerOff)))
	}

	for _, e := range events {
		switch e.Type {
		case EventBurnerOn:
			d.eventCounts.BurnerOn++
		case EventBurnerOff:
			d.eventCounts.BurnerOff++
		case EventFaultOn:
			d.eventCounts.FaultOn++
		case EventFaultOff:
			d.eventCounts.FaultOff++
		}
	}
	return events
}

func (d *Detector) event(now time.Time, t EventType) Event {
	return Event{
		Timestamp: now,
		Type:      t,
		Burner:    d.burner.Stable,
		Fault:     d.fault.Stable,
		Status:    d.Status(),
	}
}

// processChannel handles debounce logic for a single line and reports
// whether the stable state changed.
func (d *Detector) processChannel(ch *ChannelState, newState State, now time.Time) bool {
	if !ch.Baselined {
		if ch.Pending != newState {
			// First sample, or the line moved during baseline: restart.
			ch.Pending = newState
			ch.PendingSince = now
			return false
		}
		if now.Sub(ch.PendingSince) >= d.debounceDuration {
			ch.Stable = newState
			ch.Baselined = true
			ch.Pending = ""
		}
		return false
	}

	if newState == ch.Stable {
		ch.Pending = ""
		return false
	}

	if ch.Pending != newState {
		ch.Pending = newState
		ch.PendingSince = now
		return false
	}

	if now.Sub(ch.PendingSince) >= d.debounceDuration {
		ch.Stable = newState
		ch.Pending = ""
		return true
	}
	return false
}

func boolToState(b bool) State {
	if b {
		return StateOn
	}
	return StateOff
}

func transition(to State, on, off EventType) EventType {
	if to == StateOn {
		return on
	}
	return off
}

// IsBaselined returns whether the detector has established a baseline.
func (d *Detector) IsBaselined() bool {
	return d.baselined
}

// CurrentState returns the current stable line states.
func (d *Detector) CurrentState() (burner State, fault State) {
	return d.burner.Stable, d.fault.Stable
}

// Status derives the device status from the stable lines. A fault wins
// over a firing burner. StatusUnknown is returned until baselined.
func (d *Detector) Status() DeviceStatus {
	if !d.baselined {
		return StatusUnknown
	}
	switch {
	case d.fault.Stable == StateOn:
		return StatusError
	case d.burner.Stable == StateOn:
		return StatusWorking
	default:
		return StatusOff
	}
}

// Counts returns the number of events emitted since startup.
func (d *Detector) Counts() EventCounts {
	return d.eventCounts
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if not yet baselined, if the
// interval has not elapsed, or if interval is <= 0 (disabled).
func (d *Detector) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 || !d.baselined {
		return nil
	}
	if now.Sub(d.lastHeartbeat) < interval {
		return nil
	}

	d.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(d.startTime),
		Counts:    d.eventCounts,
		Status:    d.Status(),
	}
}
