// Package logic contains pure business logic for boiler device state tracking.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// State represents the logical state of a boiler signal line.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

// DeviceStatus is the boiler status derived from the signal lines. It is
// what the maintenance engine accrues runtime against.
type DeviceStatus string

const (
	StatusUnknown DeviceStatus = ""
	StatusWorking DeviceStatus = "working"
	StatusOff     DeviceStatus = "off"
	StatusError   DeviceStatus = "error"
)

// EventType represents a state transition event.
type EventType string

const (
	EventBurnerOn  EventType = "BURNER_ON"
	EventBurnerOff EventType = "BURNER_OFF"
	EventFaultOn   EventType = "FAULT_ON"
	EventFaultOff  EventType = "FAULT_OFF"
)

// Event represents a state transition to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Burner    State
	Fault     State
	Status    DeviceStatus
}

// ChannelState tracks debounce state for a single line.
type ChannelState struct {
	// Current stable (debounced) state
	Stable State
	// Pending state during debounce
	Pending State
	// Time when pending state was first observed
	PendingSince time.Time
	// Whether we have established a baseline
	Baselined bool
}

// Input represents a single sample of logical states.
type Input struct {
	Burner bool // true = firing (already inverted from raw GPIO)
	Fault  bool // true = lockout/fault lamp lit
	Time   time.Time
}

// EventCounts tracks the number of each event type since startup.
type EventCounts struct {
	BurnerOn  int
	BurnerOff int
	FaultOn   int
	FaultOff  int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
	Status    DeviceStatus
}
