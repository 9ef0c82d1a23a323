// Package status provides a thread-safe status tracker for the automation
// daemon. It is read by HTTP handlers and the MQTT heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/boiler-automation/internal/coordination"
	"github.com/sweeney/boiler-automation/internal/logic"
	"github.com/sweeney/boiler-automation/internal/maintenance"
)

// NetworkInfo contains network state.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs               int64
	DebounceMs           int64
	HeartbeatMs          int64
	AccrualIntervalMs    int64
	CoordinationPollMs   int64
	Broker               string
	HTTPAddr             string
	StoreBackend         string
	NotificationsBackend string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Burner        logic.State
	Fault         logic.State
	Device        logic.DeviceStatus
	Baselined     bool
	Counts        logic.EventCounts
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config

	// Coordination is nil until the first poll has read the record.
	Coordination *coordination.State
	// Maintenance is nil until a record exists.
	Maintenance *maintenance.Record
	LastAccrual *maintenance.Result
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// CanIgnite mirrors maintenance.Engine.CanIgnite on the cached record.
func (s Snapshot) CanIgnite() bool {
	return s.Maintenance == nil || !s.Maintenance.NeedsCleaning
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{StartTime: startTime, Config: cfg},
		now:  time.Now,
	}
}

// SetClock overrides the clock used to stamp snapshots.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	t.now = now
	t.mu.Unlock()
}

// Update sets line states, device status, baseline status and event counts.
// Called from runLoop on every tick.
func (t *Tracker) Update(burner, fault logic.State, device logic.DeviceStatus, baselined bool, counts logic.EventCounts) {
	t.mu.Lock()
	t.snap.Burner = burner
	t.snap.Fault = fault
	t.snap.Device = device
	t.snap.Baselined = baselined
	t.snap.Counts = counts
	t.mu.Unlock()
}

// SetCoordination records the latest persisted coordination state.
func (t *Tracker) SetCoordination(s coordination.State) {
	t.mu.Lock()
	t.snap.Coordination = &s
	t.mu.Unlock()
}

// SetMaintenance records the latest maintenance record.
func (t *Tracker) SetMaintenance(r maintenance.Record) {
	t.mu.Lock()
	t.snap.Maintenance = &r
	t.mu.Unlock()
}

// SetAccrual records the result of the latest accrual poll.
func (t *Tracker) SetAccrual(r maintenance.Result) {
	t.mu.Lock()
	t.snap.LastAccrual = &r
	t.mu.Unlock()
}

// Device returns the current device status.
func (t *Tracker) Device() logic.DeviceStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap.Device
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	now := t.now
	t.mu.RUnlock()
	s.Now = now()
	return s
}
