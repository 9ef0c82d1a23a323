// Package climate tracks per-zone thermostat state reported over MQTT and
// pushes setpoints back when automation resumes.
package climate

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/boiler-automation/internal/coordination"
)

// ZoneState is the last state a zone reported.
type ZoneState struct {
	Setpoint  float64   `json:"setpoint"`
	Mode      string    `json:"mode,omitempty"`
	Override  bool      `json:"override"`
	Heating   bool      `json:"heating"`
	UpdatedAt time.Time `json:"-"`
}

// ManualChange is raised when a zone is put under, or changed while
// under, manual control.
type ManualChange struct {
	Zone   string
	Reason coordination.PauseReason
	From   ZoneState
	To     ZoneState
}

// Cache holds zone states and the last automated setpoint per zone. It is
// safe for concurrent use.
type Cache struct {
	mu        sync.RWMutex
	zones     map[string]ZoneState
	automated map[string]float64
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{zones: map[string]ZoneState{}, automated: map[string]float64{}}
}

// Apply records a zone report. It returns a ManualChange when the report
// enters manual control or changes the setpoint or mode while manual.
// Setpoints reported outside manual control become the zone's automated
// setpoint.
func (c *Cache) Apply(zone string, st ZoneState) *ManualChange {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, seen := c.zones[zone]
	c.zones[zone] = st
	if !st.Override {
		c.automated[zone] = st.Setpoint
		return nil
	}

	switch {
	case !seen:
		// First report is already manual; nothing to compare against.
		return &ManualChange{Zone: zone, Reason: coordination.ReasonManualSetpoint, To: st}
	case prev.Override && prev.Setpoint == st.Setpoint && prev.Mode == st.Mode:
		return nil
	case prev.Mode != st.Mode:
		return &ManualChange{Zone: zone, Reason: coordination.ReasonManualMode, From: prev, To: st}
	default:
		return &ManualChange{Zone: zone, Reason: coordination.ReasonManualSetpoint, From: prev, To: st}
	}
}

// Automated returns a copy of the automated setpoints.
func (c *Cache) Automated() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.automated))
	for k, v := range c.automated {
		out[k] = v
	}
	return out
}

// Zone returns the last report for zone.
func (c *Cache) Zone(zone string) (ZoneState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.zones[zone]
	return st, ok
}

// Zones returns the known zone names, sorted.
func (c *Cache) Zones() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.zones))
	for z := range c.zones {
		names = append(names, z)
	}
	sort.Strings(names)
	return names
}

// Observation summarises the cache for a coordination poll: automation is
// active while any zone calls for heat, and overridden while any zone is
// under manual control.
func (c *Cache) Observation() coordination.Observation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var obs coordination.Observation
	for _, st := range c.zones {
		obs.AutomationActive = obs.AutomationActive || st.Heating
		obs.ManualOverride = obs.ManualOverride || st.Override
	}
	return obs
}
