package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string            `json:"event,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	Device        string            `json:"device_status"`
	Burner        string            `json:"burner"`
	Fault         string            `json:"fault"`
	Ready         bool              `json:"ready"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	StartTime     string            `json:"start_time"`
	Timestamp     string            `json:"timestamp"`
	MQTT          MQTTStatus        `json:"mqtt"`
	Counts        CountsJSON        `json:"event_counts"`
	Coordination  *CoordinationJSON `json:"coordination,omitempty"`
	Maintenance   *MaintenanceJSON  `json:"maintenance,omitempty"`
	Network       *NetworkJSON      `json:"network,omitempty"`
	Config        ConfigJSON        `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	BurnerOn  int `json:"burner_on"`
	BurnerOff int `json:"burner_off"`
	FaultOn   int `json:"fault_on"`
	FaultOff  int `json:"fault_off"`
}

// CoordinationJSON summarises the coordination record.
type CoordinationJSON struct {
	Phase            string `json:"phase"`
	AutomationActive bool   `json:"automation_active"`
	Paused           bool   `json:"paused"`
	PauseReason      string `json:"pause_reason,omitempty"`
	PausedUntil      string `json:"paused_until,omitempty"`
	PendingDebounce  bool   `json:"pending_debounce"`
	SavedZones       int    `json:"saved_zones"`
	LastStateChange  string `json:"last_state_change"`
}

// MaintenanceJSON summarises the maintenance record.
type MaintenanceJSON struct {
	CurrentHours          float64 `json:"current_hours"`
	TargetHours           float64 `json:"target_hours"`
	Percentage            float64 `json:"percentage"`
	RemainingHours        float64 `json:"remaining_hours"`
	NeedsCleaning         bool    `json:"needs_cleaning"`
	LastNotificationLevel int     `json:"last_notification_level"`
	CanIgnite             bool    `json:"can_ignite"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs               int64  `json:"poll_ms"`
	DebounceMs           int64  `json:"debounce_ms"`
	HeartbeatMs          int64  `json:"heartbeat_ms"`
	AccrualIntervalMs    int64  `json:"accrual_interval_ms"`
	CoordinationPollMs   int64  `json:"coordination_poll_ms"`
	Broker               string `json:"broker"`
	HTTPAddr             string `json:"http_addr"`
	StoreBackend         string `json:"store_backend"`
	NotificationsBackend string `json:"notifications_backend"`
}

func orUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Device:        orUnknown(string(snap.Device)),
		Burner:        orUnknown(string(snap.Burner)),
		Fault:         orUnknown(string(snap.Fault)),
		Ready:         snap.Baselined,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			BurnerOn:  snap.Counts.BurnerOn,
			BurnerOff: snap.Counts.BurnerOff,
			FaultOn:   snap.Counts.FaultOn,
			FaultOff:  snap.Counts.FaultOff,
		},
		Config: ConfigJSON(snap.Config),
	}

	if c := snap.Coordination; c != nil {
		cj := &CoordinationJSON{
			Phase:            string(c.Phase()),
			AutomationActive: c.AutomationActive,
			Paused:           c.AutomationPaused,
			PauseReason:      string(c.PauseReason),
			PendingDebounce:  c.PendingDebounce,
			SavedZones:       len(c.SavedSetpoints),
			LastStateChange:  c.LastStateChange.UTC().Format(time.RFC3339),
		}
		if c.PausedUntil != nil {
			cj.PausedUntil = c.PausedUntil.UTC().Format(time.RFC3339)
		}
		inner.Coordination = cj
	}

	if m := snap.Maintenance; m != nil {
		inner.Maintenance = &MaintenanceJSON{
			CurrentHours:          m.CurrentHours,
			TargetHours:           m.TargetHours,
			Percentage:            m.Percentage(),
			RemainingHours:        m.RemainingHours(),
			NeedsCleaning:         m.NeedsCleaning,
			LastNotificationLevel: m.LastNotificationLevel,
			CanIgnite:             snap.CanIgnite(),
		}
	}

	if n := snap.Network; n != nil {
		inner.Network = &NetworkJSON{
			Type:       n.Type,
			IP:         n.IP,
			Status:     n.Status,
			Gateway:    n.Gateway,
			WifiStatus: n.WifiStatus,
			SSID:       n.SSID,
		}
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
