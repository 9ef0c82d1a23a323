package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/boiler-automation/internal/coordination"
	"github.com/sweeney/boiler-automation/internal/logic"
	"github.com/sweeney/boiler-automation/internal/maintenance"
)

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func fixedTracker(cfg Config, now time.Time) *Tracker {
	tr := NewTracker(start, cfg)
	tr.SetClock(func() time.Time { return now })
	return tr
}

func decode(t *testing.T, data []byte) StatusInner {
	t.Helper()
	var s StatusJSON
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, data)
	}
	return s.Status
}

func TestNewTracker(t *testing.T) {
	cfg := Config{PollMs: 100, DebounceMs: 250, Broker: "tcp://localhost:1883", HTTPAddr: ":80"}
	snap := NewTracker(start, cfg).Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config != cfg {
		t.Errorf("Config: got %+v, want %+v", snap.Config, cfg)
	}
	if snap.Baselined || snap.MQTTConnected {
		t.Error("expected not baselined and not connected initially")
	}
	if snap.Coordination != nil || snap.Maintenance != nil {
		t.Error("expected no coordination or maintenance state initially")
	}
	if !snap.CanIgnite() {
		t.Error("no maintenance record should permit ignition")
	}
}

func TestUpdateAndSnapshot(t *testing.T) {
	tr := fixedTracker(Config{}, start.Add(time.Hour))
	tr.Update(logic.StateOn, logic.StateOff, logic.StatusWorking, true, logic.EventCounts{BurnerOn: 3, FaultOff: 1})

	snap := tr.Snapshot()
	if snap.Burner != logic.StateOn || snap.Fault != logic.StateOff {
		t.Errorf("lines: got %s %s", snap.Burner, snap.Fault)
	}
	if snap.Device != logic.StatusWorking || tr.Device() != logic.StatusWorking {
		t.Errorf("device: got %q", snap.Device)
	}
	if snap.Counts.BurnerOn != 3 || snap.Counts.FaultOff != 1 {
		t.Errorf("counts: got %+v", snap.Counts)
	}
	if snap.Uptime() != time.Hour {
		t.Errorf("uptime: got %v, want 1h", snap.Uptime())
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(start, Config{})
	tr.SetCoordination(coordination.State{AutomationPaused: true, PauseReason: coordination.ReasonManualSetpoint})
	snap := tr.Snapshot()

	tr.SetCoordination(coordination.State{})
	if !snap.Coordination.AutomationPaused {
		t.Error("earlier snapshot should not see later updates")
	}
}

func TestCanIgnite(t *testing.T) {
	tr := NewTracker(start, Config{})
	tr.SetMaintenance(maintenance.Record{CurrentHours: 50, TargetHours: 50, NeedsCleaning: true})
	if tr.Snapshot().CanIgnite() {
		t.Error("needsCleaning should block ignition")
	}
}

func TestFormatJSON(t *testing.T) {
	now := start.Add(2*time.Hour + 500*time.Millisecond)
	tr := fixedTracker(Config{PollMs: 100, Broker: "tcp://b:1883", StoreBackend: "badger"}, now)
	tr.Update(logic.StateOn, logic.StateOff, logic.StatusWorking, true, logic.EventCounts{BurnerOn: 2})
	tr.SetMQTTConnected(true)

	until := time.Date(2026, 1, 1, 17, 0, 0, 0, time.UTC)
	tr.SetCoordination(coordination.State{
		AutomationPaused: true,
		PauseReason:      coordination.ReasonManualMode,
		PausedUntil:      &until,
		SavedSetpoints:   map[string]float64{"lounge": 20, "office": 19},
		LastStateChange:  start,
	})
	tr.SetMaintenance(maintenance.Record{CurrentHours: 45, TargetHours: 50, LastNotificationLevel: 90})

	got := decode(t, FormatJSON(tr.Snapshot()))
	if got.Device != "working" || got.Burner != "ON" || got.Fault != "OFF" || !got.Ready {
		t.Errorf("device fields: got %+v", got)
	}
	if got.UptimeSeconds != 7200 {
		t.Errorf("uptime: got %d, want 7200", got.UptimeSeconds)
	}
	if got.Event != "" || got.Reason != "" {
		t.Error("web JSON should have no event or reason")
	}
	if !got.MQTT.Connected || got.MQTT.Broker != "tcp://b:1883" {
		t.Errorf("mqtt: got %+v", got.MQTT)
	}
	if got.Counts.BurnerOn != 2 {
		t.Errorf("counts: got %+v", got.Counts)
	}

	c := got.Coordination
	if c == nil {
		t.Fatal("expected coordination block")
	}
	if c.Phase != string(coordination.PhasePausedActive) || c.PauseReason != "manual_mode_change" ||
		c.PausedUntil != "2026-01-01T17:00:00Z" || c.SavedZones != 2 {
		t.Errorf("coordination: got %+v", c)
	}

	m := got.Maintenance
	if m == nil {
		t.Fatal("expected maintenance block")
	}
	if m.Percentage != 90 || m.RemainingHours != 5 || !m.CanIgnite {
		t.Errorf("maintenance: got %+v", m)
	}
	if got.Config.StoreBackend != "badger" {
		t.Errorf("config: got %+v", got.Config)
	}
}

func TestFormatJSONUnknownState(t *testing.T) {
	got := decode(t, FormatJSON(NewTracker(start, Config{}).Snapshot()))
	if got.Device != "UNKNOWN" || got.Burner != "UNKNOWN" || got.Fault != "UNKNOWN" {
		t.Errorf("got %+v", got)
	}
	if got.Coordination != nil || got.Maintenance != nil || got.Network != nil {
		t.Error("optional blocks should be omitted")
	}
}

func TestFormatStatusEvent(t *testing.T) {
	tr := fixedTracker(Config{}, start)
	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.10", SSID: "home"})

	data := FormatStatusEvent(tr.Snapshot(), "SHUTDOWN", "SIGTERM")
	got := decode(t, data)
	if got.Event != "SHUTDOWN" || got.Reason != "SIGTERM" {
		t.Errorf("got event=%q reason=%q", got.Event, got.Reason)
	}
	if got.Network == nil || got.Network.SSID != "home" {
		t.Errorf("network: got %+v", got.Network)
	}

	var raw map[string]map[string]any
	json.Unmarshal(FormatStatusEvent(tr.Snapshot(), "STARTUP", ""), &raw)
	if _, ok := raw["status"]["reason"]; ok {
		t.Error("empty reason should be omitted")
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(start, Config{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			tr.Update(logic.StateOn, logic.StateOff, logic.StatusWorking, true, logic.EventCounts{BurnerOn: i})
		}(i)
		go func() {
			defer wg.Done()
			tr.SetMaintenance(maintenance.Record{CurrentHours: 1, TargetHours: 50})
			tr.SetMQTTConnected(true)
		}()
		go func() {
			defer wg.Done()
			FormatJSON(tr.Snapshot())
		}()
	}
	wg.Wait()
}
