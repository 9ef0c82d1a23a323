package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/boiler-automation/internal/climate"
	"github.com/sweeney/boiler-automation/internal/coordination"
	"github.com/sweeney/boiler-automation/internal/logic"
	"github.com/sweeney/boiler-automation/internal/maintenance"
	"github.com/sweeney/boiler-automation/internal/metrics"
	"github.com/sweeney/boiler-automation/internal/mqtt"
	"github.com/sweeney/boiler-automation/internal/notify"
	"github.com/sweeney/boiler-automation/internal/preferences"
	"github.com/sweeney/boiler-automation/internal/status"
	"github.com/sweeney/boiler-automation/internal/store"
)

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	ctx     context.Context
	clock   *manualClock
	mem     *store.MemoryStore
	climate *climate.Fake
	pub     *mqtt.FakePublisher
	sent    *notify.FakeDispatcher
	prefs   *preferences.Store
	ctl     *controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:     context.Background(),
		clock:   &manualClock{t: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)},
		mem:     store.NewMemoryStore(),
		climate: climate.NewFake(map[string]float64{"living": 20}),
		pub:     mqtt.NewFakePublisher(),
		sent:    notify.NewFakeDispatcher(),
	}
	schedule, err := coordination.ParseDailySchedule([]string{"06:00", "17:00"}, time.UTC)
	require.NoError(t, err)

	f.prefs = preferences.NewStore(f.mem, f.clock.now, zerolog.Nop())
	f.ctl = &controller{}
	gate := preferenceGate{next: f.sent, prefs: f.prefs, owner: "alice", log: zerolog.Nop()}
	engine := maintenance.NewEngine(f.mem, gate, maintenance.WithClock(f.clock.now))
	machine := coordination.NewMachine(f.mem, f.climate, schedule,
		coordination.WithClock(f.clock.now),
		coordination.WithListener(func(d coordination.Decision) { f.ctl.onDecision(d) }),
	)
	*f.ctl = controller{
		machine: machine,
		engine:  engine,
		prefs:   f.prefs,
		climate: f.climate,
		tracker: status.NewTracker(f.clock.now(), status.Config{}),
		pub:     f.pub,
		topics:  mqtt.TopicsFor(""),
		notify:  f.sent,
		owner:   "alice",
		target:  maintenance.DefaultTargetHours,
		now:     f.clock.now,
		log:     zerolog.Nop(),
	}
	return f
}

func (f *fixture) setDevice(s logic.DeviceStatus) {
	f.ctl.tracker.Update(logic.StateOn, logic.StateOff, s, true, logic.EventCounts{})
}

func (f *fixture) seedMaintenance(t *testing.T, hours float64, last time.Time) {
	t.Helper()
	raw, err := json.Marshal(maintenance.Record{CurrentHours: hours, TargetHours: 50, LastUpdatedAt: &last})
	require.NoError(t, err)
	require.NoError(t, f.mem.Set(f.ctx, maintenance.RecordPath, raw))
}

func (f *fixture) byClassification(c string) []notify.Notification {
	var out []notify.Notification
	for _, n := range f.sent.Sent() {
		if n.Classification == c {
			out = append(out, n)
		}
	}
	return out
}

func TestAccrueInitializesWithConfiguredTarget(t *testing.T) {
	f := newFixture(t)
	f.ctl.target = 40
	f.setDevice(logic.StatusWorking)

	res := f.ctl.accrue(f.ctx)
	assert.True(t, res.Tracked)
	assert.Equal(t, maintenance.ReasonInitialized, res.Reason)

	rec, ok, err := f.ctl.engine.Record(f.ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 40.0, rec.TargetHours)

	snap := f.ctl.tracker.Snapshot()
	require.NotNil(t, snap.Maintenance)
	assert.Equal(t, 40.0, snap.Maintenance.TargetHours)
	require.NotNil(t, snap.LastAccrual)

	retained := f.pub.RawOn(f.ctl.topics.Maintenance)
	require.NotEmpty(t, retained)
	assert.True(t, retained[len(retained)-1].Retained)
}

func TestAccrueIgnoresIdleDevice(t *testing.T) {
	f := newFixture(t)
	f.setDevice(logic.StatusOff)

	res := f.ctl.accrue(f.ctx)
	assert.False(t, res.Tracked)
	assert.Equal(t, maintenance.ReasonNotWorking, res.Reason)

	_, ok, err := f.ctl.engine.Record(f.ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.pub.RawOn(f.ctl.topics.Maintenance))
}

func TestAccrueStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.setDevice(logic.StatusWorking)
	f.mem.SetErr(errors.New("disk gone"))

	res := f.ctl.accrue(f.ctx)
	assert.False(t, res.Tracked)
	assert.NotEmpty(t, res.Error)
	assert.Nil(t, f.ctl.tracker.Snapshot().Maintenance)
}

func TestThresholdNotificationDelivered(t *testing.T) {
	f := newFixture(t)
	f.setDevice(logic.StatusWorking)
	f.seedMaintenance(t, 44.5, f.clock.now().Add(-time.Hour))

	res := f.ctl.accrue(f.ctx)
	require.NotNil(t, res.NotificationData)
	assert.Equal(t, 90, res.NotificationData.Level)
	assert.Len(t, f.byClassification(maintenance.Classification), 1)
}

func TestThresholdNotificationSuppressedByPreferences(t *testing.T) {
	f := newFixture(t)
	_, err := f.prefs.Update(f.ctx, "alice", []byte(`{"notificationPreferences":{"maintenance":false,"coordination":true}}`))
	require.NoError(t, err)
	f.setDevice(logic.StatusWorking)
	f.seedMaintenance(t, 44.5, f.clock.now().Add(-time.Hour))

	res := f.ctl.accrue(f.ctx)
	require.NotNil(t, res.NotificationData)
	assert.Empty(t, f.byClassification(maintenance.Classification))

	// The level is still recorded, so re-enabling does not replay it.
	rec, _, err := f.ctl.engine.Record(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 90, rec.LastNotificationLevel)
}

func TestManualChangePausesAutomation(t *testing.T) {
	f := newFixture(t)

	f.ctl.manualChange(climate.ManualChange{Zone: "living", Reason: coordination.ReasonManualSetpoint})

	s, err := f.ctl.machine.State(f.ctx)
	require.NoError(t, err)
	assert.True(t, s.AutomationPaused)
	assert.Equal(t, coordination.ReasonManualSetpoint, s.PauseReason)
	assert.Equal(t, map[string]float64{"living": 20}, s.SavedSetpoints)
	require.NotNil(t, s.PausedUntil)
	assert.Equal(t, time.Date(2026, 1, 1, 17, 0, 0, 0, time.UTC), s.PausedUntil.UTC())

	snap := f.ctl.tracker.Snapshot()
	require.NotNil(t, snap.Coordination)
	assert.True(t, snap.Coordination.AutomationPaused)
	assert.NotEmpty(t, f.pub.RawOn(f.ctl.topics.Coordination))

	sent := f.byClassification("coordination")
	require.Len(t, sent, 1)
	payload := sent[0].Payload.(map[string]any)
	assert.Equal(t, coordination.TransitionPaused, payload["transition"])
}

func TestManualChangeIgnoredForDisabledZone(t *testing.T) {
	f := newFixture(t)
	_, err := f.prefs.Update(f.ctx, "alice", []byte(`{"zones":[{"roomId":"bedroom","roomName":"Bedroom","enabled":false,"boost":1}]}`))
	require.NoError(t, err)

	f.ctl.manualChange(climate.ManualChange{Zone: "bedroom", Reason: coordination.ReasonManualMode})

	s, err := f.ctl.machine.State(f.ctx)
	require.NoError(t, err)
	assert.False(t, s.AutomationPaused)
	assert.Empty(t, f.byClassification("coordination"))
}

func TestManualChangeIgnoredWhenCoordinationDisabled(t *testing.T) {
	f := newFixture(t)
	_, err := f.prefs.Update(f.ctx, "alice", []byte(`{"enabled":false}`))
	require.NoError(t, err)

	f.ctl.manualChange(climate.ManualChange{Zone: "living", Reason: coordination.ReasonManualSetpoint})

	s, err := f.ctl.machine.State(f.ctx)
	require.NoError(t, err)
	assert.False(t, s.AutomationPaused)
}

func TestPollResumesAtScheduleBoundary(t *testing.T) {
	f := newFixture(t)
	f.ctl.manualChange(climate.ManualChange{Zone: "living", Reason: coordination.ReasonManualSetpoint})
	f.climate.SetObservation(coordination.Observation{ManualOverride: true})

	f.clock.advance(time.Hour)
	f.ctl.poll(f.ctx)
	s, err := f.ctl.machine.State(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, coordination.PhasePausedActive, s.Phase())

	f.clock.advance(9 * time.Hour)
	f.ctl.poll(f.ctx)

	s, err = f.ctl.machine.State(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, coordination.PhaseAutomated, s.Phase())
	assert.Equal(t, []map[string]float64{{"living": 20}}, f.climate.Restored)
	assert.False(t, f.ctl.tracker.Snapshot().Coordination.AutomationPaused)
	assert.Len(t, f.byClassification("coordination"), 2)
}

func TestPollCoordinationNotificationsDisabled(t *testing.T) {
	f := newFixture(t)
	_, err := f.prefs.Update(f.ctx, "alice", []byte(`{"notificationPreferences":{"maintenance":true,"coordination":false}}`))
	require.NoError(t, err)

	f.ctl.manualChange(climate.ManualChange{Zone: "living", Reason: coordination.ReasonManualSetpoint})
	assert.Empty(t, f.byClassification("coordination"))
}

func TestPollStorageFailureKeepsState(t *testing.T) {
	f := newFixture(t)
	f.ctl.poll(f.ctx)
	require.NotNil(t, f.ctl.tracker.Snapshot().Coordination)

	f.mem.SetErr(errors.New("disk gone"))
	f.ctl.manualChange(climate.ManualChange{Zone: "living", Reason: coordination.ReasonManualSetpoint})
	f.ctl.poll(f.ctx)

	assert.False(t, f.ctl.tracker.Snapshot().Coordination.AutomationPaused)
}

func TestRepublishSendsRetainedState(t *testing.T) {
	f := newFixture(t)
	f.seedMaintenance(t, 10, f.clock.now())

	f.ctl.republish(f.ctx)

	coord := f.pub.RawOn(f.ctl.topics.Coordination)
	require.Len(t, coord, 1)
	assert.True(t, coord[0].Retained)
	var s coordination.State
	require.NoError(t, json.Unmarshal(coord[0].Payload, &s))
	assert.False(t, s.AutomationPaused)

	maint := f.pub.RawOn(f.ctl.topics.Maintenance)
	require.Len(t, maint, 1)
	assert.Contains(t, string(maint[0].Payload), `"currentHours":10`)
}

func TestScheduleRegistersJobs(t *testing.T) {
	f := newFixture(t)
	s, err := gocron.NewScheduler()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown() })

	require.NoError(t, f.ctl.schedule(s, time.Minute, 30*time.Second))

	var names []string
	for _, j := range s.Jobs() {
		names = append(names, j.Name())
	}
	assert.ElementsMatch(t, []string{"maintenance-accrual", "coordination-poll"}, names)
}

func TestCountingDispatcherPassesErrors(t *testing.T) {
	inner := notify.NewFakeDispatcher()
	inner.Err = errors.New("nats down")
	d := countingDispatcher{next: inner, metrics: metrics.NewRecorder(nil)}

	err := d.Dispatch(context.Background(), notify.Notification{ID: "n1"})
	assert.ErrorIs(t, err, inner.Err)
	assert.Len(t, inner.Sent(), 1)
}
