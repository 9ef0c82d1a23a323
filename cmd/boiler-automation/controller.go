package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sweeney/boiler-automation/internal/climate"
	"github.com/sweeney/boiler-automation/internal/coordination"
	"github.com/sweeney/boiler-automation/internal/maintenance"
	"github.com/sweeney/boiler-automation/internal/metrics"
	"github.com/sweeney/boiler-automation/internal/mqtt"
	"github.com/sweeney/boiler-automation/internal/notify"
	"github.com/sweeney/boiler-automation/internal/preferences"
	"github.com/sweeney/boiler-automation/internal/status"
	"github.com/sweeney/boiler-automation/internal/store"
)

// jobTimeout bounds a single scheduled job run.
const jobTimeout = 30 * time.Second

// observer reports the latest climate observation.
type observer interface {
	Observation() coordination.Observation
}

// controller drives the engines from scheduled jobs and climate events
// and mirrors their state into the tracker and retained MQTT topics.
type controller struct {
	machine *coordination.Machine
	engine  *maintenance.Engine
	prefs   *preferences.Store
	climate observer
	tracker *status.Tracker
	pub     mqtt.Publisher
	topics  mqtt.Topics
	notify  notify.Dispatcher
	metrics *metrics.Recorder
	owner   string
	target  float64
	now     func() time.Time
	log     zerolog.Logger
}

// accrue runs one maintenance accrual against the tracked device status.
func (c *controller) accrue(ctx context.Context) maintenance.Result {
	device := c.tracker.Device()
	res := c.engine.TrackUsageHours(ctx, string(device))
	c.tracker.SetAccrual(res)
	if res.Error != "" {
		c.metrics.StoreFailure("maintenance")
		return res
	}
	if res.Reason == maintenance.ReasonInitialized {
		c.syncTarget(ctx)
	}
	if res.Tracked && !res.Skipped {
		c.refreshMaintenance(ctx)
	}
	return res
}

// syncTarget applies the configured cleaning interval to an existing
// record.
func (c *controller) syncTarget(ctx context.Context) {
	rec, ok, err := c.engine.Record(ctx)
	if err != nil || !ok || rec.TargetHours == c.target {
		return
	}
	if _, err := c.engine.SetTargetHours(ctx, c.target); err != nil {
		c.log.Warn().Err(err).Float64("target_hours", c.target).Msg("failed to apply target hours")
		return
	}
	c.log.Info().Float64("from", rec.TargetHours).Float64("to", c.target).Msg("target hours updated")
}

// refreshMaintenance mirrors the stored record into the tracker and the
// retained maintenance topic.
func (c *controller) refreshMaintenance(ctx context.Context) {
	rec, ok, err := c.engine.Record(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("read maintenance record")
		return
	}
	if !ok {
		return
	}
	c.tracker.SetMaintenance(rec)
	c.publishRetained(c.topics.Maintenance, rec)
}

// poll evaluates coordination deadlines against the latest observation.
func (c *controller) poll(ctx context.Context) {
	d, err := c.machine.Poll(ctx, c.climate.Observation())
	if err != nil {
		if errors.Is(err, store.ErrStorageUnavailable) {
			c.metrics.StoreFailure("coordination")
		}
		c.log.Warn().Err(err).Msg("coordination poll failed, retrying next poll")
		return
	}
	if !d.Changed {
		c.tracker.SetCoordination(d.Next)
	}
}

// manualChange pauses automation for a manual thermostat change in a zone
// the owner has opted into coordination for.
func (c *controller) manualChange(ch climate.ManualChange) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	prefs, err := c.prefs.Get(ctx, c.owner)
	if err != nil {
		c.log.Warn().Err(err).Str("zone", ch.Zone).Msg("read preferences, using defaults")
		prefs = preferences.Defaults(c.now())
	}
	if !prefs.ZoneEnabled(ch.Zone) {
		c.log.Debug().Str("zone", ch.Zone).Msg("coordination disabled for zone, ignoring manual change")
		return
	}

	c.metrics.ManualChange(ch.Zone, ch.Reason)
	if _, err := c.machine.ManualChange(ctx, ch.Reason); err != nil {
		if errors.Is(err, store.ErrStorageUnavailable) {
			c.metrics.StoreFailure("coordination")
		}
		c.log.Error().Err(err).Str("zone", ch.Zone).Msg("failed to pause automation")
	}
}

// onDecision is registered as a coordination listener.
func (c *controller) onDecision(d coordination.Decision) {
	c.tracker.SetCoordination(d.Next)
	c.publishRetained(c.topics.Coordination, d.Next)

	switch d.Transition {
	case coordination.TransitionPaused, coordination.TransitionResumed:
	default:
		return
	}
	if c.notify == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	if prefs, err := c.prefs.Get(ctx, c.owner); err == nil && !prefs.NotificationPreferences.Coordination {
		return
	}
	err := c.notify.Dispatch(ctx, notify.Notification{
		ID:             uuid.NewString(),
		Classification: "coordination",
		Timestamp:      c.now(),
		Payload: map[string]any{
			"transition":  d.Transition,
			"phase":       d.Next.Phase(),
			"pauseReason": d.Prev.PauseReason,
			"cause":       d.Cause,
			"pausedUntil": d.Next.PausedUntil,
		},
	})
	if err != nil {
		c.log.Warn().Err(err).Str("transition", string(d.Transition)).Msg("coordination notification failed")
	}
}

// republish sends every retained topic again, e.g. after a reconnect.
func (c *controller) republish(ctx context.Context) {
	if s, err := c.machine.State(ctx); err == nil {
		c.tracker.SetCoordination(s)
		c.publishRetained(c.topics.Coordination, s)
	} else {
		c.log.Warn().Err(err).Msg("read coordination state")
	}
	c.refreshMaintenance(ctx)
}

func (c *controller) publishRetained(topic string, v any) {
	if c.pub == nil {
		return
	}
	if err := mqtt.PublishJSON(c.pub, topic, 1, true, v); err != nil {
		c.log.Warn().Err(err).Str("topic", topic).Msg("publish retained state failed")
	}
}

// schedule registers the periodic jobs. Both run once immediately.
func (c *controller) schedule(s gocron.Scheduler, accrual, poll time.Duration) error {
	jobs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context)
	}{
		{"maintenance-accrual", accrual, func(ctx context.Context) { c.accrue(ctx) }},
		{"coordination-poll", poll, c.poll},
	}
	for _, j := range jobs {
		run := j.run
		_, err := s.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(func() {
				ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
				defer cancel()
				run(ctx)
			}),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", j.name, err)
		}
	}
	return nil
}

// preferenceGate drops notifications of a classification the owner has
// switched off.
type preferenceGate struct {
	next  notify.Dispatcher
	prefs *preferences.Store
	owner string
	log   zerolog.Logger
}

// Dispatch forwards n unless the owner has disabled its classification.
func (g preferenceGate) Dispatch(ctx context.Context, n notify.Notification) error {
	if n.Classification == maintenance.Classification {
		prefs, err := g.prefs.Get(ctx, g.owner)
		if err == nil && !prefs.NotificationPreferences.Maintenance {
			g.log.Debug().Str("id", n.ID).Msg("maintenance notifications disabled, dropping")
			return nil
		}
	}
	return g.next.Dispatch(ctx, n)
}

// countingDispatcher counts failed deliveries.
type countingDispatcher struct {
	next    notify.Dispatcher
	metrics *metrics.Recorder
}

// Dispatch forwards n and records a failure.
func (c countingDispatcher) Dispatch(ctx context.Context, n notify.Notification) error {
	err := c.next.Dispatch(ctx, n)
	if err != nil {
		c.metrics.NotificationFailed()
	}
	return err
}
