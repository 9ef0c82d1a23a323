// Package metrics exposes daemon telemetry as Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/boiler-automation/internal/coordination"
	"github.com/sweeney/boiler-automation/internal/logic"
)

const namespace = "boiler"

// Recorder implements maintenance.Recorder and records coordination and
// device telemetry. A nil *Recorder is a no-op.
type Recorder struct {
	reg *prom.Registry

	accrualOutcomes  *prom.CounterVec
	thresholds       *prom.CounterVec
	runtimeHours     prom.Gauge
	targetHours      prom.Gauge
	needsCleaning    prom.Gauge
	transitions      *prom.CounterVec
	paused           prom.Gauge
	storeFailures    *prom.CounterVec
	deviceEvents     *prom.CounterVec
	deviceStatus     *prom.GaugeVec
	mqttConnected    prom.Gauge
	manualChanges    *prom.CounterVec
	notificationErrs prom.Counter
}

// NewRecorder creates and registers the collectors on reg. A nil reg gets
// a fresh registry with the Go and process collectors.
func NewRecorder(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	r := &Recorder{reg: reg}

	r.accrualOutcomes = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Subsystem: "maintenance",
		Name:      "accrual_outcomes_total",
		Help:      "Accrual polls by outcome",
	}, []string{"outcome"})
	r.thresholds = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Subsystem: "maintenance",
		Name:      "threshold_notifications_total",
		Help:      "Maintenance threshold notifications raised by level",
	}, []string{"level"})
	r.runtimeHours = prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Subsystem: "maintenance",
		Name:      "runtime_hours",
		Help:      "Burner runtime since the last cleaning",
	})
	r.targetHours = prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Subsystem: "maintenance",
		Name:      "target_hours",
		Help:      "Runtime between cleanings",
	})
	r.needsCleaning = prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Subsystem: "maintenance",
		Name:      "needs_cleaning",
		Help:      "1 when the cleaning interval has been reached",
	})
	r.transitions = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Subsystem: "coordination",
		Name:      "transitions_total",
		Help:      "Coordination state transitions",
	}, []string{"transition"})
	r.paused = prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Subsystem: "coordination",
		Name:      "paused",
		Help:      "1 while automation is paused",
	})
	r.manualChanges = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Subsystem: "coordination",
		Name:      "manual_changes_total",
		Help:      "Manual climate changes seen, by zone and reason",
	}, []string{"zone", "reason"})
	r.storeFailures = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "failures_total",
		Help:      "Store operations that failed, by caller",
	}, []string{"component"})
	r.deviceEvents = prom.NewCounterVec(prom.CounterOpts{
		Namespace: namespace,
		Subsystem: "device",
		Name:      "events_total",
		Help:      "Debounced burner and fault transitions",
	}, []string{"event"})
	r.deviceStatus = prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: namespace,
		Subsystem: "device",
		Name:      "status",
		Help:      "1 for the current device status",
	}, []string{"status"})
	r.mqttConnected = prom.NewGauge(prom.GaugeOpts{
		Namespace: namespace,
		Subsystem: "mqtt",
		Name:      "connected",
		Help:      "1 while the broker connection is up",
	})
	r.notificationErrs = prom.NewCounter(prom.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "dispatch_failures_total",
		Help:      "Notifications that could not be dispatched",
	})

	reg.MustRegister(
		r.accrualOutcomes, r.thresholds, r.runtimeHours, r.targetHours, r.needsCleaning,
		r.transitions, r.paused, r.manualChanges, r.storeFailures,
		r.deviceEvents, r.deviceStatus, r.mqttConnected, r.notificationErrs,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// AccrualOutcome counts one accrual poll.
func (r *Recorder) AccrualOutcome(outcome string) {
	if r == nil {
		return
	}
	r.accrualOutcomes.WithLabelValues(outcome).Inc()
	if outcome == "error" {
		r.storeFailures.WithLabelValues("maintenance").Inc()
	}
}

// ThresholdCrossed counts a threshold notification.
func (r *Recorder) ThresholdCrossed(level int) {
	if r == nil {
		return
	}
	r.thresholds.WithLabelValues(strconv.Itoa(level)).Inc()
}

// RecordObserved mirrors the stored maintenance record.
func (r *Recorder) RecordObserved(currentHours, targetHours float64, needsCleaning bool) {
	if r == nil {
		return
	}
	r.runtimeHours.Set(currentHours)
	r.targetHours.Set(targetHours)
	r.needsCleaning.Set(boolGauge(needsCleaning))
}

// Decision records a persisted coordination decision.
func (r *Recorder) Decision(d coordination.Decision) {
	if r == nil {
		return
	}
	if d.Transition != coordination.TransitionNone {
		r.transitions.WithLabelValues(string(d.Transition)).Inc()
	}
	r.paused.Set(boolGauge(d.Next.AutomationPaused))
}

// ManualChange counts a manual climate change.
func (r *Recorder) ManualChange(zone string, reason coordination.PauseReason) {
	if r == nil {
		return
	}
	r.manualChanges.WithLabelValues(zone, string(reason)).Inc()
}

// StoreFailure counts a failed store operation made by component.
func (r *Recorder) StoreFailure(component string) {
	if r == nil {
		return
	}
	r.storeFailures.WithLabelValues(component).Inc()
}

// DeviceEvent counts a burner or fault transition and updates the status gauge.
func (r *Recorder) DeviceEvent(e logic.Event) {
	if r == nil {
		return
	}
	r.deviceEvents.WithLabelValues(string(e.Type)).Inc()
	r.DeviceStatus(e.Status)
}

// DeviceStatus sets the one-hot device status gauge.
func (r *Recorder) DeviceStatus(s logic.DeviceStatus) {
	if r == nil {
		return
	}
	for _, st := range []logic.DeviceStatus{logic.StatusWorking, logic.StatusOff, logic.StatusError} {
		r.deviceStatus.WithLabelValues(string(st)).Set(boolGauge(st == s))
	}
}

// MQTTConnected sets the broker connection gauge.
func (r *Recorder) MQTTConnected(up bool) {
	if r == nil {
		return
	}
	r.mqttConnected.Set(boolGauge(up))
}

// NotificationFailed counts a failed dispatch.
func (r *Recorder) NotificationFailed() {
	if r == nil {
		return
	}
	r.notificationErrs.Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
