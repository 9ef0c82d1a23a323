package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sweeney/boiler-automation/internal/notify"
	"github.com/sweeney/boiler-automation/internal/store"
)

// RecordPath is the store path of the maintenance record.
const RecordPath = "maintenance"

// Classification tags maintenance notifications for the dispatcher.
const Classification = "maintenance"

// Device statuses that accrue runtime.
const (
	StatusWorking    = "working"
	StatusModulating = "modulating"
)

// Result reason codes.
const (
	ReasonNotWorking  = "status_not_working"
	ReasonInitialized = "initialized"
	ReasonRepaired    = "repaired"
	ReasonMinInterval = "min_interval"
)

// ErrInvalidTarget is returned by SetTargetHours for a non-positive target.
var ErrInvalidTarget = errors.New("maintenance: target hours must be positive")

// Accrues reports whether status counts as boiler runtime.
func Accrues(status string) bool {
	return status == StatusWorking || status == StatusModulating
}

// Result is returned by TrackUsageHours.
type Result struct {
	Tracked          bool          `json:"tracked"`
	Skipped          bool          `json:"skipped,omitempty"`
	Reason           string        `json:"reason,omitempty"`
	ElapsedMinutes   float64       `json:"elapsedMinutes"`
	NewCurrentHours  float64       `json:"newCurrentHours"`
	Percentage       float64       `json:"percentage"`
	NeedsCleaning    bool          `json:"needsCleaning"`
	NotificationData *Notification `json:"notificationData"`
	Error            string        `json:"error,omitempty"`
}

// Recorder receives accrual telemetry. Implementations must be safe for
// concurrent use.
type Recorder interface {
	AccrualOutcome(outcome string)
	ThresholdCrossed(level int)
	RecordObserved(currentHours, targetHours float64, needsCleaning bool)
}

// Engine tracks boiler runtime against the cleaning interval.
type Engine struct {
	store      store.Store
	dispatcher notify.Dispatcher
	recorder   Recorder
	maxGap     time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithRecorder sets the telemetry recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithMaxGap caps the runtime credited by one accrual. Set it a little
// above the polling interval: status is only sampled on polls, so a longer
// gap since the last update covers polls that saw the boiler idle. Zero
// credits every gap in full.
func WithMaxGap(d time.Duration) Option {
	return func(e *Engine) { e.maxGap = d }
}

// NewEngine creates an Engine. dispatcher may be nil.
func NewEngine(st store.Store, dispatcher notify.Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		dispatcher: dispatcher,
		now:        time.Now,
		log:        zerolog.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// TrackUsageHours accrues the time since the last update when status is
// a working status. It never fails: errors are reported in the Result.
func (e *Engine) TrackUsageHours(ctx context.Context, status string) Result {
	if !Accrues(status) {
		e.observe(ReasonNotWorking)
		return Result{Tracked: false, Reason: ReasonNotWorking}
	}

	now := e.now()
	var last step
	_, err := e.store.Transact(ctx, RecordPath, func(current []byte) ([]byte, error) {
		last = accrue(e.decode(current), now, e.maxGap)
		if last.next == nil {
			return nil, nil
		}
		return json.Marshal(last.next)
	})
	if err != nil {
		e.log.Error().Err(err).Str("status", status).Msg("usage accrual failed")
		e.observe("error")
		return Result{Tracked: false, Error: err.Error()}
	}
	e.observe(string(last.outcome))

	res := Result{Tracked: true, ElapsedMinutes: last.elapsed.Minutes()}
	switch last.outcome {
	case outcomeInitialized:
		res.Reason = ReasonInitialized
		e.log.Info().Msg("maintenance record initialized")
	case outcomeRepaired:
		res.Reason = ReasonRepaired
		e.log.Warn().Err(ErrCorruptRecord).Msg("repaired missing lastUpdatedAt")
	case outcomeSkipped:
		res.Skipped = true
		res.Reason = ReasonMinInterval
		res.NewCurrentHours = last.hours
		e.log.Debug().Dur("elapsed", last.elapsed).Msg("accrual skipped, under minimum interval")
		return res
	}

	rec := last.next
	res.NewCurrentHours = rec.CurrentHours
	res.Percentage = rec.Percentage()
	res.NeedsCleaning = rec.NeedsCleaning
	if e.recorder != nil {
		e.recorder.RecordObserved(rec.CurrentHours, rec.TargetHours, rec.NeedsCleaning)
	}

	if n := last.notification; n != nil {
		res.NotificationData = n
		res.Percentage = n.Percentage
		e.raise(ctx, *n, now)
	}

	if last.outcome == outcomeAccrued {
		if last.gap > last.elapsed {
			e.log.Debug().Dur("gap", last.gap).Dur("credited", last.elapsed).Msg("accrual gap capped")
		}
		e.log.Debug().
			Float64("elapsed_minutes", res.ElapsedMinutes).
			Float64("hours", rec.CurrentHours).
			Float64("target", rec.TargetHours).
			Bool("needs_cleaning", rec.NeedsCleaning).
			Msg("usage accrued")
	}
	return res
}

// CanIgnite reports whether the boiler may ignite. It fails open: a
// missing or unreadable record permits ignition.
func (e *Engine) CanIgnite(ctx context.Context) bool {
	rec, ok, err := e.Record(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("maintenance record unreadable, permitting ignition")
		return true
	}
	if !ok {
		return true
	}
	return !rec.NeedsCleaning
}

// Record returns the stored record. ok is false when none exists.
func (e *Engine) Record(ctx context.Context) (rec Record, ok bool, err error) {
	raw, err := e.store.Get(ctx, RecordPath)
	if errors.Is(err, store.ErrNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return rec, true, nil
}

// MarkCleaned starts a new cleaning cycle: hours, needsCleaning and the
// notification level are reset.
func (e *Engine) MarkCleaned(ctx context.Context) (Record, error) {
	now := e.now()
	rec, err := e.mutate(ctx, func(r *Record) {
		r.CurrentHours = 0
		r.NeedsCleaning = false
		r.LastNotificationLevel = 0
		r.LastUpdatedAt = &now
	})
	if err != nil {
		return Record{}, fmt.Errorf("mark cleaned: %w", err)
	}
	e.log.Info().Msg("cleaning recorded, maintenance cycle reset")
	return rec, nil
}

// SetTargetHours changes the cleaning interval and recomputes
// needsCleaning. The notification level of the current cycle is kept.
func (e *Engine) SetTargetHours(ctx context.Context, hours float64) (Record, error) {
	if hours <= 0 {
		return Record{}, ErrInvalidTarget
	}
	rec, err := e.mutate(ctx, func(r *Record) {
		r.TargetHours = hours
		r.NeedsCleaning = r.CurrentHours >= r.TargetHours
	})
	if err != nil {
		return Record{}, fmt.Errorf("set target hours: %w", err)
	}
	return rec, nil
}

func (e *Engine) mutate(ctx context.Context, fn func(*Record)) (Record, error) {
	var out Record
	_, err := e.store.Transact(ctx, RecordPath, func(current []byte) ([]byte, error) {
		rec := Record{TargetHours: DefaultTargetHours}
		if r := e.decode(current); r != nil {
			rec = *r
		}
		heal(&rec)
		fn(&rec)
		out = rec
		return json.Marshal(rec)
	})
	return out, err
}

// decode parses a stored record. An undecodable record is treated as
// missing and re-initialized.
func (e *Engine) decode(raw []byte) *Record {
	if raw == nil {
		return nil
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		e.log.Warn().Err(fmt.Errorf("%w: %v", ErrCorruptRecord, err)).Msg("re-initializing maintenance record")
		return nil
	}
	return &rec
}

func (e *Engine) raise(ctx context.Context, n Notification, now time.Time) {
	if e.recorder != nil {
		e.recorder.ThresholdCrossed(n.Level)
	}
	e.log.Info().
		Int("level", n.Level).
		Float64("percentage", n.Percentage).
		Float64("remaining_hours", n.RemainingHours).
		Msg("maintenance threshold crossed")

	if e.dispatcher == nil {
		return
	}
	err := e.dispatcher.Dispatch(ctx, notify.Notification{
		ID:             uuid.NewString(),
		Classification: Classification,
		Timestamp:      now,
		Payload:        n,
	})
	if err != nil {
		e.log.Warn().Err(err).Int("level", n.Level).Msg("notification dispatch failed")
	}
}

func (e *Engine) observe(outcome string) {
	if e.recorder != nil {
		e.recorder.AccrualOutcome(outcome)
	}
}
