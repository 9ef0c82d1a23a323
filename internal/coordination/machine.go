package coordination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/boiler-automation/internal/store"
)

// StatePath is the store path of the coordination record.
const StatePath = "coordination/state"

// DefaultDebounceWindow is how long the climate subsystem must stay out of
// manual control before automation resumes.
const DefaultDebounceWindow = 10 * time.Minute

// ErrStorageUnavailable is returned when the store cannot be read or
// written. The decision is discarded and should be retried next poll.
var ErrStorageUnavailable = store.ErrStorageUnavailable

// ErrCorruptState is logged when the stored record cannot be decoded or is
// inconsistent. The record is replaced with defaults.
var ErrCorruptState = errors.New("coordination: corrupt state")

// Climate is the climate subsystem the machine snapshots and restores.
type Climate interface {
	// Setpoints returns the current automated setpoint per zone.
	Setpoints(ctx context.Context) (map[string]float64, error)
	// RestoreSetpoints pushes setpoints back. It must be idempotent.
	RestoreSetpoints(ctx context.Context, setpoints map[string]float64) error
}

// Listener is told about every persisted decision.
type Listener func(Decision)

// Machine applies coordination decisions through merge-updates on the
// store. It assumes a single logical controller per deployment.
type Machine struct {
	store     store.Store
	climate   Climate
	schedule  Schedule
	window    time.Duration
	now       func() time.Time
	log       zerolog.Logger
	listeners []Listener
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithDebounceWindow sets the resume debounce window.
func WithDebounceWindow(d time.Duration) Option {
	return func(m *Machine) { m.window = d }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Machine) { m.log = log }
}

// WithListener registers a listener for persisted decisions.
func WithListener(l Listener) Option {
	return func(m *Machine) { m.listeners = append(m.listeners, l) }
}

// NewMachine creates a Machine.
func NewMachine(st store.Store, climate Climate, schedule Schedule, opts ...Option) *Machine {
	m := &Machine{
		store:    st,
		climate:  climate,
		schedule: schedule,
		window:   DefaultDebounceWindow,
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns the persisted record, creating it with defaults on first
// read. A corrupt record is replaced with defaults; any saved setpoints in
// it are lost.
func (m *Machine) State(ctx context.Context) (State, error) {
	raw, err := m.store.Get(ctx, StatePath)
	if errors.Is(err, store.ErrNotFound) {
		s := State{LastStateChange: m.now()}
		if err := m.write(ctx, s); err != nil {
			return State{}, err
		}
		return s, nil
	}
	if err != nil {
		return State{}, storageErr("read state", err)
	}

	s, err := decodeState(raw)
	if err == nil {
		return s, nil
	}
	m.log.Warn().Err(err).Msg("replacing coordination state with defaults")
	s = State{LastStateChange: m.now()}
	if err := m.write(ctx, s); err != nil {
		return State{}, err
	}
	m.notify(Decision{Next: s, Transition: TransitionReset, Changed: true, Cause: CauseCorruptState})
	return s, nil
}

func decodeState(raw []byte) (State, error) {
	var s State
	if err := json.Unmarshal(raw, &s); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if err := s.Validate(); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return s, nil
}

// ManualChange records a manual setpoint or mode change. From AUTOMATED it
// snapshots the current setpoints and pauses until the next schedule
// boundary; while already paused it only re-arms the deadline and reason.
func (m *Machine) ManualChange(ctx context.Context, reason PauseReason) (Decision, error) {
	if !reason.Valid() {
		return Decision{}, fmt.Errorf("manual change: unknown reason %q", reason)
	}
	s, err := m.State(ctx)
	if err != nil {
		return Decision{}, err
	}

	now := m.now()
	var snapshot map[string]float64
	if !s.AutomationPaused {
		snapshot, err = m.climate.Setpoints(ctx)
		if err != nil {
			return Decision{}, fmt.Errorf("snapshot setpoints: %w", err)
		}
	}

	d := decideManualChange(s, reason, m.schedule.Next(now), snapshot)
	return m.apply(ctx, d, now)
}

// BeginDebounce starts the resume window explicitly. It is a no-op unless
// the machine is in PAUSED_ACTIVE.
func (m *Machine) BeginDebounce(ctx context.Context) (Decision, error) {
	s, err := m.State(ctx)
	if err != nil {
		return Decision{}, err
	}
	now := m.now()
	d := decideBeginDebounce(s, now)
	return m.apply(ctx, d, now)
}

// Poll evaluates pause and debounce deadlines against the current time and
// the latest climate observation, resuming automation when one has passed.
func (m *Machine) Poll(ctx context.Context, obs Observation) (Decision, error) {
	s, err := m.State(ctx)
	if err != nil {
		return Decision{}, err
	}
	now := m.now()
	d := decidePoll(s, obs, now, m.window)
	return m.apply(ctx, d, now)
}

// Reset overwrites the record with defaults.
func (m *Machine) Reset(ctx context.Context) error {
	prev, err := m.State(ctx)
	if errors.Is(err, ErrStorageUnavailable) {
		return fmt.Errorf("reset: %w", err)
	}
	if err != nil {
		m.log.Warn().Err(err).Msg("previous coordination state unreadable, resetting anyway")
	}
	s := State{LastStateChange: m.now()}
	if err := m.write(ctx, s); err != nil {
		return err
	}
	m.notify(Decision{Prev: prev, Next: s, Transition: TransitionReset, Changed: true})
	return nil
}

// apply restores setpoints (if owed) and then persists the decision. A
// failed restore leaves the persisted pause and snapshot untouched, so the
// next poll retries it.
func (m *Machine) apply(ctx context.Context, d Decision, now time.Time) (Decision, error) {
	if !d.Changed {
		return d, nil
	}
	d.Next.LastStateChange = now
	if err := d.Next.Validate(); err != nil {
		return d, err
	}

	if len(d.Restore) > 0 {
		if err := m.climate.RestoreSetpoints(ctx, d.Restore); err != nil {
			return d, fmt.Errorf("restore setpoints: %w", err)
		}
	}

	if err := m.store.Update(ctx, StatePath, d.Next.fields()); err != nil {
		return d, storageErr("write state", err)
	}

	ev := m.log.Debug()
	if d.Transition != TransitionNone {
		ev = m.log.Info()
	}
	ev.Str("transition", string(d.Transition)).
		Str("phase", string(d.Next.Phase())).
		Str("cause", d.Cause).
		Msg("coordination state updated")

	m.notify(d)
	return d, nil
}

func (m *Machine) write(ctx context.Context, s State) error {
	if err := s.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode coordination state: %w", err)
	}
	if err := m.store.Set(ctx, StatePath, raw); err != nil {
		return storageErr("write state", err)
	}
	return nil
}

func (m *Machine) notify(d Decision) {
	for _, l := range m.listeners {
		l(d)
	}
}

// storageErr makes sure every store failure matches ErrStorageUnavailable.
func storageErr(op string, err error) error {
	if errors.Is(err, store.ErrStorageUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}
