package climate

import (
	"context"
	"sync"

	"github.com/sweeney/boiler-automation/internal/coordination"
)

// Fake is an in-memory climate subsystem for tests.
type Fake struct {
	mu sync.Mutex

	// Current is what Setpoints returns.
	Current map[string]float64
	// Restored records every RestoreSetpoints call.
	Restored []map[string]float64
	// Obs is what Observation returns.
	Obs coordination.Observation

	SetpointsErr error
	RestoreErr   error
}

// NewFake creates a Fake reporting current.
func NewFake(current map[string]float64) *Fake {
	return &Fake{Current: current}
}

// Setpoints returns a copy of Current.
func (f *Fake) Setpoints(ctx context.Context) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetpointsErr != nil {
		return nil, f.SetpointsErr
	}
	out := make(map[string]float64, len(f.Current))
	for k, v := range f.Current {
		out[k] = v
	}
	return out, nil
}

// RestoreSetpoints records the call and applies the setpoints to Current.
func (f *Fake) RestoreSetpoints(ctx context.Context, setpoints map[string]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RestoreErr != nil {
		return f.RestoreErr
	}
	cp := make(map[string]float64, len(setpoints))
	for k, v := range setpoints {
		cp[k] = v
		if f.Current == nil {
			f.Current = map[string]float64{}
		}
		f.Current[k] = v
	}
	f.Restored = append(f.Restored, cp)
	return nil
}

// Observation returns Obs.
func (f *Fake) Observation() coordination.Observation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Obs
}

// SetObservation replaces Obs.
func (f *Fake) SetObservation(obs coordination.Observation) {
	f.mu.Lock()
	f.Obs = obs
	f.mu.Unlock()
}
