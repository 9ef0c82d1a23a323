// Package maintenance converts boiler runtime into maintenance-due state.
//
// Accrual runs as a single optimistic transaction over one record. The
// transaction body (accrue) is pure given its input snapshot, so the store
// can re-run it on conflict.
package maintenance

import (
	"errors"
	"math"
	"time"
)

const (
	// DefaultTargetHours is the runtime between cleanings.
	DefaultTargetHours = 50.0

	// MinUpdateInterval collapses overlapping polls into one accrual.
	MinUpdateInterval = 30 * time.Second
)

// Thresholds are the notification levels in percent, ascending.
var Thresholds = []int{80, 90, 100}

// ErrCorruptRecord is logged when a record is missing fields and gets
// repaired in place. It is never returned from the public API.
var ErrCorruptRecord = errors.New("maintenance: corrupt record")

// Record is the persisted maintenance state.
type Record struct {
	CurrentHours          float64    `json:"currentHours"`
	TargetHours           float64    `json:"targetHours"`
	LastUpdatedAt         *time.Time `json:"lastUpdatedAt"`
	NeedsCleaning         bool       `json:"needsCleaning"`
	LastNotificationLevel int        `json:"lastNotificationLevel"`
}

// Percentage returns CurrentHours as a percentage of TargetHours.
func (r Record) Percentage() float64 {
	if r.TargetHours <= 0 {
		return 0
	}
	return 100 * r.CurrentHours / r.TargetHours
}

// RemainingHours returns the runtime left before cleaning is due.
func (r Record) RemainingHours() float64 {
	return math.Max(0, r.TargetHours-r.CurrentHours)
}

// Notification is the payload raised on a threshold crossing.
type Notification struct {
	Level          int     `json:"level"`
	Percentage     float64 `json:"percentage"`
	CurrentHours   float64 `json:"currentHours"`
	TargetHours    float64 `json:"targetHours"`
	RemainingHours float64 `json:"remainingHours"`
}

// outcome names what one transaction attempt decided.
type outcome string

const (
	outcomeInitialized outcome = "initialized"
	outcomeRepaired    outcome = "repaired"
	outcomeSkipped     outcome = "skipped"
	outcomeAccrued     outcome = "accrued"
)

// step is the result of accrue. next is nil when the transaction must
// abort without writing.
type step struct {
	outcome      outcome
	next         *Record
	elapsed      time.Duration // credited runtime
	gap          time.Duration // time since the last update
	notification *Notification
	// hours is the stored runtime when the step aborted.
	hours float64
}

// accrue computes the next record from cur (nil when none exists). A
// positive maxGap caps the runtime credited for one update: a gap longer
// than that spans polls that saw the boiler idle.
func accrue(cur *Record, now time.Time, maxGap time.Duration) step {
	if cur == nil {
		return step{
			outcome: outcomeInitialized,
			next: &Record{
				TargetHours:   DefaultTargetHours,
				LastUpdatedAt: &now,
			},
		}
	}

	if cur.LastUpdatedAt == nil {
		next := *cur
		next.LastUpdatedAt = &now
		heal(&next)
		next.NeedsCleaning = next.CurrentHours >= next.TargetHours
		return step{outcome: outcomeRepaired, next: &next}
	}

	gap := now.Sub(*cur.LastUpdatedAt)
	if gap < MinUpdateInterval {
		return step{outcome: outcomeSkipped, elapsed: gap, gap: gap, hours: cur.CurrentHours}
	}
	elapsed := gap
	if maxGap > 0 && elapsed > maxGap {
		elapsed = maxGap
	}

	next := *cur
	heal(&next)
	// Threshold, needsCleaning and the stored value all derive from the
	// rounded hours.
	newHours := roundHours(next.CurrentHours + elapsed.Hours())
	percentage := 100 * newHours / next.TargetHours

	next.CurrentHours = newHours
	next.LastUpdatedAt = &now
	next.NeedsCleaning = newHours >= next.TargetHours

	s := step{outcome: outcomeAccrued, next: &next, elapsed: elapsed, gap: gap}
	if level := crossedThreshold(percentage, cur.LastNotificationLevel); level > 0 {
		next.LastNotificationLevel = level
		s.notification = &Notification{
			Level:          level,
			Percentage:     percentage,
			CurrentHours:   newHours,
			TargetHours:    next.TargetHours,
			RemainingHours: math.Max(0, next.TargetHours-newHours),
		}
	}
	return s
}

// crossedThreshold returns the highest threshold reached by percentage
// that is above last, or 0.
func crossedThreshold(percentage float64, last int) int {
	level := 0
	for _, th := range Thresholds {
		if percentage >= float64(th) && th > last {
			level = th
		}
	}
	return level
}

// heal fills fields a partial record may lack.
func heal(r *Record) {
	if r.TargetHours <= 0 {
		r.TargetHours = DefaultTargetHours
	}
	if r.CurrentHours < 0 || math.IsNaN(r.CurrentHours) {
		r.CurrentHours = 0
	}
}

func roundHours(h float64) float64 {
	return math.Round(h*1e4) / 1e4
}
