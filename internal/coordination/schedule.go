package coordination

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Schedule yields automation slot boundaries.
type Schedule interface {
	// Next returns the earliest boundary strictly after t.
	Next(t time.Time) time.Time
}

// DailySchedule has the same slots every day, as wall-clock times in loc.
type DailySchedule struct {
	slots []clock
	loc   *time.Location
}

type clock struct {
	hour, min int
}

// ParseDailySchedule parses "HH:MM" slot times. loc defaults to UTC.
func ParseDailySchedule(slots []string, loc *time.Location) (*DailySchedule, error) {
	if len(slots) == 0 {
		return nil, errors.New("schedule: no slots")
	}
	if loc == nil {
		loc = time.UTC
	}
	s := &DailySchedule{loc: loc}
	for _, raw := range slots {
		t, err := time.Parse("15:04", raw)
		if err != nil {
			return nil, fmt.Errorf("schedule: slot %q: %w", raw, err)
		}
		s.slots = append(s.slots, clock{hour: t.Hour(), min: t.Minute()})
	}
	sort.Slice(s.slots, func(i, j int) bool {
		if s.slots[i].hour != s.slots[j].hour {
			return s.slots[i].hour < s.slots[j].hour
		}
		return s.slots[i].min < s.slots[j].min
	})
	return s, nil
}

// Next returns the first slot after t. time.Date normalises DST gaps.
func (s *DailySchedule) Next(t time.Time) time.Time {
	local := t.In(s.loc)
	y, m, d := local.Date()
	for day := 0; day <= 1; day++ {
		for _, c := range s.slots {
			candidate := time.Date(y, m, d+day, c.hour, c.min, 0, 0, s.loc)
			if candidate.After(t) {
				return candidate
			}
		}
	}
	// Unreachable with at least one slot.
	return t.Add(24 * time.Hour)
}

// FixedDelay is a Schedule whose boundary is always a fixed delay away.
type FixedDelay time.Duration

// Next returns t plus the delay.
func (f FixedDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(f))
}
