package coordination

import (
	"testing"
	"time"
)

func TestDailyScheduleNext(t *testing.T) {
	sched, err := ParseDailySchedule([]string{"22:00", "06:30", "17:00"}, time.UTC)
	if err != nil {
		t.Fatalf("ParseDailySchedule: %v", err)
	}

	tests := []struct {
		name string
		at   time.Time
		want time.Time
	}{
		{"early morning", time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 6, 30, 0, 0, time.UTC)},
		{"midday", time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 17, 0, 0, 0, time.UTC)},
		{"exactly on a slot is not after it", time.Date(2026, 1, 1, 17, 0, 0, 0, time.UTC), time.Date(2026, 1, 1, 22, 0, 0, 0, time.UTC)},
		{"wraps to tomorrow", time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC), time.Date(2026, 1, 2, 6, 30, 0, 0, time.UTC)},
		{"year end", time.Date(2026, 12, 31, 22, 30, 0, 0, time.UTC), time.Date(2027, 1, 1, 6, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sched.Next(tt.at); !got.Equal(tt.want) {
				t.Errorf("Next(%v): got %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestDailyScheduleUsesLocation(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	sched, _ := ParseDailySchedule([]string{"06:00"}, london)

	// Summer: London is UTC+1, so 06:00 local is 05:00 UTC.
	got := sched.Next(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))
	want := time.Date(2026, 7, 1, 5, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got.UTC(), want)
	}
}

func TestParseDailyScheduleErrors(t *testing.T) {
	if _, err := ParseDailySchedule(nil, nil); err == nil {
		t.Error("expected error for empty schedule")
	}
	if _, err := ParseDailySchedule([]string{"25:00"}, nil); err == nil {
		t.Error("expected error for invalid slot")
	}
}

func TestFixedDelay(t *testing.T) {
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if got := FixedDelay(time.Hour).Next(at); !got.Equal(at.Add(time.Hour)) {
		t.Errorf("got %v", got)
	}
}
