package engine

import (
	"testing"
	"time"
)

func TestScheduleWindows(t *testing.T) {
	s, err := NewSchedule("UTC", "10:10", "15:30", "15:40")
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}

	at := func(hh, mm int) time.Time {
		return time.Date(2026, 3, 2, hh, mm, 0, 0, time.UTC)
	}

	tests := []struct {
		hh, mm  int
		trading bool
		entries bool
		flatten bool
	}{
		{9, 0, false, true, false},
		{10, 10, true, true, false},
		{12, 0, true, true, false},
		{15, 30, true, true, false},
		{15, 35, true, false, false},
		{15, 40, true, false, true},
		{16, 0, false, false, true},
	}

	for _, tt := range tests {
		ts := at(tt.hh, tt.mm)
		if got := s.IsTradingTime(ts); got != tt.trading {
			t.Errorf("%02d:%02d IsTradingTime = %v, want %v", tt.hh, tt.mm, got, tt.trading)
		}
		if got := s.NewEntriesAllowed(ts); got != tt.entries {
			t.Errorf("%02d:%02d NewEntriesAllowed = %v, want %v", tt.hh, tt.mm, got, tt.entries)
		}
		if got := s.FlattenDue(ts); got != tt.flatten {
			t.Errorf("%02d:%02d FlattenDue = %v, want %v", tt.hh, tt.mm, got, tt.flatten)
		}
	}
}

func TestScheduleRejectsBadClock(t *testing.T) {
	if _, err := NewSchedule("UTC", "25:00", "15:30", "15:40"); err == nil {
		t.Error("expected error for hour 25")
	}
	if _, err := NewSchedule("UTC", "10:10", "nope", "15:40"); err == nil {
		t.Error("expected error for malformed clock")
	}
}

func TestScheduleFlattenAt(t *testing.T) {
	s, err := NewSchedule("UTC", "10:10", "15:30", "15:40")
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	ts := time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	want := time.Date(2026, 3, 2, 15, 40, 0, 0, time.UTC)
	if got := s.FlattenAt(ts); !got.Equal(want) {
		t.Errorf("FlattenAt = %v, want %v", got, want)
	}
}
