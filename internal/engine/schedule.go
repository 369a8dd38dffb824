package engine

import (
	"fmt"
	"time"
)

// Schedule describes the trading day in a fixed exchange timezone: when
// trading starts, when new entries stop, and when everything is flattened.
type Schedule struct {
	loc         *time.Location
	start       dayClock
	stopEntries dayClock
	flatten     dayClock
}

type dayClock struct {
	hour, min int
}

func parseDayClock(s string) (dayClock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return dayClock{}, fmt.Errorf("want HH:MM, got %q", s)
	}
	return dayClock{hour: t.Hour(), min: t.Minute()}, nil
}

// NewSchedule builds a schedule from HH:MM strings in the named timezone.
func NewSchedule(tz, startTrade, stopNewEntries, flattenTime string) (*Schedule, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("schedule tz: %w", err)
	}
	start, err := parseDayClock(startTrade)
	if err != nil {
		return nil, fmt.Errorf("start_trade: %w", err)
	}
	stop, err := parseDayClock(stopNewEntries)
	if err != nil {
		return nil, fmt.Errorf("stop_new_entries: %w", err)
	}
	flatten, err := parseDayClock(flattenTime)
	if err != nil {
		return nil, fmt.Errorf("flatten_time: %w", err)
	}
	return &Schedule{loc: loc, start: start, stopEntries: stop, flatten: flatten}, nil
}

func (s *Schedule) at(ts time.Time, c dayClock) time.Time {
	local := ts.In(s.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), c.hour, c.min, 0, 0, s.loc)
}

// IsTradingTime reports whether ts falls inside the trading window.
func (s *Schedule) IsTradingTime(ts time.Time) bool {
	local := ts.In(s.loc)
	return !local.Before(s.at(ts, s.start)) && !local.After(s.at(ts, s.flatten))
}

// NewEntriesAllowed reports whether new entries may still be opened at ts.
// Exits stay allowed after the cutoff.
func (s *Schedule) NewEntriesAllowed(ts time.Time) bool {
	return !ts.In(s.loc).After(s.at(ts, s.stopEntries))
}

// FlattenDue reports whether the flatten time has been reached.
func (s *Schedule) FlattenDue(ts time.Time) bool {
	return !ts.In(s.loc).Before(s.at(ts, s.flatten))
}

// FlattenAt returns today's flatten instant for ts's date.
func (s *Schedule) FlattenAt(ts time.Time) time.Time {
	return s.at(ts, s.flatten)
}
