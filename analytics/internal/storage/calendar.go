package storage

import (
	"fmt"
	"time"
)

// Calendar maps instants onto calendar days in a fixed timezone.
type Calendar struct {
	loc *time.Location
}

// NewCalendar returns a Calendar for loc; nil selects UTC.
func NewCalendar(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{loc: loc}
}

func (c Calendar) location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Location returns the calendar's timezone.
func (c Calendar) Location() *time.Location {
	return c.location()
}

// Day formats the calendar day of t as YYYY-MM-DD.
func (c Calendar) Day(t time.Time) string {
	return t.In(c.location()).Format(time.DateOnly)
}

// Hour returns the hour of day of t, 0-23.
func (c Calendar) Hour(t time.Time) int {
	return t.In(c.location()).Hour()
}

// Start returns the first instant of the given YYYY-MM-DD day.
func (c Calendar) Start(day string) (time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, day, c.location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: %w", day, err)
	}
	return t, nil
}

// Dates returns n consecutive days ending with the day of now, newest first.
func (c Calendar) Dates(now time.Time, n int) []string {
	local := now.In(c.location())
	y, m, d := local.Date()
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, time.Date(y, m, d-i, 12, 0, 0, 0, c.location()).Format(time.DateOnly))
	}
	return out
}

// Range returns every day from..to inclusive, oldest first.
func (c Calendar) Range(from, to string) ([]string, error) {
	start, err := c.Start(from)
	if err != nil {
		return nil, err
	}
	end, err := c.Start(to)
	if err != nil {
		return nil, err
	}
	last := end.Format(time.DateOnly)
	var out []string
	y, m, d := start.Date()
	for i := 0; ; i++ {
		day := time.Date(y, m, d+i, 12, 0, 0, 0, c.location()).Format(time.DateOnly)
		if day > last {
			break
		}
		out = append(out, day)
	}
	return out, nil
}
