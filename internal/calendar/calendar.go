// Package calendar reduces timestamps to canonical calendar days.
//
// A canonical day is the calendar date of a timestamp, observed in the
// configured location, expressed as midnight UTC. Every path that stores or
// compares dates goes through the same Calendar so weekday arithmetic never
// mixes time zones.
package calendar

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDate is returned when a raw date cannot be parsed.
var ErrInvalidDate = errors.New("invalid date")

// KeyLayout is the textual encoding of a canonical day.
const KeyLayout = "2006-01-02"

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	KeyLayout,
}

// Calendar normalizes timestamps in a single location.
type Calendar struct {
	loc *time.Location
}

// New returns a Calendar observing dates in loc. A nil location means UTC.
func New(loc *time.Location) Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return Calendar{loc: loc}
}

// UTC returns the default calendar.
func UTC() Calendar {
	return New(time.UTC)
}

// Location reports the location dates are observed in.
func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Normalize truncates t to the start of its calendar day.
func (c Calendar) Normalize(t time.Time) time.Time {
	y, m, d := t.In(c.Location()).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today normalizes the current instant reported by now.
func (c Calendar) Today(now func() time.Time) time.Time {
	if now == nil {
		now = time.Now
	}
	return c.Normalize(now())
}

// minEpochDigits is the shortest digit string read as Unix milliseconds.
// Shorter values such as "2024" or "20240108" are rejected.
const minEpochDigits = 12

// Parse reads an ISO-8601 timestamp, a bare date or Unix milliseconds and
// returns the canonical day it falls on.
func (c Calendar) Parse(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidDate)
	}

	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, raw, c.Location()); err == nil {
			return c.Normalize(t), nil
		}
	}

	if len(raw) >= minEpochDigits {
		if ms, err := strconv.ParseUint(raw, 10, 63); err == nil {
			return c.Normalize(time.UnixMilli(int64(ms))), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
}

// Weekday maps a canonical day to 0 (Sunday) through 6 (Saturday).
func Weekday(day time.Time) int {
	return int(day.UTC().Weekday())
}

// Key encodes a canonical day as YYYY-MM-DD.
func Key(day time.Time) string {
	return day.UTC().Format(KeyLayout)
}

// FromKey decodes a value produced by Key.
func FromKey(key string) (time.Time, error) {
	t, err := time.Parse(KeyLayout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, key)
	}
	return t, nil
}
