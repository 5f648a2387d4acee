// Package timemath holds the pure time calculations behind trip tracking:
// timestamp parsing, delay minutes and elapsed-progress fractions.
package timemath

import (
	"errors"
	"fmt"
	"time"
)

// ErrMalformedTimestamp marks a timestamp string that could not be parsed.
// Callers skip the dependent computation; a guessed time is never substituted.
var ErrMalformedTimestamp = errors.New("malformed timestamp")

// Parse parses an ISO 8601 / RFC 3339 timestamp, with or without fractional
// seconds, as the RNV API emits them.
func Parse(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty string", ErrMalformedTimestamp)
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrMalformedTimestamp, s)
	}
	return t, nil
}

// FormatClock renders an instant as a local wall-clock time for display.
func FormatClock(t time.Time) string {
	return t.Local().Format("15:04")
}

// DelayMinutes returns the whole minutes a live estimate runs behind the
// timetable, nil when no estimate is available. An estimate earlier than the
// schedule counts as on time, never as negative delay.
func DelayMinutes(scheduled time.Time, estimated *time.Time) *int {
	if estimated == nil {
		return nil
	}
	minutes := int(estimated.Sub(scheduled) / time.Minute)
	if minutes < 0 {
		minutes = 0
	}
	return &minutes
}

// ProgressFraction returns how far now lies between start and end, clamped to
// [0, 1]. A degenerate interval (end at or before start) counts as complete.
func ProgressFraction(start, end, now time.Time) float64 {
	if !end.After(start) {
		return 1
	}
	f := float64(now.Sub(start)) / float64(end.Sub(start))
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
