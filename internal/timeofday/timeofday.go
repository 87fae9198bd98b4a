// Package timeofday computes wall-clock aligned delays for daily jobs.
package timeofday

import (
	"fmt"
	"strings"
	"time"
)

// TimeOfDay is an hour/minute pair in the scheduler's local time.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// Noon is the default announcement time.
var Noon = TimeOfDay{Hour: 12}

// Parse accepts "HH:MM" (24h clock, two digits each).
func Parse(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, ok := twoDigits(parts[0])
	if !ok || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, ok := twoDigits(parts[1])
	if !ok || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// twoDigits rejects signs and spaces, which strconv.Atoi would accept.
func twoDigits(s string) (int, bool) {
	if len(s) != 2 || s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, false
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), true
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// On returns t on the calendar date of day, in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, t.Hour, t.Minute, 0, 0, day.Location())
}

// Next returns the next occurrence of target at or after now. An occurrence equal
// to now counts as "not yet passed".
func Next(now time.Time, target TimeOfDay) time.Time {
	at := target.On(now)
	if now.After(at) {
		// AddDate keeps the wall clock across DST changes.
		at = target.On(now.AddDate(0, 0, 1))
	}
	return at
}

// DelaySeconds is the whole number of seconds (floored) from now until the next
// occurrence of target. It is never negative.
func DelaySeconds(now time.Time, target TimeOfDay) int64 {
	d := Next(now, target).Sub(now)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// Delay is DelaySeconds as a time.Duration.
func Delay(now time.Time, target TimeOfDay) time.Duration {
	return time.Duration(DelaySeconds(now, target)) * time.Second
}
