// Package recurrence holds the date arithmetic behind recurring chores.
//
// Intervals are fixed-length: one day is always 24h (86,400,000 ms). Adding
// an interval never consults the calendar, so a task due on the 31st that
// repeats every 30 days drifts across month ends, and DST transitions shift
// the wall-clock time of the next occurrence by an hour.
package recurrence

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Day is the fixed length of one recurrence day.
const Day = 24 * time.Hour

// MaxDays is the largest interval whose length fits in a time.Duration.
const MaxDays = int(math.MaxInt64 / int64(Day))

var ErrInvalidInterval = errors.New("recurrence interval must be a positive number of days")

// Advance returns due moved forward by days fixed-length days.
func Advance(due time.Time, days int) (time.Time, error) {
	if err := ValidateDays(days); err != nil {
		return time.Time{}, err
	}
	return due.Add(time.Duration(days) * Day), nil
}

// ValidateDays reports whether days is a usable interval: at least one day
// and at most MaxDays.
func ValidateDays(days int) error {
	if days <= 0 || days > MaxDays {
		return fmt.Errorf("%w: got %d", ErrInvalidInterval, days)
	}
	return nil
}

// MustAdvance is Advance for callers that already validated days.
func MustAdvance(due time.Time, days int) time.Time {
	next, err := Advance(due, days)
	if err != nil {
		panic(err)
	}
	return next
}

// Midnight truncates t to 00:00 of its calendar date in loc (time.Local if nil).
func Midnight(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// IsDue reports whether the calendar date of due is on or before the
// calendar date of now, both taken in loc. Time of day is ignored.
func IsDue(due, now time.Time, loc *time.Location) bool {
	return !Midnight(due, loc).After(Midnight(now, loc))
}
