// Package dates holds the calendar-day arithmetic shared by the chore logic.
// Every function works in the location carried by its argument.
package dates

import "time"

// ISOLayout matches the millisecond-precision UTC form used in storage keys.
const ISOLayout = "2006-01-02T15:04:05.000Z"

func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the last representable instant of t's calendar day.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}

// AddDays moves t by n calendar days, keeping the wall-clock time.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

// BeforeDay reports whether a's calendar day is strictly before b's.
func BeforeDay(a, b time.Time) bool {
	return StartOfDay(a).Before(StartOfDay(b.In(a.Location())))
}

func SameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// ISO formats t in UTC with millisecond precision.
func ISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}
