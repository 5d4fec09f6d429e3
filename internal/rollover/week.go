// Package rollover drives the weekly archival transaction and the
// classification hand-off that follows it.
package rollover

import (
	"fmt"
	"time"
)

// Policy selects how open sessions spanning the boundary are handled.
type Policy string

const (
	// PolicySplit carries the post-boundary remainder forward as a new open
	// session; nothing is lost and the user never sees a forced clock-out.
	PolicySplit Policy = "split"
	// PolicyForceClose stamps the boundary as the end time and leaves the
	// user idle in the new week.
	PolicyForceClose Policy = "force-close"
)

// WeekID labels the ISO week containing t, e.g. "2026-W35".
func WeekID(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// PreviousBoundary returns the most recent Monday 00:00 in loc at or before now.
func PreviousBoundary(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	daysBack := (int(local.Weekday()) + 6) % 7
	monday := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return monday.AddDate(0, 0, -daysBack)
}

// NextBoundary returns the first Monday 00:00 in loc strictly after now.
func NextBoundary(now time.Time, loc *time.Location) time.Time {
	prev := PreviousBoundary(now, loc)
	if prev.After(now.In(loc)) || prev.Equal(now.In(loc)) {
		return prev
	}
	return prev.AddDate(0, 0, 7)
}

// ClosingWeekID labels the week that ends at the given boundary.
func ClosingWeekID(boundary time.Time, loc *time.Location) string {
	return WeekID(boundary.In(loc).Add(-time.Minute))
}
