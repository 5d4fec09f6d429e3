package rollover

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWeekID(t *testing.T) {
	require.Equal(t, "2024-W10", WeekID(time.Date(2024, time.March, 6, 12, 0, 0, 0, time.UTC)))
	// Jan 1 can belong to the previous ISO year.
	require.Equal(t, "2020-W53", WeekID(time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, "2026-W01", WeekID(time.Date(2025, time.December, 29, 0, 0, 0, 0, time.UTC)))
}

func TestPreviousBoundary(t *testing.T) {
	loc := time.UTC
	monday := time.Date(2024, time.March, 11, 0, 0, 0, 0, loc)

	wednesday := time.Date(2024, time.March, 13, 15, 30, 0, 0, loc)
	require.Equal(t, monday, PreviousBoundary(wednesday, loc))

	// Exactly at the boundary the boundary itself is returned.
	require.Equal(t, monday, PreviousBoundary(monday, loc))

	sunday := time.Date(2024, time.March, 10, 23, 59, 0, 0, loc)
	require.Equal(t, monday.AddDate(0, 0, -7), PreviousBoundary(sunday, loc))
}

func TestNextBoundary(t *testing.T) {
	loc := time.UTC
	monday := time.Date(2024, time.March, 11, 0, 0, 0, 0, loc)

	sunday := time.Date(2024, time.March, 10, 22, 0, 0, 0, loc)
	require.Equal(t, monday, NextBoundary(sunday, loc))

	require.Equal(t, monday, NextBoundary(monday, loc))

	tuesday := time.Date(2024, time.March, 12, 8, 0, 0, 0, loc)
	require.Equal(t, monday.AddDate(0, 0, 7), NextBoundary(tuesday, loc))
}

func TestBoundaryRespectsTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Monday 03:00 UTC is still Sunday evening in New York.
	utcMonday := time.Date(2024, time.March, 11, 3, 0, 0, 0, time.UTC)
	prev := PreviousBoundary(utcMonday, loc)
	require.Equal(t, time.Monday, prev.Weekday())
	require.Equal(t, time.Date(2024, time.March, 4, 0, 0, 0, 0, loc), prev)
}

func TestClosingWeekID(t *testing.T) {
	loc := time.UTC
	boundary := time.Date(2024, time.March, 11, 0, 0, 0, 0, loc)
	// The week ending Monday 00:00 is the prior ISO week.
	require.Equal(t, "2024-W10", ClosingWeekID(boundary, loc))
}
