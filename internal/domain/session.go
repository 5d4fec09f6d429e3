package domain

import "time"

// Session is one contiguous span of work on a canonical activity. EndedAt is
// nil while the session is open; Minutes is the truncated whole-minute
// duration, set when the session closes.
type Session struct {
	ID        string
	GuildID   string
	UserID    string
	Username  string
	Activity  string
	StartedAt time.Time
	EndedAt   *time.Time
	Minutes   int64
}

// Open reports whether the session has not been closed yet.
func (s Session) Open() bool {
	return s.EndedAt == nil
}

// Elapsed returns the running duration relative to now for open sessions and
// the recorded span for closed ones.
func (s Session) Elapsed(now time.Time) time.Duration {
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// MinutesBetween computes a span in whole minutes, truncated. Aggregation
// always uses this; user-facing confirmations render the full duration.
func MinutesBetween(start, end time.Time) int64 {
	if end.Before(start) {
		return 0
	}
	return int64(end.Sub(start) / time.Minute)
}

// LeaderboardEntry is one ranked row of per-user minute totals.
type LeaderboardEntry struct {
	UserID   string
	Username string
	Minutes  int64
}

// ActivityBreakdown is a per-(user, activity) minute total with session count.
type ActivityBreakdown struct {
	UserID   string
	Username string
	Activity string
	Minutes  int64
	Sessions int64
}

// WeeklyEntry is one row of the per-(user, activity) weekly snapshot.
type WeeklyEntry struct {
	UserID   string
	Username string
	Activity string
	Minutes  int64
}

// WeeklySummary aggregates the current week for the stats command.
type WeeklySummary struct {
	TotalMinutes   int64
	TotalSessions  int64
	UniqueWorkers  int64
	MVP            *LeaderboardEntry
	TopActivity    *ActivityBreakdown
	LongestSession *Session
	Breakdown      []ActivityBreakdown
}
