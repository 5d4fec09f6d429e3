// Package domain defines the session engine for the worklog service.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"example.com/worklog/internal/alias"
)

var (
	// ErrAlreadyActive indicates the user already has an open session.
	ErrAlreadyActive = errors.New("user already has an open session")
	// ErrNoActiveSession indicates there is no open session to close.
	ErrNoActiveSession = errors.New("no open session for user")
	// ErrUnknownActivity is returned when a rename source has no history.
	ErrUnknownActivity = errors.New("no sessions recorded for activity")
	// ErrEmptyActivity rejects clock-ins with a blank activity name.
	ErrEmptyActivity = errors.New("activity name is empty")
)

// DefaultRecentLimit bounds the recent-session listing when the caller does
// not ask for a specific count.
const DefaultRecentLimit = 5

// LeaderboardLimit caps leaderboard rows returned for display.
const LeaderboardLimit = 15

// Repository captures persistence operations for the session engine. Mutating
// operations must serialize per (guild, user) so concurrent commands for the
// same user cannot both observe an idle state.
type Repository interface {
	OpenSession(ctx context.Context, session Session) error
	CloseSession(ctx context.Context, guildID, userID string, endedAt time.Time) (*Session, error)
	// SwitchSession closes any open session at next.StartedAt and opens next
	// as one atomic unit. The closed session is nil when the user was idle.
	SwitchSession(ctx context.Context, guildID, userID string, next Session) (*Session, error)
	ActiveSession(ctx context.Context, guildID, userID string) (*Session, error)
	ActiveSessions(ctx context.Context, guildID string) ([]Session, error)
	RecentSessions(ctx context.Context, guildID, userID string, limit int) ([]Session, error)
	RenameActivity(ctx context.Context, guildID, userID, oldActivity, newActivity string) (int64, error)
	WeeklyLeaderboard(ctx context.Context, guildID string, limit int) ([]LeaderboardEntry, error)
	AllTimeLeaderboard(ctx context.Context, guildID string, limit int) ([]LeaderboardEntry, error)
	WeeklySummary(ctx context.Context, guildID string) (*WeeklySummary, error)
}

// Tracker orchestrates the per-user clock in/out state machine.
type Tracker struct {
	repo     Repository
	resolver *alias.Resolver
	now      func() time.Time
}

// NewTracker constructs a Tracker.
func NewTracker(repo Repository, resolver *alias.Resolver) *Tracker {
	return NewTrackerWithClock(repo, resolver, func() time.Time { return time.Now().UTC() })
}

// NewTrackerWithClock constructs a Tracker with an explicit clock.
func NewTrackerWithClock(repo Repository, resolver *alias.Resolver, now func() time.Time) *Tracker {
	return &Tracker{repo: repo, resolver: resolver, now: now}
}

// ClockIn opens a session on the resolved activity. Fails with
// ErrAlreadyActive when a session is already open.
func (t *Tracker) ClockIn(ctx context.Context, guildID, userID, username, rawActivity string) (*Session, error) {
	activity, err := t.resolver.Resolve(ctx, guildID, userID, rawActivity)
	if err != nil {
		return nil, err
	}
	if activity == "" {
		return nil, ErrEmptyActivity
	}

	session := Session{
		ID:        uuid.NewString(),
		GuildID:   guildID,
		UserID:    userID,
		Username:  username,
		Activity:  activity,
		StartedAt: t.now(),
	}
	if err := t.repo.OpenSession(ctx, session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ClockOut closes the open session and returns it with EndedAt and Minutes
// stamped. Fails with ErrNoActiveSession when the user is idle.
func (t *Tracker) ClockOut(ctx context.Context, guildID, userID string) (*Session, error) {
	return t.repo.CloseSession(ctx, guildID, userID, t.now())
}

// Switch atomically closes the current session (if any) and opens a new one on
// the resolved activity. No observer ever sees the user with zero or two open
// sessions mid-switch.
func (t *Tracker) Switch(ctx context.Context, guildID, userID, username, rawActivity string) (closed, opened *Session, err error) {
	activity, err := t.resolver.Resolve(ctx, guildID, userID, rawActivity)
	if err != nil {
		return nil, nil, err
	}
	if activity == "" {
		return nil, nil, ErrEmptyActivity
	}

	next := Session{
		ID:        uuid.NewString(),
		GuildID:   guildID,
		UserID:    userID,
		Username:  username,
		Activity:  activity,
		StartedAt: t.now(),
	}
	closed, err = t.repo.SwitchSession(ctx, guildID, userID, next)
	if err != nil {
		return nil, nil, err
	}
	return closed, &next, nil
}

// Status returns the user's open session, or nil when idle.
func (t *Tracker) Status(ctx context.Context, guildID, userID string) (*Session, error) {
	return t.repo.ActiveSession(ctx, guildID, userID)
}

// Who lists everyone currently clocked in, longest-running first.
func (t *Tracker) Who(ctx context.Context, guildID string) ([]Session, error) {
	return t.repo.ActiveSessions(ctx, guildID)
}

// Recent returns the user's most recently closed sessions, newest first.
func (t *Tracker) Recent(ctx context.Context, guildID, userID string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return t.repo.RecentSessions(ctx, guildID, userID, limit)
}

// Rename relabels the user's history from one canonical activity to another,
// merging minute totals where the target already has history.
func (t *Tracker) Rename(ctx context.Context, guildID, userID, oldRaw, newRaw string) (int64, error) {
	oldActivity := alias.Normalize(oldRaw)
	newActivity := alias.Normalize(newRaw)
	if oldActivity == "" || newActivity == "" {
		return 0, ErrEmptyActivity
	}
	if oldActivity == newActivity {
		return 0, nil
	}
	return t.repo.RenameActivity(ctx, guildID, userID, oldActivity, newActivity)
}

// WeeklyLeaderboard ranks users by current-week minutes.
func (t *Tracker) WeeklyLeaderboard(ctx context.Context, guildID string) ([]LeaderboardEntry, error) {
	return t.repo.WeeklyLeaderboard(ctx, guildID, LeaderboardLimit)
}

// AllTimeLeaderboard ranks users by cumulative minutes across all weeks.
func (t *Tracker) AllTimeLeaderboard(ctx context.Context, guildID string) ([]LeaderboardEntry, error) {
	return t.repo.AllTimeLeaderboard(ctx, guildID, LeaderboardLimit)
}

// WeeklySummary aggregates the current week for the stats command.
func (t *Tracker) WeeklySummary(ctx context.Context, guildID string) (*WeeklySummary, error) {
	return t.repo.WeeklySummary(ctx, guildID)
}

// Now exposes the tracker's clock so render layers report elapsed time
// consistently with session timestamps.
func (t *Tracker) Now() time.Time {
	return t.now()
}
