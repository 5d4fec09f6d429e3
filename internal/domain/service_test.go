package domain_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/worklog/internal/alias"
	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/persistence/memory"
)

func newTracker(t *testing.T) (*domain.Tracker, *memory.Repository, *time.Time) {
	t.Helper()
	repo := memory.New()
	now := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)
	tracker := domain.NewTrackerWithClock(repo, alias.NewResolver(repo), func() time.Time { return now })
	return tracker, repo, &now
}

func TestClockInOpensSession(t *testing.T) {
	tracker, _, _ := newTracker(t)
	ctx := context.Background()

	session, err := tracker.ClockIn(ctx, "g1", "u1", "mira", "Thesis Writing")
	require.NoError(t, err)
	require.Equal(t, "thesis writing", session.Activity)
	require.True(t, session.Open())
	require.NotEmpty(t, session.ID)

	active, err := tracker.Status(ctx, "g1", "u1")
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, session.ID, active.ID)
}

func TestClockInRejectsSecondSession(t *testing.T) {
	tracker, _, _ := newTracker(t)
	ctx := context.Background()

	_, err := tracker.ClockIn(ctx, "g1", "u1", "mira", "thesis")
	require.NoError(t, err)

	_, err = tracker.ClockIn(ctx, "g1", "u1", "mira", "painting")
	require.ErrorIs(t, err, domain.ErrAlreadyActive)
}

func TestClockInRejectsBlankActivity(t *testing.T) {
	tracker, _, _ := newTracker(t)

	_, err := tracker.ClockIn(context.Background(), "g1", "u1", "mira", "   ")
	require.ErrorIs(t, err, domain.ErrEmptyActivity)
}

func TestClockOutStampsMinutes(t *testing.T) {
	tracker, _, now := newTracker(t)
	ctx := context.Background()

	_, err := tracker.ClockIn(ctx, "g1", "u1", "mira", "thesis")
	require.NoError(t, err)

	*now = now.Add(90*time.Minute + 30*time.Second)
	closed, err := tracker.ClockOut(ctx, "g1", "u1")
	require.NoError(t, err)
	require.NotNil(t, closed.EndedAt)
	require.Equal(t, int64(90), closed.Minutes, "partial minutes truncate")

	active, err := tracker.Status(ctx, "g1", "u1")
	require.NoError(t, err)
	require.Nil(t, active)
}

func TestClockOutWithoutSession(t *testing.T) {
	tracker, _, _ := newTracker(t)

	_, err := tracker.ClockOut(context.Background(), "g1", "u1")
	require.ErrorIs(t, err, domain.ErrNoActiveSession)
}

func TestSwitchClosesAndOpens(t *testing.T) {
	tracker, _, now := newTracker(t)
	ctx := context.Background()

	_, err := tracker.ClockIn(ctx, "g1", "u1", "mira", "thesis")
	require.NoError(t, err)

	*now = now.Add(time.Hour)
	closed, opened, err := tracker.Switch(ctx, "g1", "u1", "mira", "painting")
	require.NoError(t, err)
	require.NotNil(t, closed)
	require.Equal(t, "thesis", closed.Activity)
	require.Equal(t, int64(60), closed.Minutes)
	require.Equal(t, "painting", opened.Activity)
	require.Equal(t, *closed.EndedAt, opened.StartedAt, "no gap between sessions")
}

func TestSwitchFromIdleActsAsClockIn(t *testing.T) {
	tracker, _, _ := newTracker(t)

	closed, opened, err := tracker.Switch(context.Background(), "g1", "u1", "mira", "painting")
	require.NoError(t, err)
	require.Nil(t, closed)
	require.Equal(t, "painting", opened.Activity)
}

func TestSessionsAreScopedPerGuild(t *testing.T) {
	tracker, _, _ := newTracker(t)
	ctx := context.Background()

	_, err := tracker.ClockIn(ctx, "g1", "u1", "mira", "thesis")
	require.NoError(t, err)

	_, err = tracker.ClockIn(ctx, "g2", "u1", "mira", "thesis")
	require.NoError(t, err, "same user may be active in another guild")
}

func TestRecentReturnsNewestFirst(t *testing.T) {
	tracker, _, now := newTracker(t)
	ctx := context.Background()

	for _, activity := range []string{"one", "two", "three"} {
		_, err := tracker.ClockIn(ctx, "g1", "u1", "mira", activity)
		require.NoError(t, err)
		*now = now.Add(10 * time.Minute)
		_, err = tracker.ClockOut(ctx, "g1", "u1")
		require.NoError(t, err)
	}

	recent, err := tracker.Recent(ctx, "g1", "u1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "three", recent[0].Activity)
	require.Equal(t, "two", recent[1].Activity)
}

func TestRenameNoopOnSameNormalizedName(t *testing.T) {
	tracker, _, _ := newTracker(t)

	count, err := tracker.Rename(context.Background(), "g1", "u1", "Thesis", "thesis")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestRenameUnknownSource(t *testing.T) {
	tracker, _, _ := newTracker(t)

	_, err := tracker.Rename(context.Background(), "g1", "u1", "nothing", "something")
	require.ErrorIs(t, err, domain.ErrUnknownActivity)
}

func TestMinutesBetween(t *testing.T) {
	start := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)

	require.Equal(t, int64(0), domain.MinutesBetween(start, start))
	require.Equal(t, int64(0), domain.MinutesBetween(start, start.Add(59*time.Second)))
	require.Equal(t, int64(1), domain.MinutesBetween(start, start.Add(61*time.Second)))
	require.Equal(t, int64(0), domain.MinutesBetween(start, start.Add(-time.Hour)), "clock skew clamps to zero")
}
