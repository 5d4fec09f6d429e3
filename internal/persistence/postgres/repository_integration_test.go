//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/rollover"
)

func TestRepositorySessionLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t, ctx)

	guildID := uuid.NewString()
	userID := uuid.NewString()
	started := time.Now().UTC().Add(-90 * time.Minute)

	require.NoError(t, repo.OpenSession(ctx, domain.Session{
		ID:        uuid.NewString(),
		GuildID:   guildID,
		UserID:    userID,
		Username:  "mira",
		Activity:  "thesis",
		StartedAt: started,
	}))

	// Second open for the same user must hit the partial unique index.
	err := repo.OpenSession(ctx, domain.Session{
		ID:        uuid.NewString(),
		GuildID:   guildID,
		UserID:    userID,
		Username:  "mira",
		Activity:  "reading",
		StartedAt: started,
	})
	require.ErrorIs(t, err, domain.ErrAlreadyActive)

	closed, err := repo.CloseSession(ctx, guildID, userID, started.Add(90*time.Minute+30*time.Second))
	require.NoError(t, err)
	require.EqualValues(t, 90, closed.Minutes)

	_, err = repo.CloseSession(ctx, guildID, userID, time.Now().UTC())
	require.ErrorIs(t, err, domain.ErrNoActiveSession)

	board, err := repo.WeeklyLeaderboard(ctx, guildID, 15)
	require.NoError(t, err)
	require.Len(t, board, 1)
	require.EqualValues(t, 90, board[0].Minutes)
}

func TestRepositoryRolloverIsIdempotentAndSplits(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t, ctx)

	guildID := uuid.NewString()
	userID := uuid.NewString()
	boundary := time.Now().UTC().Truncate(time.Minute)

	require.NoError(t, repo.OpenSession(ctx, domain.Session{
		ID:        uuid.NewString(),
		GuildID:   guildID,
		UserID:    userID,
		Username:  "noor",
		Activity:  "painting",
		StartedAt: boundary.Add(-2 * time.Hour),
	}))

	// A session opened after the boundary (catch-up run) is out of scope.
	lateUser := uuid.NewString()
	lateStart := boundary.Add(30 * time.Minute)
	require.NoError(t, repo.OpenSession(ctx, domain.Session{
		ID:        uuid.NewString(),
		GuildID:   guildID,
		UserID:    lateUser,
		Username:  "joss",
		Activity:  "reading",
		StartedAt: lateStart,
	}))

	res, err := repo.RunRollover(ctx, guildID, "2026-W30", boundary, rollover.PolicySplit)
	require.NoError(t, err)
	require.False(t, res.AlreadyDone)
	require.Len(t, res.Snapshot, 1)
	require.EqualValues(t, 120, res.Snapshot[0].Minutes)
	require.Len(t, res.Carried, 1)
	require.Equal(t, "painting", res.Carried[0].Activity)

	lateActive, err := repo.ActiveSession(ctx, guildID, lateUser)
	require.NoError(t, err)
	require.NotNil(t, lateActive)
	require.True(t, lateActive.StartedAt.Equal(lateStart))

	// The carried session is open and starts at the boundary.
	active, err := repo.ActiveSession(ctx, guildID, userID)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.True(t, active.StartedAt.Equal(boundary))

	// Replay is a no-op.
	again, err := repo.RunRollover(ctx, guildID, "2026-W30", boundary, rollover.PolicySplit)
	require.NoError(t, err)
	require.True(t, again.AlreadyDone)

	archived, err := repo.ArchivedWeek(ctx, guildID, "2026-W30")
	require.NoError(t, err)
	require.Len(t, archived, 1)

	pending, err := repo.PendingClassification(ctx, guildID)
	require.NoError(t, err)
	require.Equal(t, []string{"2026-W30"}, pending)
	require.NoError(t, repo.ClearPendingClassification(ctx, guildID, "2026-W30"))

	// Closing-week minutes moved into the all-time totals.
	alltime, err := repo.AllTimeLeaderboard(ctx, guildID, 15)
	require.NoError(t, err)
	require.Len(t, alltime, 1)
	require.EqualValues(t, 120, alltime[0].Minutes)

	weekly, err := repo.WeeklyLeaderboard(ctx, guildID, 15)
	require.NoError(t, err)
	require.Empty(t, weekly)
}

func TestRepositoryRenameMergesArchive(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t, ctx)

	guildID := uuid.NewString()
	userID := uuid.NewString()
	boundary := time.Now().UTC().Truncate(time.Minute)

	openAndClose := func(activity string, start time.Time, minutes int64) {
		require.NoError(t, repo.OpenSession(ctx, domain.Session{
			ID:        uuid.NewString(),
			GuildID:   guildID,
			UserID:    userID,
			Username:  "mira",
			Activity:  activity,
			StartedAt: start,
		}))
		_, err := repo.CloseSession(ctx, guildID, userID, start.Add(time.Duration(minutes)*time.Minute))
		require.NoError(t, err)
	}
	openAndClose("boring work", boundary.Add(-5*time.Hour), 60)
	openAndClose("work", boundary.Add(-3*time.Hour), 30)

	_, err := repo.RunRollover(ctx, guildID, "2026-W30", boundary, rollover.PolicyForceClose)
	require.NoError(t, err)

	count, err := repo.RenameActivity(ctx, guildID, userID, "boring work", "work")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	archived, err := repo.ArchivedWeek(ctx, guildID, "2026-W30")
	require.NoError(t, err)
	require.Len(t, archived, 1, "archive rows must merge under the new name")
	require.Equal(t, "work", archived[0].Activity)
	require.EqualValues(t, 90, archived[0].Minutes)

	alltime, err := repo.AllTimeLeaderboard(ctx, guildID, 15)
	require.NoError(t, err)
	require.Len(t, alltime, 1)
	require.EqualValues(t, 90, alltime[0].Minutes)
}

func newTestRepository(t *testing.T, ctx context.Context) *Repository {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("worklog"),
		postgrescontainer.WithUsername("worklog"),
		postgrescontainer.WithPassword("worklog"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return NewRepository(pool)
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	files := []string{
		"../../../db/postgres/migrations/0001_init.up.sql",
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, rel := range files {
		path := resolvePath(t, rel)
		contents, readErr := os.ReadFile(path)
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
