// Package postgres provides Postgres-backed persistence for sessions,
// aliases, weekly rollover state, and outbox events.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/worklog/internal/alias"
	"example.com/worklog/internal/classifier"
	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/events"
	"example.com/worklog/internal/observability"
	"example.com/worklog/internal/rollover"
)

// openSessionConstraint is the partial unique index that enforces at most one
// open session per (guild, user).
const openSessionConstraint = "sessions_one_open_per_user"

const (
	metaLastRolloverWeek = "last_rollover_week"
	metaPendingWeek      = "pending_classification_week"
	metaWeekStartedAt    = "week_started_at"
	metaNormalized       = "normalized_activities"
)

// Repository implements the session, alias, and rollover stores on Postgres.
//
// Per-user mutations take a shared guild advisory lock plus an exclusive
// per-user lock; the rollover takes the guild lock exclusively. Commands for
// different users proceed in parallel while the weekly boundary transaction
// drains them all.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func lockUser(ctx context.Context, tx pgx.Tx, guildID, userID string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock_shared(hashtextextended($1, 0))`, guildID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, guildID+"|"+userID)
	return err
}

func lockGuild(ctx context.Context, tx pgx.Tx, guildID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, guildID)
	return err
}

func registerGuild(ctx context.Context, tx pgx.Tx, guildID string) error {
	_, err := tx.Exec(ctx, `INSERT INTO guilds (guild_id) VALUES ($1) ON CONFLICT DO NOTHING`, guildID)
	return err
}

// OpenSession records a new open session. The partial unique index turns a
// lost race into ErrAlreadyActive.
func (r *Repository) OpenSession(ctx context.Context, session domain.Session) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = lockUser(ctx, tx, session.GuildID, session.UserID); err != nil {
		return err
	}
	if err = registerGuild(ctx, tx, session.GuildID); err != nil {
		return err
	}
	if err = insertSession(ctx, tx, session); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordSessionOpened()
	return nil
}

func insertSession(ctx context.Context, tx pgx.Tx, session domain.Session) error {
	const stmt = `INSERT INTO sessions (session_id, guild_id, user_id, username, activity, started_at)
        VALUES ($1,$2,$3,$4,$5,$6)`

	_, err := tx.Exec(ctx, stmt,
		session.ID,
		session.GuildID,
		session.UserID,
		session.Username,
		session.Activity,
		session.StartedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == openSessionConstraint {
		return domain.ErrAlreadyActive
	}
	return err
}

// closeOpenSession settles the user's open session in-transaction: stamps the
// end, credits the weekly aggregate, and queues the session.closed event. It
// returns nil, pgx.ErrNoRows when the user is idle.
func closeOpenSession(ctx context.Context, tx pgx.Tx, guildID, userID string, endedAt time.Time) (*domain.Session, error) {
	const stmt = `UPDATE sessions
        SET ended_at = $3, minutes = GREATEST(0, EXTRACT(EPOCH FROM ($3 - started_at))::bigint / 60)
        WHERE guild_id = $1 AND user_id = $2 AND ended_at IS NULL
        RETURNING session_id, guild_id, user_id, username, activity, started_at, ended_at, minutes`

	row := tx.QueryRow(ctx, stmt, guildID, userID, endedAt)
	var s domain.Session
	if err := row.Scan(&s.ID, &s.GuildID, &s.UserID, &s.Username, &s.Activity, &s.StartedAt, &s.EndedAt, &s.Minutes); err != nil {
		return nil, err
	}

	const upsert = `INSERT INTO weekly_aggregate (guild_id, user_id, username, activity, minutes, sessions)
        VALUES ($1,$2,$3,$4,$5,1)
        ON CONFLICT (guild_id, user_id, activity) DO UPDATE
        SET minutes = weekly_aggregate.minutes + EXCLUDED.minutes,
            sessions = weekly_aggregate.sessions + 1,
            username = EXCLUDED.username`
	if _, err := tx.Exec(ctx, upsert, s.GuildID, s.UserID, s.Username, s.Activity, s.Minutes); err != nil {
		return nil, err
	}

	if err := insertOutbox(ctx, tx, s.GuildID, "session", s.ID, "session.closed", s.ID+":session.closed", events.SessionClosed{
		SessionID: s.ID,
		GuildID:   s.GuildID,
		UserID:    s.UserID,
		Username:  s.Username,
		Activity:  s.Activity,
		StartedAt: s.StartedAt,
		EndedAt:   *s.EndedAt,
		Minutes:   s.Minutes,
	}); err != nil {
		return nil, err
	}
	return &s, nil
}

// CloseSession closes the user's open session, failing with
// ErrNoActiveSession when the user is idle.
func (r *Repository) CloseSession(ctx context.Context, guildID, userID string, endedAt time.Time) (*domain.Session, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = lockUser(ctx, tx, guildID, userID); err != nil {
		return nil, err
	}

	s, err := closeOpenSession(ctx, tx, guildID, userID, endedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = domain.ErrNoActiveSession
		}
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	observability.RecordSessionClosed(s.Minutes)
	return s, nil
}

// SwitchSession closes any open session at next.StartedAt and opens next
// inside one transaction. The closed session is nil when the user was idle.
func (r *Repository) SwitchSession(ctx context.Context, guildID, userID string, next domain.Session) (*domain.Session, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = lockUser(ctx, tx, guildID, userID); err != nil {
		return nil, err
	}
	if err = registerGuild(ctx, tx, guildID); err != nil {
		return nil, err
	}

	closed, err := closeOpenSession(ctx, tx, guildID, userID, next.StartedAt)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	err = nil

	if err = insertSession(ctx, tx, next); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}

	observability.RecordSessionOpened()
	if closed != nil {
		observability.RecordSessionClosed(closed.Minutes)
	}
	return closed, nil
}

const sessionColumns = `session_id, guild_id, user_id, username, activity, started_at, ended_at, minutes`

// ActiveSession returns the user's open session, or nil when idle.
func (r *Repository) ActiveSession(ctx context.Context, guildID, userID string) (*domain.Session, error) {
	const query = `SELECT ` + sessionColumns + `
        FROM sessions WHERE guild_id=$1 AND user_id=$2 AND ended_at IS NULL`

	row := r.pool.QueryRow(ctx, query, guildID, userID)
	var s domain.Session
	if err := row.Scan(&s.ID, &s.GuildID, &s.UserID, &s.Username, &s.Activity, &s.StartedAt, &s.EndedAt, &s.Minutes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// ActiveSessions lists all open sessions, longest running first.
func (r *Repository) ActiveSessions(ctx context.Context, guildID string) ([]domain.Session, error) {
	const query = `SELECT ` + sessionColumns + `
        FROM sessions WHERE guild_id=$1 AND ended_at IS NULL
        ORDER BY started_at, user_id`
	return r.querySessions(ctx, query, guildID)
}

// RecentSessions returns the user's most recently closed sessions, newest
// first.
func (r *Repository) RecentSessions(ctx context.Context, guildID, userID string, limit int) ([]domain.Session, error) {
	const query = `SELECT ` + sessionColumns + `
        FROM sessions WHERE guild_id=$1 AND user_id=$2 AND ended_at IS NOT NULL
        ORDER BY ended_at DESC LIMIT $3`
	return r.querySessions(ctx, query, guildID, userID, limit)
}

func (r *Repository) querySessions(ctx context.Context, query string, args ...interface{}) ([]domain.Session, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.GuildID, &s.UserID, &s.Username, &s.Activity, &s.StartedAt, &s.EndedAt, &s.Minutes); err != nil {
			return nil, err
		}
		results = append(results, s)
	}
	return results, rows.Err()
}

// RenameActivity relabels a user's session history and merges the aggregate
// rows for both the live week and the all-time totals.
func (r *Repository) RenameActivity(ctx context.Context, guildID, userID, oldActivity, newActivity string) (int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = lockUser(ctx, tx, guildID, userID); err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx, `UPDATE sessions SET activity=$4 WHERE guild_id=$1 AND user_id=$2 AND activity=$3`,
		guildID, userID, oldActivity, newActivity)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		err = domain.ErrUnknownActivity
		return 0, err
	}

	for _, table := range []string{"weekly_aggregate", "alltime_aggregate"} {
		merge := `INSERT INTO ` + table + ` (guild_id, user_id, username, activity, minutes, sessions)
            SELECT guild_id, user_id, username, $4, minutes, sessions FROM ` + table + `
            WHERE guild_id=$1 AND user_id=$2 AND activity=$3
            ON CONFLICT (guild_id, user_id, activity) DO UPDATE
            SET minutes = ` + table + `.minutes + EXCLUDED.minutes,
                sessions = ` + table + `.sessions + EXCLUDED.sessions,
                username = EXCLUDED.username`
		if _, err = tx.Exec(ctx, merge, guildID, userID, oldActivity, newActivity); err != nil {
			return 0, err
		}
		if _, err = tx.Exec(ctx, `DELETE FROM `+table+` WHERE guild_id=$1 AND user_id=$2 AND activity=$3`,
			guildID, userID, oldActivity); err != nil {
			return 0, err
		}
	}

	// Archived weeks follow the rename as well, summing into any row already
	// recorded under the new name for the same week.
	const archiveMerge = `INSERT INTO weekly_archive (guild_id, week_id, user_id, username, activity, minutes)
        SELECT guild_id, week_id, user_id, username, $4, minutes FROM weekly_archive
        WHERE guild_id=$1 AND user_id=$2 AND activity=$3
        ON CONFLICT (guild_id, week_id, user_id, activity) DO UPDATE
        SET minutes = weekly_archive.minutes + EXCLUDED.minutes,
            username = EXCLUDED.username`
	if _, err = tx.Exec(ctx, archiveMerge, guildID, userID, oldActivity, newActivity); err != nil {
		return 0, err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM weekly_archive WHERE guild_id=$1 AND user_id=$2 AND activity=$3`,
		guildID, userID, oldActivity); err != nil {
		return 0, err
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// NormalizeHistory rewrites stored activity names through the current
// normalization rules. One-shot per guild: a metadata flag marks guilds that
// were already cleaned, so restarting the service is free.
func (r *Repository) NormalizeHistory(ctx context.Context) error {
	guilds, err := r.Guilds(ctx)
	if err != nil {
		return err
	}
	for _, guildID := range guilds {
		if err := r.normalizeGuild(ctx, guildID); err != nil {
			return fmt.Errorf("normalize guild %s: %w", guildID, err)
		}
	}
	return nil
}

func (r *Repository) normalizeGuild(ctx context.Context, guildID string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = lockGuild(ctx, tx, guildID); err != nil {
		return err
	}

	var flag string
	err = tx.QueryRow(ctx, `SELECT value FROM metadata WHERE guild_id=$1 AND key=$2`,
		guildID, metaNormalized).Scan(&flag)
	if err == nil {
		return tx.Commit(ctx)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	err = nil

	rows, err := tx.Query(ctx, `SELECT DISTINCT activity FROM sessions WHERE guild_id=$1`, guildID)
	if err != nil {
		return err
	}
	var dirty [][2]string
	for rows.Next() {
		var activity string
		if err = rows.Scan(&activity); err != nil {
			rows.Close()
			return err
		}
		if normalized := alias.Normalize(activity); normalized != activity && normalized != "" {
			dirty = append(dirty, [2]string{activity, normalized})
		}
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return err
	}

	for _, pair := range dirty {
		if _, err = tx.Exec(ctx, `UPDATE sessions SET activity=$3 WHERE guild_id=$1 AND activity=$2`,
			guildID, pair[0], pair[1]); err != nil {
			return err
		}
		for _, table := range []string{"weekly_aggregate", "alltime_aggregate"} {
			merge := `INSERT INTO ` + table + ` (guild_id, user_id, username, activity, minutes, sessions)
                SELECT guild_id, user_id, username, $3, minutes, sessions FROM ` + table + `
                WHERE guild_id=$1 AND activity=$2
                ON CONFLICT (guild_id, user_id, activity) DO UPDATE
                SET minutes = ` + table + `.minutes + EXCLUDED.minutes,
                    sessions = ` + table + `.sessions + EXCLUDED.sessions,
                    username = EXCLUDED.username`
			if _, err = tx.Exec(ctx, merge, guildID, pair[0], pair[1]); err != nil {
				return err
			}
			if _, err = tx.Exec(ctx, `DELETE FROM `+table+` WHERE guild_id=$1 AND activity=$2`,
				guildID, pair[0]); err != nil {
				return err
			}
		}
		const archiveMerge = `INSERT INTO weekly_archive (guild_id, week_id, user_id, username, activity, minutes)
            SELECT guild_id, week_id, user_id, username, $3, minutes FROM weekly_archive
            WHERE guild_id=$1 AND activity=$2
            ON CONFLICT (guild_id, week_id, user_id, activity) DO UPDATE
            SET minutes = weekly_archive.minutes + EXCLUDED.minutes,
                username = EXCLUDED.username`
		if _, err = tx.Exec(ctx, archiveMerge, guildID, pair[0], pair[1]); err != nil {
			return err
		}
		if _, err = tx.Exec(ctx, `DELETE FROM weekly_archive WHERE guild_id=$1 AND activity=$2`,
			guildID, pair[0]); err != nil {
			return err
		}
	}

	if err = upsertMetadata(ctx, tx, guildID, metaNormalized, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// WeeklyLeaderboard ranks users by current-week minutes.
func (r *Repository) WeeklyLeaderboard(ctx context.Context, guildID string, limit int) ([]domain.LeaderboardEntry, error) {
	const query = `SELECT user_id, MAX(username), SUM(minutes)
        FROM weekly_aggregate WHERE guild_id=$1
        GROUP BY user_id
        ORDER BY SUM(minutes) DESC, user_id
        LIMIT $2`
	return r.queryLeaderboard(ctx, query, guildID, limit)
}

// AllTimeLeaderboard ranks users by migrated all-time totals plus the live
// current week.
func (r *Repository) AllTimeLeaderboard(ctx context.Context, guildID string, limit int) ([]domain.LeaderboardEntry, error) {
	const query = `SELECT user_id, MAX(username), SUM(minutes) FROM (
            SELECT user_id, username, minutes FROM alltime_aggregate WHERE guild_id=$1
            UNION ALL
            SELECT user_id, username, minutes FROM weekly_aggregate WHERE guild_id=$1
        ) totals
        GROUP BY user_id
        ORDER BY SUM(minutes) DESC, user_id
        LIMIT $2`
	return r.queryLeaderboard(ctx, query, guildID, limit)
}

func (r *Repository) queryLeaderboard(ctx context.Context, query string, args ...interface{}) ([]domain.LeaderboardEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.Username, &e.Minutes); err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// WeeklySummary aggregates the live week for the stats command.
func (r *Repository) WeeklySummary(ctx context.Context, guildID string) (*domain.WeeklySummary, error) {
	summary := &domain.WeeklySummary{}

	const breakdown = `SELECT user_id, username, activity, minutes, sessions
        FROM weekly_aggregate WHERE guild_id=$1
        ORDER BY minutes DESC, user_id`
	rows, err := r.pool.Query(ctx, breakdown, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make(map[string]struct{})
	for rows.Next() {
		var b domain.ActivityBreakdown
		if err := rows.Scan(&b.UserID, &b.Username, &b.Activity, &b.Minutes, &b.Sessions); err != nil {
			return nil, err
		}
		summary.Breakdown = append(summary.Breakdown, b)
		summary.TotalMinutes += b.Minutes
		summary.TotalSessions += b.Sessions
		users[b.UserID] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	summary.UniqueWorkers = int64(len(users))
	if len(summary.Breakdown) > 0 {
		top := summary.Breakdown[0]
		summary.TopActivity = &top
	}

	if mvp, err := r.WeeklyLeaderboard(ctx, guildID, 1); err != nil {
		return nil, err
	} else if len(mvp) > 0 {
		summary.MVP = &mvp[0]
	}

	// Longest session of the week: bounded by the last rollover boundary so
	// carried-over history never leaks into the current week.
	const longest = `SELECT ` + sessionColumns + `
        FROM sessions
        WHERE guild_id=$1 AND ended_at IS NOT NULL
          AND ended_at >= COALESCE(
            (SELECT value::timestamptz FROM metadata WHERE guild_id=$1 AND key=$2),
            '-infinity'::timestamptz)
        ORDER BY minutes DESC, ended_at DESC LIMIT 1`
	row := r.pool.QueryRow(ctx, longest, guildID, metaWeekStartedAt)
	var s domain.Session
	if err := row.Scan(&s.ID, &s.GuildID, &s.UserID, &s.Username, &s.Activity, &s.StartedAt, &s.EndedAt, &s.Minutes); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	} else {
		summary.LongestSession = &s
	}
	return summary, nil
}

// GetAlias implements alias.Store.
func (r *Repository) GetAlias(ctx context.Context, guildID string, scope alias.Scope, ownerID, key string) (string, bool, error) {
	const query = `SELECT activity FROM aliases WHERE guild_id=$1 AND scope=$2 AND owner_id=$3 AND key=$4`

	var activity string
	if err := r.pool.QueryRow(ctx, query, guildID, string(scope), ownerID, key).Scan(&activity); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return activity, true, nil
}

// SetAlias implements alias.Store.
func (r *Repository) SetAlias(ctx context.Context, guildID string, scope alias.Scope, ownerID, key, activity string) error {
	const stmt = `INSERT INTO aliases (guild_id, scope, owner_id, key, activity)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (guild_id, scope, owner_id, key) DO UPDATE SET activity = EXCLUDED.activity`
	_, err := r.pool.Exec(ctx, stmt, guildID, string(scope), ownerID, key, activity)
	return err
}

// RemoveAlias implements alias.Store.
func (r *Repository) RemoveAlias(ctx context.Context, guildID string, scope alias.Scope, ownerID, key string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM aliases WHERE guild_id=$1 AND scope=$2 AND owner_id=$3 AND key=$4`,
		guildID, string(scope), ownerID, key)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListAliases implements alias.Store.
func (r *Repository) ListAliases(ctx context.Context, guildID string, scope alias.Scope, ownerID string) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, activity FROM aliases WHERE guild_id=$1 AND scope=$2 AND owner_id=$3`,
		guildID, string(scope), ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, activity string
		if err := rows.Scan(&key, &activity); err != nil {
			return nil, err
		}
		out[key] = activity
	}
	return out, rows.Err()
}

// Guilds lists every guild that has recorded state.
func (r *Repository) Guilds(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT guild_id FROM guilds ORDER BY guild_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var guildID string
		if err := rows.Scan(&guildID); err != nil {
			return nil, err
		}
		out = append(out, guildID)
	}
	return out, rows.Err()
}

// RunRollover archives the closing week in one transaction: open sessions are
// settled at the boundary (and re-seeded under the split policy), the weekly
// aggregate is snapshotted into the archive and migrated into the all-time
// totals, counters reset, and the week is marked pending classification.
// A repeated call for the same week is a no-op.
func (r *Repository) RunRollover(ctx context.Context, guildID, weekID string, boundary time.Time, policy rollover.Policy) (*rollover.Result, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = lockGuild(ctx, tx, guildID); err != nil {
		return nil, err
	}

	var lastWeek string
	if err = tx.QueryRow(ctx, `SELECT value FROM metadata WHERE guild_id=$1 AND key=$2`,
		guildID, metaLastRolloverWeek).Scan(&lastWeek); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	err = nil
	if lastWeek == weekID {
		tx.Rollback(ctx)
		return &rollover.Result{WeekID: weekID, AlreadyDone: true}, nil
	}

	res := &rollover.Result{WeekID: weekID}

	// Settle the open sessions that span the boundary so the closing week's
	// aggregate is complete before it is snapshotted. Sessions opened at or
	// after the boundary belong entirely to the new week and stay untouched.
	open, err := r.openSessionsForUpdate(ctx, tx, guildID, boundary)
	if err != nil {
		return nil, err
	}
	for _, s := range open {
		if _, err = closeOpenSession(ctx, tx, guildID, s.UserID, boundary); err != nil {
			return nil, err
		}
		if policy == rollover.PolicySplit {
			carried := domain.Session{
				ID:        uuid.NewString(),
				GuildID:   s.GuildID,
				UserID:    s.UserID,
				Username:  s.Username,
				Activity:  s.Activity,
				StartedAt: boundary,
			}
			if err = insertSession(ctx, tx, carried); err != nil {
				return nil, err
			}
			res.Carried = append(res.Carried, carried)
		}
	}

	const snapshot = `SELECT user_id, username, activity, minutes
        FROM weekly_aggregate WHERE guild_id=$1
        ORDER BY user_id, activity`
	rows, err := tx.Query(ctx, snapshot, guildID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var e domain.WeeklyEntry
		if err = rows.Scan(&e.UserID, &e.Username, &e.Activity, &e.Minutes); err != nil {
			rows.Close()
			return nil, err
		}
		res.Snapshot = append(res.Snapshot, e)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, err
	}

	const archive = `INSERT INTO weekly_archive (guild_id, week_id, user_id, username, activity, minutes)
        SELECT guild_id, $2, user_id, username, activity, minutes
        FROM weekly_aggregate WHERE guild_id=$1`
	if _, err = tx.Exec(ctx, archive, guildID, weekID); err != nil {
		return nil, err
	}

	const migrate = `INSERT INTO alltime_aggregate (guild_id, user_id, username, activity, minutes, sessions)
        SELECT guild_id, user_id, username, activity, minutes, sessions
        FROM weekly_aggregate WHERE guild_id=$1
        ON CONFLICT (guild_id, user_id, activity) DO UPDATE
        SET minutes = alltime_aggregate.minutes + EXCLUDED.minutes,
            sessions = alltime_aggregate.sessions + EXCLUDED.sessions,
            username = EXCLUDED.username`
	if _, err = tx.Exec(ctx, migrate, guildID); err != nil {
		return nil, err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM weekly_aggregate WHERE guild_id=$1`, guildID); err != nil {
		return nil, err
	}

	for key, value := range map[string]string{
		metaLastRolloverWeek: weekID,
		metaWeekStartedAt:    boundary.UTC().Format(time.RFC3339Nano),
	} {
		if err = upsertMetadata(ctx, tx, guildID, key, value); err != nil {
			return nil, err
		}
	}
	// Pending weeks accumulate: a week deferred by a classification outage
	// must survive the next boundary's rollover.
	if err = appendPendingWeek(ctx, tx, guildID, weekID); err != nil {
		return nil, err
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Repository) openSessionsForUpdate(ctx context.Context, tx pgx.Tx, guildID string, before time.Time) ([]domain.Session, error) {
	const query = `SELECT ` + sessionColumns + `
        FROM sessions WHERE guild_id=$1 AND ended_at IS NULL AND started_at < $2
        ORDER BY user_id
        FOR UPDATE`
	rows, err := tx.Query(ctx, query, guildID, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(&s.ID, &s.GuildID, &s.UserID, &s.Username, &s.Activity, &s.StartedAt, &s.EndedAt, &s.Minutes); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func upsertMetadata(ctx context.Context, tx pgx.Tx, guildID, key, value string) error {
	const stmt = `INSERT INTO metadata (guild_id, key, value)
        VALUES ($1,$2,$3)
        ON CONFLICT (guild_id, key) DO UPDATE SET value = EXCLUDED.value`
	_, err := tx.Exec(ctx, stmt, guildID, key, value)
	return err
}

// ArchivedWeek returns the archived snapshot for a week, nil when absent.
func (r *Repository) ArchivedWeek(ctx context.Context, guildID, weekID string) ([]domain.WeeklyEntry, error) {
	const query = `SELECT user_id, username, activity, minutes
        FROM weekly_archive WHERE guild_id=$1 AND week_id=$2
        ORDER BY user_id, activity`
	rows, err := r.pool.Query(ctx, query, guildID, weekID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WeeklyEntry
	for rows.Next() {
		var e domain.WeeklyEntry
		if err := rows.Scan(&e.UserID, &e.Username, &e.Activity, &e.Minutes); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PendingClassification lists the weeks awaiting classification, oldest first.
func (r *Repository) PendingClassification(ctx context.Context, guildID string) ([]string, error) {
	var raw string
	err := r.pool.QueryRow(ctx, `SELECT value FROM metadata WHERE guild_id=$1 AND key=$2`,
		guildID, metaPendingWeek).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return splitWeeks(raw), nil
}

// ClearPendingClassification removes weekID from the pending marker.
func (r *Repository) ClearPendingClassification(ctx context.Context, guildID, weekID string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = lockGuild(ctx, tx, guildID); err != nil {
		return err
	}

	var raw string
	err = tx.QueryRow(ctx, `SELECT value FROM metadata WHERE guild_id=$1 AND key=$2`,
		guildID, metaPendingWeek).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
		return tx.Commit(ctx)
	}
	if err != nil {
		return err
	}

	var kept []string
	for _, w := range splitWeeks(raw) {
		if w != weekID {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		_, err = tx.Exec(ctx, `DELETE FROM metadata WHERE guild_id=$1 AND key=$2`, guildID, metaPendingWeek)
	} else {
		err = upsertMetadata(ctx, tx, guildID, metaPendingWeek, strings.Join(kept, ","))
	}
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func appendPendingWeek(ctx context.Context, tx pgx.Tx, guildID, weekID string) error {
	var raw string
	err := tx.QueryRow(ctx, `SELECT value FROM metadata WHERE guild_id=$1 AND key=$2`,
		guildID, metaPendingWeek).Scan(&raw)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	weeks := splitWeeks(raw)
	for _, w := range weeks {
		if w == weekID {
			return nil
		}
	}
	weeks = append(weeks, weekID)
	return upsertMetadata(ctx, tx, guildID, metaPendingWeek, strings.Join(weeks, ","))
}

func splitWeeks(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

// SaveRoleAssignments persists the week's classification outcome and queues a
// role.assigned event per user. The previous (style, tier) is captured inside
// the same transaction so the consumer can revoke last week's role without
// reading back.
func (r *Repository) SaveRoleAssignments(ctx context.Context, guildID, weekID string, assignments []classifier.Assignment) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if err = lockGuild(ctx, tx, guildID); err != nil {
		return err
	}

	assignedAt := time.Now().UTC()
	for _, a := range assignments {
		var prevStyle string
		var prevTier int
		if err = tx.QueryRow(ctx, `SELECT style, tier FROM role_current WHERE guild_id=$1 AND user_id=$2`,
			guildID, a.UserID).Scan(&prevStyle, &prevTier); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		err = nil

		const insert = `INSERT INTO role_assignments (guild_id, week_id, user_id, username, style, tier, total_minutes, assigned_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
            ON CONFLICT (guild_id, week_id, user_id) DO UPDATE
            SET style = EXCLUDED.style, tier = EXCLUDED.tier,
                total_minutes = EXCLUDED.total_minutes, assigned_at = EXCLUDED.assigned_at`
		if _, err = tx.Exec(ctx, insert, guildID, weekID, a.UserID, a.Username, a.Style, a.Tier, a.TotalMinutes, assignedAt); err != nil {
			return err
		}

		const current = `INSERT INTO role_current (guild_id, user_id, style, tier)
            VALUES ($1,$2,$3,$4)
            ON CONFLICT (guild_id, user_id) DO UPDATE
            SET style = EXCLUDED.style, tier = EXCLUDED.tier`
		if _, err = tx.Exec(ctx, current, guildID, a.UserID, a.Style, a.Tier); err != nil {
			return err
		}

		dedupeKey := fmt.Sprintf("%s:%s:role.assigned", weekID, a.UserID)
		if err = insertOutbox(ctx, tx, guildID, "role", a.UserID, "role.assigned", dedupeKey, events.RoleAssigned{
			GuildID:      guildID,
			UserID:       a.UserID,
			Username:     a.Username,
			Style:        a.Style,
			Tier:         a.Tier,
			PrevStyle:    prevStyle,
			PrevTier:     prevTier,
			WeekID:       weekID,
			TotalMinutes: a.TotalMinutes,
			AssignedAt:   assignedAt,
		}); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// insertOutbox queues an event for the dispatcher. The dedupe key makes
// re-running an idempotent transaction (a classification retry, say) a no-op
// instead of a duplicate publish.
func insertOutbox(ctx context.Context, tx pgx.Tx, guildID, aggregateType, aggregateID, eventType, dedupeKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (guild_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		guildID,
		aggregateType,
		aggregateID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		guildID+":"+aggregateID,
		body,
		dedupeKey,
	)
	return err
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	"session.closed": {
		Topic:         "worklog_session_events",
		SchemaSubject: "worklog_session_events-value",
	},
	"role.assigned": {
		Topic:         "worklog_role_events",
		SchemaSubject: "worklog_role_events-value",
	},
}
