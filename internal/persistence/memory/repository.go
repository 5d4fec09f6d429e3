// Package memory provides an in-process repository used by unit tests and
// local development. It mirrors the Postgres repository's semantics, including
// rollover idempotency and the pending-classification marker.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/worklog/internal/alias"
	"example.com/worklog/internal/classifier"
	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/rollover"
)

type aggregateRow struct {
	userID   string
	username string
	activity string
	minutes  int64
	sessions int64
}

type roleState struct {
	style string
	tier  int
}

type guildState struct {
	open    map[string]*domain.Session // keyed by user ID
	closed  []domain.Session           // newest appended last
	weekly  map[string]*aggregateRow   // keyed by user|activity
	alltime map[string]*aggregateRow
	aliases map[string]string // keyed by scope|owner|key

	lastRolloverWeek string
	pendingWeeks     []string
	weekStartedAt    time.Time
	archives         map[string][]domain.WeeklyEntry // keyed by week ID
	assignments      map[string][]classifier.Assignment
	roles            map[string]roleState // current role per user ID
}

// Repository is a mutex-guarded in-memory implementation of the session,
// alias, and rollover stores.
type Repository struct {
	mu     sync.RWMutex
	guilds map[string]*guildState
}

// New constructs an empty Repository.
func New() *Repository {
	return &Repository{guilds: make(map[string]*guildState)}
}

func (r *Repository) guild(guildID string) *guildState {
	g, ok := r.guilds[guildID]
	if !ok {
		g = &guildState{
			open:        make(map[string]*domain.Session),
			weekly:      make(map[string]*aggregateRow),
			alltime:     make(map[string]*aggregateRow),
			aliases:     make(map[string]string),
			archives:    make(map[string][]domain.WeeklyEntry),
			assignments: make(map[string][]classifier.Assignment),
			roles:       make(map[string]roleState),
		}
		r.guilds[guildID] = g
	}
	return g
}

func aggregateKey(userID, activity string) string {
	return userID + "|" + activity
}

func bump(rows map[string]*aggregateRow, userID, username, activity string, minutes, sessions int64) {
	key := aggregateKey(userID, activity)
	row, ok := rows[key]
	if !ok {
		row = &aggregateRow{userID: userID, username: username, activity: activity}
		rows[key] = row
	}
	row.username = username
	row.minutes += minutes
	row.sessions += sessions
}

// OpenSession records a new open session, failing when one already exists.
func (r *Repository) OpenSession(_ context.Context, session domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.guild(session.GuildID)
	if _, busy := g.open[session.UserID]; busy {
		return domain.ErrAlreadyActive
	}
	s := session
	g.open[session.UserID] = &s
	return nil
}

func (g *guildState) closeLocked(userID string, endedAt time.Time) (*domain.Session, error) {
	s, ok := g.open[userID]
	if !ok {
		return nil, domain.ErrNoActiveSession
	}
	delete(g.open, userID)

	ended := endedAt
	s.EndedAt = &ended
	s.Minutes = domain.MinutesBetween(s.StartedAt, endedAt)
	g.closed = append(g.closed, *s)
	bump(g.weekly, s.UserID, s.Username, s.Activity, s.Minutes, 1)
	return s, nil
}

// CloseSession closes the user's open session and credits its minutes to the
// current week's aggregate.
func (r *Repository) CloseSession(_ context.Context, guildID, userID string, endedAt time.Time) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.guild(guildID).closeLocked(userID, endedAt)
}

// SwitchSession closes any open session at next.StartedAt and opens next.
func (r *Repository) SwitchSession(_ context.Context, guildID, userID string, next domain.Session) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.guild(guildID)
	var closed *domain.Session
	if _, busy := g.open[userID]; busy {
		var err error
		closed, err = g.closeLocked(userID, next.StartedAt)
		if err != nil {
			return nil, err
		}
	}
	s := next
	g.open[userID] = &s
	return closed, nil
}

// ActiveSession returns the user's open session, or nil when idle.
func (r *Repository) ActiveSession(_ context.Context, guildID, userID string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.guilds[guildID]
	if !ok {
		return nil, nil
	}
	s, ok := g.open[userID]
	if !ok {
		return nil, nil
	}
	out := *s
	return &out, nil
}

// ActiveSessions lists all open sessions, longest running first.
func (r *Repository) ActiveSessions(_ context.Context, guildID string) ([]domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.guilds[guildID]
	if !ok {
		return nil, nil
	}
	out := make([]domain.Session, 0, len(g.open))
	for _, s := range g.open {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

// RecentSessions returns the user's most recently closed sessions, newest
// first.
func (r *Repository) RecentSessions(_ context.Context, guildID, userID string, limit int) ([]domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.guilds[guildID]
	if !ok {
		return nil, nil
	}
	var out []domain.Session
	for i := len(g.closed) - 1; i >= 0 && len(out) < limit; i-- {
		if g.closed[i].UserID == userID {
			out = append(out, g.closed[i])
		}
	}
	return out, nil
}

// RenameActivity relabels the user's session history and merges aggregate
// rows. It returns the number of session rows relabeled.
func (r *Repository) RenameActivity(_ context.Context, guildID, userID, oldActivity, newActivity string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.guild(guildID)
	var count int64
	for i := range g.closed {
		if g.closed[i].UserID == userID && g.closed[i].Activity == oldActivity {
			g.closed[i].Activity = newActivity
			count++
		}
	}
	if s, ok := g.open[userID]; ok && s.Activity == oldActivity {
		s.Activity = newActivity
		count++
	}
	mergeRename(g.weekly, userID, oldActivity, newActivity)
	mergeRename(g.alltime, userID, oldActivity, newActivity)
	for weekID, entries := range g.archives {
		g.archives[weekID] = mergeArchiveRename(entries, userID, oldActivity, newActivity)
	}

	if count == 0 {
		return 0, domain.ErrUnknownActivity
	}
	return count, nil
}

func mergeRename(rows map[string]*aggregateRow, userID, oldActivity, newActivity string) {
	oldKey := aggregateKey(userID, oldActivity)
	row, ok := rows[oldKey]
	if !ok {
		return
	}
	delete(rows, oldKey)
	bump(rows, row.userID, row.username, newActivity, row.minutes, row.sessions)
}

func mergeArchiveRename(entries []domain.WeeklyEntry, userID, oldActivity, newActivity string) []domain.WeeklyEntry {
	var moved *domain.WeeklyEntry
	out := make([]domain.WeeklyEntry, 0, len(entries))
	for _, e := range entries {
		if e.UserID == userID && e.Activity == oldActivity {
			moved = &domain.WeeklyEntry{UserID: e.UserID, Username: e.Username, Activity: newActivity, Minutes: e.Minutes}
			continue
		}
		out = append(out, e)
	}
	if moved == nil {
		return entries
	}
	for i := range out {
		if out[i].UserID == userID && out[i].Activity == newActivity {
			out[i].Minutes += moved.Minutes
			return out
		}
	}
	out = append(out, *moved)
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Activity < out[j].Activity
	})
	return out
}

func rankUsers(rowSets []map[string]*aggregateRow, limit int) []domain.LeaderboardEntry {
	totals := make(map[string]*domain.LeaderboardEntry)
	for _, rows := range rowSets {
		for _, row := range rows {
			entry, ok := totals[row.userID]
			if !ok {
				entry = &domain.LeaderboardEntry{UserID: row.userID, Username: row.username}
				totals[row.userID] = entry
			}
			entry.Username = row.username
			entry.Minutes += row.minutes
		}
	}
	out := make([]domain.LeaderboardEntry, 0, len(totals))
	for _, entry := range totals {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Minutes != out[j].Minutes {
			return out[i].Minutes > out[j].Minutes
		}
		return out[i].UserID < out[j].UserID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// WeeklyLeaderboard ranks users by current-week minutes.
func (r *Repository) WeeklyLeaderboard(_ context.Context, guildID string, limit int) ([]domain.LeaderboardEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.guilds[guildID]
	if !ok {
		return nil, nil
	}
	return rankUsers([]map[string]*aggregateRow{g.weekly}, limit), nil
}

// AllTimeLeaderboard ranks users by cumulative minutes: migrated all-time
// totals plus the live current week.
func (r *Repository) AllTimeLeaderboard(_ context.Context, guildID string, limit int) ([]domain.LeaderboardEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.guilds[guildID]
	if !ok {
		return nil, nil
	}
	return rankUsers([]map[string]*aggregateRow{g.alltime, g.weekly}, limit), nil
}

// WeeklySummary aggregates the current week for the stats command.
func (r *Repository) WeeklySummary(_ context.Context, guildID string) (*domain.WeeklySummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summary := &domain.WeeklySummary{}
	g, ok := r.guilds[guildID]
	if !ok {
		return summary, nil
	}

	users := make(map[string]struct{})
	for _, row := range g.weekly {
		summary.TotalMinutes += row.minutes
		summary.TotalSessions += row.sessions
		users[row.userID] = struct{}{}
		summary.Breakdown = append(summary.Breakdown, domain.ActivityBreakdown{
			UserID:   row.userID,
			Username: row.username,
			Activity: row.activity,
			Minutes:  row.minutes,
			Sessions: row.sessions,
		})
	}
	summary.UniqueWorkers = int64(len(users))
	sort.Slice(summary.Breakdown, func(i, j int) bool {
		if summary.Breakdown[i].Minutes != summary.Breakdown[j].Minutes {
			return summary.Breakdown[i].Minutes > summary.Breakdown[j].Minutes
		}
		return summary.Breakdown[i].UserID < summary.Breakdown[j].UserID
	})
	if len(summary.Breakdown) > 0 {
		top := summary.Breakdown[0]
		summary.TopActivity = &top
	}
	if ranked := rankUsers([]map[string]*aggregateRow{g.weekly}, 1); len(ranked) > 0 {
		summary.MVP = &ranked[0]
	}
	for i := range g.closed {
		s := g.closed[i]
		if s.EndedAt.Before(g.weekStartedAt) {
			continue
		}
		if summary.LongestSession == nil || s.Minutes > summary.LongestSession.Minutes {
			longest := s
			summary.LongestSession = &longest
		}
	}
	return summary, nil
}

// GetAlias implements alias.Store.
func (r *Repository) GetAlias(_ context.Context, guildID string, scope alias.Scope, ownerID, key string) (string, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.guilds[guildID]
	if !ok {
		return "", false, nil
	}
	activity, ok := g.aliases[aliasKey(scope, ownerID, key)]
	return activity, ok, nil
}

// SetAlias implements alias.Store.
func (r *Repository) SetAlias(_ context.Context, guildID string, scope alias.Scope, ownerID, key, activity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.guild(guildID).aliases[aliasKey(scope, ownerID, key)] = activity
	return nil
}

// RemoveAlias implements alias.Store.
func (r *Repository) RemoveAlias(_ context.Context, guildID string, scope alias.Scope, ownerID, key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.guild(guildID)
	k := aliasKey(scope, ownerID, key)
	_, ok := g.aliases[k]
	delete(g.aliases, k)
	return ok, nil
}

// ListAliases implements alias.Store.
func (r *Repository) ListAliases(_ context.Context, guildID string, scope alias.Scope, ownerID string) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string)
	g, ok := r.guilds[guildID]
	if !ok {
		return out, nil
	}
	prefix := aliasKey(scope, ownerID, "")
	for k, activity := range g.aliases {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out[k[len(prefix):]] = activity
		}
	}
	return out, nil
}

func aliasKey(scope alias.Scope, ownerID, key string) string {
	return string(scope) + "|" + ownerID + "|" + key
}

// Guilds lists every guild that has recorded state, sorted.
func (r *Repository) Guilds(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.guilds))
	for guildID := range r.guilds {
		out = append(out, guildID)
	}
	sort.Strings(out)
	return out, nil
}

// RunRollover archives the closing week, migrates the weekly aggregate into
// the all-time totals, re-seeds open sessions per policy, and marks the week
// pending classification. Calling it twice for the same week is a no-op.
func (r *Repository) RunRollover(_ context.Context, guildID, weekID string, boundary time.Time, policy rollover.Policy) (*rollover.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.guild(guildID)
	if g.lastRolloverWeek == weekID {
		return &rollover.Result{WeekID: weekID, AlreadyDone: true}, nil
	}

	res := &rollover.Result{WeekID: weekID}

	// Settle the open sessions that span the boundary so their pre-boundary
	// minutes land in the closing week's aggregate. Sessions opened at or
	// after the boundary belong entirely to the new week and stay untouched.
	userIDs := make([]string, 0, len(g.open))
	for userID, s := range g.open {
		if s.StartedAt.Before(boundary) {
			userIDs = append(userIDs, userID)
		}
	}
	sort.Strings(userIDs)
	for _, userID := range userIDs {
		closed, err := g.closeLocked(userID, boundary)
		if err != nil {
			return nil, err
		}
		if policy == rollover.PolicySplit {
			carried := domain.Session{
				ID:        closed.ID + "-carry",
				GuildID:   closed.GuildID,
				UserID:    closed.UserID,
				Username:  closed.Username,
				Activity:  closed.Activity,
				StartedAt: boundary,
			}
			res.Carried = append(res.Carried, carried)
		}
	}

	for _, row := range g.weekly {
		res.Snapshot = append(res.Snapshot, domain.WeeklyEntry{
			UserID:   row.userID,
			Username: row.username,
			Activity: row.activity,
			Minutes:  row.minutes,
		})
		bump(g.alltime, row.userID, row.username, row.activity, row.minutes, row.sessions)
	}
	sort.Slice(res.Snapshot, func(i, j int) bool {
		if res.Snapshot[i].UserID != res.Snapshot[j].UserID {
			return res.Snapshot[i].UserID < res.Snapshot[j].UserID
		}
		return res.Snapshot[i].Activity < res.Snapshot[j].Activity
	})

	g.weekly = make(map[string]*aggregateRow)
	g.archives[weekID] = append([]domain.WeeklyEntry(nil), res.Snapshot...)
	g.lastRolloverWeek = weekID
	g.appendPendingLocked(weekID)
	g.weekStartedAt = boundary

	for i := range res.Carried {
		s := res.Carried[i]
		g.open[s.UserID] = &s
	}
	return res, nil
}

// ArchivedWeek returns the archived snapshot for a week, nil when absent.
func (r *Repository) ArchivedWeek(_ context.Context, guildID, weekID string) ([]domain.WeeklyEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.guilds[guildID]
	if !ok {
		return nil, nil
	}
	return append([]domain.WeeklyEntry(nil), g.archives[weekID]...), nil
}

func (g *guildState) appendPendingLocked(weekID string) {
	for _, w := range g.pendingWeeks {
		if w == weekID {
			return
		}
	}
	g.pendingWeeks = append(g.pendingWeeks, weekID)
}

// PendingClassification lists the weeks awaiting classification, oldest first.
func (r *Repository) PendingClassification(_ context.Context, guildID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.guilds[guildID]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), g.pendingWeeks...), nil
}

// ClearPendingClassification removes weekID from the pending marker.
func (r *Repository) ClearPendingClassification(_ context.Context, guildID, weekID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.guild(guildID)
	kept := g.pendingWeeks[:0]
	for _, w := range g.pendingWeeks {
		if w != weekID {
			kept = append(kept, w)
		}
	}
	g.pendingWeeks = kept
	return nil
}

// SaveRoleAssignments records the week's assignments and updates each user's
// current role state.
func (r *Repository) SaveRoleAssignments(_ context.Context, guildID, weekID string, assignments []classifier.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := r.guild(guildID)
	g.assignments[weekID] = append([]classifier.Assignment(nil), assignments...)
	for _, a := range assignments {
		g.roles[a.UserID] = roleState{style: a.Style, tier: a.Tier}
	}
	return nil
}

// Assignments returns the saved assignments for a week. Test hook.
func (r *Repository) Assignments(guildID, weekID string) []classifier.Assignment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.guilds[guildID]
	if !ok {
		return nil
	}
	return append([]classifier.Assignment(nil), g.assignments[weekID]...)
}

// CurrentRole returns the user's latest (style, tier), with ok reporting
// whether any assignment exists. Test hook.
func (r *Repository) CurrentRole(guildID, userID string) (style string, tier int, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, found := r.guilds[guildID]
	if !found {
		return "", 0, false
	}
	state, found := g.roles[userID]
	return state.style, state.tier, found
}
