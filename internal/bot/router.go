// Package bot dispatches parsed chat commands to the session engine and
// renders the results as short user-facing replies.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"example.com/worklog/internal/alias"
	"example.com/worklog/internal/domain"
)

// Command is one parsed invocation from the chat-platform layer. Elevated is
// set by that layer when the caller holds admin permission; guild-scoped alias
// mutations require it.
type Command struct {
	GuildID  string
	UserID   string
	Username string
	Name     string
	Args     []string
	Elevated bool
}

// Router maps commands to operations on the session engine. Expected user
// conditions (already clocked in, nothing to clock out of) come back as plain
// replies; storage faults are logged and reported generically, never shown
// raw.
type Router struct {
	tracker  *domain.Tracker
	resolver *alias.Resolver
	logger   *zap.Logger
}

// NewRouter constructs a Router.
func NewRouter(tracker *domain.Tracker, resolver *alias.Resolver, logger *zap.Logger) *Router {
	return &Router{tracker: tracker, resolver: resolver, logger: logger}
}

const storageFailureReply = "Something went wrong on my end. Try again in a moment."

// Handle executes one command and returns the reply to render.
func (r *Router) Handle(ctx context.Context, cmd Command) string {
	reply, err := r.dispatch(ctx, cmd)
	if err == nil {
		return reply
	}

	if userReply, ok := userCondition(err); ok {
		return userReply
	}

	r.logger.Error("command failed",
		zap.String("command", cmd.Name),
		zap.String("guild_id", cmd.GuildID),
		zap.String("user_id", cmd.UserID),
		zap.Error(err))
	return storageFailureReply
}

// userCondition maps expected session-state violations to their verbatim
// user-facing messages.
func userCondition(err error) (string, bool) {
	switch {
	case errors.Is(err, domain.ErrAlreadyActive):
		return "You're already clocked in. Use `switch` to change activities.", true
	case errors.Is(err, domain.ErrNoActiveSession):
		return "You're not clocked in.", true
	case errors.Is(err, domain.ErrUnknownActivity):
		return "No sessions recorded under that activity.", true
	case errors.Is(err, domain.ErrEmptyActivity):
		return "Give me an activity name.", true
	}
	return "", false
}

func (r *Router) dispatch(ctx context.Context, cmd Command) (string, error) {
	switch cmd.Name {
	case "in":
		return r.clockIn(ctx, cmd)
	case "out":
		return r.clockOut(ctx, cmd)
	case "switch":
		return r.switchActivity(ctx, cmd)
	case "status":
		return r.status(ctx, cmd)
	case "who":
		return r.who(ctx, cmd)
	case "leaderboard":
		return r.leaderboard(ctx, cmd)
	case "stats":
		return r.stats(ctx, cmd)
	case "recent":
		return r.recent(ctx, cmd)
	case "rename":
		return r.rename(ctx, cmd)
	case "alias":
		return r.setAlias(ctx, cmd, alias.ScopeUser)
	case "aliases":
		return r.listAliases(ctx, cmd, alias.ScopeUser)
	case "unalias":
		return r.removeAlias(ctx, cmd, alias.ScopeUser)
	case "galias":
		return r.setAlias(ctx, cmd, alias.ScopeGuild)
	case "galiases":
		return r.listAliases(ctx, cmd, alias.ScopeGuild)
	case "gunalias":
		return r.removeAlias(ctx, cmd, alias.ScopeGuild)
	case "help":
		return helpText, nil
	default:
		return fmt.Sprintf("Unknown command %q. Try `help`.", cmd.Name), nil
	}
}

func (r *Router) clockIn(ctx context.Context, cmd Command) (string, error) {
	session, err := r.tracker.ClockIn(ctx, cmd.GuildID, cmd.UserID, cmd.Username, strings.Join(cmd.Args, " "))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Clocked in to **%s**.", session.Activity), nil
}

func (r *Router) clockOut(ctx context.Context, cmd Command) (string, error) {
	session, err := r.tracker.ClockOut(ctx, cmd.GuildID, cmd.UserID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Clocked out of **%s** — %s logged.", session.Activity, formatMinutes(session.Minutes)), nil
}

func (r *Router) switchActivity(ctx context.Context, cmd Command) (string, error) {
	closed, opened, err := r.tracker.Switch(ctx, cmd.GuildID, cmd.UserID, cmd.Username, strings.Join(cmd.Args, " "))
	if err != nil {
		return "", err
	}
	if closed == nil {
		return fmt.Sprintf("Clocked in to **%s**.", opened.Activity), nil
	}
	return fmt.Sprintf("Switched from **%s** (%s logged) to **%s**.",
		closed.Activity, formatMinutes(closed.Minutes), opened.Activity), nil
}

func (r *Router) status(ctx context.Context, cmd Command) (string, error) {
	session, err := r.tracker.Status(ctx, cmd.GuildID, cmd.UserID)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "You're not clocked in.", nil
	}
	elapsed := session.Elapsed(r.tracker.Now())
	return fmt.Sprintf("Clocked in to **%s** for %s.", session.Activity, formatMinutes(int64(elapsed.Minutes()))), nil
}

func (r *Router) who(ctx context.Context, cmd Command) (string, error) {
	sessions, err := r.tracker.Who(ctx, cmd.GuildID)
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "Nobody is clocked in right now.", nil
	}

	var b strings.Builder
	b.WriteString("Currently clocked in:\n")
	now := r.tracker.Now()
	for _, s := range sessions {
		fmt.Fprintf(&b, "• %s — **%s** (%s)\n", s.Username, s.Activity, formatMinutes(int64(s.Elapsed(now).Minutes())))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *Router) leaderboard(ctx context.Context, cmd Command) (string, error) {
	allTime := len(cmd.Args) > 0 && cmd.Args[0] == "all"

	var (
		entries []domain.LeaderboardEntry
		err     error
		title   string
	)
	if allTime {
		entries, err = r.tracker.AllTimeLeaderboard(ctx, cmd.GuildID)
		title = "All-time leaderboard"
	} else {
		entries, err = r.tracker.WeeklyLeaderboard(ctx, cmd.GuildID)
		title = "This week's leaderboard"
	}
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "No minutes logged yet.", nil
	}

	var b strings.Builder
	b.WriteString(title + ":\n")
	for i, e := range entries {
		fmt.Fprintf(&b, "%d. %s — %s\n", i+1, e.Username, formatMinutes(e.Minutes))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *Router) stats(ctx context.Context, cmd Command) (string, error) {
	summary, err := r.tracker.WeeklySummary(ctx, cmd.GuildID)
	if err != nil {
		return "", err
	}
	if summary.TotalMinutes == 0 && summary.TotalSessions == 0 {
		return "No minutes logged this week yet.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "This week: %s across %d sessions by %d workers.\n",
		formatMinutes(summary.TotalMinutes), summary.TotalSessions, summary.UniqueWorkers)
	if summary.MVP != nil {
		fmt.Fprintf(&b, "MVP: %s (%s)\n", summary.MVP.Username, formatMinutes(summary.MVP.Minutes))
	}
	if summary.TopActivity != nil {
		fmt.Fprintf(&b, "Top activity: **%s** (%s)\n", summary.TopActivity.Activity, formatMinutes(summary.TopActivity.Minutes))
	}
	if summary.LongestSession != nil {
		fmt.Fprintf(&b, "Longest session: %s on **%s** (%s)\n",
			summary.LongestSession.Username, summary.LongestSession.Activity, formatMinutes(summary.LongestSession.Minutes))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *Router) recent(ctx context.Context, cmd Command) (string, error) {
	limit := 0
	if len(cmd.Args) > 0 {
		if n, err := strconv.Atoi(cmd.Args[0]); err == nil {
			limit = n
		}
	}
	sessions, err := r.tracker.Recent(ctx, cmd.GuildID, cmd.UserID, limit)
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "No closed sessions yet.", nil
	}

	var b strings.Builder
	b.WriteString("Recent sessions:\n")
	for _, s := range sessions {
		fmt.Fprintf(&b, "• **%s** — %s\n", s.Activity, formatMinutes(s.Minutes))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (r *Router) rename(ctx context.Context, cmd Command) (string, error) {
	if len(cmd.Args) < 2 {
		return "Usage: `rename <old> <new>`.", nil
	}
	count, err := r.tracker.Rename(ctx, cmd.GuildID, cmd.UserID, cmd.Args[0], cmd.Args[1])
	if err != nil {
		return "", err
	}
	if count == 0 {
		return "Nothing to rename — both names resolve to the same activity.", nil
	}
	return fmt.Sprintf("Renamed %d sessions.", count), nil
}

func (r *Router) setAlias(ctx context.Context, cmd Command, scope alias.Scope) (string, error) {
	if scope == alias.ScopeGuild && !cmd.Elevated {
		return "Guild aliases require admin permission.", nil
	}
	if len(cmd.Args) < 2 {
		return "Usage: `alias <key> <activity>`.", nil
	}
	if err := r.resolver.Set(ctx, cmd.GuildID, scope, ownerFor(scope, cmd), cmd.Args[0], strings.Join(cmd.Args[1:], " ")); err != nil {
		return "", err
	}
	return fmt.Sprintf("Alias **%s** set.", alias.Normalize(cmd.Args[0])), nil
}

func (r *Router) removeAlias(ctx context.Context, cmd Command, scope alias.Scope) (string, error) {
	if scope == alias.ScopeGuild && !cmd.Elevated {
		return "Guild aliases require admin permission.", nil
	}
	if len(cmd.Args) < 1 {
		return "Usage: `unalias <key>`.", nil
	}
	removed, err := r.resolver.Remove(ctx, cmd.GuildID, scope, ownerFor(scope, cmd), cmd.Args[0])
	if err != nil {
		return "", err
	}
	if !removed {
		return "No such alias.", nil
	}
	return "Alias removed.", nil
}

func (r *Router) listAliases(ctx context.Context, cmd Command, scope alias.Scope) (string, error) {
	entries, err := r.resolver.List(ctx, cmd.GuildID, scope, ownerFor(scope, cmd))
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "No aliases set.", nil
	}

	var b strings.Builder
	b.WriteString("Aliases:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "• **%s** → %s\n", e.Key, e.Activity)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func ownerFor(scope alias.Scope, cmd Command) string {
	if scope == alias.ScopeUser {
		return cmd.UserID
	}
	return ""
}

func formatMinutes(minutes int64) string {
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}

const helpText = "Commands:\n" +
	"`in <activity>` clock in • `out` clock out • `switch <activity>` change activity\n" +
	"`status` your open session • `who` everyone clocked in • `recent [n]` your last sessions\n" +
	"`leaderboard [all]` weekly or all-time ranking • `stats` weekly summary\n" +
	"`rename <old> <new>` relabel your history\n" +
	"`alias <key> <activity>` / `aliases` / `unalias <key>` personal aliases\n" +
	"`galias` / `galiases` / `gunalias` guild aliases (admin)"
