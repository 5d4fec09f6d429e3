// Package api exposes the read-only admin HTTP surface of the worklog
// service: leaderboards, weekly stats, archived weeks, and an admin rename.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"example.com/worklog/internal/auth"
	"example.com/worklog/internal/domain"
)

// Archive reads immutable weekly snapshots.
type Archive interface {
	ArchivedWeek(ctx context.Context, guildID, weekID string) ([]domain.WeeklyEntry, error)
}

// Handler coordinates HTTP requests with the session engine.
type Handler struct {
	tracker *domain.Tracker
	archive Archive
}

// NewHandler builds a Handler.
func NewHandler(tracker *domain.Tracker, archive Archive) *Handler {
	return &Handler{tracker: tracker, archive: archive}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/leaderboard", h.leaderboard)
	mux.HandleFunc("/v1/stats", h.stats)
	mux.HandleFunc("/v1/archive", h.archivedWeek)
	mux.HandleFunc("/v1/rename", h.rename)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func readClaims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.HasScope(auth.ScopeRead) && !claims.HasScope(auth.ScopeAdmin) {
		writeError(w, http.StatusForbidden, "forbidden", "scope worklog:read required")
		return nil, false
	}
	return claims, true
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := readClaims(w, r)
	if !ok {
		return
	}

	var (
		entries []domain.LeaderboardEntry
		err     error
	)
	window := r.URL.Query().Get("window")
	switch window {
	case "", "week":
		entries, err = h.tracker.WeeklyLeaderboard(r.Context(), claims.GuildID)
	case "all":
		entries, err = h.tracker.AllTimeLeaderboard(r.Context(), claims.GuildID)
	default:
		writeError(w, http.StatusBadRequest, "validation_failed", "window must be week or all")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "storage unavailable")
		return
	}

	resp := LeaderboardResponse{Window: window, Entries: make([]LeaderboardEntryView, 0, len(entries))}
	if resp.Window == "" {
		resp.Window = "week"
	}
	for i, e := range entries {
		resp.Entries = append(resp.Entries, LeaderboardEntryView{
			Rank:     i + 1,
			UserID:   e.UserID,
			Username: e.Username,
			Minutes:  e.Minutes,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := readClaims(w, r)
	if !ok {
		return
	}

	summary, err := h.tracker.WeeklySummary(r.Context(), claims.GuildID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "storage unavailable")
		return
	}

	resp := StatsResponse{
		TotalMinutes:  summary.TotalMinutes,
		TotalSessions: summary.TotalSessions,
		UniqueWorkers: summary.UniqueWorkers,
	}
	if summary.MVP != nil {
		resp.MVP = &LeaderboardEntryView{UserID: summary.MVP.UserID, Username: summary.MVP.Username, Minutes: summary.MVP.Minutes}
	}
	if summary.LongestSession != nil {
		resp.LongestSession = &SessionView{
			UserID:   summary.LongestSession.UserID,
			Username: summary.LongestSession.Username,
			Activity: summary.LongestSession.Activity,
			Minutes:  summary.LongestSession.Minutes,
		}
	}
	if summary.TopActivity != nil {
		resp.TopActivity = &BreakdownView{
			UserID:   summary.TopActivity.UserID,
			Username: summary.TopActivity.Username,
			Activity: summary.TopActivity.Activity,
			Minutes:  summary.TopActivity.Minutes,
			Sessions: summary.TopActivity.Sessions,
		}
	}
	for _, b := range summary.Breakdown {
		resp.Breakdown = append(resp.Breakdown, BreakdownView{
			UserID:   b.UserID,
			Username: b.Username,
			Activity: b.Activity,
			Minutes:  b.Minutes,
			Sessions: b.Sessions,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) archivedWeek(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := readClaims(w, r)
	if !ok {
		return
	}

	weekID := r.URL.Query().Get("week_id")
	if strings.TrimSpace(weekID) == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing week_id parameter")
		return
	}

	entries, err := h.archive.ArchivedWeek(r.Context(), claims.GuildID, weekID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", "storage unavailable")
		return
	}

	resp := ArchiveResponse{WeekID: weekID, Entries: make([]ArchiveEntryView, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, ArchiveEntryView{
			UserID:   e.UserID,
			Username: e.Username,
			Activity: e.Activity,
			Minutes:  e.Minutes,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) rename(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeAdmin) {
		writeError(w, http.StatusForbidden, "forbidden", "scope worklog:admin required")
		return
	}

	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	count, err := h.tracker.Rename(r.Context(), claims.GuildID, req.UserID, req.OldActivity, req.NewActivity)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownActivity):
			writeError(w, http.StatusNotFound, "not_found", "no sessions recorded for activity")
		case errors.Is(err, domain.ErrEmptyActivity):
			writeError(w, http.StatusBadRequest, "validation_failed", "activity name is empty")
		default:
			writeError(w, http.StatusInternalServerError, "server_error", "storage unavailable")
		}
		return
	}
	writeJSON(w, http.StatusOK, RenameResponse{Renamed: count})
}

// LeaderboardEntryView is one ranked leaderboard row.
type LeaderboardEntryView struct {
	Rank     int    `json:"rank,omitempty"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Minutes  int64  `json:"minutes"`
}

// LeaderboardResponse packages leaderboard results.
type LeaderboardResponse struct {
	Window  string                 `json:"window"`
	Entries []LeaderboardEntryView `json:"entries"`
}

// BreakdownView is one per-(user, activity) row of the weekly summary.
type BreakdownView struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Activity string `json:"activity"`
	Minutes  int64  `json:"minutes"`
	Sessions int64  `json:"sessions"`
}

// SessionView is one recorded session.
type SessionView struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Activity string `json:"activity"`
	Minutes  int64  `json:"minutes"`
}

// StatsResponse describes the current week.
type StatsResponse struct {
	TotalMinutes   int64                 `json:"total_minutes"`
	TotalSessions  int64                 `json:"total_sessions"`
	UniqueWorkers  int64                 `json:"unique_workers"`
	MVP            *LeaderboardEntryView `json:"mvp,omitempty"`
	TopActivity    *BreakdownView        `json:"top_activity,omitempty"`
	LongestSession *SessionView          `json:"longest_session,omitempty"`
	Breakdown      []BreakdownView       `json:"breakdown,omitempty"`
}

// ArchiveEntryView is one row of an archived weekly snapshot.
type ArchiveEntryView struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Activity string `json:"activity"`
	Minutes  int64  `json:"minutes"`
}

// ArchiveResponse packages an archived week.
type ArchiveResponse struct {
	WeekID  string             `json:"week_id"`
	Entries []ArchiveEntryView `json:"entries"`
}

// RenameRequest is the payload for POST /v1/rename.
type RenameRequest struct {
	UserID      string `json:"user_id"`
	OldActivity string `json:"old_activity"`
	NewActivity string `json:"new_activity"`
}

// Validate ensures request correctness.
func (r RenameRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user_id is required")
	}
	if strings.TrimSpace(r.OldActivity) == "" {
		return errors.New("old_activity is required")
	}
	if strings.TrimSpace(r.NewActivity) == "" {
		return errors.New("new_activity is required")
	}
	return nil
}

// RenameResponse reports how many sessions were relabeled.
type RenameResponse struct {
	Renamed int64 `json:"renamed"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
