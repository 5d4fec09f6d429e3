package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/worklog/internal/alias"
	"example.com/worklog/internal/auth"
	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/persistence/memory"
)

func newTestHandler(t *testing.T) (*Handler, *domain.Tracker, *time.Time) {
	t.Helper()
	repo := memory.New()
	now := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)
	tracker := domain.NewTrackerWithClock(repo, alias.NewResolver(repo), func() time.Time { return now })
	return NewHandler(tracker, repo), tracker, &now
}

func authedRequest(method, target string, body []byte, scopes ...string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	claims := &auth.Claims{Subject: "svc", GuildID: "g1", Scopes: map[string]struct{}{}}
	for _, s := range scopes {
		claims.Scopes[s] = struct{}{}
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

func seedWeek(t *testing.T, tracker *domain.Tracker, now *time.Time) {
	t.Helper()
	ctx := context.Background()
	_, err := tracker.ClockIn(ctx, "g1", "u1", "mira", "thesis")
	require.NoError(t, err)
	*now = now.Add(90 * time.Minute)
	_, err = tracker.ClockOut(ctx, "g1", "u1")
	require.NoError(t, err)

	_, err = tracker.ClockIn(ctx, "g1", "u2", "joss", "painting")
	require.NoError(t, err)
	*now = now.Add(45 * time.Minute)
	_, err = tracker.ClockOut(ctx, "g1", "u2")
	require.NoError(t, err)
}

func TestLeaderboardRequiresAuth(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/leaderboard", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(http.MethodGet, "/v1/leaderboard", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLeaderboardWindows(t *testing.T) {
	handler, tracker, now := newTestHandler(t)
	seedWeek(t, tracker, now)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(http.MethodGet, "/v1/leaderboard", nil, auth.ScopeRead))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LeaderboardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "week", resp.Window)
	require.Len(t, resp.Entries, 2)
	require.Equal(t, "mira", resp.Entries[0].Username)
	require.Equal(t, int64(90), resp.Entries[0].Minutes)
	require.Equal(t, 1, resp.Entries[0].Rank)
	require.Equal(t, 2, resp.Entries[1].Rank)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(http.MethodGet, "/v1/leaderboard?window=all", nil, auth.ScopeRead))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "all", resp.Window)
	require.Len(t, resp.Entries, 2)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(http.MethodGet, "/v1/leaderboard?window=month", nil, auth.ScopeRead))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsSummary(t *testing.T) {
	handler, tracker, now := newTestHandler(t)
	seedWeek(t, tracker, now)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(http.MethodGet, "/v1/stats", nil, auth.ScopeRead))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, int64(135), resp.TotalMinutes)
	require.Equal(t, int64(2), resp.TotalSessions)
	require.Equal(t, int64(2), resp.UniqueWorkers)
	require.NotNil(t, resp.MVP)
	require.Equal(t, "mira", resp.MVP.Username)
	require.NotNil(t, resp.LongestSession)
	require.Equal(t, "thesis", resp.LongestSession.Activity)
	require.Equal(t, int64(90), resp.LongestSession.Minutes)
	require.Len(t, resp.Breakdown, 2)
}

func TestArchiveRequiresWeekID(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(http.MethodGet, "/v1/archive", nil, auth.ScopeRead))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRenameRequiresAdminScope(t *testing.T) {
	handler, tracker, now := newTestHandler(t)
	seedWeek(t, tracker, now)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	body, err := json.Marshal(RenameRequest{UserID: "u1", OldActivity: "thesis", NewActivity: "dissertation"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/rename", body, auth.ScopeRead))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/rename", body, auth.ScopeAdmin))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RenameResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, int64(1), resp.Renamed)
}

func TestRenameUnknownActivity(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	body, err := json.Marshal(RenameRequest{UserID: "u1", OldActivity: "nothing", NewActivity: "something"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, authedRequest(http.MethodPost, "/v1/rename", body, auth.ScopeAdmin))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthzOpen(t *testing.T) {
	handler, _, _ := newTestHandler(t)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
