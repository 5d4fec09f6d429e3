// Package events defines the payloads carried between the bot process and
// downstream consumers.
package events

import "time"

// SessionClosed is emitted when a work session is clocked out or closed by a
// switch or rollover split.
type SessionClosed struct {
	SessionID string    `json:"session_id"`
	GuildID   string    `json:"guild_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Activity  string    `json:"activity"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Minutes   int64     `json:"minutes"`
}

// RoleAssigned is emitted once per classified user after the weekly rollover.
// Prev fields carry the previous week's assignment so the consumer can revoke
// the old role; they are empty/zero for a first classification.
type RoleAssigned struct {
	GuildID      string    `json:"guild_id"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	Style        string    `json:"style"`
	Tier         int       `json:"tier"`
	PrevStyle    string    `json:"prev_style,omitempty"`
	PrevTier     int       `json:"prev_tier,omitempty"`
	WeekID       string    `json:"week_id"`
	TotalMinutes int64     `json:"total_minutes"`
	AssignedAt   time.Time `json:"assigned_at"`
}
