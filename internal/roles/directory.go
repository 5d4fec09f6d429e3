package roles

import "context"

// Role is the platform-side role handle.
type Role struct {
	ID    string
	Label string
	Color string
	Font  string
}

// Directory is the chat-platform role API consumed by the assigner. The
// concrete implementation lives at the platform gateway; tests substitute a
// fake.
type Directory interface {
	// EnsureRole returns the role with the exact label, creating it only when
	// absent. The boolean reports whether a role was created.
	EnsureRole(ctx context.Context, guildID, label, color, font string) (Role, bool, error)
	// FindRole looks a role up by exact label.
	FindRole(ctx context.Context, guildID, label string) (Role, bool, error)
	AssignRole(ctx context.Context, guildID, userID string, role Role) error
	RevokeRole(ctx context.Context, guildID, userID string, role Role) error
	SetNickname(ctx context.Context, guildID, userID, nickname string) error
	// PinRoleAbove places the role just above the anchor role in the
	// hierarchy so its color renders. A one-time placement concern.
	PinRoleAbove(ctx context.Context, guildID string, role Role, anchorLabel string) error
}
