package roles

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"example.com/worklog/internal/classifier"
	"example.com/worklog/internal/events"
)

// Assigner applies a weekly classification outcome to the chat platform:
// ensure the (style, tier) role exists, move the member onto it, revoke last
// week's role, and rebuild the nickname prefix.
type Assigner struct {
	dir         Directory
	decorations []classifier.Decoration
	anchorLabel string
	logger      *zap.Logger
}

// NewAssigner constructs an Assigner. anchorLabel names the role above which
// newly created tier roles are pinned so their color renders.
func NewAssigner(dir Directory, decorations []classifier.Decoration, anchorLabel string, logger *zap.Logger) *Assigner {
	return &Assigner{dir: dir, decorations: decorations, anchorLabel: anchorLabel, logger: logger}
}

func (a *Assigner) decoration(tier int) classifier.Decoration {
	if tier < 1 {
		tier = 1
	}
	if tier > len(a.decorations) {
		tier = len(a.decorations)
	}
	return a.decorations[tier-1]
}

// Apply is idempotent: the role is looked up by exact label and created only
// when absent, and the nickname is rebuilt from the bare username so repeated
// runs converge on the same platform state.
func (a *Assigner) Apply(ctx context.Context, evt events.RoleAssigned) error {
	deco := a.decoration(evt.Tier)
	label := RoleLabel(evt.Style, evt.Tier, deco)

	role, created, err := a.dir.EnsureRole(ctx, evt.GuildID, label, deco.Color, deco.Font)
	if err != nil {
		return fmt.Errorf("ensure role %q: %w", label, err)
	}
	if created {
		if err := a.dir.PinRoleAbove(ctx, evt.GuildID, role, a.anchorLabel); err != nil {
			return fmt.Errorf("pin role %q: %w", label, err)
		}
	}

	if evt.PrevStyle != "" {
		prevLabel := RoleLabel(evt.PrevStyle, evt.PrevTier, a.decoration(evt.PrevTier))
		if prevLabel != label {
			if prevRole, ok, err := a.dir.FindRole(ctx, evt.GuildID, prevLabel); err != nil {
				return fmt.Errorf("find previous role %q: %w", prevLabel, err)
			} else if ok {
				if err := a.dir.RevokeRole(ctx, evt.GuildID, evt.UserID, prevRole); err != nil {
					return fmt.Errorf("revoke previous role %q: %w", prevLabel, err)
				}
			}
		}
	}

	// Nickname rebuilds the prefix from the bare username, so stale chevrons
	// never accumulate across weeks.
	if err := a.dir.SetNickname(ctx, evt.GuildID, evt.UserID, Nickname(evt.Username, evt.Tier)); err != nil {
		return fmt.Errorf("set nickname: %w", err)
	}

	if err := a.dir.AssignRole(ctx, evt.GuildID, evt.UserID, role); err != nil {
		return fmt.Errorf("assign role %q: %w", label, err)
	}

	a.logger.Info("role applied",
		zap.String("guild_id", evt.GuildID),
		zap.String("user_id", evt.UserID),
		zap.String("style", evt.Style),
		zap.Int("tier", evt.Tier),
		zap.String("label", label))
	return nil
}
