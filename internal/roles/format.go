// Package roles turns classification outcomes into chat-platform role labels
// and nicknames and applies them idempotently.
package roles

import (
	"strings"

	"example.com/worklog/internal/classifier"
)

// Chevron is the decoration glyph; a tier-N member carries N-1 of them.
const Chevron = "»"

// RoleLabel renders the display label for a (style, tier) pair: tier
// decoration chevrons followed by the archetype name in the tier's font
// variant. The rule is purely deterministic so repeated runs produce the same
// label and the exact-match role lookup stays idempotent.
func RoleLabel(style string, tier int, deco classifier.Decoration) string {
	name := Stylize(style, deco.Font)
	prefix := strings.Repeat(Chevron, tier-1)
	if prefix == "" {
		return name
	}
	return prefix + " " + name
}

// NicknamePrefix renders tier-1 chevrons, empty for tier 1.
func NicknamePrefix(tier int) string {
	return strings.Repeat(Chevron, tier-1)
}

// Nickname rebuilds a member nickname from the bare username, so stale
// chevrons from earlier weeks never accumulate.
func Nickname(username string, tier int) string {
	prefix := NicknamePrefix(tier)
	if prefix == "" {
		return username
	}
	return prefix + " " + username
}

// Stylize maps ASCII letters into the Mathematical Alphanumeric Symbols block
// matching the requested font variant. Unknown variants and non-ASCII runes
// pass through unchanged.
func Stylize(s, font string) string {
	var upper, lower rune
	switch font {
	case "bold":
		upper, lower = 0x1D400, 0x1D41A
	case "italic":
		upper, lower = 0x1D434, 0x1D44E
	case "bold-italic":
		upper, lower = 0x1D468, 0x1D482
	default:
		return s
	}

	var b strings.Builder
	b.Grow(len(s) * 4)
	for _, r := range s {
		switch {
		case r == 'h' && font == "italic":
			// U+1D455 is reserved; Unicode substitutes Planck's constant.
			b.WriteRune(0x210E)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(upper + (r - 'A'))
		case r >= 'a' && r <= 'z':
			b.WriteRune(lower + (r - 'a'))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
