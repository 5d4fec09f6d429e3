// Package alias canonicalizes free-text activity names and resolves
// user- and guild-scoped shorthand aliases.
package alias

import (
	"strings"
	"unicode"
)

// Normalize canonicalizes a raw activity name: repeated-character runs are
// collapsed (a run of exactly 3 keeps 2, a run of 4+ keeps 1), camelCase and
// PascalCase boundaries become hyphens, the result is lowercased, and runs of
// whitespace or hyphens are reduced to a single separator.
func Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}

	collapsed := collapseRuns(trimmed)
	hyphenated := splitCamelCase(collapsed)
	lowered := strings.ToLower(hyphenated)

	lowered = strings.Join(strings.Fields(lowered), " ")
	for strings.Contains(lowered, "--") {
		lowered = strings.ReplaceAll(lowered, "--", "-")
	}
	return strings.Trim(lowered, " -")
}

// collapseRuns shortens runs of identical characters: 1-2 kept as-is,
// exactly 3 becomes 2, longer runs become 1.
func collapseRuns(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(runes); {
		run := 1
		for i+run < len(runes) && runes[i+run] == runes[i] {
			run++
		}
		switch {
		case run < 3:
			for j := 0; j < run; j++ {
				b.WriteRune(runes[i])
			}
		case run == 3:
			b.WriteRune(runes[i])
			b.WriteRune(runes[i])
		default:
			b.WriteRune(runes[i])
		}
		i += run
	}
	return b.String()
}

// splitCamelCase inserts hyphens at lower-to-upper boundaries and before the
// last capital of an all-caps run followed by lowercase ("MyAPPDev" keeps the
// acronym intact).
func splitCamelCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 8)

	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			var next rune
			if i+1 < len(runes) {
				next = runes[i+1]
			}
			if unicode.IsLower(prev) {
				b.WriteRune('-')
			} else if unicode.IsUpper(prev) && next != 0 && unicode.IsLower(next) {
				b.WriteRune('-')
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}
