package alias

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeCollapsesRepeatedRuns(t *testing.T) {
	cases := map[string]string{
		"workkkkkkk":    "work",
		"schoool":       "school",
		"boring workkkk": "boring work",
		"booooring":     "boring",
		"work":          "work",
		"workkk":        "workk",
		"aaa":           "aa",
		"aabbcc":        "aabbcc",
		"aaabbbccc":     "aabbcc",
	}
	for input, want := range cases {
		require.Equal(t, want, Normalize(input), "input %q", input)
	}
}

func TestNormalizeSplitsCamelCase(t *testing.T) {
	cases := map[string]string{
		"WorkSchool":  "work-school",
		"workSchool":  "work-school",
		"MyAppDev":    "my-app-dev",
		"WORK":        "work",
		"work-School": "work-school",
	}
	for input, want := range cases {
		require.Equal(t, want, Normalize(input), "input %q", input)
	}
}

func TestNormalizeTrimsAndCollapsesSeparators(t *testing.T) {
	require.Equal(t, "", Normalize(""))
	require.Equal(t, "", Normalize("   "))
	require.Equal(t, "work", Normalize("  work  "))
	require.Equal(t, "deep work", Normalize("deep    work"))
	require.Equal(t, "a", Normalize("a"))
}
