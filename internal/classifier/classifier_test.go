package classifier_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/worklog/internal/classifier"
	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/embedding"
)

func newTestClassifier(t *testing.T, fixed map[string][]float32) *classifier.Classifier {
	t.Helper()
	cfg, err := classifier.DefaultConfig()
	require.NoError(t, err)
	clf, err := classifier.New(context.Background(), embedding.NewStaticEngine(fixed), cfg)
	require.NoError(t, err)
	return clf
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := classifier.DefaultConfig()
	require.NoError(t, err)
	require.Len(t, cfg.Archetypes, 7)
	require.Equal(t, "Architect", cfg.Archetypes[0].Name)
	require.Equal(t, []int64{0, 1200, 2400, 3600, 4500, 5400}, cfg.Thresholds)
	require.Len(t, cfg.Decorations, 6)
}

func TestTierBoundaries(t *testing.T) {
	clf := newTestClassifier(t, nil)

	cases := []struct {
		minutes int64
		tier    int
	}{
		{0, 1},
		{1199, 1},
		{1200, 2},
		{2399, 2},
		{2500, 3},
		{3600, 4},
		{4500, 5},
		{5400, 6},
		{100000, 6},
	}
	for _, tc := range cases {
		require.Equal(t, tc.tier, clf.TierFor(tc.minutes), "minutes=%d", tc.minutes)
	}
}

func TestClassifyWeekIsDeterministic(t *testing.T) {
	clf := newTestClassifier(t, nil)
	snapshot := []domain.WeeklyEntry{
		{UserID: "u2", Username: "joss", Activity: "painting", Minutes: 300},
		{UserID: "u1", Username: "mira", Activity: "thesis", Minutes: 1250},
		{UserID: "u1", Username: "mira", Activity: "reading", Minutes: 100},
	}

	first, err := clf.ClassifyWeek(context.Background(), snapshot)
	require.NoError(t, err)
	second, err := clf.ClassifyWeek(context.Background(), snapshot)
	require.NoError(t, err)
	require.Equal(t, first, second)

	require.Len(t, first, 2)
	require.Equal(t, "u1", first[0].UserID, "output sorted by user id")
	require.Equal(t, int64(1350), first[0].TotalMinutes)
	require.Equal(t, 2, first[0].Tier)
	require.Equal(t, "u2", first[1].UserID)
	require.Equal(t, 1, first[1].Tier)
}

func TestClassifyWeekEmptySnapshot(t *testing.T) {
	clf := newTestClassifier(t, nil)

	assignments, err := clf.ClassifyWeek(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, assignments)
}

func TestZeroMinuteWeekStillClassifies(t *testing.T) {
	clf := newTestClassifier(t, nil)
	snapshot := []domain.WeeklyEntry{
		{UserID: "u1", Username: "mira", Activity: "thesis", Minutes: 0},
	}

	assignments, err := clf.ClassifyWeek(context.Background(), snapshot)
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	require.NotEmpty(t, assignments[0].Style)
	require.Equal(t, 1, assignments[0].Tier)
}

func TestTieBreaksOnArchetypeOrder(t *testing.T) {
	cfg, err := classifier.DefaultConfig()
	require.NoError(t, err)

	// Pin every archetype to the same vector so all cosine scores tie; the
	// first archetype in config order must win.
	pinned := []float32{1, 0, 0, 0}
	fixed := map[string][]float32{"thesis": {1, 0, 0, 0}}
	for _, a := range cfg.Archetypes {
		fixed[a.Description] = pinned
	}

	clf, err := classifier.New(context.Background(), embedding.NewStaticEngine(fixed), cfg)
	require.NoError(t, err)

	assignments, err := clf.ClassifyWeek(context.Background(), []domain.WeeklyEntry{
		{UserID: "u1", Username: "mira", Activity: "thesis", Minutes: 60},
	})
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	require.Equal(t, "Architect", assignments[0].Style)
}

func TestWeightedMeanFollowsDominantActivity(t *testing.T) {
	cfg, err := classifier.DefaultConfig()
	require.NoError(t, err)

	// Two orthogonal activity vectors, each aligned with one archetype.
	fixed := map[string][]float32{
		"planning": {1, 0, 0, 0},
		"grinding": {0, 1, 0, 0},
	}
	for i, a := range cfg.Archetypes {
		switch i {
		case 0: // Architect
			fixed[a.Description] = []float32{1, 0, 0, 0}
		case 2: // Executor
			fixed[a.Description] = []float32{0, 1, 0, 0}
		default:
			fixed[a.Description] = []float32{0, 0, 1, 0}
		}
	}

	clf, err := classifier.New(context.Background(), embedding.NewStaticEngine(fixed), cfg)
	require.NoError(t, err)

	assignments, err := clf.ClassifyWeek(context.Background(), []domain.WeeklyEntry{
		{UserID: "u1", Username: "mira", Activity: "planning", Minutes: 30},
		{UserID: "u1", Username: "mira", Activity: "grinding", Minutes: 600},
	})
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	require.Equal(t, "Executor", assignments[0].Style)
}

func TestDecorationClamps(t *testing.T) {
	clf := newTestClassifier(t, nil)

	lowest := clf.Decoration(0)
	require.Equal(t, clf.Decoration(1), lowest)

	highest := clf.Decoration(99)
	require.Equal(t, clf.Decoration(6), highest)
	require.NotEqual(t, lowest, highest)
}
