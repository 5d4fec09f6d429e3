// Package classifier assigns each user a style archetype and a tier from the
// closing week's per-activity minute totals.
package classifier

import (
	"context"
	"fmt"
	"sort"

	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/embedding"
)

// Assignment is the classification outcome for one user.
type Assignment struct {
	UserID       string
	Username     string
	Style        string
	Tier         int
	TotalMinutes int64
}

// Classifier holds the archetype vectors, embedded once at construction.
type Classifier struct {
	engine  embedding.Engine
	cfg     Config
	vectors [][]float32
}

// New embeds every archetype description and returns a ready Classifier.
func New(ctx context.Context, engine embedding.Engine, cfg Config) (*Classifier, error) {
	texts := make([]string, len(cfg.Archetypes))
	for i, a := range cfg.Archetypes {
		texts[i] = a.Description
	}

	raw, err := engine.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed archetypes: %w", err)
	}

	vectors := make([][]float32, len(raw))
	for i, v := range raw {
		vectors[i] = embedding.NormalizeL2(v)
	}

	return &Classifier{engine: engine, cfg: cfg, vectors: vectors}, nil
}

// TierFor maps total weekly minutes to a 1-based tier via the ascending
// thresholds. Zero minutes is still tier 1.
func (c *Classifier) TierFor(minutes int64) int {
	tier := 1
	for i, threshold := range c.cfg.Thresholds {
		if minutes >= threshold {
			tier = i + 1
		}
	}
	return tier
}

// ClassifyWeek classifies every user present in the snapshot. The style
// vector is the minute-weighted mean of the user's activity embeddings; the
// nearest archetype by cosine similarity wins, with ties broken by archetype
// order. Output is sorted by user ID for reproducibility.
func (c *Classifier) ClassifyWeek(ctx context.Context, snapshot []domain.WeeklyEntry) ([]Assignment, error) {
	if len(snapshot) == 0 {
		return nil, nil
	}

	activityVecs, err := c.embedActivities(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	type userWeek struct {
		username string
		entries  []domain.WeeklyEntry
		total    int64
	}
	users := make(map[string]*userWeek)
	for _, entry := range snapshot {
		uw, ok := users[entry.UserID]
		if !ok {
			uw = &userWeek{username: entry.Username}
			users[entry.UserID] = uw
		}
		uw.entries = append(uw.entries, entry)
		uw.total += entry.Minutes
	}

	assignments := make([]Assignment, 0, len(users))
	for userID, uw := range users {
		style, err := c.styleFor(uw.entries, activityVecs)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, Assignment{
			UserID:       userID,
			Username:     uw.username,
			Style:        style,
			Tier:         c.TierFor(uw.total),
			TotalMinutes: uw.total,
		})
	}

	sort.Slice(assignments, func(i, j int) bool { return assignments[i].UserID < assignments[j].UserID })
	return assignments, nil
}

// embedActivities embeds each distinct activity name once.
func (c *Classifier) embedActivities(ctx context.Context, snapshot []domain.WeeklyEntry) (map[string][]float32, error) {
	distinct := make([]string, 0)
	seen := make(map[string]struct{})
	for _, entry := range snapshot {
		if _, ok := seen[entry.Activity]; ok {
			continue
		}
		seen[entry.Activity] = struct{}{}
		distinct = append(distinct, entry.Activity)
	}
	sort.Strings(distinct)

	raw, err := c.engine.EmbedBatch(ctx, distinct)
	if err != nil {
		return nil, fmt.Errorf("embed activities: %w", err)
	}

	out := make(map[string][]float32, len(distinct))
	for i, activity := range distinct {
		out[activity] = embedding.NormalizeL2(raw[i])
	}
	return out, nil
}

func (c *Classifier) styleFor(entries []domain.WeeklyEntry, activityVecs map[string][]float32) (string, error) {
	var total int64
	for _, entry := range entries {
		total += entry.Minutes
	}

	dims := 0
	for _, vec := range activityVecs {
		dims = len(vec)
		break
	}

	// Minute-weighted mean; a week of all zero-minute entries falls back to
	// equal weights so carried-over sessions still classify.
	mean := make([]float32, dims)
	for _, entry := range entries {
		vec := activityVecs[entry.Activity]
		weight := float64(entry.Minutes)
		if total == 0 {
			weight = 1
		}
		for i := range vec {
			mean[i] += float32(weight * float64(vec[i]))
		}
	}

	best := 0
	bestScore := -2.0
	for i, archVec := range c.vectors {
		score, err := embedding.CosineSimilarity(mean, archVec)
		if err != nil {
			return "", err
		}
		if score > bestScore {
			best = i
			bestScore = score
		}
	}
	return c.cfg.Archetypes[best].Name, nil
}

// Decoration returns the role decoration for a 1-based tier.
func (c *Classifier) Decoration(tier int) Decoration {
	if tier < 1 {
		tier = 1
	}
	if tier > len(c.cfg.Decorations) {
		tier = len(c.cfg.Decorations)
	}
	return c.cfg.Decorations[tier-1]
}
