package rollover

import (
	"context"
	"time"

	"go.uber.org/zap"

	"example.com/worklog/internal/classifier"
	"example.com/worklog/internal/domain"
	"example.com/worklog/internal/observability"
)

// Result reports what one rollover transaction did.
type Result struct {
	WeekID      string
	AlreadyDone bool
	// Snapshot holds the closing week's per-(user, activity) minutes,
	// including the pre-boundary portion of split sessions.
	Snapshot []domain.WeeklyEntry
	// Carried lists the open sessions re-seeded at the boundary.
	Carried []domain.Session
}

// Store is the transactional surface the runner drives. RunRollover must be
// idempotent for a given week: the archival, aggregate migration, counter
// reset, and pending-classification marker commit as one unit or not at all.
type Store interface {
	Guilds(ctx context.Context) ([]string, error)
	RunRollover(ctx context.Context, guildID, weekID string, boundary time.Time, policy Policy) (*Result, error)
	ArchivedWeek(ctx context.Context, guildID, weekID string) ([]domain.WeeklyEntry, error)
	PendingClassification(ctx context.Context, guildID string) ([]string, error)
	ClearPendingClassification(ctx context.Context, guildID, weekID string) error
	SaveRoleAssignments(ctx context.Context, guildID, weekID string, assignments []classifier.Assignment) error
}

// WeekClassifier turns a weekly snapshot into per-user style/tier assignments.
type WeekClassifier interface {
	ClassifyWeek(ctx context.Context, snapshot []domain.WeeklyEntry) ([]classifier.Assignment, error)
}

// Runner executes the weekly rollover for every guild and hands the closing
// snapshot to the classifier.
type Runner struct {
	store      Store
	classifier WeekClassifier
	policy     Policy
	logger     *zap.Logger
}

// NewRunner constructs a Runner.
func NewRunner(store Store, wc WeekClassifier, policy Policy, logger *zap.Logger) *Runner {
	if policy != PolicyForceClose {
		policy = PolicySplit
	}
	return &Runner{store: store, classifier: wc, policy: policy, logger: logger}
}

// Run archives the week ending at boundary for every guild. Archival commits
// independently of classification: an embedding outage leaves the week marked
// pending so RetryPending can finish the job later.
func (r *Runner) Run(ctx context.Context, boundary time.Time, loc *time.Location) error {
	weekID := ClosingWeekID(boundary, loc)

	guilds, err := r.store.Guilds(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for _, guildID := range guilds {
		if err := r.runGuild(ctx, guildID, weekID, boundary); err != nil {
			r.logger.Error("rollover failed",
				zap.String("guild_id", guildID),
				zap.String("week_id", weekID),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Runner) runGuild(ctx context.Context, guildID, weekID string, boundary time.Time) error {
	start := time.Now()
	res, err := r.store.RunRollover(ctx, guildID, weekID, boundary, r.policy)
	if err != nil {
		return err
	}
	observability.ObserveRolloverDuration(time.Since(start))

	if res.AlreadyDone {
		r.logger.Info("rollover already archived",
			zap.String("guild_id", guildID),
			zap.String("week_id", weekID))
		// The archive may still carry weeks whose classification was
		// deferred by an outage; finish them from the archived snapshots.
		return r.classifyPending(ctx, guildID)
	}

	r.logger.Info("week archived",
		zap.String("guild_id", guildID),
		zap.String("week_id", weekID),
		zap.Int("snapshot_rows", len(res.Snapshot)),
		zap.Int("carried_sessions", len(res.Carried)))
	observability.RecordWeekArchived()

	if err := r.classify(ctx, guildID, weekID, res.Snapshot); err != nil {
		return err
	}
	return r.classifyPending(ctx, guildID)
}

// classifyPending classifies every week still marked pending from its archived
// snapshot.
func (r *Runner) classifyPending(ctx context.Context, guildID string) error {
	weeks, err := r.store.PendingClassification(ctx, guildID)
	if err != nil {
		return err
	}

	var firstErr error
	for _, weekID := range weeks {
		snapshot, err := r.store.ArchivedWeek(ctx, guildID, weekID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := r.classify(ctx, guildID, weekID, snapshot); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Runner) classify(ctx context.Context, guildID, weekID string, snapshot []domain.WeeklyEntry) error {
	assignments, err := r.classifier.ClassifyWeek(ctx, snapshot)
	if err != nil {
		observability.RecordClassificationFailure()
		r.logger.Warn("classification deferred",
			zap.String("guild_id", guildID),
			zap.String("week_id", weekID),
			zap.Error(err))
		return err
	}

	if err := r.store.SaveRoleAssignments(ctx, guildID, weekID, assignments); err != nil {
		return err
	}
	if err := r.store.ClearPendingClassification(ctx, guildID, weekID); err != nil {
		return err
	}

	r.logger.Info("week classified",
		zap.String("guild_id", guildID),
		zap.String("week_id", weekID),
		zap.Int("assignments", len(assignments)))
	return nil
}

// RetryPending re-runs classification for any week whose archival committed
// but whose classification was deferred by an embedding or storage outage.
func (r *Runner) RetryPending(ctx context.Context) error {
	guilds, err := r.store.Guilds(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for _, guildID := range guilds {
		if err := r.classifyPending(ctx, guildID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
