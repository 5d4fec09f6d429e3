package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DLQManager replays dead-lettered events back into the primary outbox once
// the underlying delivery problem has been fixed.
type DLQManager struct {
	pool *pgxpool.Pool
}

// NewDLQManager constructs a DLQManager.
func NewDLQManager(pool *pgxpool.Pool) *DLQManager {
	return &DLQManager{pool: pool}
}

// DLQEntry is one dead-lettered event.
type DLQEntry struct {
	ID         int64
	GuildID    string
	EventType  string
	Topic      string
	Reason     string
	FailedAt   time.Time
	RequeuedAt *time.Time
}

// List returns DLQ entries that have not been requeued yet, oldest first.
func (m *DLQManager) List(ctx context.Context, limit int) ([]DLQEntry, error) {
	const query = `SELECT dlq_id, guild_id, event_type, topic, reason, failed_at, requeued_at
        FROM outbox_dlq
        WHERE requeued_at IS NULL
        ORDER BY failed_at
        LIMIT $1`

	rows, err := m.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DLQEntry
	for rows.Next() {
		var e DLQEntry
		if err := rows.Scan(&e.ID, &e.GuildID, &e.EventType, &e.Topic, &e.Reason, &e.FailedAt, &e.RequeuedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Requeue moves a batch of DLQ entries back into the outbox and returns the
// count of reinserted events. Entries keep their original routing metadata so
// the dispatcher replays them unchanged.
func (m *DLQManager) Requeue(ctx context.Context, batchSize int) (int, error) {
	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const reinsert = `WITH batch AS (
            SELECT dlq_id FROM outbox_dlq
            WHERE requeued_at IS NULL
            ORDER BY failed_at
            LIMIT $1
            FOR UPDATE SKIP LOCKED
        ), requeued AS (
            INSERT INTO outbox (guild_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
            SELECT d.guild_id, d.aggregate_type, d.aggregate_id, d.event_type, d.topic, d.schema_subject, d.partition_key, d.payload,
                   d.aggregate_id || ':' || d.event_type || ':requeue:' || d.dlq_id
            FROM outbox_dlq d
            JOIN batch b ON b.dlq_id = d.dlq_id
            RETURNING 1
        )
        UPDATE outbox_dlq SET requeued_at = NOW()
        WHERE dlq_id IN (SELECT dlq_id FROM batch)`

	tag, err := tx.Exec(ctx, reinsert, batchSize)
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}

	count := int(tag.RowsAffected())
	dlqRequeuedCounter.Add(float64(count))
	updateBacklogGauge(ctx, m.pool)
	return count, nil
}

// Backlog reports the number of entries awaiting requeue.
func (m *DLQManager) Backlog(ctx context.Context) (int, error) {
	var count int
	err := m.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE requeued_at IS NULL`).Scan(&count)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	return count, nil
}
