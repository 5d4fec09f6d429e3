//go:build integration

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
)

type capturingProducer struct {
	fail     bool
	messages map[string][]kafka.Message
}

func (p *capturingProducer) WriteMessages(_ context.Context, topic string, msgs ...kafka.Message) error {
	if p.fail {
		return errors.New("broker unavailable")
	}
	if p.messages == nil {
		p.messages = make(map[string][]kafka.Message)
	}
	p.messages[topic] = append(p.messages[topic], msgs...)
	return nil
}

type staticRegistry struct{}

func (staticRegistry) EnsureSchema(context.Context, string, string) (int, error) {
	return 7, nil
}

func TestDispatcherDeliversAndMarksPublished(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(t, ctx)

	enqueueSessionClosed(t, ctx, pool, "evt-1")

	producer := &capturingProducer{}
	d := NewDispatcher(pool, producer, staticRegistry{}, time.Second, 10, zap.NewNop())
	require.NoError(t, d.processBatch(ctx))

	delivered := producer.messages["worklog_session_events"]
	require.Len(t, delivered, 1)
	// Confluent framing: magic byte, schema ID, then the JSON payload.
	require.Equal(t, byte(0), delivered[0].Value[0])
	var payload map[string]any
	require.NoError(t, json.Unmarshal(delivered[0].Value[5:], &payload))
	require.Equal(t, "thesis", payload["activity"])

	var unpublished int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&unpublished))
	require.Zero(t, unpublished)
}

func TestDispatcherRoutesFailuresToDLQAndRequeues(t *testing.T) {
	ctx := context.Background()
	pool := newTestPool(t, ctx)

	enqueueSessionClosed(t, ctx, pool, "evt-2")

	producer := &capturingProducer{fail: true}
	d := NewDispatcher(pool, producer, staticRegistry{}, time.Second, 10, zap.NewNop())
	require.NoError(t, d.processBatch(ctx))

	mgr := NewDLQManager(pool)
	entries, err := mgr.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "session.closed", entries[0].EventType)

	requeued, err := mgr.Requeue(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, requeued)

	// The replayed event delivers once the broker recovers.
	producer.fail = false
	require.NoError(t, d.processBatch(ctx))
	require.Len(t, producer.messages["worklog_session_events"], 1)
}

func enqueueSessionClosed(t *testing.T, ctx context.Context, pool *pgxpool.Pool, eventID string) {
	t.Helper()

	payload := map[string]any{
		"session_id": eventID,
		"guild_id":   "g1",
		"user_id":    "u1",
		"username":   "mira",
		"activity":   "thesis",
		"started_at": time.Now().UTC().Add(-time.Hour).Format(time.RFC3339Nano),
		"ended_at":   time.Now().UTC().Format(time.RFC3339Nano),
		"minutes":    60,
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `INSERT INTO outbox (guild_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ('g1','session',$1,'session.closed','worklog_session_events','worklog_session_events-value','g1:u1',$2,$3)`,
		eventID, body, eventID+":session.closed")
	require.NoError(t, err)
}

func newTestPool(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("worklog"),
		postgrescontainer.WithUsername("worklog"),
		postgrescontainer.WithPassword("worklog"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	var pool *pgxpool.Pool
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err = pgxpool.New(ctx, connStr)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				break
			}
			pool.Close()
		}
		require.True(t, time.Now().Before(deadline), "database never became ready: %v", err)
		time.Sleep(time.Second)
	}
	t.Cleanup(func() { pool.Close() })

	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	migration := filepath.Join(filepath.Dir(file), "../../db/postgres/migrations/0001_init.up.sql")
	contents, err := os.ReadFile(migration)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(contents))
	require.NoError(t, err)

	return pool
}
