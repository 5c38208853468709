//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/repcount/internal/domain"
	"example.com/repcount/internal/events"
	"example.com/repcount/internal/exercise"
	"example.com/repcount/internal/pipeline"
	"example.com/repcount/internal/recorder"
	"example.com/repcount/internal/session"
)

func TestArchiveStoresSessionFramesAndEvent(t *testing.T) {
	ctx := context.Background()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("repcount"),
		postgrescontainer.WithUsername("repcount"),
		postgrescontainer.WithPassword("repcount"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))
	require.NoError(t, Migrate(connStr))
	require.NoError(t, Migrate(connStr), "second run is a no-op")

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	records := []recorder.FrameRecord{
		{Frame: 1, TimestampMS: 0, ElbowAngle: 170, HipAngle: 178, Stage: exercise.StageUp, Count: 0, Feedback: exercise.FeedbackGoodForm},
		{Frame: 2, TimestampMS: 33.3, ElbowAngle: 85, HipAngle: 176, Stage: exercise.StageDown, Count: 0, Feedback: exercise.FeedbackGoodForm},
		{Frame: 4, TimestampMS: 100, ElbowAngle: 165, HipAngle: 177, Stage: exercise.StageUp, Count: 1, Feedback: exercise.FeedbackGoodForm},
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	completed := domain.CompletedSession{
		SessionID: uuid.NewString(),
		TenantID:  uuid.NewString(),
		UserID:    uuid.NewString(),
		Exercise:  exercise.KindPushUp,
		Mode:      pipeline.ModeFull,
		End:       pipeline.EndExhausted,
		Outcome: session.Outcome{
			Records:     records,
			Summary:     recorder.Summarize(records),
			DatasetPath: "/data/datasets/x.csv",
		},
		StartedAt:   now.Add(-time.Second),
		CompletedAt: now,
	}

	archive := NewArchive(pool)
	require.NoError(t, archive.Archive(ctx, completed))
	require.NoError(t, archive.Archive(ctx, completed), "archiving twice is a no-op")

	summary, err := archive.LoadSummary(ctx, completed.TenantID, completed.SessionID)
	require.NoError(t, err)
	require.NotNil(t, summary)
	require.Equal(t, 1, summary.TotalReps)
	require.Equal(t, 3, summary.TotalFrames)
	require.Equal(t, 3, summary.FeedbackCounts[exercise.FeedbackGoodForm])

	other, err := archive.LoadSummary(ctx, uuid.NewString(), completed.SessionID)
	require.NoError(t, err)
	require.Nil(t, other)

	var frames int
	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", completed.TenantID)
	require.NoError(t, err)
	require.NoError(t, tx.QueryRow(ctx, `SELECT COUNT(*) FROM session_frames WHERE session_id=$1`, completed.SessionID).Scan(&frames))
	require.NoError(t, tx.Commit(ctx))
	require.Equal(t, 3, frames)

	var (
		outboxed     int
		topic        string
		partitionKey string
	)
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*), MIN(topic), MIN(partition_key) FROM outbox WHERE aggregate_id=$1 AND event_type=$2`,
		completed.SessionID, events.EventSessionCompleted,
	).Scan(&outboxed, &topic, &partitionKey))
	require.Equal(t, 1, outboxed)
	require.Equal(t, "exercise_sessions", topic)
	require.Equal(t, completed.TenantID+":"+completed.UserID, partitionKey)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
