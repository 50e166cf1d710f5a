//go:build integration
// +build integration

package consumer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/progress/internal/events"
)

func TestProjectionHandlerTracksPendingCount(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	handler := NewProjectionHandler(pool, nil)
	submissionID := uuid.NewString()

	require.NoError(t, handler.Handle(ctx, createdMessage(submissionID, "user-1", "workout")))

	approved, pending := snapshotCounts(t, ctx, pool, "user-1", "workout")
	require.Zero(t, approved)
	require.Equal(t, 1, pending)
}

func TestProjectionHandlerApprovalMovesCounts(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	handler := NewProjectionHandler(pool, nil)
	submissionID := uuid.NewString()

	require.NoError(t, handler.Handle(ctx, createdMessage(submissionID, "user-1", "workout")))
	require.NoError(t, handler.Handle(ctx, reviewedMessage(submissionID, "user-1", "workout", "approve")))

	approved, pending := snapshotCounts(t, ctx, pool, "user-1", "workout")
	require.Equal(t, 1, approved)
	require.Zero(t, pending)
}

func TestProjectionHandlerRejectionSettlesPendingOnly(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	handler := NewProjectionHandler(pool, nil)
	submissionID := uuid.NewString()

	require.NoError(t, handler.Handle(ctx, createdMessage(submissionID, "user-1", "workout")))
	require.NoError(t, handler.Handle(ctx, reviewedMessage(submissionID, "user-1", "workout", "reject")))

	approved, pending := snapshotCounts(t, ctx, pool, "user-1", "workout")
	require.Zero(t, approved)
	require.Zero(t, pending)

	var unlocks int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM achievement_unlocks WHERE user_id = 'user-1'`).Scan(&unlocks))
	require.Zero(t, unlocks, "rejections never unlock achievements")
}

func TestProjectionHandlerReviewedBeforeCreatedKeepsCountsConsistent(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	handler := NewProjectionHandler(pool, nil)
	submissionID := uuid.NewString()

	// Created and reviewed ride different topics, so a consumer can see the
	// review first. The late created event must not resurrect the pending count.
	require.NoError(t, handler.Handle(ctx, reviewedMessage(submissionID, "user-1", "workout", "approve")))
	require.NoError(t, handler.Handle(ctx, createdMessage(submissionID, "user-1", "workout")))

	approved, pending := snapshotCounts(t, ctx, pool, "user-1", "workout")
	require.Equal(t, 1, approved)
	require.Zero(t, pending)
}

func TestProjectionHandlerRedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	handler := NewProjectionHandler(pool, nil)
	submissionID := uuid.NewString()

	created := createdMessage(submissionID, "user-1", "workout")
	reviewed := reviewedMessage(submissionID, "user-1", "workout", "approve")

	require.NoError(t, handler.Handle(ctx, created))
	require.NoError(t, handler.Handle(ctx, created))
	require.NoError(t, handler.Handle(ctx, reviewed))
	require.NoError(t, handler.Handle(ctx, reviewed))

	approved, pending := snapshotCounts(t, ctx, pool, "user-1", "workout")
	require.Equal(t, 1, approved)
	require.Zero(t, pending)
}

func TestProjectionHandlerUnlocksTiersAtThresholds(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	handler := NewProjectionHandler(pool, nil)

	// Ten approvals across two categories: bronze at 1, silver at 10.
	var lastReviewed Message
	for i := 0; i < 10; i++ {
		category := "workout"
		if i%2 == 1 {
			category = "hydration"
		}
		submissionID := uuid.NewString()
		require.NoError(t, handler.Handle(ctx, createdMessage(submissionID, "user-1", category)))
		lastReviewed = reviewedMessage(submissionID, "user-1", category, "approve")
		require.NoError(t, handler.Handle(ctx, lastReviewed))
	}

	rows, err := pool.Query(ctx, `SELECT tier, threshold FROM achievement_unlocks WHERE user_id = 'user-1' ORDER BY threshold`)
	require.NoError(t, err)
	defer rows.Close()

	type unlock struct {
		tier      string
		threshold int
	}
	var unlocks []unlock
	for rows.Next() {
		var u unlock
		require.NoError(t, rows.Scan(&u.tier, &u.threshold))
		unlocks = append(unlocks, u)
	}
	require.NoError(t, rows.Err())

	require.Len(t, unlocks, 2)
	require.Equal(t, unlock{tier: "bronze", threshold: 1}, unlocks[0])
	require.Equal(t, unlock{tier: "silver", threshold: 10}, unlocks[1])

	// Each fresh unlock queues exactly one announcement on the outbox.
	var announced int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE event_type = 'achievement.unlocked' AND topic = 'achievement_events'`,
	).Scan(&announced))
	require.Equal(t, 2, announced)

	// Redelivering the review that crossed the silver threshold must not
	// queue another announcement.
	require.NoError(t, handler.Handle(ctx, lastReviewed))
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE event_type = 'achievement.unlocked'`,
	).Scan(&announced))
	require.Equal(t, 2, announced)
}

func TestProjectionHandlerIgnoresUnknownEventTypes(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	handler := NewProjectionHandler(pool, nil)
	require.NoError(t, handler.Handle(ctx, Message{
		Topic:     "submission_events",
		EventType: "submission.archived",
		Payload:   json.RawMessage(`{}`),
	}))
}

func createdMessage(submissionID, userID, category string) Message {
	payload, _ := json.Marshal(events.SubmissionCreated{
		SubmissionID: submissionID,
		UserID:       userID,
		Category:     category,
		Description:  "logged activity",
		CreatedAt:    time.Now().UTC(),
	})
	return Message{
		Topic:     "submission_events",
		EventType: "submission.created",
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

func reviewedMessage(submissionID, userID, category, decision string) Message {
	payload, _ := json.Marshal(events.SubmissionReviewed{
		SubmissionID: submissionID,
		UserID:       userID,
		Category:     category,
		Decision:     decision,
		ReviewerID:   "coach",
		OccurredAt:   time.Now().UTC(),
	})
	return Message{
		Topic:     "submission_reviewed",
		EventType: "submission.reviewed",
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

func snapshotCounts(t *testing.T, ctx context.Context, pool *pgxpool.Pool, userID, category string) (approved, pending int) {
	t.Helper()

	err := pool.QueryRow(ctx,
		`SELECT approved_count, pending_count FROM progress_snapshots WHERE user_id = $1 AND category = $2`,
		userID, category,
	).Scan(&approved, &pending)
	require.NoError(t, err)
	return approved, pending
}

func setupPostgres(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("progress"),
		postgrescontainer.WithUsername("platform"),
		postgrescontainer.WithPassword("platform"),
	)
	require.NoError(t, err)

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pg.Terminate(ctx)
	}
	return pool, cleanup
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	t.Helper()

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	migrationsDir := resolvePath(t, "../../db/postgres/migrations")
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files, "expected at least one migration .up.sql file")

	sort.Strings(files)

	for _, file := range files {
		contents, readErr := os.ReadFile(file)
		require.NoErrorf(t, readErr, "read migration %s", file)

		if _, execErr := pool.Exec(ctx, string(contents)); execErr != nil {
			require.NoErrorf(t, execErr, "execute migration %s", file)
		}
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
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
