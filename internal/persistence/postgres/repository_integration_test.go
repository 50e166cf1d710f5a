//go:build integration
// +build integration

package postgres

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/progress/internal/achievement"
	"example.com/progress/internal/domain"
)

func TestRepositoryAppendWritesOutboxEvent(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)
	submission := newSubmission("user-1", domain.CategoryWorkout)
	require.NoError(t, repo.Append(ctx, submission))

	stored, err := repo.Get(ctx, submission.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, domain.StatusPending, stored.Status)
	require.Equal(t, submission.Description, stored.Description)

	var eventType, topic string
	err = pool.QueryRow(ctx,
		`SELECT event_type, topic FROM outbox WHERE aggregate_id = $1`, submission.ID,
	).Scan(&eventType, &topic)
	require.NoError(t, err)
	require.Equal(t, "submission.created", eventType)
	require.Equal(t, "submission_events", topic)
}

func TestRepositoryGetMissingReturnsNil(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)
	stored, err := repo.Get(ctx, uuid.NewString())
	require.NoError(t, err)
	require.Nil(t, stored)
}

func TestRepositoryListPendingPagesInOrder(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)
	base := time.Now().UTC().Truncate(time.Millisecond)
	var ids []string
	for i := 0; i < 5; i++ {
		submission := newSubmission("user-1", domain.CategoryWorkout)
		submission.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Append(ctx, submission))
		ids = append(ids, submission.ID)
	}

	first, cursor, err := repo.ListPending(ctx, domain.PendingFilter{}, nil, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	require.NotNil(t, cursor)
	require.Equal(t, ids[0], first[0].ID)

	second, _, err := repo.ListPending(ctx, domain.PendingFilter{}, cursor, 10)
	require.NoError(t, err)
	require.Len(t, second, 2)
	require.Equal(t, ids[3], second[0].ID)
	require.Equal(t, ids[4], second[1].ID)
}

func TestRepositoryListPendingFiltersUserAndCategory(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)
	target := newSubmission("user-1", domain.CategoryHydration)
	require.NoError(t, repo.Append(ctx, target))
	require.NoError(t, repo.Append(ctx, newSubmission("user-1", domain.CategoryWorkout)))
	require.NoError(t, repo.Append(ctx, newSubmission("user-2", domain.CategoryHydration)))

	items, _, err := repo.ListPending(ctx, domain.PendingFilter{
		UserID:   "user-1",
		Category: domain.CategoryHydration,
	}, nil, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, target.ID, items[0].ID)
}

func TestRepositoryReviewTransitionAndOutbox(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)
	submission := newSubmission("user-1", domain.CategoryWorkout)
	require.NoError(t, repo.Append(ctx, submission))

	reviewed, err := repo.Review(ctx, submission.ID, "coach", domain.DecisionReject, "Workout not verified", time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, domain.StatusRejected, reviewed.Status)
	require.Equal(t, "coach", reviewed.ReviewerID)
	require.Equal(t, "Workout not verified", reviewed.Feedback)
	require.NotNil(t, reviewed.ReviewedAt)

	var count int
	err = pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE aggregate_id = $1 AND event_type = 'submission.reviewed'`,
		submission.ID,
	).Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRepositoryReviewMissClassification(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)

	_, err := repo.Review(ctx, uuid.NewString(), "coach", domain.DecisionApprove, "", time.Now().UTC())
	require.ErrorIs(t, err, domain.ErrSubmissionNotFound)

	submission := newSubmission("user-1", domain.CategoryWorkout)
	require.NoError(t, repo.Append(ctx, submission))
	_, err = repo.Review(ctx, submission.ID, "coach", domain.DecisionApprove, "", time.Now().UTC())
	require.NoError(t, err)

	_, err = repo.Review(ctx, submission.ID, "coach", domain.DecisionReject, "", time.Now().UTC())
	require.ErrorIs(t, err, domain.ErrAlreadyReviewed)
}

func TestRepositoryConcurrentReviewsSingleWinner(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)
	submission := newSubmission("user-1", domain.CategoryWorkout)
	require.NoError(t, repo.Append(ctx, submission))

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			decision := domain.DecisionApprove
			if n%2 == 1 {
				decision = domain.DecisionReject
			}
			_, err := repo.Review(ctx, submission.ID, fmt.Sprintf("coach-%d", n), decision, "", time.Now().UTC())
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var winners, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			winners++
		default:
			require.ErrorIs(t, err, domain.ErrAlreadyReviewed)
			conflicts++
		}
	}
	require.Equal(t, 1, winners)
	require.Equal(t, attempts-1, conflicts)

	var reviewedEvents int
	err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE aggregate_id = $1 AND event_type = 'submission.reviewed'`,
		submission.ID,
	).Scan(&reviewedEvents)
	require.NoError(t, err)
	require.Equal(t, 1, reviewedEvents)
}

func TestLedgerUnlocksAreGrowOnly(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgres(t, ctx)
	defer cleanup()

	repo := NewRepository(pool)
	first := time.Now().UTC().Truncate(time.Millisecond)
	unlock := achievement.Unlock{Tier: achievement.TierBronze, Threshold: 1, UnlockedAt: first}

	require.NoError(t, repo.Record(ctx, "user-1", []achievement.Unlock{unlock}))
	unlock.UnlockedAt = first.Add(time.Hour)
	require.NoError(t, repo.Record(ctx, "user-1", []achievement.Unlock{unlock}))

	unlocks, err := repo.ListUnlocked(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	require.True(t, unlocks[0].UnlockedAt.Equal(first), "original unlock timestamp must survive")
}

func newSubmission(userID string, category domain.Category) domain.Submission {
	return domain.Submission{
		ID:          uuid.NewString(),
		UserID:      userID,
		Category:    category,
		Description: "logged activity",
		Status:      domain.StatusPending,
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
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

	migrationsDir := resolvePath(t, "../../../db/postgres/migrations")
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
