package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/progress/internal/domain"
	"example.com/progress/internal/events"
	"example.com/progress/internal/observability"
)

// Repository provides Postgres-backed persistence for the submission log and
// outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const submissionColumns = `submission_id, user_id, category, description, status, created_at, reviewed_at, reviewer_id, feedback`

func scanSubmission(row pgx.Row) (*domain.Submission, error) {
	var sub domain.Submission
	var reviewedAt *time.Time
	var reviewerID, feedback *string
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.Category, &sub.Description, &sub.Status, &sub.CreatedAt, &reviewedAt, &reviewerID, &feedback); err != nil {
		return nil, err
	}
	sub.ReviewedAt = reviewedAt
	if reviewerID != nil {
		sub.ReviewerID = *reviewerID
	}
	if feedback != nil {
		sub.Feedback = *feedback
	}
	return &sub, nil
}

// Append persists the pending submission and records the created event inside
// a single transaction.
func (r *Repository) Append(ctx context.Context, submission domain.Submission) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const insert = `INSERT INTO submissions (submission_id, user_id, category, description, status, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)`

	_, err = tx.Exec(ctx, insert,
		submission.ID,
		submission.UserID,
		submission.Category,
		submission.Description,
		submission.Status,
		submission.CreatedAt,
	)
	if err != nil {
		return err
	}

	if err = insertOutbox(ctx, tx, submission.ID, submission.UserID, "submission.created", events.SubmissionCreated{
		SubmissionID: submission.ID,
		UserID:       submission.UserID,
		Category:     string(submission.Category),
		Description:  submission.Description,
		CreatedAt:    submission.CreatedAt,
	}); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	if err != nil {
		return err
	}
	observability.RecordSubmissionLogged(submission.CreatedAt)
	return nil
}

// Get retrieves a submission by ID, nil when absent.
func (r *Repository) Get(ctx context.Context, submissionID string) (*domain.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE submission_id=$1`

	row := r.pool.QueryRow(ctx, query, submissionID)
	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// ListPending pages pending submissions in (created_at, submission_id)
// ascending order so the oldest submissions are reviewed first.
func (r *Repository) ListPending(ctx context.Context, filter domain.PendingFilter, cursor *domain.Cursor, limit int) ([]domain.Submission, *domain.Cursor, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE status='pending'`
	args := []interface{}{}

	if filter.UserID != "" {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id=$%d", len(args))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		query += fmt.Sprintf(" AND category=$%d", len(args))
	}
	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		query += fmt.Sprintf(" AND (created_at, submission_id) > ($%d, $%d)", len(args)-1, len(args))
	}

	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at ASC, submission_id ASC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.Submission, 0, limit)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, next, nil
}

// ListByUser returns the user's full log in created_at ascending order. It is
// the replay input for snapshot recomputation.
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]domain.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE user_id=$1 ORDER BY created_at ASC, submission_id ASC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.Submission, 0)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *sub)
	}
	return results, rows.Err()
}

// Review performs the atomic check-and-set: the UPDATE commits only if the row
// still reads pending. A zero row count distinguishes a lost race from a
// missing submission. The reviewed event lands in the outbox in the same
// transaction, so a failed review leaves no trace.
func (r *Repository) Review(ctx context.Context, submissionID, reviewerID string, decision domain.Decision, feedback string, reviewedAt time.Time) (*domain.Submission, error) {
	status := domain.StatusApproved
	if decision == domain.DecisionReject {
		status = domain.StatusRejected
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const update = `UPDATE submissions
        SET status=$2, reviewed_at=$3, reviewer_id=$4, feedback=NULLIF($5, '')
        WHERE submission_id=$1 AND status='pending'
        RETURNING ` + submissionColumns

	row := tx.QueryRow(ctx, update, submissionID, status, reviewedAt, reviewerID, feedback)
	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			tx.Rollback(ctx)
			return nil, r.classifyReviewMiss(ctx, submissionID)
		}
		return nil, err
	}

	if err = insertOutbox(ctx, tx, sub.ID, sub.UserID, "submission.reviewed", events.SubmissionReviewed{
		SubmissionID: sub.ID,
		UserID:       sub.UserID,
		Category:     string(sub.Category),
		Decision:     string(decision),
		ReviewerID:   reviewerID,
		Feedback:     sub.Feedback,
		OccurredAt:   reviewedAt,
	}); err != nil {
		return nil, err
	}

	err = tx.Commit(ctx)
	if err != nil {
		return nil, err
	}
	observability.RecordReview(string(decision))
	return sub, nil
}

func (r *Repository) classifyReviewMiss(ctx context.Context, submissionID string) error {
	existing, err := r.Get(ctx, submissionID)
	if err != nil {
		return err
	}
	if existing == nil {
		return domain.ErrSubmissionNotFound
	}
	return domain.ErrAlreadyReviewed
}

func insertOutbox(ctx context.Context, tx pgx.Tx, submissionID, userID, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta := eventCatalog[eventType]
	if meta.Topic == "" {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	dedupeKey := fmt.Sprintf("%s:%s", submissionID, eventType)

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = tx.Exec(ctx, stmt,
		"submission",
		submissionID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKeyFn(submissionID, userID),
		body,
		dedupeKey,
	)
	return err
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(submissionID, userID string) string
}

// Events partition by user so per-user review ordering survives the broker.
var eventCatalog = map[string]EventMetadata{
	"submission.created": {
		Topic:          "submission_events",
		SchemaSubject:  "submission_events-value",
		PartitionKeyFn: func(_, userID string) string { return userID },
	},
	"submission.reviewed": {
		Topic:          "submission_reviewed",
		SchemaSubject:  "submission_reviewed-value",
		PartitionKeyFn: func(_, userID string) string { return userID },
	},
}
