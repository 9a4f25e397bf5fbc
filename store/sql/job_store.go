package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/queue"
)

// JobStore is the durable job queue backed by the webhook_jobs table.
type JobStore struct {
	db     *bun.DB
	repo   repository.Repository[*jobRecord]
	policy queue.RetryPolicy

	defaultMaxAttempts int

	// Now is injectable for tests.
	Now func() time.Time
}

// JobStoreOption configures a JobStore.
type JobStoreOption func(*JobStore)

// WithRetryPolicy overrides the backoff policy used by MarkFailed.
func WithRetryPolicy(policy queue.RetryPolicy) JobStoreOption {
	return func(s *JobStore) {
		if policy != nil {
			s.policy = policy
		}
	}
}

// WithDefaultMaxAttempts sets the attempt budget for jobs enqueued without
// one.
func WithDefaultMaxAttempts(attempts int) JobStoreOption {
	return func(s *JobStore) {
		if attempts > 0 {
			s.defaultMaxAttempts = attempts
		}
	}
}

// NewJobStore creates a JobStore over db.
func NewJobStore(db *bun.DB, opts ...JobStoreOption) (*JobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*jobRecord](db, jobHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid job repository wiring: %w", err)
		}
	}
	store := &JobStore{
		db:                 db,
		repo:               repo,
		policy:             queue.ExponentialBackoff{},
		defaultMaxAttempts: core.DefaultJobMaxAttempts,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

var _ core.JobQueue = (*JobStore)(nil)

func (s *JobStore) Enqueue(ctx context.Context, in core.EnqueueInput) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("sqlstore: job store is not configured")
	}
	jobType := strings.TrimSpace(in.Type)
	if jobType == "" {
		return "", fmt.Errorf("sqlstore: job type is required")
	}
	maxAttempts := in.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.defaultMaxAttempts
	}

	now := s.Now().UTC()
	record := &jobRecord{
		ID:          uuid.NewString(),
		Type:        jobType,
		Payload:     copyAnyMap(in.Payload),
		Status:      string(core.JobStatusPending),
		Attempts:    0,
		MaxAttempts: maxAttempts,
		AvailableAt: now.Add(in.Delay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return "", err
	}
	return record.ID, nil
}

// ClaimNext atomically locks the oldest eligible pending job for workerID.
// The conditional UPDATE re-checks status inside the transaction, so two
// workers racing for the same row produce exactly one winner; the loser's
// UPDATE matches zero rows and it comes back empty-handed.
func (s *JobStore) ClaimNext(ctx context.Context, workerID string) (*core.Job, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: job store is not configured")
	}
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, fmt.Errorf("sqlstore: worker id is required")
	}

	now := s.Now().UTC()
	var records []jobRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimed AS (
	SELECT id
	FROM webhook_jobs
	WHERE status = ?
	  AND available_at <= ?
	ORDER BY created_at ASC, id ASC
	LIMIT 1
)
UPDATE webhook_jobs
SET status = ?, locked_by = ?, locked_at = ?, attempts = attempts + 1, updated_at = ?
WHERE id IN (SELECT id FROM claimed)
  AND status = ?
RETURNING
	id,
	type,
	payload,
	status,
	attempts,
	max_attempts,
	available_at,
	locked_by,
	locked_at,
	result,
	last_error,
	created_at,
	updated_at
`
		return tx.NewRaw(
			query,
			string(core.JobStatusPending),
			now,
			string(core.JobStatusLocked),
			workerID,
			now,
			now,
			string(core.JobStatusPending),
		).Scan(ctx, &records)
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	job := records[0].toDomain()
	return &job, nil
}

func (s *JobStore) MarkCompleted(ctx context.Context, jobID string, result map[string]any) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job store is not configured")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("sqlstore: job id is required")
	}

	res, err := s.db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("status = ?", string(core.JobStatusCompleted)).
		Set("result = ?", copyAnyMap(result)).
		Set("locked_by = ?", "").
		Set("locked_at = NULL").
		Set("updated_at = ?", s.Now().UTC()).
		Where("id = ?", jobID).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, core.ErrJobNotFound, jobID)
}

// MarkFailed records a failure. A retryable failure with attempts still in
// budget goes back to pending with a backoff delay; anything else is
// terminal.
func (s *JobStore) MarkFailed(ctx context.Context, jobID string, cause error, retryable bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job store is not configured")
	}
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("sqlstore: job id is required")
	}

	record := &jobRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", jobID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: id %q", core.ErrJobNotFound, jobID)
		}
		return err
	}

	message := ""
	if cause != nil {
		message = cause.Error()
	}
	now := s.Now().UTC()

	update := s.db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("last_error = ?", message).
		Set("locked_by = ?", "").
		Set("locked_at = NULL").
		Set("updated_at = ?", now).
		Where("id = ?", jobID)

	if retryable && record.Attempts < record.MaxAttempts {
		update = update.
			Set("status = ?", string(core.JobStatusPending)).
			Set("available_at = ?", now.Add(s.policy.NextDelay(record.Attempts)))
	} else {
		update = update.Set("status = ?", string(core.JobStatusFailed))
	}

	res, err := update.Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, core.ErrJobNotFound, jobID)
}

func (s *JobStore) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: job store is not configured")
	}
	record := &jobRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(jobID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %q", core.ErrJobNotFound, jobID)
		}
		return nil, err
	}
	job := record.toDomain()
	return &job, nil
}

// ReleaseStale returns jobs locked longer than maxAge to pending so a crashed
// worker's claims are not lost. Meant to run from a periodic reaper, not the
// claim path.
func (s *JobStore) ReleaseStale(ctx context.Context, maxAge time.Duration) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: job store is not configured")
	}
	if maxAge <= 0 {
		return 0, fmt.Errorf("sqlstore: max lock age must be positive")
	}

	now := s.Now().UTC()
	cutoff := now.Add(-maxAge)
	res, err := s.db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("status = ?", string(core.JobStatusPending)).
		Set("locked_by = ?", "").
		Set("locked_at = NULL").
		Set("available_at = ?", now).
		Set("updated_at = ?", now).
		Where("status = ?", string(core.JobStatusLocked)).
		Where("locked_at IS NOT NULL").
		Where("locked_at <= ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	released, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(released), nil
}

func requireAffected(res sql.Result, notFound error, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if affected == 0 {
		return fmt.Errorf("%w: id %q", notFound, id)
	}
	return nil
}
