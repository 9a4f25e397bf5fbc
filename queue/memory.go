package queue

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-webhooks/core"
	"github.com/google/uuid"
)

// InMemoryQueue is a mutex-guarded core.JobQueue. Jobs are claimed
// oldest-first among those whose available_at has passed.
type InMemoryQueue struct {
	mu          sync.Mutex
	jobs        map[string]*core.Job
	policy      RetryPolicy
	maxAttempts int
	Now         func() time.Time
}

type InMemoryOption func(*InMemoryQueue)

func WithRetryPolicy(policy RetryPolicy) InMemoryOption {
	return func(q *InMemoryQueue) {
		if policy != nil {
			q.policy = policy
		}
	}
}

func WithDefaultMaxAttempts(max int) InMemoryOption {
	return func(q *InMemoryQueue) {
		if max > 0 {
			q.maxAttempts = max
		}
	}
}

func NewInMemoryQueue(options ...InMemoryOption) *InMemoryQueue {
	q := &InMemoryQueue{
		jobs:        map[string]*core.Job{},
		policy:      ExponentialBackoff{},
		maxAttempts: core.DefaultJobMaxAttempts,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, option := range options {
		if option != nil {
			option(q)
		}
	}
	return q
}

func (q *InMemoryQueue) Enqueue(_ context.Context, in core.EnqueueInput) (string, error) {
	if q == nil {
		return "", fmt.Errorf("queue: in-memory queue is nil")
	}
	jobType := strings.TrimSpace(in.Type)
	if jobType == "" {
		return "", fmt.Errorf("queue: job type is required")
	}
	maxAttempts := in.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.maxAttempts
	}
	delay := in.Delay
	if delay < 0 {
		delay = 0
	}

	now := q.now()
	job := &core.Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Payload:     copyPayload(in.Payload),
		Status:      core.JobStatusPending,
		Attempts:    0,
		MaxAttempts: maxAttempts,
		AvailableAt: now.Add(delay),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs[job.ID] = job
	return job.ID, nil
}

func (q *InMemoryQueue) ClaimNext(_ context.Context, workerID string) (*core.Job, error) {
	if q == nil {
		return nil, fmt.Errorf("queue: in-memory queue is nil")
	}
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	eligible := make([]*core.Job, 0)
	for _, job := range q.jobs {
		if job.Status == core.JobStatusPending && !job.AvailableAt.After(now) {
			eligible = append(eligible, job)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].CreatedAt.Equal(eligible[j].CreatedAt) {
			return eligible[i].ID < eligible[j].ID
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})

	job := eligible[0]
	lockedAt := now
	job.Status = core.JobStatusLocked
	job.LockedBy = strings.TrimSpace(workerID)
	job.LockedAt = &lockedAt
	job.Attempts++
	job.UpdatedAt = now
	return cloneJob(job), nil
}

func (q *InMemoryQueue) MarkCompleted(_ context.Context, jobID string, result map[string]any) error {
	if q == nil {
		return fmt.Errorf("queue: in-memory queue is nil")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[strings.TrimSpace(jobID)]
	if !ok {
		return fmt.Errorf("%w: id %q", core.ErrJobNotFound, jobID)
	}
	now := q.now()
	job.Status = core.JobStatusCompleted
	job.Result = copyPayload(result)
	job.LockedBy = ""
	job.LockedAt = nil
	job.UpdatedAt = now
	return nil
}

func (q *InMemoryQueue) MarkFailed(_ context.Context, jobID string, cause error, retryable bool) error {
	if q == nil {
		return fmt.Errorf("queue: in-memory queue is nil")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[strings.TrimSpace(jobID)]
	if !ok {
		return fmt.Errorf("%w: id %q", core.ErrJobNotFound, jobID)
	}
	now := q.now()
	message := ""
	if cause != nil {
		message = strings.TrimSpace(cause.Error())
	}
	job.LastError = message
	job.LockedBy = ""
	job.LockedAt = nil
	job.UpdatedAt = now

	if retryable && job.Attempts < job.MaxAttempts {
		job.Status = core.JobStatusPending
		job.AvailableAt = now.Add(q.policy.NextDelay(job.Attempts))
		return nil
	}
	job.Status = core.JobStatusFailed
	return nil
}

func (q *InMemoryQueue) GetJob(_ context.Context, jobID string) (*core.Job, error) {
	if q == nil {
		return nil, fmt.Errorf("queue: in-memory queue is nil")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[strings.TrimSpace(jobID)]
	if !ok {
		return nil, fmt.Errorf("%w: id %q", core.ErrJobNotFound, jobID)
	}
	return cloneJob(job), nil
}

// ReleaseStale returns locked jobs whose lock is at least maxAge old to the
// pending pool so another worker can claim them.
func (q *InMemoryQueue) ReleaseStale(_ context.Context, maxAge time.Duration) (int, error) {
	if q == nil {
		return 0, fmt.Errorf("queue: in-memory queue is nil")
	}
	if maxAge <= 0 {
		return 0, fmt.Errorf("queue: max lock age must be positive")
	}

	now := q.now()
	cutoff := now.Add(-maxAge)

	q.mu.Lock()
	defer q.mu.Unlock()
	released := 0
	for _, job := range q.jobs {
		if job.Status != core.JobStatusLocked || job.LockedAt == nil {
			continue
		}
		if job.LockedAt.After(cutoff) {
			continue
		}
		job.Status = core.JobStatusPending
		job.LockedBy = ""
		job.LockedAt = nil
		job.AvailableAt = now
		job.UpdatedAt = now
		released++
	}
	return released, nil
}

func (q *InMemoryQueue) now() time.Time {
	if q != nil && q.Now != nil {
		return q.Now().UTC()
	}
	return time.Now().UTC()
}

func cloneJob(job *core.Job) *core.Job {
	if job == nil {
		return nil
	}
	out := *job
	out.Payload = copyPayload(job.Payload)
	out.Result = copyPayload(job.Result)
	if job.LockedAt != nil {
		lockedAt := *job.LockedAt
		out.LockedAt = &lockedAt
	}
	return &out
}

func copyPayload(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = copyValue(value)
	}
	return out
}

// copyValue recurses into nested maps and slices so queued jobs never share
// mutable state with the caller's payload.
func copyValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, nested := range typed {
			out[key] = copyValue(nested)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, nested := range typed {
			out[i] = copyValue(nested)
		}
		return out
	default:
		return value
	}
}

var _ core.JobQueue = (*InMemoryQueue)(nil)
