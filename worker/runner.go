package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-webhooks/core"
)

// DefaultPollInterval is how long an idle runner sleeps between claims.
const DefaultPollInterval = time.Second

// Handler executes one claimed job and returns a result payload for the
// completed job record.
type Handler interface {
	Execute(ctx context.Context, job *core.Job) (map[string]any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *core.Job) (map[string]any, error)

func (f HandlerFunc) Execute(ctx context.Context, job *core.Job) (map[string]any, error) {
	return f(ctx, job)
}

type nonRetryableError struct {
	cause error
}

func (e *nonRetryableError) Error() string { return e.cause.Error() }
func (e *nonRetryableError) Unwrap() error { return e.cause }

// NonRetryable marks a handler error as terminal; the runner dead-letters the
// job immediately instead of burning remaining attempts.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{cause: err}
}

// IsNonRetryable reports whether err carries the terminal marker.
func IsNonRetryable(err error) bool {
	var marker *nonRetryableError
	return errors.As(err, &marker)
}

// Runner claims and executes jobs until its context is cancelled.
type Runner struct {
	queue        core.JobQueue
	handlers     map[string]Handler
	id           string
	pollInterval time.Duration
	logger       core.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger overrides the default logger.
func WithLogger(logger core.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithPollInterval sets the idle sleep between claim attempts.
func WithPollInterval(interval time.Duration) RunnerOption {
	return func(r *Runner) {
		if interval > 0 {
			r.pollInterval = interval
		}
	}
}

// NewRunner creates a Runner identified by workerID. The id ends up in the
// job's lock owner column, so make it unique per process.
func NewRunner(workerID string, queue core.JobQueue, opts ...RunnerOption) *Runner {
	r := &Runner{
		queue:        queue,
		handlers:     map[string]Handler{},
		id:           strings.TrimSpace(workerID),
		pollInterval: DefaultPollInterval,
		logger:       glog.Nop(),
	}
	if r.id == "" {
		r.id = "worker"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = glog.Ensure(r.logger)
	return r
}

// Register binds a handler to a job type. Later registrations replace
// earlier ones.
func (r *Runner) Register(jobType string, handler Handler) {
	if r == nil || handler == nil {
		return
	}
	jobType = strings.TrimSpace(jobType)
	if jobType == "" {
		return
	}
	r.handlers[jobType] = handler
}

// Run claims and executes jobs until ctx is cancelled, sleeping between
// claims when the queue is empty.
func (r *Runner) Run(ctx context.Context) error {
	if r == nil || r.queue == nil {
		return fmt.Errorf("worker: runner is not configured")
	}

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		worked, err := r.RunOnce(ctx)
		if err != nil {
			r.logger.Error("job execution cycle failed", "worker_id", r.id, "error", err)
		}
		if worked {
			// Drain eagerly while there is work.
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce claims at most one job and executes it. It reports whether a job
// was claimed; queue errors during completion are returned but the claimed
// job is never silently lost.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	if r == nil || r.queue == nil {
		return false, fmt.Errorf("worker: runner is not configured")
	}

	job, err := r.queue.ClaimNext(ctx, r.id)
	if err != nil {
		return false, fmt.Errorf("worker: claim next: %w", err)
	}
	if job == nil {
		return false, nil
	}

	handler, ok := r.handlers[job.Type]
	if !ok {
		r.logger.Error("no handler for job type", "job_id", job.ID, "job_type", job.Type)
		failErr := r.queue.MarkFailed(ctx, job.ID, fmt.Errorf("worker: no handler for job type %q", job.Type), false)
		return true, failErr
	}

	result, execErr := handler.Execute(ctx, job)
	if execErr != nil {
		retryable := !IsNonRetryable(execErr)
		r.logger.Warn("job attempt failed",
			"job_id", job.ID,
			"job_type", job.Type,
			"attempt", job.Attempts,
			"retryable", retryable,
			"error", execErr,
		)
		if err := r.queue.MarkFailed(ctx, job.ID, execErr, retryable); err != nil {
			return true, fmt.Errorf("worker: mark failed: %w", err)
		}
		return true, nil
	}

	if err := r.queue.MarkCompleted(ctx, job.ID, result); err != nil {
		return true, fmt.Errorf("worker: mark completed: %w", err)
	}
	r.logger.Debug("job completed", "job_id", job.ID, "job_type", job.Type, "attempt", job.Attempts)
	return true, nil
}
