// Package gojob bridges the durable webhook job queue onto go-job's broker
// contracts. The SQL queue stays the source of truth; the broker only carries
// wake-up notifications so pollers do not sit on their interval.
package gojob

import (
	"context"
	"fmt"
	"strings"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"

	"github.com/goliatone/go-webhooks/core"
)

const (
	JobIDWebhookEvent    = "webhooks.event.process"
	JobIDWebhookDelivery = "webhooks.delivery.send"
)

// ToExecutionMessage maps a claimed webhook job onto a go-job execution
// message. The durable job ID rides along as the idempotency key.
func ToExecutionMessage(claimed *core.Job) *job.ExecutionMessage {
	if claimed == nil {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          brokerJobID(claimed.Type),
		Parameters:     copyAnyMap(claimed.Payload),
		IdempotencyKey: strings.TrimSpace(claimed.ID),
	}
}

// NotifyingQueue wraps a durable queue and publishes a notification to a
// go-job enqueuer after every successful enqueue. Notification failures are
// swallowed; the durable row is already committed and pollers will find it.
type NotifyingQueue struct {
	base     core.JobQueue
	enqueuer queue.Enqueuer
	logger   job.Logger
}

// NotifyingOption configures a NotifyingQueue.
type NotifyingOption func(*NotifyingQueue)

// WithNotifyLogger sets the logger used for broker notification outcomes.
func WithNotifyLogger(logger job.Logger) NotifyingOption {
	return func(q *NotifyingQueue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// NewNotifyingQueue wraps base with broker notifications.
func NewNotifyingQueue(base core.JobQueue, enqueuer queue.Enqueuer, opts ...NotifyingOption) (*NotifyingQueue, error) {
	if base == nil {
		return nil, fmt.Errorf("gojob: base job queue is required")
	}
	if enqueuer == nil {
		return nil, fmt.Errorf("gojob: broker enqueuer is required")
	}
	q := &NotifyingQueue{base: base, enqueuer: enqueuer}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q, nil
}

var _ core.JobQueue = (*NotifyingQueue)(nil)

func (q *NotifyingQueue) Enqueue(ctx context.Context, in core.EnqueueInput) (string, error) {
	if q == nil || q.base == nil {
		return "", fmt.Errorf("gojob: notifying queue is not configured")
	}
	jobID, err := q.base.Enqueue(ctx, in)
	if err != nil {
		return "", err
	}
	if q.enqueuer != nil && in.Delay <= 0 {
		_, notifyErr := q.enqueuer.Enqueue(ctx, &job.ExecutionMessage{
			JobID:          brokerJobID(in.Type),
			Parameters:     copyAnyMap(in.Payload),
			IdempotencyKey: jobID,
		})
		if notifyErr != nil && q.logger != nil {
			q.logger.Debug("broker notify failed", "job_id", jobID, "job_type", in.Type, "error", notifyErr)
		}
	}
	return jobID, nil
}

func (q *NotifyingQueue) ClaimNext(ctx context.Context, workerID string) (*core.Job, error) {
	if q == nil || q.base == nil {
		return nil, fmt.Errorf("gojob: notifying queue is not configured")
	}
	return q.base.ClaimNext(ctx, workerID)
}

func (q *NotifyingQueue) MarkCompleted(ctx context.Context, jobID string, result map[string]any) error {
	if q == nil || q.base == nil {
		return fmt.Errorf("gojob: notifying queue is not configured")
	}
	return q.base.MarkCompleted(ctx, jobID, result)
}

func (q *NotifyingQueue) MarkFailed(ctx context.Context, jobID string, cause error, retryable bool) error {
	if q == nil || q.base == nil {
		return fmt.Errorf("gojob: notifying queue is not configured")
	}
	return q.base.MarkFailed(ctx, jobID, cause, retryable)
}

func (q *NotifyingQueue) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	if q == nil || q.base == nil {
		return nil, fmt.Errorf("gojob: notifying queue is not configured")
	}
	return q.base.GetJob(ctx, jobID)
}

func brokerJobID(jobType string) string {
	switch strings.TrimSpace(jobType) {
	case core.JobTypeWebhookEvent:
		return JobIDWebhookEvent
	case core.JobTypeWebhookDelivery:
		return JobIDWebhookDelivery
	default:
		return strings.TrimSpace(jobType)
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
