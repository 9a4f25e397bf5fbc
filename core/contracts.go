package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// EnqueueInput describes a job to enqueue. Zero MaxAttempts falls back to the
// queue's configured default; Delay pushes AvailableAt into the future.
type EnqueueInput struct {
	Type        string
	Payload     map[string]any
	MaxAttempts int
	Delay       time.Duration
}

// JobQueue is the durable, contended work queue. ClaimNext must be an atomic
// conditional state transition: N concurrent callers against one eligible job
// yield exactly one winner, the rest receive nil. GetJob reports a miss as
// ErrJobNotFound on every backend.
type JobQueue interface {
	Enqueue(ctx context.Context, in EnqueueInput) (string, error)
	ClaimNext(ctx context.Context, workerID string) (*Job, error)
	MarkCompleted(ctx context.Context, jobID string, result map[string]any) error
	MarkFailed(ctx context.Context, jobID string, cause error, retryable bool) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
}

// EventStore persists inbound dedup records keyed by external id.
type EventStore interface {
	FindByExternalID(ctx context.Context, externalID string) (*WebhookEvent, error)
	Create(ctx context.Context, event WebhookEvent) (WebhookEvent, error)
	MarkProcessed(ctx context.Context, id string) error
}

// SubscriberStore manages delivery targets. FindActiveByEvent returns active
// subscribers whose event set contains the event type or the "*" wildcard.
type SubscriberStore interface {
	Create(ctx context.Context, subscriber Subscriber) (Subscriber, error)
	Get(ctx context.Context, id string) (Subscriber, error)
	List(ctx context.Context) ([]Subscriber, error)
	FindActiveByEvent(ctx context.Context, eventType string) ([]Subscriber, error)
	Deactivate(ctx context.Context, id string) error
}

// DeliveryLogStore persists one row per dispatched delivery job.
type DeliveryLogStore interface {
	CreateLog(ctx context.Context, log DeliveryLog) (DeliveryLog, error)
	UpdateLog(ctx context.Context, id string, update DeliveryLogUpdate) (DeliveryLog, error)
	Get(ctx context.Context, id string) (DeliveryLog, error)
}

// ChatHandler is the external chat-completion collaborator. The webhook core
// never talks to the LLM directly.
type ChatHandler interface {
	HandleChatCompletionSync(
		ctx context.Context,
		message string,
		conversationID string,
		agentID string,
		tenantID string,
	) (ChatReply, error)
}

// EventProcessor routes one normalized event to its domain handler.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, event NormalizedEvent) (ProcessResult, error)
}

// TransformHook mutates an outbound payload before it is signed. Hooks run in
// registration order, wildcard bucket first.
type TransformHook func(eventType string, payload map[string]any) map[string]any

// Dispatcher fans one domain event out to matching subscribers.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventType string, payload map[string]any) (DispatchResult, error)
	DispatchBatch(ctx context.Context, events []BatchEvent) []BatchResult
}
