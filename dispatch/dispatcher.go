package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-webhooks/core"
)

// WildcardEvent is the hook bucket that runs for every event type.
const WildcardEvent = "*"

// Dispatcher implements core.Dispatcher. One Dispatch call produces at most
// one delivery job and one delivery log row per matching subscriber; a
// failure for one subscriber does not block the rest.
type Dispatcher struct {
	queue       core.JobQueue
	subscribers core.SubscriberStore
	logs        core.DeliveryLogStore
	hooks       map[string][]core.TransformHook
	maxAttempts int
	logger      core.Logger

	// Now is injectable for tests.
	Now func() time.Time
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the default logger.
func WithLogger(logger core.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMaxAttempts sets the per-delivery-job attempt budget.
func WithMaxAttempts(attempts int) Option {
	return func(d *Dispatcher) {
		if attempts > 0 {
			d.maxAttempts = attempts
		}
	}
}

// New creates a Dispatcher over the given queue and stores.
func New(queue core.JobQueue, subscribers core.SubscriberStore, logs core.DeliveryLogStore, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		queue:       queue,
		subscribers: subscribers,
		logs:        logs,
		hooks:       map[string][]core.TransformHook{},
		maxAttempts: core.DefaultJobMaxAttempts,
		logger:      glog.Nop(),
		Now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	d.logger = glog.Ensure(d.logger)
	return d
}

var _ core.Dispatcher = (*Dispatcher)(nil)

// RegisterHook appends a transform hook for an event type. Use WildcardEvent
// to run the hook for every event. Hooks run in registration order, wildcard
// bucket first, before the payload is logged or enqueued.
func (d *Dispatcher) RegisterHook(eventType string, hook core.TransformHook) {
	if d == nil || hook == nil {
		return
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return
	}
	d.hooks[eventType] = append(d.hooks[eventType], hook)
}

// Dispatch fans one event out to every active subscriber whose event set
// covers eventType.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType string, payload map[string]any) (core.DispatchResult, error) {
	if d == nil || d.queue == nil || d.subscribers == nil || d.logs == nil {
		return core.DispatchResult{}, fmt.Errorf("dispatch: dispatcher is not configured")
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return core.DispatchResult{}, core.BadInputError(core.ErrorCodeInvalidEvent, "event type is required")
	}
	if payload == nil {
		return core.DispatchResult{}, core.BadInputError(core.ErrorCodeInvalidData, "payload is required")
	}

	matched, err := d.subscribers.FindActiveByEvent(ctx, eventType)
	if err != nil {
		return core.DispatchResult{}, fmt.Errorf("dispatch: find subscribers: %w", err)
	}

	result := core.DispatchResult{
		Event:            eventType,
		SubscribersFound: len(matched),
	}
	if len(matched) == 0 {
		d.logger.Debug("no active subscribers for event", "event", eventType)
		return result, nil
	}

	webhookPayload := d.applyHooks(eventType, map[string]any{
		"event":     eventType,
		"timestamp": d.Now().UTC().Unix(),
		"data":      payload,
	})

	requestBody, err := CanonicalPayload(webhookPayload)
	if err != nil {
		return result, err
	}

	for _, subscriber := range matched {
		jobID, err := d.enqueueDelivery(ctx, subscriber, eventType, webhookPayload, string(requestBody))
		if err != nil {
			d.logger.Error("failed to enqueue delivery",
				"event", eventType,
				"subscriber_id", subscriber.ID,
				"error", err,
			)
			continue
		}
		result.JobsCreated++
		result.JobIDs = append(result.JobIDs, jobID)
		result.SubscriberIDs = append(result.SubscriberIDs, subscriber.ID)
	}

	d.logger.Info("dispatched event",
		"event", eventType,
		"subscribers_found", result.SubscribersFound,
		"jobs_created", result.JobsCreated,
	)
	return result, nil
}

// DispatchBatch dispatches events independently, returning per-event results
// in input order. One failed entry never blocks the rest.
func (d *Dispatcher) DispatchBatch(ctx context.Context, events []core.BatchEvent) []core.BatchResult {
	results := make([]core.BatchResult, 0, len(events))
	for _, entry := range events {
		dispatched, err := d.Dispatch(ctx, entry.Event, entry.Payload)
		results = append(results, core.BatchResult{
			Event:  entry.Event,
			Result: dispatched,
			Err:    err,
		})
	}
	return results
}

func (d *Dispatcher) enqueueDelivery(ctx context.Context, subscriber core.Subscriber, eventType string, webhookPayload map[string]any, requestBody string) (string, error) {
	log, err := d.logs.CreateLog(ctx, core.DeliveryLog{
		SubscriberID: subscriber.ID,
		Event:        eventType,
		RequestBody:  requestBody,
	})
	if err != nil {
		return "", fmt.Errorf("dispatch: create delivery log: %w", err)
	}

	jobID, err := d.queue.Enqueue(ctx, core.EnqueueInput{
		Type: core.JobTypeWebhookDelivery,
		Payload: map[string]any{
			"subscriber_id":     subscriber.ID,
			"subscriber_url":    subscriber.URL,
			"subscriber_secret": subscriber.Secret,
			"event_type":        eventType,
			"webhook_payload":   webhookPayload,
			"log_id":            log.ID,
		},
		MaxAttempts: d.maxAttempts,
	})
	if err != nil {
		return "", fmt.Errorf("dispatch: enqueue delivery job: %w", err)
	}
	return jobID, nil
}

func (d *Dispatcher) applyHooks(eventType string, payload map[string]any) map[string]any {
	for _, hook := range d.hooks[WildcardEvent] {
		if next := hook(eventType, payload); next != nil {
			payload = next
		}
	}
	for _, hook := range d.hooks[eventType] {
		if next := hook(eventType, payload); next != nil {
			payload = next
		}
	}
	return payload
}
