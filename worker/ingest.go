package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-webhooks/core"
)

// IngestHandler replays a webhook_event job through the event processor and
// marks the stored event processed on success.
type IngestHandler struct {
	processor core.EventProcessor
	events    core.EventStore
}

// NewIngestHandler creates the handler for webhook_event jobs.
func NewIngestHandler(processor core.EventProcessor, events core.EventStore) *IngestHandler {
	return &IngestHandler{processor: processor, events: events}
}

var _ Handler = (*IngestHandler)(nil)

func (h *IngestHandler) Execute(ctx context.Context, job *core.Job) (map[string]any, error) {
	if h == nil || h.processor == nil {
		return nil, NonRetryable(errors.New("worker: ingest handler is not configured"))
	}
	if job == nil {
		return nil, NonRetryable(errors.New("worker: nil job"))
	}

	event := core.NormalizedEventFromPayload(job.Payload)
	if event.Type == "" {
		return nil, NonRetryable(errors.New("worker: job payload has no event type"))
	}

	processed, err := h.processor.ProcessEvent(ctx, event)
	if err != nil {
		if core.ErrorCode(err) == core.ErrorCodeInvalidEventData {
			// Bad event data never improves with retries.
			return nil, NonRetryable(err)
		}
		return nil, fmt.Errorf("worker: process event: %w", err)
	}

	if h.events != nil && event.EventID != "" {
		if record, lookupErr := h.events.FindByExternalID(ctx, event.EventID); lookupErr == nil && record != nil {
			if markErr := h.events.MarkProcessed(ctx, record.ID); markErr != nil {
				return nil, fmt.Errorf("worker: mark event processed: %w", markErr)
			}
		}
	}

	result := map[string]any{
		"status":     processed.Status,
		"event_type": processed.EventType,
	}
	if processed.Reason != "" {
		result["reason"] = processed.Reason
	}
	if processed.Result != nil {
		result["result"] = processed.Result
	}
	return result, nil
}
