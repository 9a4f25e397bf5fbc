package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-webhooks/core"
)

func (r *jobRecord) toDomain() core.Job {
	if r == nil {
		return core.Job{}
	}
	job := core.Job{
		ID:          r.ID,
		Type:        r.Type,
		Payload:     copyAnyMap(r.Payload),
		Status:      core.JobStatus(r.Status),
		Attempts:    r.Attempts,
		MaxAttempts: r.MaxAttempts,
		AvailableAt: r.AvailableAt,
		LockedBy:    r.LockedBy,
		Result:      copyAnyMap(r.Result),
		LastError:   r.LastError,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	job.LockedAt = cloneTimePointer(r.LockedAt)
	return job
}

func (r *webhookEventRecord) toDomain() core.WebhookEvent {
	if r == nil {
		return core.WebhookEvent{}
	}
	event := core.WebhookEvent{
		ID:         r.ID,
		ExternalID: r.ExternalID,
		EventType:  r.EventType,
		Payload:    copyAnyMap(r.Payload),
		Processed:  r.Processed,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	event.ProcessedAt = cloneTimePointer(r.ProcessedAt)
	return event
}

func (r *subscriberRecord) toDomain() core.Subscriber {
	if r == nil {
		return core.Subscriber{}
	}
	return core.Subscriber{
		ID:        r.ID,
		ClientID:  r.ClientID,
		URL:       r.URL,
		Secret:    r.Secret,
		Events:    append([]string(nil), r.Events...),
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (r *deliveryLogRecord) toDomain() core.DeliveryLog {
	if r == nil {
		return core.DeliveryLog{}
	}
	return core.DeliveryLog{
		ID:           r.ID,
		SubscriberID: r.SubscriberID,
		Event:        r.Event,
		RequestBody:  r.RequestBody,
		ResponseCode: r.ResponseCode,
		ResponseBody: r.ResponseBody,
		Attempts:     r.Attempts,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
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

func cloneTimePointer(input *time.Time) *time.Time {
	if input == nil {
		return nil
	}
	value := input.UTC()
	return &value
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
