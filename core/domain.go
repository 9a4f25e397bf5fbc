package core

import (
	"strings"
	"time"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusLocked    JobStatus = "locked"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

const (
	JobTypeWebhookEvent    = "webhook_event"
	JobTypeWebhookDelivery = "webhook_delivery"
)

// Job is a unit of durable work. Exactly one worker holds the lock at a time;
// AvailableAt gates retries. LockedBy/LockedAt are exposed so an external
// reaper can reclaim stale locks; the queue itself never does.
type Job struct {
	ID          string
	Type        string
	Payload     map[string]any
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	AvailableAt time.Time
	LockedBy    string
	LockedAt    *time.Time
	Result      map[string]any
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WebhookEvent is the inbound dedup record. ExternalID is the idempotency key
// and is unique; once a row exists, resubmission produces no new work.
type WebhookEvent struct {
	ID          string
	ExternalID  string
	EventType   string
	Payload     map[string]any
	Processed   bool
	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Subscriber is an outbound delivery target. Deactivated subscribers are
// excluded from fan-out without being deleted.
type Subscriber struct {
	ID        string
	ClientID  string
	URL       string
	Secret    string
	Events    []string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Subscribed reports whether the subscriber's event set covers eventType,
// either exactly or through the "*" wildcard.
func (s Subscriber) Subscribed(eventType string) bool {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return false
	}
	for _, event := range s.Events {
		event = strings.TrimSpace(event)
		if event == "*" || event == eventType {
			return true
		}
	}
	return false
}

// DeliveryLog records one dispatched delivery job. The dispatcher creates the
// row; thereafter only the delivering worker mutates it, once per attempt.
type DeliveryLog struct {
	ID           string
	SubscriberID string
	Event        string
	RequestBody  string
	ResponseCode int
	ResponseBody string
	Attempts     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DeliveryLogUpdate carries the mutable response fields; nil means unchanged.
type DeliveryLogUpdate struct {
	ResponseCode *int
	ResponseBody *string
	Attempts     *int
}

// NormalizedEvent is the transient form the gateway produces and the processor
// consumes, either directly (sync) or embedded in a webhook_event job payload.
type NormalizedEvent struct {
	EventID    string
	Type       string
	Timestamp  int64
	Data       map[string]any
	ReceivedAt time.Time
	Source     string
}

// ToPayload flattens the event into a job payload map.
func (e NormalizedEvent) ToPayload() map[string]any {
	return map[string]any{
		"event_id":    e.EventID,
		"event":       e.Type,
		"timestamp":   e.Timestamp,
		"data":        copyAnyMap(e.Data),
		"received_at": e.ReceivedAt.UTC().Format(time.RFC3339),
		"source":      e.Source,
	}
}

// NormalizedEventFromPayload rebuilds an event from a job payload produced by
// ToPayload. Missing fields come back zero-valued rather than failing; the
// processor validates what it actually needs.
func NormalizedEventFromPayload(payload map[string]any) NormalizedEvent {
	event := NormalizedEvent{
		EventID: stringField(payload, "event_id"),
		Type:    stringField(payload, "event"),
		Source:  stringField(payload, "source"),
	}
	switch ts := payload["timestamp"].(type) {
	case int64:
		event.Timestamp = ts
	case int:
		event.Timestamp = int64(ts)
	case float64:
		event.Timestamp = int64(ts)
	}
	if data, ok := payload["data"].(map[string]any); ok {
		event.Data = copyAnyMap(data)
	}
	if raw := stringField(payload, "received_at"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			event.ReceivedAt = parsed
		}
	}
	return event
}

const (
	ProcessStatusProcessed = "processed"
	ProcessStatusIgnored   = "ignored"
)

// ProcessResult is the processor's verdict for one normalized event. Unknown
// event types come back as ignored, never as an error.
type ProcessResult struct {
	Status    string
	EventType string
	Reason    string
	Result    map[string]any
}

// DispatchResult summarizes one fan-out call.
type DispatchResult struct {
	Event            string
	SubscribersFound int
	JobsCreated      int
	JobIDs           []string
	SubscriberIDs    []string
}

// BatchEvent is one entry of a DispatchBatch call.
type BatchEvent struct {
	Event   string
	Payload map[string]any
}

// BatchResult pairs a batch entry with its outcome, in input order. A failed
// entry carries Err and never blocks the rest of the batch.
type BatchResult struct {
	Event  string
	Result DispatchResult
	Err    error
}

// ChatReply is the chat collaborator's answer to a completion request.
type ChatReply struct {
	Message          string
	ProcessingTimeMS int64
}

func stringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	value, ok := payload[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
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
