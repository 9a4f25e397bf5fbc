package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/security"
)

// StatusReceived is the accepted response status value.
const StatusReceived = "received"

// Processing modes reported in the response body.
const (
	ProcessingAsync   = "async"
	ProcessingSync    = "sync"
	ProcessingSkipped = "skipped"
)

// NoteDuplicateEvent marks a resubmission of an already recorded event.
const NoteDuplicateEvent = "duplicate_event"

// Request is a transport-neutral inbound request. The HTTP layer maps to it;
// tests construct it directly.
type Request struct {
	Headers  map[string]string
	Body     []byte
	RemoteIP string
}

// Response is the transport-neutral outcome. Body is always a JSON-ready map.
type Response struct {
	StatusCode int
	Body       map[string]any
}

// Gateway validates and ingests inbound webhooks.
type Gateway struct {
	security  *security.Service
	events    core.EventStore
	queue     core.JobQueue
	processor core.EventProcessor
	cfg       core.Config
	logger    core.Logger

	// Now is injectable for tests.
	Now func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger overrides the default logger.
func WithLogger(logger core.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a Gateway. The processor may be nil when the gateway runs in
// async mode only.
func New(cfg core.Config, sec *security.Service, events core.EventStore, queue core.JobQueue, processor core.EventProcessor, opts ...Option) *Gateway {
	g := &Gateway{
		security:  sec,
		events:    events,
		queue:     queue,
		processor: processor,
		cfg:       cfg,
		logger:    glog.Nop(),
		Now:       time.Now,
	}
	if g.security == nil {
		g.security = security.New()
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	g.logger = glog.Ensure(g.logger)
	return g
}

// HandleRequest runs the full inbound pipeline and always produces a
// response; pipeline failures become error bodies, never panics.
func (g *Gateway) HandleRequest(ctx context.Context, req Request) Response {
	if g == nil || g.events == nil {
		return errorResponse(core.InternalError("gateway is not configured"))
	}

	payload, err := g.parseBody(req.Body)
	if err != nil {
		return errorResponse(err)
	}

	eventType, timestamp, data, err := g.validateSchema(payload)
	if err != nil {
		return errorResponse(err)
	}

	if err := g.verifySignature(req, payload); err != nil {
		g.logger.Warn("rejected unauthenticated webhook",
			"event", eventType,
			"remote_ip", req.RemoteIP,
			"code", core.ErrorCode(err),
		)
		return errorResponse(err)
	}

	tolerance := time.Duration(g.cfg.Security.ToleranceSeconds) * time.Second
	if !g.security.EnforceClockSkew(timestamp, tolerance) {
		g.logger.Warn("rejected stale webhook",
			"event", eventType,
			"timestamp", timestamp,
			"remote_ip", req.RemoteIP,
		)
		return errorResponse(core.StaleTimestampError("timestamp is outside the accepted window"))
	}

	if len(g.cfg.Security.Whitelist) > 0 {
		allowed, err := g.security.InWhitelist(req.RemoteIP, g.cfg.Security.Whitelist)
		if err != nil || !allowed {
			g.logger.Warn("rejected webhook from unlisted address",
				"event", eventType,
				"remote_ip", req.RemoteIP,
			)
			return errorResponse(core.ForbiddenError(core.ErrorCodeIPNotAllowed, "source address is not allowed"))
		}
	}

	externalID := g.externalID(payload, eventType, timestamp, data)
	receivedAt := g.Now().UTC()

	existing, err := g.events.FindByExternalID(ctx, externalID)
	if err != nil && !errors.Is(err, core.ErrEventNotFound) {
		return errorResponse(core.InternalError("event lookup failed"))
	}
	if existing != nil {
		g.logger.Info("duplicate webhook event", "event", eventType, "event_id", externalID)
		return duplicateResponse(eventType, externalID, receivedAt)
	}

	record, err := g.events.Create(ctx, core.WebhookEvent{
		ExternalID: externalID,
		EventType:  eventType,
		Payload:    payload,
	})
	if err != nil {
		if errors.Is(err, core.ErrDuplicateEvent) {
			// Lost a concurrent race on the same external id; same answer as
			// finding the row up front.
			return duplicateResponse(eventType, externalID, receivedAt)
		}
		g.logger.Error("failed to record webhook event", "event", eventType, "error", err)
		return errorResponse(core.InternalError("failed to record event"))
	}

	normalized := core.NormalizedEvent{
		EventID:    externalID,
		Type:       eventType,
		Timestamp:  timestamp,
		Data:       data,
		ReceivedAt: receivedAt,
		Source:     "inbound",
	}

	body := map[string]any{
		"status":      StatusReceived,
		"event":       eventType,
		"event_id":    externalID,
		"received_at": receivedAt.Format(time.RFC3339),
	}

	if g.cfg.Gateway.Async {
		if g.queue == nil {
			return errorResponse(core.InternalError("no queue configured for async ingestion"))
		}
		jobID, err := g.queue.Enqueue(ctx, core.EnqueueInput{
			Type:        core.JobTypeWebhookEvent,
			Payload:     normalized.ToPayload(),
			MaxAttempts: g.cfg.Queue.MaxAttempts,
		})
		if err != nil {
			g.logger.Error("failed to enqueue event job", "event", eventType, "error", err)
			return errorResponse(core.InternalError("failed to enqueue event"))
		}
		body["processing"] = ProcessingAsync
		body["job_id"] = jobID
		return Response{StatusCode: http.StatusOK, Body: body}
	}

	if g.processor == nil {
		return errorResponse(core.InternalError("no processor configured for sync ingestion"))
	}
	if _, err := g.processor.ProcessEvent(ctx, normalized); err != nil {
		g.logger.Error("sync processing failed", "event", eventType, "error", err)
		return errorResponse(err)
	}
	if err := g.events.MarkProcessed(ctx, record.ID); err != nil {
		g.logger.Error("failed to mark event processed", "event_id", record.ID, "error", err)
	}
	body["processing"] = ProcessingSync
	return Response{StatusCode: http.StatusOK, Body: body}
}

func (g *Gateway) parseBody(body []byte) (map[string]any, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, core.BadInputError(core.ErrorCodeEmptyBody, "request body is empty")
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		return nil, core.BadInputError(core.ErrorCodeInvalidJSON, "request body must be a JSON object")
	}
	return payload, nil
}

func (g *Gateway) validateSchema(payload map[string]any) (string, int64, map[string]any, error) {
	eventType, _ := payload["event"].(string)
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return "", 0, nil, core.BadInputError(core.ErrorCodeInvalidEvent, "event is required and must be a non-empty string")
	}

	var timestamp int64
	switch ts := payload["timestamp"].(type) {
	case float64:
		timestamp = int64(ts)
	case int:
		timestamp = int64(ts)
	case int64:
		timestamp = ts
	default:
		return "", 0, nil, core.BadInputError(core.ErrorCodeInvalidTimestamp, "timestamp is required and must be numeric")
	}

	var data map[string]any
	if raw, present := payload["data"]; present && raw != nil {
		mapped, ok := raw.(map[string]any)
		if !ok {
			return "", 0, nil, core.BadInputError(core.ErrorCodeInvalidData, "data must be an object")
		}
		data = mapped
	}

	return eventType, timestamp, data, nil
}

// verifySignature prefers the signature header over the deprecated
// payload-embedded form. The embedded form is verified against the canonical
// serialization of the payload without its signature field, and only when
// explicitly allowed.
func (g *Gateway) verifySignature(req Request, payload map[string]any) error {
	secret := g.cfg.Security.Secret
	if strings.TrimSpace(secret) == "" {
		return nil
	}

	header := strings.TrimSpace(req.Headers[g.signatureHeader()])
	if header != "" {
		if !g.security.ValidateSignature(header, req.Body, secret) {
			return core.AuthError(core.ErrorCodeInvalidSignature, "signature verification failed")
		}
		return nil
	}

	if g.cfg.Security.AllowLegacySignature {
		embedded, _ := payload["signature"].(string)
		embedded = strings.TrimSpace(embedded)
		if embedded != "" {
			stripped := make(map[string]any, len(payload))
			for key, value := range payload {
				if key == "signature" {
					continue
				}
				stripped[key] = value
			}
			canonical, err := json.Marshal(stripped)
			if err != nil {
				return core.AuthError(core.ErrorCodeInvalidSignature, "signature verification failed")
			}
			if !g.security.ValidateSignature(embedded, canonical, secret) {
				return core.AuthError(core.ErrorCodeInvalidSignature, "signature verification failed")
			}
			return nil
		}
	}

	return core.AuthError(core.ErrorCodeMissingSignature, "signature is required")
}

func (g *Gateway) signatureHeader() string {
	header := strings.TrimSpace(g.cfg.Gateway.SignatureHeader)
	if header == "" {
		return core.DefaultSignatureHeader
	}
	return header
}

// externalID returns the idempotency key: the producer's id field when
// present, otherwise a deterministic digest of event, timestamp, and data so
// resubmissions of the same payload still dedupe.
func (g *Gateway) externalID(payload map[string]any, eventType string, timestamp int64, data map[string]any) string {
	if id, ok := payload["id"].(string); ok && strings.TrimSpace(id) != "" {
		return strings.TrimSpace(id)
	}
	canonical, err := json.Marshal(data)
	if err != nil {
		canonical = []byte("{}")
	}
	digest := sha256.Sum256(fmt.Appendf(nil, "%s|%d|%s", eventType, timestamp, canonical))
	return hex.EncodeToString(digest[:])
}

func duplicateResponse(eventType, externalID string, receivedAt time.Time) Response {
	return Response{
		StatusCode: http.StatusOK,
		Body: map[string]any{
			"status":      StatusReceived,
			"event":       eventType,
			"event_id":    externalID,
			"received_at": receivedAt.Format(time.RFC3339),
			"processing":  ProcessingSkipped,
			"note":        NoteDuplicateEvent,
		},
	}
}

func errorResponse(err error) Response {
	return Response{
		StatusCode: core.ErrorStatus(err),
		Body: map[string]any{
			"error":   core.ErrorCode(err),
			"message": core.ErrorMessage(err),
		},
	}
}
