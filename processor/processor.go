package processor

import (
	"context"
	"fmt"
	"strings"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-webhooks/core"
)

// Event types this processor knows how to handle. Anything else is ignored.
const (
	EventMessageCreated      = "message.created"
	EventConversationCreated = "conversation.created"
	EventFileUploaded        = "file.uploaded"
	EventPing                = "ping"
	EventAgentTrigger        = "agent.trigger"
)

// ReasonUnknownEventType is the ignore reason for event types without a
// registered handler.
const ReasonUnknownEventType = "unknown_event_type"

// Processor implements core.EventProcessor. Message events delegate to the
// chat collaborator; lifecycle events are pure acknowledgements.
type Processor struct {
	chat     core.ChatHandler
	agentID  string
	tenantID string
	logger   core.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger overrides the default logger.
func WithLogger(logger core.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithIdentity sets the agent and tenant ids forwarded to the chat handler.
func WithIdentity(agentID, tenantID string) Option {
	return func(p *Processor) {
		p.agentID = strings.TrimSpace(agentID)
		p.tenantID = strings.TrimSpace(tenantID)
	}
}

// New creates a Processor. The chat handler may be nil, in which case
// message events fail with an internal error instead of panicking.
func New(chat core.ChatHandler, opts ...Option) *Processor {
	p := &Processor{
		chat:   chat,
		logger: glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.logger = glog.Ensure(p.logger)
	return p
}

var _ core.EventProcessor = (*Processor)(nil)

// ProcessEvent routes one event by type. It never retries; retry belongs to
// the job consumer that called it.
func (p *Processor) ProcessEvent(ctx context.Context, event core.NormalizedEvent) (core.ProcessResult, error) {
	if p == nil {
		return core.ProcessResult{}, fmt.Errorf("processor: nil processor")
	}

	eventType := strings.TrimSpace(event.Type)
	switch eventType {
	case EventMessageCreated:
		return p.handleMessageCreated(ctx, event)
	case EventAgentTrigger:
		return p.handleAgentTrigger(ctx, event)
	case EventConversationCreated, EventFileUploaded, EventPing:
		return p.acknowledge(eventType), nil
	default:
		p.logger.Debug("ignoring event with unknown type", "event", eventType)
		return core.ProcessResult{
			Status:    core.ProcessStatusIgnored,
			EventType: eventType,
			Reason:    ReasonUnknownEventType,
		}, nil
	}
}

func (p *Processor) handleMessageCreated(ctx context.Context, event core.NormalizedEvent) (core.ProcessResult, error) {
	message := stringField(event.Data, "message")
	conversationID := stringField(event.Data, "conversation_id")
	if message == "" || conversationID == "" {
		return core.ProcessResult{}, core.EventDataError("message.created requires data.message and data.conversation_id")
	}
	return p.completeChat(ctx, EventMessageCreated, message, conversationID)
}

func (p *Processor) handleAgentTrigger(ctx context.Context, event core.NormalizedEvent) (core.ProcessResult, error) {
	payload, _ := event.Data["payload"].(map[string]any)
	message := stringField(payload, "message")
	if message == "" {
		return core.ProcessResult{}, core.EventDataError("agent.trigger requires data.payload.message")
	}
	conversationID := stringField(payload, "conversation_id")
	return p.completeChat(ctx, EventAgentTrigger, message, conversationID)
}

func (p *Processor) completeChat(ctx context.Context, eventType, message, conversationID string) (core.ProcessResult, error) {
	if p.chat == nil {
		return core.ProcessResult{}, core.InternalError("chat handler is not configured")
	}

	reply, err := p.chat.HandleChatCompletionSync(ctx, message, conversationID, p.agentID, p.tenantID)
	if err != nil {
		p.logger.Error("chat completion failed", "event", eventType, "error", err)
		return core.ProcessResult{}, fmt.Errorf("processor: chat completion: %w", err)
	}

	return core.ProcessResult{
		Status:    core.ProcessStatusProcessed,
		EventType: eventType,
		Result: map[string]any{
			"reply":              reply.Message,
			"conversation_id":    conversationID,
			"processing_time_ms": reply.ProcessingTimeMS,
		},
	}, nil
}

func (p *Processor) acknowledge(eventType string) core.ProcessResult {
	p.logger.Debug("acknowledged event", "event", eventType)
	return core.ProcessResult{
		Status:    core.ProcessStatusProcessed,
		EventType: eventType,
		Result:    map[string]any{"acknowledged": true},
	}
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
