package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-webhooks/core"
)

const (
	TypeDispatchEvent        = "webhooks.command.event.dispatch"
	TypeDispatchBatch        = "webhooks.command.event.dispatch_batch"
	TypeRegisterSubscriber   = "webhooks.command.subscriber.register"
	TypeDeactivateSubscriber = "webhooks.command.subscriber.deactivate"
	TypeReleaseStaleJobs     = "webhooks.command.jobs.release_stale"
)

type DispatchEventMessage struct {
	EventType string
	Payload   map[string]any
}

func (DispatchEventMessage) Type() string { return TypeDispatchEvent }

func (m DispatchEventMessage) Validate() error {
	if strings.TrimSpace(m.EventType) == "" {
		return fmt.Errorf("command: event type is required")
	}
	if m.Payload == nil {
		return fmt.Errorf("command: event payload is required")
	}
	return nil
}

type DispatchBatchMessage struct {
	Events []core.BatchEvent
}

func (DispatchBatchMessage) Type() string { return TypeDispatchBatch }

func (m DispatchBatchMessage) Validate() error {
	if len(m.Events) == 0 {
		return fmt.Errorf("command: event batch is required")
	}
	for i, event := range m.Events {
		if strings.TrimSpace(event.Event) == "" {
			return fmt.Errorf("command: event type is required at index %d", i)
		}
	}
	return nil
}

type RegisterSubscriberMessage struct {
	Subscriber core.Subscriber
}

func (RegisterSubscriberMessage) Type() string { return TypeRegisterSubscriber }

func (m RegisterSubscriberMessage) Validate() error {
	if strings.TrimSpace(m.Subscriber.URL) == "" {
		return fmt.Errorf("command: subscriber url is required")
	}
	if len(m.Subscriber.Events) == 0 {
		return fmt.Errorf("command: subscriber event set is required")
	}
	return nil
}

type DeactivateSubscriberMessage struct {
	SubscriberID string
}

func (DeactivateSubscriberMessage) Type() string { return TypeDeactivateSubscriber }

func (m DeactivateSubscriberMessage) Validate() error {
	if strings.TrimSpace(m.SubscriberID) == "" {
		return fmt.Errorf("command: subscriber id is required")
	}
	return nil
}

type ReleaseStaleJobsMessage struct {
	MaxLockAge time.Duration
}

func (ReleaseStaleJobsMessage) Type() string { return TypeReleaseStaleJobs }

func (m ReleaseStaleJobsMessage) Validate() error {
	if m.MaxLockAge <= 0 {
		return fmt.Errorf("command: max lock age must be positive")
	}
	return nil
}
