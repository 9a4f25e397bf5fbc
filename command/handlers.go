// Package command wraps the webhook subsystem's mutating operations in
// typed command messages so they can run behind a dispatcher or bus.
package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-webhooks/core"
)

// SubscriberService covers the subscriber mutations commands need.
type SubscriberService interface {
	Create(ctx context.Context, subscriber core.Subscriber) (core.Subscriber, error)
	Deactivate(ctx context.Context, id string) error
}

// StaleJobReleaser returns abandoned locked jobs to the pending pool.
type StaleJobReleaser interface {
	ReleaseStale(ctx context.Context, maxAge time.Duration) (int, error)
}

type DispatchEventCommand struct {
	dispatcher core.Dispatcher
}

func NewDispatchEventCommand(dispatcher core.Dispatcher) *DispatchEventCommand {
	return &DispatchEventCommand{dispatcher: dispatcher}
}

func (c *DispatchEventCommand) Execute(ctx context.Context, msg DispatchEventMessage) error {
	if c == nil || c.dispatcher == nil {
		return commandDependencyError("command: event dispatcher is required")
	}
	out, err := c.dispatcher.Dispatch(ctx, msg.EventType, msg.Payload)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DispatchBatchCommand struct {
	dispatcher core.Dispatcher
}

func NewDispatchBatchCommand(dispatcher core.Dispatcher) *DispatchBatchCommand {
	return &DispatchBatchCommand{dispatcher: dispatcher}
}

func (c *DispatchBatchCommand) Execute(ctx context.Context, msg DispatchBatchMessage) error {
	if c == nil || c.dispatcher == nil {
		return commandDependencyError("command: event dispatcher is required")
	}
	out := c.dispatcher.DispatchBatch(ctx, msg.Events)
	storeResult(ctx, out)
	return nil
}

type RegisterSubscriberCommand struct {
	subscribers SubscriberService
}

func NewRegisterSubscriberCommand(subscribers SubscriberService) *RegisterSubscriberCommand {
	return &RegisterSubscriberCommand{subscribers: subscribers}
}

func (c *RegisterSubscriberCommand) Execute(ctx context.Context, msg RegisterSubscriberMessage) error {
	if c == nil || c.subscribers == nil {
		return commandDependencyError("command: subscriber service is required")
	}
	out, err := c.subscribers.Create(ctx, msg.Subscriber)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DeactivateSubscriberCommand struct {
	subscribers SubscriberService
}

func NewDeactivateSubscriberCommand(subscribers SubscriberService) *DeactivateSubscriberCommand {
	return &DeactivateSubscriberCommand{subscribers: subscribers}
}

func (c *DeactivateSubscriberCommand) Execute(ctx context.Context, msg DeactivateSubscriberMessage) error {
	if c == nil || c.subscribers == nil {
		return commandDependencyError("command: subscriber service is required")
	}
	return c.subscribers.Deactivate(ctx, msg.SubscriberID)
}

type ReleaseStaleJobsCommand struct {
	releaser StaleJobReleaser
}

func NewReleaseStaleJobsCommand(releaser StaleJobReleaser) *ReleaseStaleJobsCommand {
	return &ReleaseStaleJobsCommand{releaser: releaser}
}

func (c *ReleaseStaleJobsCommand) Execute(ctx context.Context, msg ReleaseStaleJobsMessage) error {
	if c == nil || c.releaser == nil {
		return commandDependencyError("command: stale job releaser is required")
	}
	released, err := c.releaser.ReleaseStale(ctx, msg.MaxLockAge)
	if err != nil {
		return err
	}
	storeResult(ctx, released)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
