// Package webhooks assembles the inbound gateway, the durable job queue, the
// outbound dispatcher, and the worker runtime into one wired service.
package webhooks

import (
	"fmt"
	"net/http"
	"time"

	jobqueue "github.com/goliatone/go-job/queue"
	glog "github.com/goliatone/go-logger/glog"
	persistence "github.com/goliatone/go-persistence-bun"

	"github.com/goliatone/go-webhooks/adapters/gojob"
	"github.com/goliatone/go-webhooks/adapters/gologger"
	"github.com/goliatone/go-webhooks/command"
	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/dispatch"
	"github.com/goliatone/go-webhooks/gateway"
	"github.com/goliatone/go-webhooks/processor"
	"github.com/goliatone/go-webhooks/queue"
	"github.com/goliatone/go-webhooks/security"
	sqlstore "github.com/goliatone/go-webhooks/store/sql"
	"github.com/goliatone/go-webhooks/transport"
	"github.com/goliatone/go-webhooks/worker"
)

// Service is the assembled webhook subsystem. Every collaborator is reachable
// through an accessor so hosts can wire the pieces into their own runtime.
type Service struct {
	cfg core.Config

	securitySvc *security.Service
	gateway     *gateway.Gateway
	dispatcher  *dispatch.Dispatcher
	processor   core.EventProcessor
	chat        core.ChatHandler

	queue          core.JobQueue
	brokerEnqueuer jobqueue.Enqueuer
	events         core.EventStore
	subscribers    core.SubscriberStore
	logs           core.DeliveryLogStore

	commands Commands

	provider glog.LoggerProvider
	logger   core.Logger
	loggers  gologger.Stack
}

// Commands exposes the mutating operations as go-command handlers so hosts
// can run them behind a dispatcher or bus.
type Commands struct {
	DispatchEvent        *command.DispatchEventCommand
	DispatchBatch        *command.DispatchBatchCommand
	RegisterSubscriber   *command.RegisterSubscriberCommand
	DeactivateSubscriber *command.DeactivateSubscriberCommand
	ReleaseStaleJobs     *command.ReleaseStaleJobsCommand
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger core.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLoggerProvider sets a provider used to derive per-component loggers.
func WithLoggerProvider(provider glog.LoggerProvider) ServiceOption {
	return func(s *Service) {
		if provider != nil {
			s.provider = provider
		}
	}
}

// WithQueue replaces the default in-memory queue with a durable one.
func WithQueue(jobQueue core.JobQueue) ServiceOption {
	return func(s *Service) {
		if jobQueue != nil {
			s.queue = jobQueue
		}
	}
}

// WithStores sets the persistence collaborators.
func WithStores(events core.EventStore, subscribers core.SubscriberStore, logs core.DeliveryLogStore) ServiceOption {
	return func(s *Service) {
		if events != nil {
			s.events = events
		}
		if subscribers != nil {
			s.subscribers = subscribers
		}
		if logs != nil {
			s.logs = logs
		}
	}
}

// WithChatHandler builds the default event processor over the chat
// collaborator. Ignored when WithProcessor is also set.
func WithChatHandler(chat core.ChatHandler) ServiceOption {
	return func(s *Service) {
		if chat != nil {
			s.chat = chat
		}
	}
}

// WithProcessor replaces the event processor.
func WithProcessor(eventProcessor core.EventProcessor) ServiceOption {
	return func(s *Service) {
		if eventProcessor != nil {
			s.processor = eventProcessor
		}
	}
}

// WithBrokerNotifications wraps the job queue so every immediate enqueue also
// notifies a go-job broker, waking remote workers without polling. The
// durable queue stays the source of truth.
func WithBrokerNotifications(enqueuer jobqueue.Enqueuer) ServiceOption {
	return func(s *Service) {
		if enqueuer != nil {
			s.brokerEnqueuer = enqueuer
		}
	}
}

// New assembles a Service from cfg and explicit collaborators. Stores are
// required; use NewFromPersistence to derive them from a database client.
func New(cfg core.Config, opts ...ServiceOption) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	svc := &Service{
		cfg:         cfg,
		securitySvc: security.New(),
		logger:      glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	svc.loggers = gologger.ResolveStack(cfg.ServiceName, svc.provider, svc.logger)
	svc.provider, svc.logger = svc.loggers.Provider, svc.loggers.Logger

	if svc.processor == nil && svc.chat != nil {
		svc.processor = processor.New(svc.chat, processor.WithLogger(svc.componentLogger("processor")))
	}
	if svc.queue == nil {
		svc.queue = queue.NewInMemoryQueue(
			queue.WithRetryPolicy(retryPolicyFromConfig(cfg.Queue)),
			queue.WithDefaultMaxAttempts(cfg.Queue.MaxAttempts),
		)
	}
	if svc.events == nil {
		return nil, fmt.Errorf("webhooks: event store is required")
	}
	if svc.subscribers == nil {
		return nil, fmt.Errorf("webhooks: subscriber store is required")
	}
	if svc.logs == nil {
		return nil, fmt.Errorf("webhooks: delivery log store is required")
	}
	if !cfg.Gateway.Async && svc.processor == nil {
		return nil, fmt.Errorf("webhooks: sync gateway mode requires an event processor")
	}
	// The notifying wrapper hides the base queue's reaper, so resolve it first.
	releaser, hasReleaser := svc.queue.(command.StaleJobReleaser)
	if svc.brokerEnqueuer != nil {
		notifying, err := gojob.NewNotifyingQueue(svc.queue, svc.brokerEnqueuer,
			gojob.WithNotifyLogger(svc.loggers.JobLogger("queue")),
		)
		if err != nil {
			return nil, err
		}
		svc.queue = notifying
	}

	svc.gateway = gateway.New(cfg, svc.securitySvc, svc.events, svc.queue, svc.processor,
		gateway.WithLogger(svc.componentLogger("gateway")),
	)
	svc.dispatcher = dispatch.New(svc.queue, svc.subscribers, svc.logs,
		dispatch.WithMaxAttempts(cfg.Queue.MaxAttempts),
		dispatch.WithLogger(svc.componentLogger("dispatch")),
	)

	svc.commands = Commands{
		DispatchEvent:        command.NewDispatchEventCommand(svc.dispatcher),
		DispatchBatch:        command.NewDispatchBatchCommand(svc.dispatcher),
		RegisterSubscriber:   command.NewRegisterSubscriberCommand(svc.subscribers),
		DeactivateSubscriber: command.NewDeactivateSubscriberCommand(svc.subscribers),
	}
	if hasReleaser {
		svc.commands.ReleaseStaleJobs = command.NewReleaseStaleJobsCommand(releaser)
	}
	return svc, nil
}

// NewFromPersistence assembles a Service with SQL-backed stores over client.
func NewFromPersistence(cfg core.Config, client *persistence.Client, opts ...ServiceOption) (*Service, error) {
	if client == nil {
		return nil, fmt.Errorf("webhooks: persistence client is required")
	}
	factory, err := sqlstore.NewStoreFactoryFromPersistence(client)
	if err != nil {
		return nil, err
	}
	jobStore, err := sqlstore.NewJobStore(factory.DB(),
		sqlstore.WithRetryPolicy(retryPolicyFromConfig(cfg.Queue)),
		sqlstore.WithDefaultMaxAttempts(cfg.Queue.MaxAttempts),
	)
	if err != nil {
		return nil, err
	}

	merged := make([]ServiceOption, 0, len(opts)+2)
	merged = append(merged,
		WithQueue(jobStore),
		WithStores(factory.EventStore(), factory.SubscriberStore(), factory.DeliveryLogStore()),
	)
	merged = append(merged, opts...)
	return New(cfg, merged...)
}

// Gateway returns the inbound gateway.
func (s *Service) Gateway() *gateway.Gateway {
	if s == nil {
		return nil
	}
	return s.gateway
}

// Dispatcher returns the outbound fan-out dispatcher.
func (s *Service) Dispatcher() *dispatch.Dispatcher {
	if s == nil {
		return nil
	}
	return s.dispatcher
}

// Queue returns the job queue backing both pipelines.
func (s *Service) Queue() core.JobQueue {
	if s == nil {
		return nil
	}
	return s.queue
}

// Subscribers returns the subscriber store.
func (s *Service) Subscribers() core.SubscriberStore {
	if s == nil {
		return nil
	}
	return s.subscribers
}

// Events returns the inbound event store.
func (s *Service) Events() core.EventStore {
	if s == nil {
		return nil
	}
	return s.events
}

// DeliveryLogs returns the delivery log store.
func (s *Service) DeliveryLogs() core.DeliveryLogStore {
	if s == nil {
		return nil
	}
	return s.logs
}

// Handler returns the HTTP surface for the assembled service.
func (s *Service) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	router := transport.New(s.gateway, s.queue, s.subscribers,
		transport.WithLogger(s.componentLogger("transport")),
	)
	return router.Handler()
}

// Worker builds a runner with the ingest and delivery handlers registered.
// The caller owns its lifecycle; multiple workers can share the queue.
func (s *Service) Worker(workerID string) *worker.Runner {
	if s == nil || s.queue == nil {
		return nil
	}
	runner := worker.NewRunner(workerID, s.queue,
		worker.WithLogger(s.componentLogger("worker")),
	)
	if s.processor != nil {
		runner.Register(core.JobTypeWebhookEvent, worker.NewIngestHandler(s.processor, s.events))
	}
	runner.Register(core.JobTypeWebhookDelivery, worker.NewDeliveryHandler(s.logs,
		worker.WithSignatureHeader(s.cfg.Gateway.SignatureHeader),
	))
	return runner
}

// Commands returns the go-command handlers for the assembled service.
// ReleaseStaleJobs is nil when the configured queue has no stale-lock reaper.
func (s *Service) Commands() Commands {
	if s == nil {
		return Commands{}
	}
	return s.commands
}

func (s *Service) componentLogger(name string) core.Logger {
	if s == nil {
		return glog.Nop()
	}
	return s.loggers.Component(name)
}

func retryPolicyFromConfig(cfg core.QueueConfig) queue.ExponentialBackoff {
	policy := queue.ExponentialBackoff{
		Base: time.Duration(cfg.BackoffBaseSeconds) * time.Second,
		Cap:  time.Duration(cfg.BackoffCapSeconds) * time.Second,
	}
	return policy
}
