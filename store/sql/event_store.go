package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-webhooks/core"
)

// EventStore is the inbound dedup ledger backed by the webhook_events table.
// The unique index on external_id is what makes ingestion idempotent under
// concurrent resubmission.
type EventStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookEventRecord]

	// Now is injectable for tests.
	Now func() time.Time
}

// NewEventStore creates an EventStore over db.
func NewEventStore(db *bun.DB) (*EventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookEventRecord](db, webhookEventHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook event repository wiring: %w", err)
		}
	}
	return &EventStore{
		db:   db,
		repo: repo,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

var _ core.EventStore = (*EventStore)(nil)

func (s *EventStore) FindByExternalID(ctx context.Context, externalID string) (*core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: event store is not configured")
	}
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, fmt.Errorf("sqlstore: external id is required")
	}

	record := &webhookEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.external_id = ?", externalID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrEventNotFound
		}
		return nil, err
	}
	event := record.toDomain()
	return &event, nil
}

func (s *EventStore) Create(ctx context.Context, event core.WebhookEvent) (core.WebhookEvent, error) {
	if s == nil || s.db == nil {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	event.ExternalID = strings.TrimSpace(event.ExternalID)
	event.EventType = strings.TrimSpace(event.EventType)
	if event.ExternalID == "" {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: external id is required")
	}
	if event.EventType == "" {
		return core.WebhookEvent{}, fmt.Errorf("sqlstore: event type is required")
	}

	now := s.Now().UTC()
	record := &webhookEventRecord{
		ID:         uuid.NewString(),
		ExternalID: event.ExternalID,
		EventType:  event.EventType,
		Payload:    copyAnyMap(event.Payload),
		Processed:  false,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return core.WebhookEvent{}, core.ErrDuplicateEvent
		}
		return core.WebhookEvent{}, err
	}
	return record.toDomain(), nil
}

func (s *EventStore) MarkProcessed(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: event store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: event id is required")
	}

	now := s.Now().UTC()
	res, err := s.db.NewUpdate().
		Model((*webhookEventRecord)(nil)).
		Set("processed = ?", true).
		Set("processed_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, core.ErrEventNotFound, id)
}
