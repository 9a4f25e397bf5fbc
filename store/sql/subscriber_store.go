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

// SubscriberStore manages delivery targets in the webhook_subscribers table.
// Event matching happens in Go rather than SQL so wildcard subscriptions
// behave identically on every dialect.
type SubscriberStore struct {
	db   *bun.DB
	repo repository.Repository[*subscriberRecord]

	// Now is injectable for tests.
	Now func() time.Time
}

// NewSubscriberStore creates a SubscriberStore over db.
func NewSubscriberStore(db *bun.DB) (*SubscriberStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*subscriberRecord](db, subscriberHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid subscriber repository wiring: %w", err)
		}
	}
	return &SubscriberStore{
		db:   db,
		repo: repo,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

var _ core.SubscriberStore = (*SubscriberStore)(nil)

func (s *SubscriberStore) Create(ctx context.Context, subscriber core.Subscriber) (core.Subscriber, error) {
	if s == nil || s.db == nil {
		return core.Subscriber{}, fmt.Errorf("sqlstore: subscriber store is not configured")
	}
	subscriber.ClientID = strings.TrimSpace(subscriber.ClientID)
	subscriber.URL = strings.TrimSpace(subscriber.URL)
	if subscriber.URL == "" {
		return core.Subscriber{}, fmt.Errorf("sqlstore: subscriber url is required")
	}
	if len(subscriber.Events) == 0 {
		return core.Subscriber{}, fmt.Errorf("sqlstore: subscriber event set is required")
	}
	events := make([]string, 0, len(subscriber.Events))
	for _, event := range subscriber.Events {
		event = strings.TrimSpace(event)
		if event != "" {
			events = append(events, event)
		}
	}
	if len(events) == 0 {
		return core.Subscriber{}, fmt.Errorf("sqlstore: subscriber event set is required")
	}

	now := s.Now().UTC()
	record := &subscriberRecord{
		ID:        uuid.NewString(),
		ClientID:  subscriber.ClientID,
		URL:       subscriber.URL,
		Secret:    subscriber.Secret,
		Events:    events,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if strings.TrimSpace(subscriber.ID) != "" {
		record.ID = strings.TrimSpace(subscriber.ID)
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.Subscriber{}, err
	}
	return record.toDomain(), nil
}

func (s *SubscriberStore) Get(ctx context.Context, id string) (core.Subscriber, error) {
	if s == nil || s.db == nil {
		return core.Subscriber{}, fmt.Errorf("sqlstore: subscriber store is not configured")
	}
	record := &subscriberRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Subscriber{}, fmt.Errorf("%w: id %q", core.ErrSubscriberNotFound, id)
		}
		return core.Subscriber{}, err
	}
	return record.toDomain(), nil
}

func (s *SubscriberStore) List(ctx context.Context) ([]core.Subscriber, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: subscriber store is not configured")
	}
	var records []subscriberRecord
	err := s.db.NewSelect().
		Model(&records).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	subscribers := make([]core.Subscriber, 0, len(records))
	for i := range records {
		subscribers = append(subscribers, records[i].toDomain())
	}
	return subscribers, nil
}

func (s *SubscriberStore) FindActiveByEvent(ctx context.Context, eventType string) ([]core.Subscriber, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: subscriber store is not configured")
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, fmt.Errorf("sqlstore: event type is required")
	}

	var records []subscriberRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.active = ?", true).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	var matched []core.Subscriber
	for i := range records {
		subscriber := records[i].toDomain()
		if subscriber.Subscribed(eventType) {
			matched = append(matched, subscriber)
		}
	}
	return matched, nil
}

func (s *SubscriberStore) Deactivate(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: subscriber store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("sqlstore: subscriber id is required")
	}

	res, err := s.db.NewUpdate().
		Model((*subscriberRecord)(nil)).
		Set("active = ?", false).
		Set("updated_at = ?", s.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, core.ErrSubscriberNotFound, id)
}
