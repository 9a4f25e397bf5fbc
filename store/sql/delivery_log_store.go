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

// DeliveryLogStore persists delivery attempts in webhook_delivery_logs.
type DeliveryLogStore struct {
	db   *bun.DB
	repo repository.Repository[*deliveryLogRecord]

	// Now is injectable for tests.
	Now func() time.Time
}

// NewDeliveryLogStore creates a DeliveryLogStore over db.
func NewDeliveryLogStore(db *bun.DB) (*DeliveryLogStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deliveryLogRecord](db, deliveryLogHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid delivery log repository wiring: %w", err)
		}
	}
	return &DeliveryLogStore{
		db:   db,
		repo: repo,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

var _ core.DeliveryLogStore = (*DeliveryLogStore)(nil)

func (s *DeliveryLogStore) CreateLog(ctx context.Context, log core.DeliveryLog) (core.DeliveryLog, error) {
	if s == nil || s.db == nil {
		return core.DeliveryLog{}, fmt.Errorf("sqlstore: delivery log store is not configured")
	}
	log.SubscriberID = strings.TrimSpace(log.SubscriberID)
	log.Event = strings.TrimSpace(log.Event)
	if log.SubscriberID == "" {
		return core.DeliveryLog{}, fmt.Errorf("sqlstore: subscriber id is required")
	}
	if log.Event == "" {
		return core.DeliveryLog{}, fmt.Errorf("sqlstore: event is required")
	}

	now := s.Now().UTC()
	record := &deliveryLogRecord{
		ID:           uuid.NewString(),
		SubscriberID: log.SubscriberID,
		Event:        log.Event,
		RequestBody:  log.RequestBody,
		Attempts:     0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return core.DeliveryLog{}, err
	}
	return record.toDomain(), nil
}

func (s *DeliveryLogStore) UpdateLog(ctx context.Context, id string, update core.DeliveryLogUpdate) (core.DeliveryLog, error) {
	if s == nil || s.db == nil {
		return core.DeliveryLog{}, fmt.Errorf("sqlstore: delivery log store is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return core.DeliveryLog{}, fmt.Errorf("sqlstore: delivery log id is required")
	}

	query := s.db.NewUpdate().
		Model((*deliveryLogRecord)(nil)).
		Set("updated_at = ?", s.Now().UTC()).
		Where("id = ?", id)
	if update.ResponseCode != nil {
		query = query.Set("response_code = ?", *update.ResponseCode)
	}
	if update.ResponseBody != nil {
		query = query.Set("response_body = ?", *update.ResponseBody)
	}
	if update.Attempts != nil {
		query = query.Set("attempts = ?", *update.Attempts)
	}

	res, err := query.Exec(ctx)
	if err != nil {
		return core.DeliveryLog{}, err
	}
	if err := requireAffected(res, core.ErrDeliveryLogNotFound, id); err != nil {
		return core.DeliveryLog{}, err
	}
	return s.Get(ctx, id)
}

func (s *DeliveryLogStore) Get(ctx context.Context, id string) (core.DeliveryLog, error) {
	if s == nil || s.db == nil {
		return core.DeliveryLog{}, fmt.Errorf("sqlstore: delivery log store is not configured")
	}
	record := &deliveryLogRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(id)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.DeliveryLog{}, fmt.Errorf("%w: id %q", core.ErrDeliveryLogNotFound, id)
		}
		return core.DeliveryLog{}, err
	}
	return record.toDomain(), nil
}
