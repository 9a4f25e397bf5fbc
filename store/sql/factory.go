package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// StoreFactory wires every SQL-backed store over one bun connection.
type StoreFactory struct {
	db *bun.DB

	jobStore         *JobStore
	eventStore       *EventStore
	subscriberStore  *SubscriberStore
	deliveryLogStore *DeliveryLogStore
}

// NewStoreFactoryFromPersistence builds all stores from a persistence client.
func NewStoreFactoryFromPersistence(client *persistence.Client) (*StoreFactory, error) {
	return newStoreFactory(client)
}

// NewStoreFactoryFromDB builds all stores from a bun DB.
func NewStoreFactoryFromDB(db *bun.DB) (*StoreFactory, error) {
	return newStoreFactory(db)
}

func newStoreFactory(persistenceClient any) (*StoreFactory, error) {
	db, err := resolveBunDB(persistenceClient)
	if err != nil {
		return nil, err
	}
	factory := &StoreFactory{db: db}
	if err := factory.initStores(); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *StoreFactory) initStores() error {
	jobStore, err := NewJobStore(f.db)
	if err != nil {
		return err
	}
	f.jobStore = jobStore

	eventStore, err := NewEventStore(f.db)
	if err != nil {
		return err
	}
	f.eventStore = eventStore

	subscriberStore, err := NewSubscriberStore(f.db)
	if err != nil {
		return err
	}
	f.subscriberStore = subscriberStore

	deliveryLogStore, err := NewDeliveryLogStore(f.db)
	if err != nil {
		return err
	}
	f.deliveryLogStore = deliveryLogStore
	return nil
}

func (f *StoreFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *StoreFactory) JobStore() *JobStore {
	if f == nil {
		return nil
	}
	return f.jobStore
}

func (f *StoreFactory) EventStore() *EventStore {
	if f == nil {
		return nil
	}
	return f.eventStore
}

func (f *StoreFactory) SubscriberStore() *SubscriberStore {
	if f == nil {
		return nil
	}
	return f.subscriberStore
}

func (f *StoreFactory) DeliveryLogStore() *DeliveryLogStore {
	if f == nil {
		return nil
	}
	return f.deliveryLogStore
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
