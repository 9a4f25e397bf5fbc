package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-webhooks/core"
)

const subscriberCacheKeyPrefix = "go-webhooks::subscribers::v1"

// CachedSubscriberStore caches FindActiveByEvent lookups; the fan-out path
// hits that query once per inbound event, which makes it the hottest read in
// the system. Writes go straight through and invalidate the affected keys.
//
// Keys carry a generation segment. A write touching a wildcard subscriber can
// affect every event type, so instead of enumerating keys it bumps the
// generation, which orphans all previous entries until their TTL expires.
type CachedSubscriberStore struct {
	base       core.SubscriberStore
	cache      repositorycache.CacheService
	generation atomic.Uint64
}

// NewCachedSubscriberStore wraps base with read-through caching.
func NewCachedSubscriberStore(base core.SubscriberStore, cacheService repositorycache.CacheService) (*CachedSubscriberStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base subscriber store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: subscriber cache service is required")
	}
	return &CachedSubscriberStore{base: base, cache: cacheService}, nil
}

var _ core.SubscriberStore = (*CachedSubscriberStore)(nil)

// SubscriberCacheKey returns the deterministic cache key for a per-event
// subscriber lookup: go-webhooks::subscribers::v1::g<generation>::event::<event_type>
// with the event segment URL-path escaped.
func SubscriberCacheKey(generation uint64, eventType string) (string, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return "", fmt.Errorf("sqlstore: event type is required")
	}
	return strings.Join([]string{
		subscriberCacheKeyPrefix,
		fmt.Sprintf("g%d", generation),
		"event",
		url.PathEscape(eventType),
	}, "::"), nil
}

func (s *CachedSubscriberStore) FindActiveByEvent(ctx context.Context, eventType string) ([]core.Subscriber, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached subscriber store is not configured")
	}
	cacheKey, err := SubscriberCacheKey(s.generation.Load(), eventType)
	if err != nil {
		return nil, err
	}

	subscribers, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) ([]core.Subscriber, error) {
		fetched, fetchErr := s.base.FindActiveByEvent(ctx, eventType)
		if fetchErr != nil {
			return nil, fetchErr
		}
		return cloneSubscribers(fetched), nil
	})
	if err != nil {
		return nil, err
	}
	return cloneSubscribers(subscribers), nil
}

func (s *CachedSubscriberStore) Create(ctx context.Context, subscriber core.Subscriber) (core.Subscriber, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Subscriber{}, fmt.Errorf("sqlstore: cached subscriber store is not configured")
	}
	created, err := s.base.Create(ctx, subscriber)
	if err != nil {
		return core.Subscriber{}, err
	}
	s.invalidateEvents(ctx, created.Events)
	return created, nil
}

func (s *CachedSubscriberStore) Get(ctx context.Context, id string) (core.Subscriber, error) {
	if s == nil || s.base == nil {
		return core.Subscriber{}, fmt.Errorf("sqlstore: cached subscriber store is not configured")
	}
	return s.base.Get(ctx, id)
}

func (s *CachedSubscriberStore) List(ctx context.Context) ([]core.Subscriber, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached subscriber store is not configured")
	}
	return s.base.List(ctx)
}

func (s *CachedSubscriberStore) Deactivate(ctx context.Context, id string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached subscriber store is not configured")
	}
	subscriber, err := s.base.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.base.Deactivate(ctx, id); err != nil {
		return err
	}
	s.invalidateEvents(ctx, subscriber.Events)
	return nil
}

func (s *CachedSubscriberStore) invalidateEvents(ctx context.Context, events []string) {
	for _, event := range events {
		if strings.TrimSpace(event) == "*" {
			s.generation.Add(1)
			return
		}
	}
	generation := s.generation.Load()
	for _, event := range events {
		cacheKey, err := SubscriberCacheKey(generation, event)
		if err != nil {
			continue
		}
		_ = s.cache.Delete(ctx, cacheKey)
	}
}

func cloneSubscribers(in []core.Subscriber) []core.Subscriber {
	if in == nil {
		return nil
	}
	out := make([]core.Subscriber, len(in))
	for i, subscriber := range in {
		cloned := subscriber
		cloned.Events = append([]string(nil), subscriber.Events...)
		out[i] = cloned
	}
	return out
}
