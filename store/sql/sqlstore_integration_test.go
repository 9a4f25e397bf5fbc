package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/migrations"
	"github.com/goliatone/go-webhooks/queue"
	sqlstore "github.com/goliatone/go-webhooks/store/sql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-webhooks-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	for _, tableName := range []string{
		"webhook_jobs",
		"webhook_events",
		"webhook_subscribers",
		"webhook_delivery_logs",
	} {
		var found string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			tableName,
		).Scan(context.Background(), &found); err != nil {
			t.Fatalf("query sqlite master for %s: %v", tableName, err)
		}
		if found != tableName {
			t.Fatalf("expected %s table, got %q", tableName, found)
		}
	}
}

func TestStoreFactory_WiresEveryStore(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewStoreFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new store factory: %v", err)
	}
	if factory.JobStore() == nil || factory.EventStore() == nil ||
		factory.SubscriberStore() == nil || factory.DeliveryLogStore() == nil {
		t.Fatalf("expected every store from factory")
	}
}

func TestJobStore_ClaimNext_ExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewJobStore(client.DB())
	if err != nil {
		t.Fatalf("new job store: %v", err)
	}

	jobID, err := store.Enqueue(ctx, core.EnqueueInput{
		Type:    "webhook_delivery",
		Payload: map[string]any{"subscriber_url": "https://one.example.com/hook"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	claims := make([]*core.Job, workers)
	claimErrs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			claims[slot], claimErrs[slot] = store.ClaimNext(ctx, fmt.Sprintf("worker-%d", slot))
		}(i)
	}
	wg.Wait()

	var winners int
	for i := 0; i < workers; i++ {
		if claimErrs[i] != nil {
			t.Fatalf("claim %d: %v", i, claimErrs[i])
		}
		if claims[i] != nil {
			winners++
			if claims[i].ID != jobID {
				t.Fatalf("expected claim of %s, got %s", jobID, claims[i].ID)
			}
			if claims[i].Status != core.JobStatusLocked {
				t.Fatalf("expected locked status, got %s", claims[i].Status)
			}
			if claims[i].Attempts != 1 {
				t.Fatalf("expected attempts=1 after claim, got %d", claims[i].Attempts)
			}
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}

	extra, err := store.ClaimNext(ctx, "worker-late")
	if err != nil {
		t.Fatalf("claim after lock: %v", err)
	}
	if extra != nil {
		t.Fatalf("expected no claimable job while locked, got %s", extra.ID)
	}
}

func TestJobStore_ClaimNext_OldestFirstAndDelayGating(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewJobStore(client.DB())
	if err != nil {
		t.Fatalf("new job store: %v", err)
	}

	base := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return base }

	firstID, err := store.Enqueue(ctx, core.EnqueueInput{Type: "webhook_event"})
	if err != nil {
		t.Fatalf("enqueue first: %v", err)
	}

	store.Now = func() time.Time { return base.Add(time.Second) }
	delayedID, err := store.Enqueue(ctx, core.EnqueueInput{Type: "webhook_event", Delay: time.Minute})
	if err != nil {
		t.Fatalf("enqueue delayed: %v", err)
	}

	store.Now = func() time.Time { return base.Add(2 * time.Second) }
	secondID, err := store.Enqueue(ctx, core.EnqueueInput{Type: "webhook_event"})
	if err != nil {
		t.Fatalf("enqueue second: %v", err)
	}

	claimed, err := store.ClaimNext(ctx, "worker-1")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if claimed == nil || claimed.ID != firstID {
		t.Fatalf("expected oldest job %s first, got %+v", firstID, claimed)
	}

	claimed, err = store.ClaimNext(ctx, "worker-1")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed == nil || claimed.ID != secondID {
		t.Fatalf("expected delayed job to be skipped, got %+v", claimed)
	}

	claimed, err = store.ClaimNext(ctx, "worker-1")
	if err != nil {
		t.Fatalf("third claim: %v", err)
	}
	if claimed != nil {
		t.Fatalf("expected delayed job to stay ineligible, got %s", claimed.ID)
	}

	store.Now = func() time.Time { return base.Add(2 * time.Minute) }
	claimed, err = store.ClaimNext(ctx, "worker-1")
	if err != nil {
		t.Fatalf("claim after delay elapsed: %v", err)
	}
	if claimed == nil || claimed.ID != delayedID {
		t.Fatalf("expected delayed job %s once eligible, got %+v", delayedID, claimed)
	}
}

func TestJobStore_MarkFailed_RetryThenDeadLetter(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewJobStore(client.DB(),
		sqlstore.WithRetryPolicy(queue.ExponentialBackoff{Base: 30 * time.Second, Cap: time.Hour}),
	)
	if err != nil {
		t.Fatalf("new job store: %v", err)
	}

	now := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return now }

	jobID, err := store.Enqueue(ctx, core.EnqueueInput{Type: "webhook_delivery", MaxAttempts: 2})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, err := store.ClaimNext(ctx, "worker-1")
	if err != nil || claimed == nil {
		t.Fatalf("first claim: job=%v err=%v", claimed, err)
	}
	if err := store.MarkFailed(ctx, jobID, errors.New("subscriber responded 502"), true); err != nil {
		t.Fatalf("first mark failed: %v", err)
	}

	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("get after first failure: %v", err)
	}
	if job.Status != core.JobStatusPending {
		t.Fatalf("expected pending after retryable failure, got %s", job.Status)
	}
	if job.LastError != "subscriber responded 502" {
		t.Fatalf("expected last error recorded, got %q", job.LastError)
	}
	if !job.AvailableAt.Equal(now.Add(30 * time.Second)) {
		t.Fatalf("expected 30s backoff, got available_at=%s", job.AvailableAt)
	}
	if job.LockedBy != "" || job.LockedAt != nil {
		t.Fatalf("expected lock released, got locked_by=%q locked_at=%v", job.LockedBy, job.LockedAt)
	}

	now = now.Add(time.Minute)
	claimed, err = store.ClaimNext(ctx, "worker-2")
	if err != nil || claimed == nil {
		t.Fatalf("second claim: job=%v err=%v", claimed, err)
	}
	if claimed.Attempts != 2 {
		t.Fatalf("expected second attempt, got %d", claimed.Attempts)
	}
	if err := store.MarkFailed(ctx, jobID, errors.New("subscriber responded 502"), true); err != nil {
		t.Fatalf("second mark failed: %v", err)
	}

	job, err = store.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("get after budget exhausted: %v", err)
	}
	if job.Status != core.JobStatusFailed {
		t.Fatalf("expected dead-letter after max attempts, got %s", job.Status)
	}
}

func TestJobStore_MarkFailed_NonRetryableIsTerminal(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewJobStore(client.DB())
	if err != nil {
		t.Fatalf("new job store: %v", err)
	}

	jobID, err := store.Enqueue(ctx, core.EnqueueInput{Type: "webhook_delivery"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.ClaimNext(ctx, "worker-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkFailed(ctx, jobID, errors.New("missing delivery payload"), false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != core.JobStatusFailed {
		t.Fatalf("expected failed status on first non-retryable error, got %s", job.Status)
	}
}

func TestJobStore_MarkCompleted_PersistsResult(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewJobStore(client.DB())
	if err != nil {
		t.Fatalf("new job store: %v", err)
	}

	jobID, err := store.Enqueue(ctx, core.EnqueueInput{Type: "webhook_event"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.ClaimNext(ctx, "worker-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.MarkCompleted(ctx, jobID, map[string]any{"status": "processed"}); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != core.JobStatusCompleted {
		t.Fatalf("expected completed status, got %s", job.Status)
	}
	if job.Result["status"] != "processed" {
		t.Fatalf("expected result payload persisted, got %+v", job.Result)
	}
	if job.LockedBy != "" || job.LockedAt != nil {
		t.Fatalf("expected lock released on completion")
	}

	if err := store.MarkCompleted(ctx, "missing-job", nil); !errors.Is(err, core.ErrJobNotFound) {
		t.Fatalf("expected job not found, got %v", err)
	}
}

func TestJobStore_ReleaseStale_RequeuesAbandonedClaims(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewJobStore(client.DB())
	if err != nil {
		t.Fatalf("new job store: %v", err)
	}

	base := time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return base }

	jobID, err := store.Enqueue(ctx, core.EnqueueInput{Type: "webhook_delivery"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := store.ClaimNext(ctx, "worker-crashed"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	store.Now = func() time.Time { return base.Add(2 * time.Minute) }
	released, err := store.ReleaseStale(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("release stale with fresh lock: %v", err)
	}
	if released != 0 {
		t.Fatalf("expected fresh lock to survive, released %d", released)
	}

	store.Now = func() time.Time { return base.Add(time.Hour) }
	released, err = store.ReleaseStale(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("release stale: %v", err)
	}
	if released != 1 {
		t.Fatalf("expected one released job, got %d", released)
	}

	claimed, err := store.ClaimNext(ctx, "worker-reaper")
	if err != nil {
		t.Fatalf("claim released job: %v", err)
	}
	if claimed == nil || claimed.ID != jobID {
		t.Fatalf("expected released job to be claimable again, got %+v", claimed)
	}
}

func TestEventStore_ExternalIDUniqueness(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewEventStore(client.DB())
	if err != nil {
		t.Fatalf("new event store: %v", err)
	}

	created, err := store.Create(ctx, core.WebhookEvent{
		ExternalID: "evt_123",
		EventType:  "message.created",
		Payload:    map[string]any{"event": "message.created"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatalf("expected generated event id")
	}

	if _, err := store.Create(ctx, core.WebhookEvent{
		ExternalID: "evt_123",
		EventType:  "message.created",
	}); !errors.Is(err, core.ErrDuplicateEvent) {
		t.Fatalf("expected duplicate event error, got %v", err)
	}

	found, err := store.FindByExternalID(ctx, "evt_123")
	if err != nil {
		t.Fatalf("find by external id: %v", err)
	}
	if found.ID != created.ID {
		t.Fatalf("expected stored event %s, got %s", created.ID, found.ID)
	}
	if found.Processed {
		t.Fatalf("expected unprocessed event")
	}

	if _, err := store.FindByExternalID(ctx, "evt_missing"); !errors.Is(err, core.ErrEventNotFound) {
		t.Fatalf("expected event not found, got %v", err)
	}

	if err := store.MarkProcessed(ctx, created.ID); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	found, err = store.FindByExternalID(ctx, "evt_123")
	if err != nil {
		t.Fatalf("find after mark processed: %v", err)
	}
	if !found.Processed || found.ProcessedAt == nil {
		t.Fatalf("expected processed flag and timestamp, got %+v", found)
	}
}

func TestSubscriberStore_FindActiveByEvent_WildcardAndDeactivation(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewSubscriberStore(client.DB())
	if err != nil {
		t.Fatalf("new subscriber store: %v", err)
	}

	exact, err := store.Create(ctx, core.Subscriber{
		ClientID: "client-a",
		URL:      "https://exact.example.com/hook",
		Secret:   "s1",
		Events:   []string{"message.created"},
	})
	if err != nil {
		t.Fatalf("create exact subscriber: %v", err)
	}
	wildcard, err := store.Create(ctx, core.Subscriber{
		ClientID: "client-b",
		URL:      "https://all.example.com/hook",
		Secret:   "s2",
		Events:   []string{"*"},
	})
	if err != nil {
		t.Fatalf("create wildcard subscriber: %v", err)
	}
	if _, err := store.Create(ctx, core.Subscriber{
		ClientID: "client-c",
		URL:      "https://other.example.com/hook",
		Events:   []string{"file.uploaded"},
	}); err != nil {
		t.Fatalf("create non-matching subscriber: %v", err)
	}

	matched, err := store.FindActiveByEvent(ctx, "message.created")
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if len(matched) != 2 {
		t.Fatalf("expected exact and wildcard matches, got %d", len(matched))
	}
	if matched[0].ID != exact.ID || matched[1].ID != wildcard.ID {
		t.Fatalf("expected creation-order matches, got %s then %s", matched[0].ID, matched[1].ID)
	}

	if err := store.Deactivate(ctx, exact.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	matched, err = store.FindActiveByEvent(ctx, "message.created")
	if err != nil {
		t.Fatalf("find after deactivate: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != wildcard.ID {
		t.Fatalf("expected only wildcard subscriber after deactivation, got %+v", matched)
	}

	deactivated, err := store.Get(ctx, exact.ID)
	if err != nil {
		t.Fatalf("get deactivated subscriber: %v", err)
	}
	if deactivated.Active {
		t.Fatalf("expected inactive subscriber record to survive")
	}

	if err := store.Deactivate(ctx, "missing-subscriber"); !errors.Is(err, core.ErrSubscriberNotFound) {
		t.Fatalf("expected subscriber not found, got %v", err)
	}
}

func TestDeliveryLogStore_CreateAndUpdate(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewDeliveryLogStore(client.DB())
	if err != nil {
		t.Fatalf("new delivery log store: %v", err)
	}

	created, err := store.CreateLog(ctx, core.DeliveryLog{
		SubscriberID: "sub-1",
		Event:        "message.created",
		RequestBody:  `{"event":"message.created","timestamp":1770984000}`,
	})
	if err != nil {
		t.Fatalf("create log: %v", err)
	}
	if created.Attempts != 0 || created.ResponseCode != 0 {
		t.Fatalf("expected fresh log with no attempts, got %+v", created)
	}

	responseCode := 200
	responseBody := `{"ok":true}`
	attempts := 1
	updated, err := store.UpdateLog(ctx, created.ID, core.DeliveryLogUpdate{
		ResponseCode: &responseCode,
		ResponseBody: &responseBody,
		Attempts:     &attempts,
	})
	if err != nil {
		t.Fatalf("update log: %v", err)
	}
	if updated.ResponseCode != 200 || updated.ResponseBody != responseBody || updated.Attempts != 1 {
		t.Fatalf("expected response fields persisted, got %+v", updated)
	}
	if updated.RequestBody != created.RequestBody {
		t.Fatalf("expected request body untouched by update")
	}

	if _, err := store.UpdateLog(ctx, "missing-log", core.DeliveryLogUpdate{
		ResponseCode: &responseCode,
	}); !errors.Is(err, core.ErrDeliveryLogNotFound) {
		t.Fatalf("expected delivery log not found, got %v", err)
	}
}

func TestCachedSubscriberStore_ReadThroughOverSQLite(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	base, err := sqlstore.NewSubscriberStore(client.DB())
	if err != nil {
		t.Fatalf("new subscriber store: %v", err)
	}
	cached, err := sqlstore.NewCachedSubscriberStore(base, newIntegrationCacheService(t))
	if err != nil {
		t.Fatalf("new cached subscriber store: %v", err)
	}

	if _, err := cached.Create(ctx, core.Subscriber{
		ClientID: "client-a",
		URL:      "https://exact.example.com/hook",
		Events:   []string{"message.created"},
	}); err != nil {
		t.Fatalf("create subscriber: %v", err)
	}

	matched, err := cached.FindActiveByEvent(ctx, "message.created")
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if len(matched) != 1 {
		t.Fatalf("expected one subscriber, got %d", len(matched))
	}

	if _, err := cached.Create(ctx, core.Subscriber{
		ClientID: "client-b",
		URL:      "https://second.example.com/hook",
		Events:   []string{"message.created"},
	}); err != nil {
		t.Fatalf("create second subscriber: %v", err)
	}

	matched, err = cached.FindActiveByEvent(ctx, "message.created")
	if err != nil {
		t.Fatalf("find after second create: %v", err)
	}
	if len(matched) != 2 {
		t.Fatalf("expected cache invalidation to surface new subscriber, got %d", len(matched))
	}
}

func newIntegrationCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:webhooks-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = migrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != migrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.WithValidationTargets(migrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
