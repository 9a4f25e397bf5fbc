package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/gateway"
	"github.com/goliatone/go-webhooks/queue"
	"github.com/goliatone/go-webhooks/security"
)

type memoryEventStore struct {
	mu     sync.Mutex
	events map[string]core.WebhookEvent
	nextID int
}

func newMemoryEventStore() *memoryEventStore {
	return &memoryEventStore{events: map[string]core.WebhookEvent{}}
}

func (s *memoryEventStore) FindByExternalID(_ context.Context, externalID string) (*core.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event, ok := s.events[externalID]; ok {
		return &event, nil
	}
	return nil, core.ErrEventNotFound
}

func (s *memoryEventStore) Create(_ context.Context, event core.WebhookEvent) (core.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[event.ExternalID]; ok {
		return core.WebhookEvent{}, core.ErrDuplicateEvent
	}
	s.nextID++
	event.ID = fmt.Sprintf("evt-%d", s.nextID)
	s.events[event.ExternalID] = event
	return event, nil
}

func (s *memoryEventStore) MarkProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, event := range s.events {
		if event.ID == id {
			event.Processed = true
			s.events[key] = event
			return nil
		}
	}
	return core.ErrEventNotFound
}

type memorySubscriberStore struct {
	mu          sync.Mutex
	subscribers []core.Subscriber
	nextID      int
}

func (s *memorySubscriberStore) Create(_ context.Context, subscriber core.Subscriber) (core.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	subscriber.ID = fmt.Sprintf("sub-%d", s.nextID)
	subscriber.Active = true
	subscriber.CreatedAt = time.Now().UTC()
	s.subscribers = append(s.subscribers, subscriber)
	return subscriber, nil
}

func (s *memorySubscriberStore) Get(_ context.Context, id string) (core.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, subscriber := range s.subscribers {
		if subscriber.ID == id {
			return subscriber, nil
		}
	}
	return core.Subscriber{}, core.ErrSubscriberNotFound
}

func (s *memorySubscriberStore) List(_ context.Context) ([]core.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Subscriber(nil), s.subscribers...), nil
}

func (s *memorySubscriberStore) FindActiveByEvent(_ context.Context, eventType string) ([]core.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []core.Subscriber
	for _, subscriber := range s.subscribers {
		if subscriber.Active && subscriber.Subscribed(eventType) {
			matched = append(matched, subscriber)
		}
	}
	return matched, nil
}

func (s *memorySubscriberStore) Deactivate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.subscribers {
		if s.subscribers[i].ID == id {
			s.subscribers[i].Active = false
			return nil
		}
	}
	return core.ErrSubscriberNotFound
}

func newTestRouter(t *testing.T) (*Router, *queue.InMemoryQueue, *memorySubscriberStore) {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Gateway.Async = true

	jobQueue := queue.NewInMemoryQueue()
	subscribers := &memorySubscriberStore{}
	gw := gateway.New(cfg, security.New(), newMemoryEventStore(), jobQueue, nil)
	return New(gw, jobQueue, subscribers), jobQueue, subscribers
}

func inboundBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event":     "message.created",
		"timestamp": time.Now().UTC().Unix(),
		"id":        "evt_http_1",
		"data": map[string]any{
			"message":         "hello",
			"conversation_id": "conv-1",
		},
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return body
}

func TestRouter_InboundAcceptsAndEnqueues(t *testing.T) {
	router, jobQueue, _ := newTestRouter(t)
	server := httptest.NewServer(router.Handler())
	defer server.Close()

	resp, err := http.Post(server.URL+"/webhook/inbound", "application/json", bytes.NewReader(inboundBody(t)))
	if err != nil {
		t.Fatalf("post inbound: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if contentType := resp.Header.Get("Content-Type"); contentType != "application/json" {
		t.Fatalf("expected json content type, got %q", contentType)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["status"] != "received" {
		t.Fatalf("expected received status, got %v", body["status"])
	}
	if body["processing"] != "async" {
		t.Fatalf("expected async processing, got %v", body["processing"])
	}
	jobID, ok := body["job_id"].(string)
	if !ok || jobID == "" {
		t.Fatalf("expected job_id in response, got %v", body["job_id"])
	}

	job, err := jobQueue.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get enqueued job: %v", err)
	}
	if job.Type != "webhook_event" {
		t.Fatalf("expected webhook_event job, got %s", job.Type)
	}
}

func TestRouter_InboundRejectsEmptyBody(t *testing.T) {
	router, _, _ := newTestRouter(t)
	server := httptest.NewServer(router.Handler())
	defer server.Close()

	resp, err := http.Post(server.URL+"/webhook/inbound", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("post inbound: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["error"] != core.ErrorCodeEmptyBody {
		t.Fatalf("expected empty_body error, got %v", body["error"])
	}
}

func TestRouter_GetJob(t *testing.T) {
	router, jobQueue, _ := newTestRouter(t)
	server := httptest.NewServer(router.Handler())
	defer server.Close()

	jobID, err := jobQueue.Enqueue(context.Background(), core.EnqueueInput{
		Type:    "webhook_delivery",
		Payload: map[string]any{"subscriber_url": "https://one.example.com/hook"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	resp, err := http.Get(server.URL + "/webhook/jobs/" + jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["id"] != jobID {
		t.Fatalf("expected job %s, got %v", jobID, body["id"])
	}
	if body["status"] != string(core.JobStatusPending) {
		t.Fatalf("expected pending status, got %v", body["status"])
	}
	if _, exists := body["last_error"]; exists {
		t.Fatalf("expected last_error omitted for healthy job")
	}
}

func TestRouter_GetJob_NotFound(t *testing.T) {
	router, _, _ := newTestRouter(t)
	server := httptest.NewServer(router.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/webhook/jobs/missing-job")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRouter_SubscriberLifecycle(t *testing.T) {
	router, _, _ := newTestRouter(t)
	server := httptest.NewServer(router.Handler())
	defer server.Close()

	createBody, err := json.Marshal(map[string]any{
		"client_id": "client-a",
		"url":       "https://one.example.com/hook",
		"secret":    "topsecret",
		"events":    []string{"message.created"},
	})
	if err != nil {
		t.Fatalf("marshal create body: %v", err)
	}

	resp, err := http.Post(server.URL+"/webhook/subscribers", "application/json", bytes.NewReader(createBody))
	if err != nil {
		t.Fatalf("create subscriber: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var created map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	subscriberID, ok := created["id"].(string)
	if !ok || subscriberID == "" {
		t.Fatalf("expected subscriber id, got %v", created["id"])
	}
	if _, exists := created["secret"]; exists {
		t.Fatalf("expected secret to stay out of responses")
	}
	if created["active"] != true {
		t.Fatalf("expected active subscriber, got %v", created["active"])
	}

	listResp, err := http.Get(server.URL + "/webhook/subscribers")
	if err != nil {
		t.Fatalf("list subscribers: %v", err)
	}
	defer func() { _ = listResp.Body.Close() }()
	var listed map[string]any
	if err := json.NewDecoder(listResp.Body).Decode(&listed); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	subscribers, ok := listed["subscribers"].([]any)
	if !ok || len(subscribers) != 1 {
		t.Fatalf("expected one listed subscriber, got %v", listed["subscribers"])
	}

	deactivateResp, err := http.Post(server.URL+"/webhook/subscribers/"+subscriberID+"/deactivate", "application/json", nil)
	if err != nil {
		t.Fatalf("deactivate subscriber: %v", err)
	}
	defer func() { _ = deactivateResp.Body.Close() }()
	if deactivateResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", deactivateResp.StatusCode)
	}

	var deactivated map[string]any
	if err := json.NewDecoder(deactivateResp.Body).Decode(&deactivated); err != nil {
		t.Fatalf("decode deactivate response: %v", err)
	}
	if deactivated["active"] != false {
		t.Fatalf("expected inactive subscriber, got %v", deactivated["active"])
	}
}

func TestRouter_CreateSubscriberValidation(t *testing.T) {
	router, _, _ := newTestRouter(t)
	server := httptest.NewServer(router.Handler())
	defer server.Close()

	cases := []struct {
		name string
		body string
		code string
	}{
		{"invalid json", `{"url":`, core.ErrorCodeInvalidJSON},
		{"missing url", `{"events":["message.created"]}`, core.ErrorCodeInvalidData},
		{"missing events", `{"url":"https://one.example.com/hook"}`, core.ErrorCodeInvalidData},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(server.URL+"/webhook/subscribers", "application/json", bytes.NewReader([]byte(tc.body)))
			if err != nil {
				t.Fatalf("create subscriber: %v", err)
			}
			defer func() { _ = resp.Body.Close() }()

			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
			var body map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if body["error"] != tc.code {
				t.Fatalf("expected %s error, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestRemoteIP_PrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhook/inbound", nil)
	req.RemoteAddr = "127.0.0.1:52100"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if ip := remoteIP(req); ip != "203.0.113.7" {
		t.Fatalf("expected forwarded ip, got %q", ip)
	}

	req.Header.Del("X-Forwarded-For")
	if ip := remoteIP(req); ip != "127.0.0.1" {
		t.Fatalf("expected remote addr host, got %q", ip)
	}
}
