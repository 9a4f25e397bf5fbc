package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/dispatch"
)

// maxResponseBodyBytes caps how much of a subscriber's response we persist in
// the delivery log.
const maxResponseBodyBytes = 4096

// DeliveryHandler performs the signed HTTP POST for a webhook_delivery job
// and records the outcome on the job's delivery log row, once per attempt.
type DeliveryHandler struct {
	logs            core.DeliveryLogStore
	client          *http.Client
	signatureHeader string
}

// DeliveryOption configures a DeliveryHandler.
type DeliveryOption func(*DeliveryHandler)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) DeliveryOption {
	return func(h *DeliveryHandler) {
		if client != nil {
			h.client = client
		}
	}
}

// WithSignatureHeader overrides the header the signature is sent in.
func WithSignatureHeader(header string) DeliveryOption {
	return func(h *DeliveryHandler) {
		if strings.TrimSpace(header) != "" {
			h.signatureHeader = strings.TrimSpace(header)
		}
	}
}

// NewDeliveryHandler creates the handler for webhook_delivery jobs.
func NewDeliveryHandler(logs core.DeliveryLogStore, opts ...DeliveryOption) *DeliveryHandler {
	h := &DeliveryHandler{
		logs:            logs,
		client:          &http.Client{Timeout: 30 * time.Second},
		signatureHeader: core.DefaultSignatureHeader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

var _ Handler = (*DeliveryHandler)(nil)

func (h *DeliveryHandler) Execute(ctx context.Context, job *core.Job) (map[string]any, error) {
	if h == nil || h.client == nil {
		return nil, NonRetryable(errors.New("worker: delivery handler is not configured"))
	}
	if job == nil {
		return nil, NonRetryable(errors.New("worker: nil job"))
	}

	url := stringField(job.Payload, "subscriber_url")
	secret := stringField(job.Payload, "subscriber_secret")
	logID := stringField(job.Payload, "log_id")
	webhookPayload, _ := job.Payload["webhook_payload"].(map[string]any)
	if url == "" || webhookPayload == nil {
		return nil, NonRetryable(errors.New("worker: delivery job payload is incomplete"))
	}

	body, err := dispatch.CanonicalPayload(webhookPayload)
	if err != nil {
		return nil, NonRetryable(err)
	}
	signature := dispatch.SignBody(body, secret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NonRetryable(fmt.Errorf("worker: build delivery request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(h.signatureHeader, signature)

	resp, err := h.client.Do(req)
	if err != nil {
		h.recordAttempt(ctx, logID, 0, err.Error(), job.Attempts)
		return nil, fmt.Errorf("worker: deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	responseBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	h.recordAttempt(ctx, logID, resp.StatusCode, string(responseBody), job.Attempts)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("worker: subscriber responded %d", resp.StatusCode)
	}

	return map[string]any{
		"response_code": resp.StatusCode,
		"delivered_at":  time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// recordAttempt updates the delivery log for every attempt, success or not.
// Log failures never mask the delivery outcome.
func (h *DeliveryHandler) recordAttempt(ctx context.Context, logID string, code int, body string, attempts int) {
	if h.logs == nil || logID == "" {
		return
	}
	_, _ = h.logs.UpdateLog(ctx, logID, core.DeliveryLogUpdate{
		ResponseCode: &code,
		ResponseBody: &body,
		Attempts:     &attempts,
	})
}

func stringField(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	value, ok := payload[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}
