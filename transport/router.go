// Package transport exposes the webhook subsystem over HTTP. It maps requests
// onto the transport-neutral gateway contract and renders store reads as JSON,
// keeping every policy decision out of the handlers themselves.
package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/gateway"
)

const maxInboundBodyBytes int64 = 1 << 20

// Router serves the inbound webhook endpoint plus the job and subscriber
// management surface.
type Router struct {
	gateway     *gateway.Gateway
	jobs        core.JobQueue
	subscribers core.SubscriberStore
	logger      core.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger overrides the default logger.
func WithLogger(logger core.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Router over the gateway and stores.
func New(gw *gateway.Gateway, jobs core.JobQueue, subscribers core.SubscriberStore, opts ...Option) *Router {
	router := &Router{
		gateway:     gw,
		jobs:        jobs,
		subscribers: subscribers,
		logger:      glog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(router)
		}
	}
	router.logger = glog.Ensure(router.logger)
	return router
}

// Handler builds the chi mux for the webhook surface.
func (r *Router) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Post("/webhook/inbound", r.handleInbound)
	mux.Get("/webhook/jobs/{id}", r.handleGetJob)
	mux.Post("/webhook/subscribers", r.handleCreateSubscriber)
	mux.Get("/webhook/subscribers", r.handleListSubscribers)
	mux.Post("/webhook/subscribers/{id}/deactivate", r.handleDeactivateSubscriber)
	return mux
}

func (r *Router) handleInbound(w http.ResponseWriter, req *http.Request) {
	if r == nil || r.gateway == nil {
		writeError(w, core.InternalError("webhook gateway is not configured"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, maxInboundBodyBytes))
	if err != nil {
		r.logger.Error("read inbound webhook body", "error", err)
		writeError(w, core.BadInputError(core.ErrorCodeEmptyBody, "unable to read request body"))
		return
	}
	defer func() { _ = req.Body.Close() }()

	headers := make(map[string]string, len(req.Header))
	for name := range req.Header {
		headers[name] = req.Header.Get(name)
	}

	response := r.gateway.HandleRequest(req.Context(), gateway.Request{
		Headers:  headers,
		Body:     body,
		RemoteIP: remoteIP(req),
	})
	writeJSON(w, response.StatusCode, response.Body)
}

func (r *Router) handleGetJob(w http.ResponseWriter, req *http.Request) {
	if r == nil || r.jobs == nil {
		writeError(w, core.InternalError("job queue is not configured"))
		return
	}

	jobID := strings.TrimSpace(chi.URLParam(req, "id"))
	job, err := r.jobs.GetJob(req.Context(), jobID)
	if err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error":   "not_found",
				"message": "job not found",
			})
			return
		}
		r.logger.Error("get job", "job_id", jobID, "error", err)
		writeError(w, core.InternalError("unable to load job"))
		return
	}
	if job == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":   "not_found",
			"message": "job not found",
		})
		return
	}
	writeJSON(w, http.StatusOK, jobView(job))
}

func (r *Router) handleCreateSubscriber(w http.ResponseWriter, req *http.Request) {
	if r == nil || r.subscribers == nil {
		writeError(w, core.InternalError("subscriber store is not configured"))
		return
	}

	var input struct {
		ClientID string   `json:"client_id"`
		URL      string   `json:"url"`
		Secret   string   `json:"secret"`
		Events   []string `json:"events"`
	}
	if err := json.NewDecoder(io.LimitReader(req.Body, maxInboundBodyBytes)).Decode(&input); err != nil {
		writeError(w, core.BadInputError(core.ErrorCodeInvalidJSON, "request body must be valid JSON"))
		return
	}
	if strings.TrimSpace(input.URL) == "" {
		writeError(w, core.BadInputError(core.ErrorCodeInvalidData, "subscriber url is required"))
		return
	}
	if len(input.Events) == 0 {
		writeError(w, core.BadInputError(core.ErrorCodeInvalidData, "subscriber event set is required"))
		return
	}

	created, err := r.subscribers.Create(req.Context(), core.Subscriber{
		ClientID: strings.TrimSpace(input.ClientID),
		URL:      strings.TrimSpace(input.URL),
		Secret:   input.Secret,
		Events:   input.Events,
	})
	if err != nil {
		r.logger.Error("create subscriber", "url", input.URL, "error", err)
		writeError(w, core.InternalError("unable to create subscriber"))
		return
	}
	writeJSON(w, http.StatusCreated, subscriberView(created))
}

func (r *Router) handleListSubscribers(w http.ResponseWriter, req *http.Request) {
	if r == nil || r.subscribers == nil {
		writeError(w, core.InternalError("subscriber store is not configured"))
		return
	}

	subscribers, err := r.subscribers.List(req.Context())
	if err != nil {
		r.logger.Error("list subscribers", "error", err)
		writeError(w, core.InternalError("unable to list subscribers"))
		return
	}
	views := make([]map[string]any, 0, len(subscribers))
	for _, subscriber := range subscribers {
		views = append(views, subscriberView(subscriber))
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscribers": views})
}

func (r *Router) handleDeactivateSubscriber(w http.ResponseWriter, req *http.Request) {
	if r == nil || r.subscribers == nil {
		writeError(w, core.InternalError("subscriber store is not configured"))
		return
	}

	subscriberID := strings.TrimSpace(chi.URLParam(req, "id"))
	if err := r.subscribers.Deactivate(req.Context(), subscriberID); err != nil {
		if errors.Is(err, core.ErrSubscriberNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error":   "not_found",
				"message": "subscriber not found",
			})
			return
		}
		r.logger.Error("deactivate subscriber", "subscriber_id", subscriberID, "error", err)
		writeError(w, core.InternalError("unable to deactivate subscriber"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": subscriberID, "active": false})
}

func jobView(job *core.Job) map[string]any {
	view := map[string]any{
		"id":           job.ID,
		"type":         job.Type,
		"status":       string(job.Status),
		"attempts":     job.Attempts,
		"max_attempts": job.MaxAttempts,
		"created_at":   job.CreatedAt,
		"updated_at":   job.UpdatedAt,
	}
	if len(job.Result) > 0 {
		view["result"] = job.Result
	}
	if job.LastError != "" {
		view["last_error"] = job.LastError
	}
	return view
}

// subscriberView never includes the signing secret.
func subscriberView(subscriber core.Subscriber) map[string]any {
	return map[string]any{
		"id":         subscriber.ID,
		"client_id":  subscriber.ClientID,
		"url":        subscriber.URL,
		"events":     subscriber.Events,
		"active":     subscriber.Active,
		"created_at": subscriber.CreatedAt,
	}
}

// remoteIP prefers the first X-Forwarded-For hop so whitelist checks see the
// caller rather than the proxy.
func remoteIP(req *http.Request) string {
	forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For"))
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, core.ErrorStatus(err), map[string]any{
		"error":   core.ErrorCode(err),
		"message": core.ErrorMessage(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
