package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// Stable machine-readable codes carried on every inbound error response.
// These are part of the external contract; renaming one breaks producers.
const (
	ErrorCodeEmptyBody        = "empty_body"
	ErrorCodeInvalidJSON      = "invalid_json"
	ErrorCodeInvalidEvent     = "invalid_event"
	ErrorCodeInvalidTimestamp = "invalid_timestamp"
	ErrorCodeInvalidData      = "invalid_data"
	ErrorCodeMissingSignature = "missing_signature"
	ErrorCodeInvalidSignature = "invalid_signature"
	ErrorCodeIPNotAllowed     = "ip_not_allowed"
	ErrorCodeInvalidEventData = "invalid_event_data"
	ErrorCodeInternal         = "internal_error"
)

var (
	ErrJobNotFound        = errors.New("webhooks: job not found")
	ErrEventNotFound      = errors.New("webhooks: webhook event not found")
	ErrDuplicateEvent     = errors.New("webhooks: duplicate webhook event")
	ErrSubscriberNotFound = errors.New("webhooks: subscriber not found")
	ErrDeliveryLogNotFound = errors.New("webhooks: delivery log not found")
)

// BadInputError is a schema-level rejection: 400, never retried.
func BadInputError(code string, message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(code)
}

// AuthError is a signature rejection: 401, never retried, audit-logged by the
// caller.
func AuthError(code string, message string) error {
	return goerrors.New(message, goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode(code)
}

// ForbiddenError rejects a caller outside the configured IP whitelist.
func ForbiddenError(code string, message string) error {
	return goerrors.New(message, goerrors.CategoryAuthz).
		WithCode(http.StatusForbidden).
		WithTextCode(code)
}

// StaleTimestampError is a freshness violation: 422, treated as a possible
// replay, never retried. It deliberately reuses the invalid_timestamp code
// while keeping a status distinct from the schema-level 400.
func StaleTimestampError(message string) error {
	return goerrors.New(message, goerrors.CategoryValidation).
		WithCode(http.StatusUnprocessableEntity).
		WithTextCode(ErrorCodeInvalidTimestamp)
}

// EventDataError is a per-event processing failure with a machine-readable
// code; the job consumer converts it into a retryable failure per policy.
func EventDataError(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusUnprocessableEntity).
		WithTextCode(ErrorCodeInvalidEventData)
}

func InternalError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(ErrorCodeInternal)
}

// ErrorCode extracts the stable machine code from an error, falling back to
// internal_error so no raw detail leaks externally.
func ErrorCode(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && strings.TrimSpace(rich.TextCode) != "" {
		return rich.TextCode
	}
	return ErrorCodeInternal
}

// ErrorStatus extracts the HTTP status for an error, defaulting to 500.
func ErrorStatus(err error) int {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Code != 0 {
		return rich.Code
	}
	return http.StatusInternalServerError
}

// ErrorMessage returns the safe external message for an error. Internal
// failures collapse to a generic message; stack traces and secrets never
// cross the wire.
func ErrorMessage(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		if rich.Category == goerrors.CategoryInternal {
			return "An unexpected error occurred"
		}
		return rich.Message
	}
	return "An unexpected error occurred"
}
