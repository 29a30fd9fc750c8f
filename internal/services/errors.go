package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPrecondition marks a stage invoked on an item that is not in the
	// expected predecessor stage. Not retried; the invocation is rejected.
	ErrPrecondition = errors.New("precondition failed")
	// ErrExternalService marks a failed call to a script/render/SEO/publish
	// service. Recoverable through the retry engine up to the budget.
	ErrExternalService = errors.New("external service error")
	// ErrMalformedCallback marks a webhook payload missing required fields
	// for its declared status.
	ErrMalformedCallback = errors.New("malformed callback")
	// ErrUnknownJob marks a webhook referencing a render job with no
	// matching item.
	ErrUnknownJob = errors.New("unknown render job")
	// ErrStuckTimeout marks an in-flight stage that exceeded the staleness
	// threshold.
	ErrStuckTimeout = errors.New("stuck timeout")
	// ErrRetryExhausted marks an item that consumed its retry budget.
	ErrRetryExhausted = errors.New("retry budget exhausted")
	// ErrConfiguration marks missing or invalid service configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrValidation marks invalid item state detected before any external call.
	ErrValidation = errors.New("validation error")
)

// Wrap builds an error that includes stage context while tagging it with the
// provided sentinel marker for later classification.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrExternalService
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether the retry engine may act on the error.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrPrecondition),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrRetryExhausted):
		return false
	default:
		return true
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
