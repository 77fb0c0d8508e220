package execution

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"canvasflow/providers"
)

// ErrorCategory classifies node failures. No category triggers an automatic
// retry: recovery is always an explicit user re-run.
type ErrorCategory int

const (
	ErrorCategoryUnknown ErrorCategory = iota
	// ErrorCategoryValidation: a required input is missing or misconfigured;
	// no provider call was made.
	ErrorCategoryValidation
	// ErrorCategoryAuth: the provider rejected credentials (401/403).
	ErrorCategoryAuth
	// ErrorCategoryTransient: rate limits, server errors, network failures.
	// Safe to re-run later.
	ErrorCategoryTransient
	// ErrorCategoryPermanent: the provider rejected the request itself;
	// re-running unchanged will fail again.
	ErrorCategoryPermanent
	// ErrorCategoryCancelled: the run was stopped or the node was
	// invalidated mid-flight.
	ErrorCategoryCancelled
)

func (c ErrorCategory) String() string {
	switch c {
	case ErrorCategoryValidation:
		return "validation"
	case ErrorCategoryAuth:
		return "auth"
	case ErrorCategoryTransient:
		return "transient"
	case ErrorCategoryPermanent:
		return "permanent"
	case ErrorCategoryCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a classified node failure.
type Error struct {
	Category   ErrorCategory
	Message    string
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%d] %s", e.StatusCode, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewValidationError builds a validation failure.
func NewValidationError(format string, args ...any) *Error {
	return &Error{
		Category: ErrorCategoryValidation,
		Message:  fmt.Sprintf(format, args...),
	}
}

// ClassifyHTTPStatus maps a provider HTTP status code into the taxonomy.
func ClassifyHTTPStatus(statusCode int, body string) *Error {
	msg := truncateString(body, 200)
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &Error{
			Category:   ErrorCategoryAuth,
			Message:    fmt.Sprintf("provider rejected credentials: %s", msg),
			StatusCode: statusCode,
		}
	case statusCode == http.StatusTooManyRequests:
		return &Error{
			Category:   ErrorCategoryTransient,
			Message:    fmt.Sprintf("provider rate limited the request: %s", msg),
			StatusCode: statusCode,
		}
	case statusCode == http.StatusRequestTimeout:
		return &Error{
			Category:   ErrorCategoryTransient,
			Message:    fmt.Sprintf("provider request timed out: %s", msg),
			StatusCode: statusCode,
		}
	case statusCode >= 500:
		return &Error{
			Category:   ErrorCategoryTransient,
			Message:    fmt.Sprintf("provider server error: %s", msg),
			StatusCode: statusCode,
		}
	case statusCode == http.StatusBadRequest || statusCode == http.StatusNotFound ||
		statusCode == http.StatusUnprocessableEntity:
		return &Error{
			Category:   ErrorCategoryPermanent,
			Message:    fmt.Sprintf("provider rejected the request: %s", msg),
			StatusCode: statusCode,
		}
	default:
		return &Error{
			Category:   ErrorCategoryUnknown,
			Message:    fmt.Sprintf("provider returned HTTP %d: %s", statusCode, msg),
			StatusCode: statusCode,
		}
	}
}

// Classify converts an arbitrary node failure into a classified *Error.
// Provider status responses map by code, context cancellation maps to
// cancelled, and recognizable network failures map to transient.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	var statusErr *providers.StatusError
	if errors.As(err, &statusErr) {
		e := ClassifyHTTPStatus(statusErr.StatusCode, statusErr.Body)
		e.Cause = err
		return e
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{
			Category: ErrorCategoryCancelled,
			Message:  "generation cancelled",
			Cause:    err,
		}
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "connection refused"),
		strings.Contains(errStr, "connection reset"),
		strings.Contains(errStr, "no such host"),
		strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "timed out"),
		strings.Contains(errStr, "broken pipe"),
		strings.Contains(errStr, "eof"):
		return &Error{
			Category: ErrorCategoryTransient,
			Message:  fmt.Sprintf("network error: %v", err),
			Cause:    err,
		}
	case strings.Contains(errStr, "certificate"),
		strings.Contains(errStr, "tls"):
		return &Error{
			Category: ErrorCategoryPermanent,
			Message:  fmt.Sprintf("TLS error: %v", err),
			Cause:    err,
		}
	default:
		return &Error{
			Category: ErrorCategoryUnknown,
			Message:  err.Error(),
			Cause:    err,
		}
	}
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
