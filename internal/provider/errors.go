package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ProviderError classifies transport call failures as transient/permanent.
type ProviderError struct {
	StatusCode int
	Body       string
	Message    string
	Transient  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "provider error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout() || netErr.Temporary()
	}

	return false
}

// errorBody covers the nested shapes transport errors arrive in. The
// provider-specific error.message wins over a top-level message.
type errorBody struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// FailureMessage normalizes a transport error to "<code> - <message>" for
// the delivery log. Errors without an HTTP status fall back to Error().
func FailureMessage(err error) string {
	if err == nil {
		return ""
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.StatusCode > 0 {
		return fmt.Sprintf("%d - %s", providerErr.StatusCode, ExtractMessage(providerErr.StatusCode, providerErr.Body))
	}

	return err.Error()
}

// ExtractMessage pulls a human-readable message out of a transport error
// body. Unwrap priority: provider-specific error.message, then a generic
// top-level message, then the raw body, then a status fallback.
func ExtractMessage(statusCode int, body string) string {
	trimmed := strings.TrimSpace(body)
	if trimmed != "" {
		var parsed errorBody
		if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
			if parsed.Error != nil && strings.TrimSpace(parsed.Error.Message) != "" {
				return strings.TrimSpace(parsed.Error.Message)
			}
			if strings.TrimSpace(parsed.Message) != "" {
				return strings.TrimSpace(parsed.Message)
			}
		}
		return trimmed
	}

	return fmt.Sprintf("failed with status %d", statusCode)
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == 429 || (statusCode >= 500 && statusCode <= 599)
}
