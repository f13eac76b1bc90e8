package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorType classifies why an upstream call failed.
type ErrorType string

const (
	ErrorTypeNetwork ErrorType = "NETWORK"
	ErrorTypeCORS    ErrorType = "CORS"
	ErrorTypeTimeout ErrorType = "TIMEOUT"
	ErrorTypeUnknown ErrorType = "UNKNOWN"
)

var (
	// ErrUnauthorized marks an upstream 401. Callers route the user back to login.
	ErrUnauthorized = errors.New("upstream: unauthorized")
	// ErrInvalidPayload marks a 2xx response whose body is not the expected JSON.
	ErrInvalidPayload = errors.New("upstream: invalid payload")
	// ErrUnknownBackend is returned for backend names outside the registry.
	ErrUnknownBackend = errors.New("upstream: unknown backend")
)

// Error is the uniform failure shape surfaced to API clients.
type Error struct {
	Backend string
	Type    ErrorType
	Status  int
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Status > 0 {
		return fmt.Sprintf("upstream %s: %s (status %d)", e.Backend, e.Message, e.Status)
	}
	return fmt.Sprintf("upstream %s: %s", e.Backend, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Unauthorized reports whether the upstream rejected the bearer token.
func (e *Error) Unauthorized() bool {
	return e != nil && errors.Is(e.cause, ErrUnauthorized)
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var upstreamErr *Error
	if errors.As(err, &upstreamErr) {
		return upstreamErr, true
	}
	return nil, false
}

func classifyTransportError(backend string, err error) *Error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return &Error{
			Backend: backend,
			Type:    ErrorTypeTimeout,
			Message: fmt.Sprintf("request to %s backend timed out", backend),
			cause:   err,
		}
	case mentionsCORS(err.Error()):
		return &Error{
			Backend: backend,
			Type:    ErrorTypeCORS,
			Message: "request blocked by cross-origin policy",
			cause:   err,
		}
	default:
		return &Error{
			Backend: backend,
			Type:    ErrorTypeNetwork,
			Message: fmt.Sprintf("unable to reach %s backend", backend),
			cause:   err,
		}
	}
}

func classifyStatus(backend string, status int, body []byte) *Error {
	if status == http.StatusUnauthorized {
		return &Error{
			Backend: backend,
			Type:    ErrorTypeUnknown,
			Status:  status,
			Message: "authentication required: session expired or invalid",
			cause:   ErrUnauthorized,
		}
	}

	message := bodyMessage(body)
	if message == "" {
		message = fmt.Sprintf("HTTP %d: %s", status, http.StatusText(status))
	}
	errorType := ErrorTypeUnknown
	if mentionsCORS(message) {
		errorType = ErrorTypeCORS
	}
	return &Error{
		Backend: backend,
		Type:    errorType,
		Status:  status,
		Message: message,
		cause:   fmt.Errorf("upstream status %d", status),
	}
}

func invalidPayload(backend string, status int, err error) *Error {
	return &Error{
		Backend: backend,
		Type:    ErrorTypeUnknown,
		Status:  status,
		Message: fmt.Sprintf("invalid JSON response from %s backend", backend),
		cause:   fmt.Errorf("%w: %v", ErrInvalidPayload, err),
	}
}

func bodyMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if strings.TrimSpace(payload.Message) != "" {
		return strings.TrimSpace(payload.Message)
	}
	switch typed := payload.Error.(type) {
	case string:
		return strings.TrimSpace(typed)
	case map[string]any:
		if message, ok := typed["message"].(string); ok {
			return strings.TrimSpace(message)
		}
	}
	return ""
}

func mentionsCORS(message string) bool {
	lowered := strings.ToLower(message)
	return strings.Contains(lowered, "cors") || strings.Contains(lowered, "cross-origin")
}
