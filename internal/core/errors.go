package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrorType classifies gateway failures.
type ErrorType string

const (
	ErrorTypeConfiguration      ErrorType = "configuration_error"
	ErrorTypeAuthentication     ErrorType = "authentication_error"
	ErrorTypePermission         ErrorType = "permission_error"
	ErrorTypeServiceUnavailable ErrorType = "service_unavailable"
	ErrorTypeInvalidRequest     ErrorType = "invalid_request_error"
	ErrorTypeNotFound           ErrorType = "not_found_error"
	ErrorTypeUpstream           ErrorType = "upstream_error"
	ErrorTypeStreamOverflow     ErrorType = "stream_overflow_error"
	ErrorTypeStreamTimeout      ErrorType = "stream_timeout_error"
	ErrorTypeInternal           ErrorType = "internal_error"
)

// Sentinel errors matched with errors.Is.
var (
	ErrUnauthenticated = errors.New("missing authorization header")
	ErrForbidden       = errors.New("invalid authentication token")
	ErrAuthUnavailable = errors.New("authentication is enabled but no tokens are configured")
	ErrModelNotFound   = errors.New("model not found")
	ErrStreamOverflow  = errors.New("stream buffer limit exceeded")
	ErrStreamTimeout   = errors.New("stream idle timeout")
)

// GatewayError is the error type surfaced to HTTP handlers.
type GatewayError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the status the error should be reported with.
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypePermission:
		return http.StatusForbidden
	case ErrorTypeServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeUpstream, ErrorTypeStreamOverflow:
		return http.StatusBadGateway
	case ErrorTypeStreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON renders the OpenAI-style error envelope.
func (e *GatewayError) ToJSON() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"type":    e.Type,
			"message": e.Message,
			"code":    e.HTTPStatusCode(),
		},
	}
}

// NewConfigurationError reports an unusable configuration value.
func NewConfigurationError(message string) *GatewayError {
	return &GatewayError{Type: ErrorTypeConfiguration, Message: message}
}

// NewInvalidRequestError creates a 400 error.
func NewInvalidRequestError(message string, err error) *GatewayError {
	return &GatewayError{Type: ErrorTypeInvalidRequest, Message: message, StatusCode: http.StatusBadRequest, Err: err}
}

// NewNotFoundError creates a 404 error.
func NewNotFoundError(message string) *GatewayError {
	return &GatewayError{Type: ErrorTypeNotFound, Message: message, StatusCode: http.StatusNotFound, Err: ErrModelNotFound}
}

// NewUpstreamError wraps a transport failure talking to the backend.
func NewUpstreamError(message string, err error) *GatewayError {
	return &GatewayError{Type: ErrorTypeUpstream, Message: message, StatusCode: http.StatusBadGateway, Err: err}
}

// NewStreamOverflowError reports a stream that exceeded the buffer ceiling.
func NewStreamOverflowError(limit int) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeStreamOverflow,
		Message:    fmt.Sprintf("backend stream exceeded buffer limit of %d bytes", limit),
		StatusCode: http.StatusBadGateway,
		Err:        ErrStreamOverflow,
	}
}

// NewStreamTimeoutError reports a stream that went idle.
func NewStreamTimeoutError(idle fmt.Stringer) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeStreamTimeout,
		Message:    fmt.Sprintf("backend stream idle for more than %s", idle),
		StatusCode: http.StatusGatewayTimeout,
		Err:        ErrStreamTimeout,
	}
}

// NewInternalError creates a 500 error.
func NewInternalError(message string, err error) *GatewayError {
	return &GatewayError{Type: ErrorTypeInternal, Message: message, StatusCode: http.StatusInternalServerError, Err: err}
}

// ParseUpstreamError turns a non-2xx backend response into a GatewayError that
// keeps the backend status and the most specific message found in the body.
func ParseUpstreamError(statusCode int, body []byte) *GatewayError {
	message := ExtractUpstreamMessage(body)
	if message == "" {
		message = http.StatusText(statusCode)
	}
	status := statusCode
	if status < 400 {
		status = http.StatusBadGateway
	}
	return &GatewayError{
		Type:       ErrorTypeUpstream,
		Message:    message,
		StatusCode: status,
		Err:        fmt.Errorf("backend returned status %d", statusCode),
	}
}

// ExtractUpstreamMessage pulls a human-readable message from a backend error body.
func ExtractUpstreamMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "error", "message", "detail"} {
			if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > MaxErrorMessageLength {
		msg = msg[:MaxErrorMessageLength] + "..."
	}
	return msg
}

// AsGatewayError converts any error into a GatewayError, mapping the package
// sentinels to their types.
func AsGatewayError(err error) *GatewayError {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}
	switch {
	case errors.Is(err, ErrStreamOverflow):
		return &GatewayError{Type: ErrorTypeStreamOverflow, Message: err.Error(), Err: err}
	case errors.Is(err, ErrStreamTimeout):
		return &GatewayError{Type: ErrorTypeStreamTimeout, Message: err.Error(), Err: err}
	case errors.Is(err, ErrModelNotFound):
		return &GatewayError{Type: ErrorTypeNotFound, Message: err.Error(), Err: err}
	case errors.Is(err, ErrUnauthenticated):
		return &GatewayError{Type: ErrorTypeAuthentication, Message: err.Error(), Err: err}
	case errors.Is(err, ErrForbidden):
		return &GatewayError{Type: ErrorTypePermission, Message: err.Error(), Err: err}
	case errors.Is(err, ErrAuthUnavailable):
		return &GatewayError{Type: ErrorTypeServiceUnavailable, Message: err.Error(), Err: err}
	}
	return NewInternalError(err.Error(), err)
}
