package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/gravitational/trace"
	"github.com/tidwall/gjson"
)

// Error codes. Servers may send other codes; they're kept verbatim.
const (
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeUsageLimitExceeded = "USAGE_LIMIT_EXCEEDED"
	CodeNetworkError       = "NETWORK_ERROR"
	CodeAPIError           = "API_ERROR"
)

// APIError is a classified failure of a remote call.
type APIError struct {
	// Code is a stable machine readable error code.
	Code string
	// Message is a human readable description.
	Message string
	// StatusCode is the HTTP status, zero when no response was received.
	StatusCode int
	// Details is the raw response body, if any.
	Details []byte
}

// Error implements error.
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AsAPIError extracts an *APIError from a possibly wrapped error.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	if errors.As(trace.Unwrap(err), &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// ErrorCode returns the code of an *APIError or an empty string.
func ErrorCode(err error) string {
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr.Code
	}
	return ""
}

func unauthenticated() error {
	return &APIError{Code: CodeUnauthenticated, Message: "Not authenticated"}
}

func networkError(err error) error {
	return &APIError{Code: CodeNetworkError, Message: err.Error()}
}

func timeoutError(err error) error {
	return &APIError{Code: CodeNetworkError, Message: "request timed out: " + err.Error()}
}

// responseError converts an unsuccessful response into an *APIError. The body
// is expected to look like {"code": "...", "error": "..."}; anything else
// yields a generic API_ERROR, or UNAUTHENTICATED for a 401.
func responseError(resp *resty.Response) error {
	body := resp.Body()
	apiErr := &APIError{
		Code:       CodeAPIError,
		Message:    fmt.Sprintf("HTTP %d", resp.StatusCode()),
		StatusCode: resp.StatusCode(),
		Details:    body,
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		apiErr.Code = CodeUnauthenticated
	}
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return apiErr
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return apiErr
	}
	if code := parsed.Get("code"); code.Type == gjson.String && code.String() != "" {
		apiErr.Code = code.String()
	}
	if msg := parsed.Get("error"); msg.Type == gjson.String && msg.String() != "" {
		apiErr.Message = msg.String()
	} else if msg := parsed.Get("message"); msg.Type == gjson.String && msg.String() != "" {
		apiErr.Message = msg.String()
	}
	return apiErr
}
